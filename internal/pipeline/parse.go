package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aikogroup/aiko-gpt-sub001/graph/gate"
)

var errNoJSON = errors.New("no JSON value found in model output")

// extractJSON returns the JSON document inside a model reply. Models often
// wrap it in a code fence or a sentence; the outermost array or object is
// taken in that case.
func extractJSON(text string) ([]byte, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if s != "" && json.Valid([]byte(s)) {
		return []byte(s), nil
	}

	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return nil, errNoJSON
	}
	closer := byte(']')
	if s[start] == '{' {
		closer = '}'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return nil, errNoJSON
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, fmt.Errorf("%w: malformed JSON", errNoJSON)
	}
	return []byte(candidate), nil
}

// ParseItems decodes a list of items from a model reply. It accepts a bare
// array, an object with an "items" array, or an object holding the array
// under some other key (the first by name wins). Items without a title are
// dropped.
func ParseItems(text string) ([]gate.Item, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var items []gate.Item
	if err := json.Unmarshal(raw, &items); err == nil {
		return cleanItems(items), nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if inner, ok := wrapper["items"]; ok {
		if err := json.Unmarshal(inner, &items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
		return cleanItems(items), nil
	}

	keys := make([]string, 0, len(wrapper))
	for k := range wrapper {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !bytes.HasPrefix(bytes.TrimSpace(wrapper[k]), []byte("[")) {
			continue
		}
		var list []gate.Item
		if err := json.Unmarshal(wrapper[k], &list); err == nil {
			return cleanItems(list), nil
		}
	}
	return nil, fmt.Errorf("%w: object has no item array", errNoJSON)
}

// ParseObject decodes a JSON object reply into dst.
func ParseObject(text string, dst any) error {
	raw, err := extractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode object: %w", err)
	}
	return nil
}

func cleanItems(items []gate.Item) []gate.Item {
	out := make([]gate.Item, 0, len(items))
	for _, it := range items {
		it.Title = strings.TrimSpace(it.Title)
		it.ID = strings.TrimSpace(it.ID)
		if it.Title == "" {
			continue
		}
		out = append(out, it)
	}
	return out
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
