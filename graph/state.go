package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Reserved field names managed by the engine.
const (
	// ErrorsField is the accumulator that collects recoverable node errors.
	ErrorsField = "errors"

	// EndField is the terminal marker written when a run completes.
	EndField = "__end__"
)

// State is a read-only view of a thread's working memory.
//
// Each field is held as canonical JSON, which is what the checkpoint store
// persists. Reading a field decodes it; nodes never mutate State directly but
// return an Update that the engine folds through the reducer registry.
//
// The zero State is empty and usable.
type State struct {
	values map[string]json.RawMessage
}

// NewState builds a State from raw field values. The map is copied.
func NewState(values map[string]json.RawMessage) State {
	return State{values: copyValues(values)}
}

// Has reports whether field is present.
func (s State) Has(field string) bool {
	_, ok := s.values[field]
	return ok
}

// Raw returns the JSON encoding of field.
func (s State) Raw(field string) (json.RawMessage, bool) {
	v, ok := s.values[field]
	return v, ok
}

// Decode unmarshals field into dst. Absent fields leave dst untouched and
// return nil.
func (s State) Decode(field string, dst any) error {
	raw, ok := s.values[field]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode field %q: %w", field, err)
	}
	return nil
}

// Fields returns the present field names in sorted order.
func (s State) Fields() []string {
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Values returns a copy of the raw field map.
func (s State) Values() map[string]json.RawMessage {
	return copyValues(s.values)
}

// Len returns the number of present fields.
func (s State) Len() int {
	return len(s.values)
}

// Equal reports whether two states hold byte-identical values.
func (s State) Equal(other State) bool {
	if len(s.values) != len(other.values) {
		return false
	}
	for k, v := range s.values {
		ov, ok := other.values[k]
		if !ok || !bytes.Equal(v, ov) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the state as a JSON object of its fields.
func (s State) MarshalJSON() ([]byte, error) {
	if s.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.values)
}

// UnmarshalJSON replaces the state with a JSON object of fields.
func (s *State) UnmarshalJSON(data []byte) error {
	var values map[string]json.RawMessage
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	s.values = values
	return nil
}

// Field decodes a typed field from state. An absent field yields the zero value.
//
// Example:
//
//	needs, err := graph.Field[[]gate.Item](state, "validated_needs")
func Field[T any](s State, field string) (T, error) {
	var v T
	err := s.Decode(field, &v)
	return v, err
}

// Update is the partial state update a node returns.
//
// Only fields the node sets are touched; every other field keeps its value.
// How a set field merges with the existing value depends on the field's
// reducer policy (overwrite, append, transient).
//
// The zero Update is empty and ready to use:
//
//	var u graph.Update
//	u.Set("proposed_needs", needs)
//	u.RecordError(graph.NodeError{Node: "analyze_needs", Code: "LLM_UNAVAILABLE", Message: err.Error()})
//	return graph.NodeResult{Delta: u}
type Update struct {
	set    map[string]json.RawMessage
	order  []string
	clear  map[string]struct{}
	reset  map[string]struct{}
	errs   []NodeError
	encErr error
}

// Set records a new value for field. For append fields v must encode to a
// JSON array; its elements are appended.
func (u *Update) Set(field string, v any) *Update {
	data, err := json.Marshal(v)
	if err != nil {
		if u.encErr == nil {
			u.encErr = fmt.Errorf("encode field %q: %w", field, err)
		}
		return u
	}
	return u.SetRaw(field, data)
}

// SetRaw records an already-encoded value for field.
func (u *Update) SetRaw(field string, raw json.RawMessage) *Update {
	if u.set == nil {
		u.set = make(map[string]json.RawMessage)
	}
	if _, exists := u.set[field]; !exists {
		u.order = append(u.order, field)
	}
	u.set[field] = append(json.RawMessage(nil), raw...)
	delete(u.clear, field)
	return u
}

// Clear removes an overwrite or transient field. Clearing an append field is
// rejected at merge time; use Reset instead.
func (u *Update) Clear(field string) *Update {
	if u.clear == nil {
		u.clear = make(map[string]struct{})
	}
	u.clear[field] = struct{}{}
	return u
}

// Reset empties an accumulator. This is the only way an append field can
// shrink, and is reserved for explicit resets between pipeline stages.
func (u *Update) Reset(field string) *Update {
	if u.reset == nil {
		u.reset = make(map[string]struct{})
	}
	u.reset[field] = struct{}{}
	return u
}

// RecordError appends a recoverable error to the errors accumulator.
func (u *Update) RecordError(e NodeError) *Update {
	u.errs = append(u.errs, e)
	return u
}

// Err returns the first encoding error encountered by Set.
func (u *Update) Err() error {
	return u.encErr
}

// Fields returns the names of fields set by this update, in first-set order.
func (u *Update) Fields() []string {
	return append([]string(nil), u.order...)
}

// Get returns the encoded value set for field.
func (u *Update) Get(field string) (json.RawMessage, bool) {
	v, ok := u.set[field]
	return v, ok
}

// Errors returns the recoverable errors recorded by this update.
func (u *Update) Errors() []NodeError {
	return append([]NodeError(nil), u.errs...)
}

// IsEmpty reports whether applying the update would change nothing.
func (u *Update) IsEmpty() bool {
	return len(u.set) == 0 && len(u.clear) == 0 && len(u.reset) == 0 && len(u.errs) == 0
}

func copyValues(values map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
