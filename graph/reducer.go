package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Policy is the merge policy for one state field.
type Policy int

const (
	// Overwrite replaces the old value with the new one. Fields absent from an
	// update keep their value. This is the default for unregistered fields.
	Overwrite Policy = iota

	// Append concatenates JSON arrays in arrival order. Accumulators only grow,
	// except through an explicit Update.Reset.
	Append

	// Transient fields carry a decision payload injected by Resume. They are
	// consumed by the next node fold and never persisted in a checkpoint.
	Transient
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case Overwrite:
		return "overwrite"
	case Append:
		return "append"
	case Transient:
		return "transient"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// Reducers is the per-field merge policy registry.
//
// Merging is deterministic and side-effect free. Append is associative, so
// fields written by concurrent fan-out branches fold correctly in any
// completion order; overwrite fields should be owned by one branch at a time.
type Reducers struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewReducers creates a registry with the errors accumulator pre-registered.
func NewReducers() *Reducers {
	return &Reducers{
		policies: map[string]Policy{ErrorsField: Append},
	}
}

// Register sets the policy for field. Registering the same field twice with
// a different policy is a configuration error.
func (r *Reducers) Register(field string, p Policy) error {
	if field == "" {
		return fmt.Errorf("%w: reducer field name cannot be empty", ErrConfiguration)
	}
	if field == EndField {
		return fmt.Errorf("%w: field %q is reserved", ErrConfiguration, field)
	}
	if p < Overwrite || p > Transient {
		return fmt.Errorf("%w: unknown policy %d for field %q", ErrConfiguration, int(p), field)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.policies[field]; ok && existing != p {
		return fmt.Errorf("%w: field %q already registered as %s, cannot re-register as %s",
			ErrConfiguration, field, existing, p)
	}
	r.policies[field] = p
	return nil
}

// Policy returns the policy for field (Overwrite if unregistered).
func (r *Reducers) Policy(field string) Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policies[field]
}

// TransientFields returns the registered transient field names, sorted.
func (r *Reducers) TransientFields() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for f, p := range r.policies {
		if p == Transient {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// Merge combines old and new values of field according to its policy.
// A nil newValue means the field is absent from the update.
func (r *Reducers) Merge(field string, oldValue, newValue json.RawMessage) (json.RawMessage, error) {
	if newValue == nil {
		return oldValue, nil
	}

	canonical, err := compact(newValue)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", field, err)
	}

	if r.Policy(field) != Append {
		return canonical, nil
	}
	return appendArrays(field, oldValue, canonical)
}

// Apply folds u into values and returns the merged map. values is never
// modified. Transient fields are dropped afterwards unless u itself sets them.
func (r *Reducers) Apply(values map[string]json.RawMessage, u Update) (map[string]json.RawMessage, error) {
	if err := u.Err(); err != nil {
		return nil, err
	}

	out := copyValues(values)

	for field := range u.reset {
		if r.Policy(field) != Append {
			return nil, fmt.Errorf("field %q: reset applies only to append fields", field)
		}
		out[field] = json.RawMessage("[]")
	}

	for field := range u.clear {
		if r.Policy(field) == Append {
			return nil, fmt.Errorf("field %q: append fields cannot be cleared, use Reset", field)
		}
		delete(out, field)
	}

	for _, field := range u.order {
		merged, err := r.Merge(field, out[field], u.set[field])
		if err != nil {
			return nil, err
		}
		out[field] = merged
	}

	if len(u.errs) > 0 {
		data, err := json.Marshal(u.errs)
		if err != nil {
			return nil, fmt.Errorf("encode errors: %w", err)
		}
		merged, err := appendArrays(ErrorsField, out[ErrorsField], data)
		if err != nil {
			return nil, err
		}
		out[ErrorsField] = merged
	}

	for _, field := range r.TransientFields() {
		if _, setByUpdate := u.set[field]; !setByUpdate {
			delete(out, field)
		}
	}

	return out, nil
}

func appendArrays(field string, oldValue, newValue json.RawMessage) (json.RawMessage, error) {
	var add []json.RawMessage
	if err := json.Unmarshal(newValue, &add); err != nil {
		return nil, fmt.Errorf("field %q: append requires a JSON array: %w", field, err)
	}

	var existing []json.RawMessage
	if len(oldValue) > 0 && !bytes.Equal(oldValue, []byte("null")) {
		if err := json.Unmarshal(oldValue, &existing); err != nil {
			return nil, fmt.Errorf("field %q: stored value is not a JSON array: %w", field, err)
		}
	}

	merged := make([]json.RawMessage, 0, len(existing)+len(add))
	merged = append(merged, existing...)
	merged = append(merged, add...)
	return json.Marshal(merged)
}

func compact(raw json.RawMessage) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("invalid JSON value: %w", err)
	}
	return buf.Bytes(), nil
}
