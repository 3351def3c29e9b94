package store

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCheckRevision(t *testing.T) {
	tests := []struct {
		name    string
		stored  int64
		next    int64
		wantErr bool
	}{
		{"new thread at 1", 0, 1, false},
		{"new thread skipping ahead", 0, 3, true},
		{"next revision", 4, 5, false},
		{"same revision", 4, 4, true},
		{"older revision", 4, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkRevision("t", tt.stored, tt.next)
			if tt.wantErr && !errors.Is(err, ErrRevisionConflict) {
				t.Errorf("expected ErrRevisionConflict, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCheckpoint_Clone(t *testing.T) {
	cp := Checkpoint{
		ThreadID:     "t",
		Revision:     2,
		Values:       map[string]json.RawMessage{"a": json.RawMessage(`1`)},
		PendingNodes: []string{"n"},
		Frontier:     []string{"left", "right"},
		Completed:    []string{"left"},
		Arrivals:     map[string][]string{"join": {"left"}},
		Config:       map[string]string{"k": "v"},
		Failure:      &Failure{Code: "X", Message: "boom"},
	}

	c := cp.Clone()
	c.Values["a"][0] = '9'
	c.PendingNodes[0] = "other"
	c.Frontier[0] = "other"
	c.Completed[0] = "other"
	c.Arrivals["join"][0] = "right"
	c.Config["k"] = "changed"
	c.Failure.Message = "changed"

	if string(cp.Values["a"]) != "1" {
		t.Errorf("values aliased: %s", cp.Values["a"])
	}
	if cp.PendingNodes[0] != "n" {
		t.Errorf("pending aliased")
	}
	if cp.Frontier[0] != "left" || cp.Completed[0] != "left" {
		t.Errorf("frontier aliased")
	}
	if cp.Arrivals["join"][0] != "left" {
		t.Errorf("arrivals aliased")
	}
	if cp.Config["k"] != "v" {
		t.Errorf("config aliased")
	}
	if cp.Failure.Message != "boom" {
		t.Errorf("failure aliased")
	}
}

func TestCheckpoint_JSONRoundTripPreservesValues(t *testing.T) {
	cp := Checkpoint{
		ThreadID: "t",
		Revision: 1,
		Status:   StatusPaused,
		Values: map[string]json.RawMessage{
			"validated_needs": json.RawMessage(`[{"id":"need-1","title":"Forecasting"}]`),
		},
		PendingNodes: []string{"human_validation"},
	}

	data, err := encodeCheckpoint(cp)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := decodeCheckpoint(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if string(got.Values["validated_needs"]) != string(cp.Values["validated_needs"]) {
		t.Errorf("values changed across round trip: %s", got.Values["validated_needs"])
	}
}
