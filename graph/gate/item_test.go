package gate

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestAssignIDs(t *testing.T) {
	existing := []Item{{ID: "need-1"}, {ID: "need-2"}}

	tests := []struct {
		name     string
		incoming []Item
		want     []string
	}{
		{"reuse provided ID", []Item{{ID: "custom"}}, []string{"custom"}},
		{"allocate sequentially", []Item{{Title: "a"}, {Title: "b"}}, []string{"need-3", "need-4"}},
		{"whitespace ID allocates", []Item{{ID: "  "}}, []string{"need-3"}},
		{"collision gets suffix", []Item{{ID: "need-1"}}, []string{"need-1-2"}},
		{"repeated collision", []Item{{ID: "need-1"}, {ID: "need-1"}}, []string{"need-1-2", "need-1-3"}},
		{"allocated collides with provided", []Item{{ID: "need-4"}, {Title: "x"}, {Title: "y"}}, []string{"need-4", "need-3", "need-5"}},
		{"provided IDs consume no number", []Item{{ID: "custom"}, {Title: "x"}, {Title: "y"}}, []string{"custom", "need-3", "need-4"}},
		{"dense after mixed input", []Item{{Title: "x"}, {ID: "keep"}, {Title: "y"}}, []string{"need-3", "keep", "need-4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(AssignIDs(existing, tt.incoming, "need"))
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("AssignIDs = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("inputs untouched", func(t *testing.T) {
		incoming := []Item{{Title: "a"}}
		_ = AssignIDs(existing, incoming, "need")
		if incoming[0].ID != "" {
			t.Error("incoming slice was modified")
		}
	})
}

func TestAssignIDs_UniqueProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		idGen := rapid.SampledFrom([]string{"", "uc-1", "uc-2", "uc-3", "x", "uc-1-2"})
		existing := rapid.SliceOfDistinct(rapid.Custom(func(t *rapid.T) Item {
			return Item{ID: rapid.SampledFrom([]string{"uc-1", "uc-2", "uc-3", "x"}).Draw(t, "existing_id")}
		}), func(it Item) string { return it.ID }).Draw(t, "existing")
		incoming := rapid.SliceOf(rapid.Custom(func(t *rapid.T) Item {
			return Item{ID: idGen.Draw(t, "id")}
		})).Draw(t, "incoming")

		out := AssignIDs(existing, incoming, "uc")
		if len(out) != len(incoming) {
			t.Fatalf("got %d items, want %d", len(out), len(incoming))
		}
		seen := map[string]bool{}
		for _, it := range existing {
			seen[it.ID] = true
		}
		for _, it := range out {
			if it.ID == "" {
				t.Fatal("empty identifier assigned")
			}
			if seen[it.ID] {
				t.Fatalf("identifier %q assigned twice", it.ID)
			}
			seen[it.ID] = true
		}
	})
}

func TestMergeRejected(t *testing.T) {
	existing := []Item{{ID: "uc-1", Title: "Chatbot"}}
	incoming := []Item{
		{ID: "uc-1", Title: "Chatbot"},
		{ID: "uc-7", Title: "OCR"},
		{ID: "uc-7", Title: "OCR again"},
		{Title: "No id"},
	}

	got := MergeRejected(existing, incoming, "uc")
	if fmt.Sprint(ids(got)) != "[uc-7 uc-2]" {
		t.Errorf("MergeRejected = %v", ids(got))
	}
}

func TestExclude(t *testing.T) {
	validated := []Item{{ID: "qw-1"}}
	rejected := []Item{{ID: "qw-2"}}
	proposals := []Item{{ID: "qw-1"}, {ID: "qw-2"}, {ID: "qw-3"}, {Title: "no id"}}

	got := Exclude(proposals, validated, rejected)
	if len(got) != 2 || got[0].ID != "qw-3" || got[1].Title != "no id" {
		t.Errorf("Exclude = %+v", got)
	}
}
