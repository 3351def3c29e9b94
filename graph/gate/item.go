// Package gate implements the human-validation node that sits behind an
// interrupt: it folds a reviewer's decision into accumulator fields and sets
// the routing flag for the conditional edge that follows it.
package gate

import (
	"fmt"
	"strings"
)

// User actions understood by every gate.
const (
	ActionAdvance  = "advance"
	ActionContinue = "continue_in_place"
)

// CodeUnknownAction is the recoverable error code for an action the gate
// does not recognise.
const CodeUnknownAction = "UNKNOWN_ACTION"

// CodeUnroutedItem is the recoverable error code for a decided item whose
// category matches no lane of the gate.
const CodeUnroutedItem = "UNROUTED_ITEM"

// Item is one proposal shown to a reviewer: a need, a use case, a
// recommendation or a team.
type Item struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

// Decision is the payload a reviewer submits on Resume.
type Decision struct {
	Validated  []Item `json:"validated"`
	Rejected   []Item `json:"rejected"`
	Feedback   string `json:"feedback,omitempty"`
	UserAction string `json:"user_action"`
}

// AssignIDs returns incoming with stable identifiers relative to existing.
//
// A non-empty ID is reused. A missing one becomes prefix-N, numbered densely
// after the existing accumulator and skipping any number already taken;
// items that bring their own ID do not consume a number. A provided ID that
// is already taken gets a -2, -3, ... suffix instead of replacing the earlier
// item. Neither slice is modified.
func AssignIDs(existing, incoming []Item, prefix string) []Item {
	taken := make(map[string]bool, len(existing)+len(incoming))
	for _, it := range existing {
		taken[it.ID] = true
	}
	for _, it := range incoming {
		if id := strings.TrimSpace(it.ID); id != "" {
			taken[id] = true
		}
	}

	next := len(existing)
	used := make(map[string]bool, len(incoming))
	out := make([]Item, 0, len(incoming))
	for _, it := range incoming {
		id := strings.TrimSpace(it.ID)
		switch {
		case id == "":
			for {
				next++
				id = fmt.Sprintf("%s-%d", prefix, next)
				if !taken[id] {
					break
				}
			}
		case used[id] || idIn(existing, id):
			base := id
			for n := 2; ; n++ {
				id = fmt.Sprintf("%s-%d", base, n)
				if !taken[id] {
					break
				}
			}
		}
		taken[id] = true
		used[id] = true
		it.ID = id
		out = append(out, it)
	}
	return out
}

func idIn(items []Item, id string) bool {
	for _, it := range items {
		if it.ID == id {
			return true
		}
	}
	return false
}

// MergeRejected returns the items of incoming that are not already rejected,
// with identifiers assigned. Items are compared by ID, never by title.
func MergeRejected(existing, incoming []Item, prefix string) []Item {
	seen := make(map[string]bool, len(existing))
	for _, it := range existing {
		seen[it.ID] = true
	}

	fresh := make([]Item, 0, len(incoming))
	for _, it := range incoming {
		id := strings.TrimSpace(it.ID)
		if id != "" {
			if seen[id] {
				continue
			}
			seen[id] = true
		}
		fresh = append(fresh, it)
	}
	return AssignIDs(existing, fresh, prefix)
}

// IDs returns the identifiers of items as a set.
func IDs(items ...[]Item) map[string]bool {
	out := make(map[string]bool)
	for _, list := range items {
		for _, it := range list {
			if it.ID != "" {
				out[it.ID] = true
			}
		}
	}
	return out
}

// Exclude drops items whose ID is already present in any of decided.
func Exclude(items []Item, decided ...[]Item) []Item {
	ids := IDs(decided...)
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.ID != "" && ids[it.ID] {
			continue
		}
		out = append(out, it)
	}
	return out
}
