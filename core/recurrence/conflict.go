package recurrence

import (
	"sort"
	"time"
)

// Slot is a time range holding one or more resources (eg: "trainer:<id>", "location:<name>").
type Slot struct {
	Ref   string
	Keys  []string
	Start time.Time
	End   time.Time
}

func (s Slot) overlaps(o Slot) bool {
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

// Conflict is a pair of slots holding the same resource at overlapping times.
type Conflict struct {
	Key string
	A   Slot
	B   Slot
}

// DetectConflicts returns every pair of overlapping slots sharing a resource key.
// Slots that merely touch (one ends when the other starts) do not conflict.
// Conflicts are ordered by key, then by the start of their first slot.
func DetectConflicts(slots []Slot) []Conflict {
	byKey := make(map[string][]Slot)
	for _, s := range slots {
		if !s.Start.Before(s.End) {
			continue
		}
		for _, k := range s.Keys {
			if k != "" {
				byKey[k] = append(byKey[k], s)
			}
		}
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conflicts []Conflict
	for _, k := range keys {
		group := byKey[k]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Start.Equal(group[j].Start) {
				return group[i].Ref < group[j].Ref
			}
			return group[i].Start.Before(group[j].Start)
		})

		// sweep: `active` holds the slots that have not ended before the current one starts
		var active []Slot
		for _, s := range group {
			kept := active[:0]
			for _, a := range active {
				if a.End.After(s.Start) {
					kept = append(kept, a)
				}
			}
			active = kept
			for _, a := range active {
				if a.overlaps(s) {
					conflicts = append(conflicts, Conflict{Key: k, A: a, B: s})
				}
			}
			active = append(active, s)
		}
	}
	return conflicts
}
