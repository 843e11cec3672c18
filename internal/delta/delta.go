// Package delta computes minimal added/removed change sets between two
// nested string-keyed trees. Both the config synchronizer and the room
// roster path ship these records instead of full snapshots.
package delta

import "reflect"

// Record describes the change from an old tree to a new one. A nested map
// that changed in any way appears whole under Added; keys gone from a scope
// appear under Removed with their old values. A nil *Record means "no
// change", which is distinct from an empty record ("send empty").
type Record struct {
	Added   map[string]any `json:"added,omitempty"`
	Removed map[string]any `json:"removed,omitempty"`
}

// Diff walks newTree against oldTree. A key counts as added when it is
// absent from oldTree or its value differs; sub-maps are compared
// recursively but reported whole. A nil oldTree means everything in
// newTree is added. Returns nil when nothing changed.
func Diff(oldTree, newTree map[string]any) *Record {
	added := make(map[string]any)
	removed := make(map[string]any)

	for key, newVal := range newTree {
		oldVal, present := oldTree[key]
		if !present {
			added[key] = newVal
			continue
		}
		if newMap, ok := newVal.(map[string]any); ok {
			oldMap, wasMap := oldVal.(map[string]any)
			if !wasMap || Diff(oldMap, newMap) != nil {
				added[key] = newMap
			}
			continue
		}
		if !reflect.DeepEqual(oldVal, newVal) {
			added[key] = newVal
		}
	}

	for key, oldVal := range oldTree {
		if _, present := newTree[key]; !present {
			removed[key] = oldVal
		}
	}

	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	return &Record{Added: added, Removed: removed}
}

// Copy deep-copies a tree one nested level at a time. Used to snapshot the
// reference tree after an acknowledged send.
func Copy(tree map[string]any) map[string]any {
	if tree == nil {
		return nil
	}
	out := make(map[string]any, len(tree))
	for key, val := range tree {
		if sub, ok := val.(map[string]any); ok {
			out[key] = Copy(sub)
			continue
		}
		out[key] = val
	}
	return out
}
