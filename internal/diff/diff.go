// Package diff computes the structured edit list between an object's
// last-applied spec and its current spec, in the shape the reconcilers
// dispatch on: one line per changed field, each an (action, path, old, new)
// tuple.
package diff

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Action classifies a single diff Line.
type Action string

const (
	Add    Action = "add"
	Change Action = "change"
	Remove Action = "remove"
)

// Line is one structural difference between two spec values.
type Line struct {
	Action Action
	Path   []string
	Old    interface{}
	New    interface{}
}

// Set is an ordered list of diff Lines with filtered lookup.
type Set []Line

// Find returns the first line whose Action is in actions and whose Path
// equals path exactly, or false if none matches.
func (s Set) Find(actions []Action, path []string) (Line, bool) {
	for _, l := range s {
		if !l.Action.in(actions) {
			continue
		}
		if pathEqual(l.Path, path) {
			return l, true
		}
	}
	return Line{}, false
}

func (a Action) in(actions []Action) bool {
	for _, candidate := range actions {
		if candidate == a {
			return true
		}
	}
	return false
}

func pathEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Compute diffs two spec values of the same type by round-tripping both
// through JSON into generic map/slice trees and walking them structurally.
// oldSpec may be nil to represent an absent last-applied value (every field
// present in newSpec is reported as Add). Paths are reported rooted at
// "spec", matching the literal path tuples used throughout this codebase
// (e.g. ("spec","artifact"), ("spec","models")).
func Compute(oldSpec, newSpec interface{}) (Set, error) {
	oldTree, err := toTree(wrapSpec(oldSpec))
	if err != nil {
		return nil, fmt.Errorf("diff: encode old: %w", err)
	}
	newTree, err := toTree(wrapSpec(newSpec))
	if err != nil {
		return nil, fmt.Errorf("diff: encode new: %w", err)
	}

	var out Set
	walk(oldTree, newTree, nil, &out)
	return out, nil
}

func wrapSpec(spec interface{}) interface{} {
	if spec == nil {
		return map[string]interface{}{"spec": nil}
	}
	return struct {
		Spec interface{} `json:"spec"`
	}{Spec: spec}
}

func toTree(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func walk(oldV, newV interface{}, path []string, out *Set) {
	switch newT := newV.(type) {
	case map[string]interface{}:
		oldT, ok := oldV.(map[string]interface{})
		if !ok {
			oldT = nil
		}
		for key, nv := range newT {
			childPath := appendPath(path, key)
			ov, present := mapGet(oldT, key)
			switch {
			case !present:
				*out = append(*out, Line{Action: Add, Path: childPath, Old: nil, New: nv})
			default:
				walk(ov, nv, childPath, out)
			}
		}
		for key, ov := range oldT {
			if _, present := mapGet(newT, key); !present {
				*out = append(*out, Line{Action: Remove, Path: appendPath(path, key), Old: ov, New: nil})
			}
		}
	case []interface{}:
		oldT, _ := oldV.([]interface{})
		if isModelsPath(path) {
			if !reflect.DeepEqual(oldT, newT) {
				*out = append(*out, Line{Action: Change, Path: clonePath(path), Old: oldT, New: newT})
			}
			return
		}
		if !reflect.DeepEqual(oldT, newT) {
			*out = append(*out, Line{Action: Change, Path: clonePath(path), Old: oldT, New: newT})
		}
	default:
		if oldV == nil && newV == nil {
			return
		}
		if !reflect.DeepEqual(oldV, newV) {
			if oldV == nil {
				*out = append(*out, Line{Action: Add, Path: clonePath(path), Old: nil, New: newV})
			} else {
				*out = append(*out, Line{Action: Change, Path: clonePath(path), Old: oldV, New: newV})
			}
		}
	}
}

// isModelsPath recognizes the one field the dispatch rules treat specially:
// EndpointConfig.spec.models is always diffed as a single whole value,
// never per-index, so that a membership change is never mistaken for a
// sequence of independent weight changes.
func isModelsPath(path []string) bool {
	return len(path) == 2 && path[0] == "spec" && path[1] == "models"
}

func mapGet(m map[string]interface{}, key string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

func appendPath(path []string, key string) []string {
	next := make([]string, len(path)+1)
	copy(next, path)
	next[len(path)] = key
	return next
}

func clonePath(path []string) []string {
	next := make([]string, len(path))
	copy(next, path)
	return next
}
