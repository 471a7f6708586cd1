package projection

import (
	"slices"
	"strings"
)

// TaskFilter selects tasks by id substring and state.
// The zero value matches everything.
type TaskFilter struct {
	ID     string   `json:"id,omitempty" yaml:"id,omitempty"`
	States []string `json:"states,omitempty" yaml:"states,omitempty"`
}

// Empty reports whether the filter matches everything.
func (f TaskFilter) Empty() bool {
	return f.ID == "" && len(f.States) == 0
}

// Key identifies the filter state. Filters selecting the same states in a
// different order share a key.
func (f TaskFilter) Key() string {
	states := slices.Clone(f.States)
	slices.Sort(states)
	states = slices.Compact(states)
	return f.ID + "\x00" + strings.Join(states, ",")
}

func (f TaskFilter) idMatch(name string) bool {
	return f.ID == "" || strings.Contains(name, f.ID)
}

func (f TaskFilter) stateMatch(state string) bool {
	return len(f.States) == 0 || slices.Contains(f.States, state)
}

// MatchTask reports whether a task with the given name and state passes
// the filter on its own merits.
func (f TaskFilter) MatchTask(name, state string) bool {
	return f.idMatch(name) && f.stateMatch(state)
}

// verdictKey addresses one cached filter verdict. The id match a node
// inherits from its ancestors is part of the key since it changes the
// outcome.
type verdictKey struct {
	id            string
	parentMatched bool
	filter        string
}

// verdictCache holds the filter verdicts of one workflow at one version.
type verdictCache struct {
	version  uint64
	verdicts map[verdictKey]bool
}
