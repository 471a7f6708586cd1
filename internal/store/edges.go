package store

import (
	"slices"
	"strings"

	"github.com/roach88/deltaview/internal/model"
)

// entry is the arena slot for one node.
type entry struct {
	node     *Node
	logical  string   // parent id implied by the record
	fallback string   // surviving ancestor of a pruned logical parent
	waiting  []string // candidate parent ids this node is registered under
}

// logicalParent derives the parent id a record asks for.
//
//   - workflow: none
//   - job: the owning task, i.e. the id minus its last segment
//   - cycle root family: the workflow
//   - family: firstParent.id, else the last ancestor, else the cycle root
//   - task: firstParent.id, else the cycle root
func logicalParent(t model.EntityType, id string, f model.Fields) string {
	switch t {
	case model.TypeJob:
		return model.TrimLast(id)
	case model.TypeFamilyProxy:
		if isRootFamily(id, f) {
			return model.WorkflowOf(id)
		}
		if p, ok := f.String("firstParent.id"); ok && p != "" {
			return p
		}
		if ancestors := f.Strings("ancestors"); len(ancestors) > 0 {
			tok := model.ParseID(id)
			name := ancestors[len(ancestors)-1]
			if strings.Contains(name, "//") {
				return name
			}
			return tok.Workflow + "//" + tok.Cycle + "/" + name
		}
		return model.CycleRootID(id)
	case model.TypeTaskProxy:
		if p, ok := f.String("firstParent.id"); ok && p != "" {
			return p
		}
		if root := model.CycleRootID(id); root != id {
			return root
		}
		return model.WorkflowOf(id)
	}
	return ""
}

// candidates returns the parent ids a node may attach to, best first.
// Jobs only ever attach to their task. Families and tasks fall back to the
// ancestor their pruned parent sat under, then the cycle root, then the
// workflow.
func candidates(e *entry) []string {
	id := e.node.ID
	out := make([]string, 0, 3)
	add := func(c string) {
		if c == "" || c == id || slices.Contains(out, c) {
			return
		}
		out = append(out, c)
	}
	add(e.logical)
	switch e.node.Type {
	case model.TypeFamilyProxy, model.TypeTaskProxy:
		add(e.fallback)
		add(model.CycleRootID(id))
		add(model.WorkflowOf(id))
	}
	return out
}

// attach places e under the best existing candidate parent.
//
// The node registers as a waiter on every better candidate so it moves up
// when one of them arrives. A candidate that would close a cycle in the
// parent chain is skipped.
func (s *Store) attach(e *entry) {
	s.detach(e)

	cands := candidates(e)
	for i, c := range cands {
		parent, ok := s.entries[c]
		if !ok || s.isDescendant(parent, e.node.ID) {
			continue
		}
		e.node.Parent = c
		parent.node.Children = append(parent.node.Children, e.node.ID)
		s.sortChildren(parent)
		s.wait(e, cands[:i])
		return
	}
	s.wait(e, cands)
}

// detach removes e from its parent's child list and from every waiter set.
func (s *Store) detach(e *entry) {
	if e.node.Parent != "" {
		if parent, ok := s.entries[e.node.Parent]; ok {
			parent.node.Children = slices.DeleteFunc(parent.node.Children, func(id string) bool {
				return id == e.node.ID
			})
		}
		e.node.Parent = ""
	}
	for _, c := range e.waiting {
		if set, ok := s.waiters[c]; ok {
			delete(set, e.node.ID)
			if len(set) == 0 {
				delete(s.waiters, c)
			}
		}
	}
	e.waiting = nil
}

func (s *Store) wait(e *entry, on []string) {
	for _, c := range on {
		set, ok := s.waiters[c]
		if !ok {
			set = make(map[string]struct{})
			s.waiters[c] = set
		}
		set[e.node.ID] = struct{}{}
	}
	e.waiting = slices.Clone(on)
}

// adopt re-attaches every node waiting on id. Called after id is inserted.
func (s *Store) adopt(id string) {
	set, ok := s.waiters[id]
	if !ok {
		return
	}
	ids := make([]string, 0, len(set))
	for child := range set {
		ids = append(ids, child)
	}
	slices.Sort(ids)
	for _, child := range ids {
		if e, ok := s.entries[child]; ok {
			s.attach(e)
		}
	}
}

// isDescendant reports whether node is id or lies below id.
func (s *Store) isDescendant(node *entry, id string) bool {
	for cur := node; cur != nil; {
		if cur.node.ID == id {
			return true
		}
		next, ok := s.entries[cur.node.Parent]
		if !ok {
			return false
		}
		cur = next
	}
	return false
}

// sortChildren keeps child lists in a deterministic order so the store
// state is independent of arrival order: jobs by submitNum descending,
// everything else by id.
func (s *Store) sortChildren(parent *entry) {
	slices.SortStableFunc(parent.node.Children, func(a, b string) int {
		ea, eb := s.entries[a], s.entries[b]
		if ea != nil && eb != nil && ea.node.Type == model.TypeJob && eb.node.Type == model.TypeJob {
			na, nb := ea.node.SubmitNum(), eb.node.SubmitNum()
			if na != nb {
				if na > nb {
					return -1
				}
				return 1
			}
		}
		return strings.Compare(a, b)
	})
}

// resortParent re-sorts the child list e sits in, after a field that
// affects ordering may have changed.
func (s *Store) resortParent(e *entry) {
	if parent, ok := s.entries[e.node.Parent]; ok {
		s.sortChildren(parent)
	}
}
