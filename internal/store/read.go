package store

import (
	"fmt"
	"slices"

	"github.com/roach88/deltaview/internal/model"
)

// GetNodes returns id → node for one entity type. When ids are given the
// result is restricted to those ids; ids not present are left out.
func (s *Store) GetNodes(t model.EntityType, ids ...string) map[string]Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Node)
	if len(ids) > 0 {
		for _, id := range ids {
			if e, ok := s.entries[id]; ok && e.node.Type == t {
				out[id] = e.node.clone()
			}
		}
		return out
	}
	for id := range s.byType[t] {
		out[id] = s.entries[id].node.clone()
	}
	return out
}

// Get returns one node by id.
func (s *Store) Get(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return Node{}, false
	}
	return e.node.clone(), true
}

// Children returns the ordered children of id.
func (s *Store) Children(id string) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	out := make([]Node, 0, len(e.node.Children))
	for _, c := range e.node.Children {
		if child, ok := s.entries[c]; ok {
			out = append(out, child.node.clone())
		}
	}
	return out
}

// LatestJob returns the job with the highest submitNum of a task.
func (s *Store) LatestJob(taskID string) (Node, bool) {
	return s.jobAt(taskID, 0)
}

// PreviousJob returns the job submitted before the latest one.
func (s *Store) PreviousJob(taskID string) (Node, bool) {
	return s.jobAt(taskID, 1)
}

func (s *Store) jobAt(taskID string, pos int) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[taskID]
	if !ok || e.node.Type != model.TypeTaskProxy {
		return Node{}, false
	}
	i := 0
	for _, c := range e.node.Children {
		child, ok := s.entries[c]
		if !ok || child.node.Type != model.TypeJob {
			continue
		}
		if i == pos {
			return child.node.clone(), true
		}
		i++
	}
	return Node{}, false
}

// Count returns the number of stored entities of type t.
func (s *Store) Count(t model.EntityType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byType[t])
}

// Workflows returns the ids of stored workflows, sorted.
func (s *Store) Workflows() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.byType[model.TypeWorkflow]))
	for id := range s.byType[model.TypeWorkflow] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Version returns the store version. It increases once per batch that
// changed anything.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// WorkflowVersion returns the store version at which anything scoped to
// wf last changed, 0 if never. Projections key their caches on it so a
// change in one workflow leaves the others' caches valid.
func (s *Store) WorkflowVersion(wf string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wfVersion[wf]
}

// Snapshot returns a deep copy of every node keyed by id.
// Two stores holding the same net state have equal snapshots.
func (s *Store) Snapshot() map[string]Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Node, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.node.clone()
	}
	return out
}

// Checksum digests the records and edges of one entity type. Stores with
// equal checksums for every type hold the same state.
func (s *Store) Checksum(t model.EntityType) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.byType[t]))
	for id := range s.byType[t] {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	stamps := make([]string, 0, len(ids))
	for _, id := range ids {
		n := s.entries[id].node
		digest, err := model.RecordDigest(model.Fields{
			"fields":   map[string]any(n.Fields),
			"parent":   n.Parent,
			"children": slices.Clone(n.Children),
		})
		if err != nil {
			return "", fmt.Errorf("checksum %s: %w", id, err)
		}
		stamps = append(stamps, id+":"+digest)
	}
	return model.Checksum(stamps), nil
}

// Scope returns copies of the workflow record and every entity scoped to
// wf, read under one lock, together with the workflow version they were
// read at.
func (s *Store) Scope(wf string) (map[string]Node, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Node)
	for id, e := range s.entries {
		if model.WorkflowOf(id) == wf {
			out[id] = e.node.clone()
		}
	}
	return out, s.wfVersion[wf]
}
