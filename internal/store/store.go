package store

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/deltaview/internal/model"
)

// Store is the normalized entity store.
//
// Thread-safety model:
//   - Apply and the Apply* operations take the write lock for the whole batch
//   - Read operations take the read lock and return deep copies
//   - Observers are notified after the write lock is released
type Store struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	byType    map[model.EntityType]map[string]struct{}
	waiters   map[string]map[string]struct{} // candidate parent id -> waiting node ids
	gone      *tombstones                    // recently pruned task ids
	version   uint64
	wfVersion map[string]uint64

	obsMu     sync.Mutex
	observers map[int]chan uint64
	nextObs   int
	published uint64
	closed    bool
}

// Result summarizes one applied batch.
type Result struct {
	Added   int
	Updated int
	Pruned  int // entities removed, cascades included
	Ignored int
	Rebuilt []string // workflows cleared by reload invalidation
	Issues  []error  // one *StoreError per ignored record
}

// Changed reports whether the batch touched the store.
func (r Result) Changed() bool {
	return r.Added > 0 || r.Updated > 0 || r.Pruned > 0 || len(r.Rebuilt) > 0
}

func (r *Result) merge(o Result) {
	r.Added += o.Added
	r.Updated += o.Updated
	r.Pruned += o.Pruned
	r.Ignored += o.Ignored
	r.Rebuilt = append(r.Rebuilt, o.Rebuilt...)
	r.Issues = append(r.Issues, o.Issues...)
}

func (r *Result) ignore(err *StoreError) {
	r.Ignored++
	r.Issues = append(r.Issues, err)
}

// New creates an empty store.
func New() *Store {
	s := &Store{
		entries:   make(map[string]*entry),
		byType:    make(map[model.EntityType]map[string]struct{}),
		waiters:   make(map[string]map[string]struct{}),
		gone:      newTombstones(maxTombstones),
		wfVersion: make(map[string]uint64),
		observers: make(map[int]chan uint64),
	}
	for _, t := range model.Types {
		s.byType[t] = make(map[string]struct{})
	}
	return s
}

// batch tracks the workflows touched while the write lock is held.
type batch struct {
	touched map[string]bool
}

func newBatch() *batch {
	return &batch{touched: make(map[string]bool)}
}

func (b *batch) touch(id string) {
	if wf := model.WorkflowOf(id); wf != "" {
		b.touched[wf] = true
	}
}

// commit bumps the version counters for a finished batch. Must hold mu.
// Returns the new store version, or 0 if nothing changed.
func (s *Store) commit(b *batch) uint64 {
	if len(b.touched) == 0 {
		return 0
	}
	s.version++
	for wf := range b.touched {
		s.wfVersion[wf] = s.version
	}
	return s.version
}

// Apply applies one delta message as a single atomic batch.
//
// Order: workflows flagged reloaded are rebuilt first, then added records,
// then updated records (both in dependency order workflow, family, task,
// job), then pruned ids (reverse order, children first).
func (s *Store) Apply(d model.Delta) Result {
	s.mu.Lock()
	b := newBatch()
	var res Result

	for _, wf := range d.ReloadedWorkflows() {
		n := s.rebuild(wf, b)
		res.Rebuilt = append(res.Rebuilt, wf)
		slog.Info("workflow reloaded, entities cleared",
			"workflow", wf,
			"removed", n,
		)
	}
	for _, t := range model.Types {
		res.merge(s.applyAdded(t, d.Added.Records(t), b))
	}
	for _, t := range model.Types {
		res.merge(s.applyUpdated(t, d.Updated.Records(t), b))
	}
	for _, t := range slices.Backward(model.Types) {
		res.merge(s.applyPruned(t, d.Pruned.IDs(t), b))
	}

	version := s.commit(b)
	s.mu.Unlock()

	s.notify(version)
	return res
}

// ApplyAdded inserts records by id. A record whose id already exists
// replaces the stored record, so re-adding is idempotent.
func (s *Store) ApplyAdded(t model.EntityType, records []model.Fields) Result {
	return s.single(func(b *batch) Result { return s.applyAdded(t, records, b) })
}

// ApplyUpdated merges partial records into existing ones. Omitted fields
// keep their prior values. Updates for unknown ids are logged and ignored.
func (s *Store) ApplyUpdated(t model.EntityType, partials []model.Fields) Result {
	return s.single(func(b *batch) Result { return s.applyUpdated(t, partials, b) })
}

// ApplyPruned removes entities by id, cascading to owned children.
// Absent ids are a no-op.
func (s *Store) ApplyPruned(t model.EntityType, ids []string) Result {
	return s.single(func(b *batch) Result { return s.applyPruned(t, ids, b) })
}

// Rebuild clears every entity scoped to workflowID except the workflow
// record itself, ready for a fresh snapshot. Returns the number removed.
func (s *Store) Rebuild(workflowID string) int {
	var n int
	s.single(func(b *batch) Result {
		n = s.rebuild(workflowID, b)
		return Result{Rebuilt: []string{workflowID}}
	})
	return n
}

func (s *Store) single(fn func(b *batch) Result) Result {
	s.mu.Lock()
	b := newBatch()
	res := fn(b)
	version := s.commit(b)
	s.mu.Unlock()

	s.notify(version)
	return res
}

func (s *Store) applyAdded(t model.EntityType, records []model.Fields, b *batch) Result {
	var res Result
	if len(records) == 0 {
		return res
	}
	if !t.Valid() {
		for range records {
			res.ignore(&StoreError{Code: ErrCodeUnknownType, Type: t, Op: "add"})
		}
		return res
	}

	for _, rec := range records {
		id := rec.ID()
		if id == "" {
			slog.Warn("added record without id ignored", "type", t)
			res.ignore(&StoreError{Code: ErrCodeMissingID, Type: t, Op: "add"})
			continue
		}

		fields := rec.Clone()
		e, exists := s.entries[id]
		if !exists && t == model.TypeJob && s.gone.has(model.TrimLast(id)) {
			slog.Warn("job for a pruned task ignored",
				"id", id,
				"task", model.TrimLast(id),
			)
			res.ignore(&StoreError{Code: ErrCodeUnknownParent, Type: t, ID: id, Op: "add"})
			continue
		}
		if exists && e.node.Type != t {
			slog.Warn("id reused for a different entity type, replacing",
				"id", id,
				"old_type", e.node.Type,
				"new_type", t,
			)
			res.Issues = append(res.Issues, &StoreError{Code: ErrCodeTypeMismatch, Type: t, ID: id, Op: "add"})
			s.removeSubtree(e, b)
			exists = false
		}

		if exists {
			e.node.Fields = fields
			if logical := logicalParent(t, id, fields); logical != e.logical {
				e.logical = logical
				e.fallback = ""
			}
			s.attach(e)
		} else {
			e = &entry{node: &Node{ID: id, Type: t, Fields: fields}}
			e.logical = logicalParent(t, id, fields)
			s.entries[id] = e
			s.byType[t][id] = struct{}{}
			s.attach(e)
			s.adopt(id)
			if t == model.TypeTaskProxy {
				s.gone.forget(id)
			}
		}
		b.touch(id)
		res.Added++
	}
	return res
}

func (s *Store) applyUpdated(t model.EntityType, partials []model.Fields, b *batch) Result {
	var res Result
	if len(partials) == 0 {
		return res
	}
	if !t.Valid() {
		for range partials {
			res.ignore(&StoreError{Code: ErrCodeUnknownType, Type: t, Op: "update"})
		}
		return res
	}

	for _, partial := range partials {
		id := partial.ID()
		if id == "" {
			slog.Warn("updated record without id ignored", "type", t)
			res.ignore(&StoreError{Code: ErrCodeMissingID, Type: t, Op: "update"})
			continue
		}
		e, ok := s.entries[id]
		if !ok || e.node.Type != t {
			slog.Warn("update for unknown id ignored",
				"type", t,
				"id", id,
			)
			res.ignore(&StoreError{Code: ErrCodeUnknownID, Type: t, ID: id, Op: "update"})
			continue
		}

		e.node.Fields.Merge(partial)
		if logical := logicalParent(t, id, e.node.Fields); logical != e.logical {
			slog.Debug("re-parenting node",
				"id", id,
				"from", e.logical,
				"to", logical,
			)
			e.logical = logical
			e.fallback = ""
			s.attach(e)
		} else {
			s.resortParent(e)
		}
		b.touch(id)
		res.Updated++
	}
	return res
}

func (s *Store) applyPruned(t model.EntityType, ids []string, b *batch) Result {
	var res Result
	if len(ids) == 0 {
		return res
	}
	if !t.Valid() {
		for range ids {
			res.ignore(&StoreError{Code: ErrCodeUnknownType, Type: t, Op: "prune"})
		}
		return res
	}

	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok || e.node.Type != t {
			continue
		}
		res.Pruned += s.prune(e, b)
	}
	return res
}

// prune removes e and resolves its children. Returns the number removed.
//
//   - job: removed alone
//   - task: removed with its jobs
//   - cycle root family: removed with the whole cycle subtree
//   - other family: children move to the nearest surviving ancestor (the
//     family's own parent first), and are removed if none exists
//   - workflow: the whole workflow scope is removed
func (s *Store) prune(e *entry, b *batch) int {
	switch {
	case e.node.Type == model.TypeWorkflow:
		wf := e.node.ID
		n := s.rebuild(wf, b)
		s.remove(e, b)
		return n + 1
	case e.node.Type == model.TypeFamilyProxy && !isRootFamily(e.node.ID, e.node.Fields):
		children := slices.Clone(e.node.Children)
		up := e.node.Parent
		s.remove(e, b)
		n := 1
		for _, id := range children {
			child, ok := s.entries[id]
			if !ok {
				continue
			}
			if child.logical == e.node.ID || child.fallback == e.node.ID {
				child.fallback = up
			}
			s.attach(child)
			if child.node.Parent == "" {
				n += s.removeSubtree(child, b)
			}
		}
		return n
	default:
		return s.removeSubtree(e, b)
	}
}

// removeSubtree removes e and every descendant. Returns the number removed.
func (s *Store) removeSubtree(e *entry, b *batch) int {
	n := 0
	for _, id := range slices.Clone(e.node.Children) {
		if child, ok := s.entries[id]; ok {
			n += s.removeSubtree(child, b)
		}
	}
	s.remove(e, b)
	return n + 1
}

// remove deletes a single entry. Its children are left for the caller.
func (s *Store) remove(e *entry, b *batch) {
	s.detach(e)
	for _, id := range e.node.Children {
		if child, ok := s.entries[id]; ok && child.node.Parent == e.node.ID {
			child.node.Parent = ""
		}
	}
	e.node.Children = nil
	if e.node.Type == model.TypeTaskProxy {
		s.gone.add(e.node.ID)
	}
	delete(s.entries, e.node.ID)
	delete(s.byType[e.node.Type], e.node.ID)
	b.touch(e.node.ID)
}

// rebuild removes every entity scoped to wf except the workflow record.
func (s *Store) rebuild(wf string, b *batch) int {
	var scoped []string
	for id := range s.entries {
		if id != wf && model.WorkflowOf(id) == wf {
			scoped = append(scoped, id)
		}
	}
	slices.Sort(scoped)
	for _, id := range scoped {
		if e, ok := s.entries[id]; ok {
			s.remove(e, b)
		}
	}
	if len(scoped) > 0 {
		b.touch(wf)
	}
	return len(scoped)
}
