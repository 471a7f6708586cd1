package projection

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/deltaview/internal/model"
	"github.com/roach88/deltaview/internal/store"
)

// TreeNode is one node of a projected tree.
//
// Trees returned by a Projector are shared between callers and must be
// treated as read-only.
type TreeNode struct {
	ID       string           `json:"id"`
	Type     model.EntityType `json:"type"`
	Name     string           `json:"name"`
	State    string           `json:"state,omitempty"`
	Node     store.Node       `json:"-"`
	Children []*TreeNode      `json:"children,omitempty"`
}

// Walk calls fn for n and every descendant, depth first. Returning false
// skips the node's children.
func (n *TreeNode) Walk(fn func(*TreeNode) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Find returns the descendant (or n itself) with the given id.
func (n *TreeNode) Find(id string) (*TreeNode, bool) {
	var found *TreeNode
	n.Walk(func(c *TreeNode) bool {
		if found != nil {
			return false
		}
		if c.ID == id {
			found = c
			return false
		}
		return true
	})
	return found, found != nil
}

// newTreeNode copies the display fields of n. A cycle is named by its
// cycle point so id filters match points rather than "root".
func newTreeNode(n store.Node) *TreeNode {
	name := n.Name()
	if n.IsCycle() {
		name = n.Cycle()
	}
	return &TreeNode{
		ID:    n.ID,
		Type:  n.Type,
		Name:  name,
		State: n.State(),
		Node:  n,
	}
}

type treeEntry struct {
	version uint64
	root    *TreeNode
	size    int
}

// Option configures a Projector.
type Option func(*Projector)

// WithFlat hides families: tasks are placed directly under their cycle.
func WithFlat() Option {
	return func(p *Projector) {
		p.flat = true
	}
}

// Projector builds trees and tables from a store.
//
// Thread-safety: all methods may be called concurrently. Tree building
// and filtering are serialized by one mutex; the store is only read.
type Projector struct {
	store *store.Store
	flat  bool

	mu       sync.Mutex
	trees    map[string]treeEntry
	verdicts map[string]*verdictCache
	builds   int
}

// New creates a Projector over s.
func New(s *store.Store, opts ...Option) *Projector {
	p := &Projector{
		store:    s,
		trees:    make(map[string]treeEntry),
		verdicts: make(map[string]*verdictCache),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tree returns the tree of workflow wf, false if the workflow is not in
// the store.
func (p *Projector) Tree(wf string) (*TreeNode, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.tree(wf)
	return entry.root, ok
}

// tree returns the memoized tree of wf, rebuilding it when the workflow
// version moved. Must hold mu.
func (p *Projector) tree(wf string) (treeEntry, bool) {
	current := p.store.WorkflowVersion(wf)
	if cached, ok := p.trees[wf]; ok && cached.version == current && current != 0 {
		return cached, cached.root != nil
	}

	nodes, version := p.store.Scope(wf)
	entry := treeEntry{version: version}
	if wfNode, ok := nodes[wf]; ok && wfNode.Type == model.TypeWorkflow {
		entry.root = p.build(wfNode, nodes)
		entry.size = len(nodes)
	}
	p.trees[wf] = entry
	p.builds++

	slog.Debug("tree rebuilt",
		"workflow", wf,
		"version", version,
		"nodes", entry.size,
	)
	return entry, entry.root != nil
}

func (p *Projector) build(n store.Node, nodes map[string]store.Node) *TreeNode {
	tn := newTreeNode(n)
	lifted := false
	for _, id := range n.Children {
		child, ok := nodes[id]
		if !ok {
			continue
		}
		if p.flat && child.Type == model.TypeFamilyProxy && !child.IsCycle() {
			tn.Children = append(tn.Children, p.liftTasks(child, nodes)...)
			lifted = true
			continue
		}
		tn.Children = append(tn.Children, p.build(child, nodes))
	}
	if lifted {
		slices.SortStableFunc(tn.Children, func(a, b *TreeNode) int {
			return strings.Compare(a.ID, b.ID)
		})
	}
	return tn
}

// liftTasks returns the tasks below family fam, skipping the families in
// between.
func (p *Projector) liftTasks(fam store.Node, nodes map[string]store.Node) []*TreeNode {
	var out []*TreeNode
	for _, id := range fam.Children {
		child, ok := nodes[id]
		if !ok {
			continue
		}
		if child.Type == model.TypeFamilyProxy {
			out = append(out, p.liftTasks(child, nodes)...)
			continue
		}
		out = append(out, p.build(child, nodes))
	}
	return out
}

// Filtered returns a copy of the tree of wf keeping only the nodes that
// pass f or have a descendant that does. The workflow node is always
// kept. Jobs are not filtered themselves: a visible task keeps all of its
// jobs.
func (p *Projector) Filtered(wf string, f TaskFilter) (*TreeNode, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.tree(wf)
	if !ok {
		return nil, false
	}
	if f.Empty() {
		return entry.root, true
	}

	cache := p.verdictsFor(wf, entry.version)
	key := f.Key()
	out := shallow(entry.root)
	for _, c := range entry.root.Children {
		if p.visible(c, false, f, key, cache) {
			out.Children = append(out.Children, p.copyVisible(c, false, f, key, cache))
		}
	}
	return out, true
}

// Visible reports whether node id of workflow wf passes f.
func (p *Projector) Visible(wf, id string, f TaskFilter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.tree(wf)
	if !ok {
		return false
	}
	if f.Empty() {
		_, found := entry.root.Find(id)
		return found
	}
	if id == wf {
		return true
	}

	cache := p.verdictsFor(wf, entry.version)
	key := f.Key()
	var walk func(n *TreeNode, parentMatched bool) bool
	walk = func(n *TreeNode, parentMatched bool) bool {
		if n.ID == id {
			if n.Type == model.TypeJob {
				return true
			}
			return p.visible(n, parentMatched, f, key, cache)
		}
		if n.Type != model.TypeWorkflow && !p.visible(n, parentMatched, f, key, cache) {
			return false
		}
		matched := n.Type != model.TypeWorkflow && (parentMatched || f.idMatch(n.Name))
		for _, c := range n.Children {
			if walk(c, matched) {
				return true
			}
		}
		return false
	}
	return walk(entry.root, false)
}

// verdictsFor returns the verdict cache of wf for version, discarding
// verdicts computed at any other version. Must hold mu.
func (p *Projector) verdictsFor(wf string, version uint64) *verdictCache {
	cache, ok := p.verdicts[wf]
	if !ok || cache.version != version {
		cache = &verdictCache{version: version, verdicts: make(map[verdictKey]bool)}
		p.verdicts[wf] = cache
	}
	return cache
}

// visible computes and caches the verdict for n. Every non-job child is
// evaluated so the cache covers the whole subtree.
func (p *Projector) visible(n *TreeNode, parentMatched bool, f TaskFilter, key string, cache *verdictCache) bool {
	if n.Type == model.TypeJob {
		return false
	}
	vk := verdictKey{id: n.ID, parentMatched: parentMatched, filter: key}
	if v, ok := cache.verdicts[vk]; ok {
		return v
	}

	idMatch := parentMatched || f.idMatch(n.Name)
	anyChild := false
	for _, c := range n.Children {
		if p.visible(c, idMatch, f, key, cache) {
			anyChild = true
		}
	}
	v := (idMatch && f.stateMatch(n.State)) || anyChild
	cache.verdicts[vk] = v
	return v
}

func (p *Projector) copyVisible(n *TreeNode, parentMatched bool, f TaskFilter, key string, cache *verdictCache) *TreeNode {
	out := shallow(n)
	idMatch := parentMatched || f.idMatch(n.Name)
	for _, c := range n.Children {
		switch {
		case c.Type == model.TypeJob:
			out.Children = append(out.Children, c)
		case p.visible(c, idMatch, f, key, cache):
			out.Children = append(out.Children, p.copyVisible(c, idMatch, f, key, cache))
		}
	}
	return out
}

func shallow(n *TreeNode) *TreeNode {
	return &TreeNode{ID: n.ID, Type: n.Type, Name: n.Name, State: n.State, Node: n.Node}
}

// Forget drops the cached tree and verdicts of wf.
func (p *Projector) Forget(wf string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.trees, wf)
	delete(p.verdicts, wf)
}
