package store

import (
	"slices"

	"github.com/roach88/deltaview/internal/model"
)

// Node is a copy of one stored entity together with its tree edges.
//
// Nodes returned by the store are deep copies; mutating them never affects
// the store.
type Node struct {
	ID       string
	Type     model.EntityType
	Fields   model.Fields
	Parent   string   // effective parent id, "" for workflows and detached nodes
	Children []string // ordered child ids
}

// Name returns the record's "name" field, falling back to the last
// segment of the id.
func (n Node) Name() string {
	if name, ok := n.Fields.String("name"); ok && name != "" {
		return name
	}
	return model.LastSegment(n.ID)
}

// State returns the record's "state" field (or "status" for workflows).
func (n Node) State() string {
	if s, ok := n.Fields.String("state"); ok {
		return s
	}
	s, _ := n.Fields.String("status")
	return s
}

// Workflow returns the id of the workflow this node is scoped to.
func (n Node) Workflow() string {
	return model.WorkflowOf(n.ID)
}

// Cycle returns the cycle point token of the node, "" for workflows.
func (n Node) Cycle() string {
	return model.CycleOf(n.ID)
}

// SubmitNum returns a job's submission number, 0 if absent.
func (n Node) SubmitNum() int64 {
	v, _ := n.Fields.Int("submitNum")
	return v
}

// IsCycle reports whether the node is the root family of a cycle point.
func (n Node) IsCycle() bool {
	return n.Type == model.TypeFamilyProxy && isRootFamily(n.ID, n.Fields)
}

func (n *Node) clone() Node {
	return Node{
		ID:       n.ID,
		Type:     n.Type,
		Fields:   n.Fields.Clone(),
		Parent:   n.Parent,
		Children: slices.Clone(n.Children),
	}
}

func isRootFamily(id string, f model.Fields) bool {
	if name, ok := f.String("name"); ok && name != "" {
		return name == model.RootFamily
	}
	return model.ParseID(id).Task == model.RootFamily
}
