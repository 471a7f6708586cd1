package testutil

import (
	"github.com/roach88/deltaview/internal/model"
)

// Record is an entity record tagged with its type, for building deltas.
type Record struct {
	Type   model.EntityType
	Fields model.Fields
}

// Workflow builds a workflow record.
func Workflow(id, status string) Record {
	return Record{Type: model.TypeWorkflow, Fields: model.Fields{"id": id, "status": status}}
}

// Family builds a family proxy record. An empty parent leaves out
// firstParent.
func Family(id, parent, state string) Record {
	return Record{Type: model.TypeFamilyProxy, Fields: withParent(model.Fields{
		"id":    id,
		"name":  model.LastSegment(id),
		"state": state,
	}, parent)}
}

// Task builds a task proxy record. An empty parent leaves out firstParent.
func Task(id, parent, state string) Record {
	return Record{Type: model.TypeTaskProxy, Fields: withParent(model.Fields{
		"id":    id,
		"name":  model.LastSegment(id),
		"state": state,
	}, parent)}
}

// Job builds a job record.
func Job(id string, submitNum int, state string) Record {
	return Record{Type: model.TypeJob, Fields: model.Fields{
		"id":        id,
		"submitNum": submitNum,
		"state":     state,
	}}
}

// With returns a copy of r with extra fields set.
func (r Record) With(fields model.Fields) Record {
	out := Record{Type: r.Type, Fields: r.Fields.Clone()}
	for k, v := range fields {
		out.Fields[k] = v
	}
	return out
}

func withParent(f model.Fields, parent string) model.Fields {
	if parent != "" {
		f["firstParent"] = map[string]any{"id": parent}
	}
	return f
}

// Added builds a delta adding records.
func Added(records ...Record) model.Delta {
	return model.Delta{Added: set(records)}
}

// Updated builds a delta updating records.
func Updated(records ...Record) model.Delta {
	return model.Delta{Updated: set(records)}
}

// Pruned builds a delta pruning ids of one type.
func Pruned(t model.EntityType, ids ...string) model.Delta {
	p := &model.PrunedSet{}
	switch t {
	case model.TypeWorkflow:
		if len(ids) > 0 {
			p.Workflow = ids[0]
		}
	case model.TypeFamilyProxy:
		p.FamilyProxies = ids
	case model.TypeTaskProxy:
		p.TaskProxies = ids
	case model.TypeJob:
		p.Jobs = ids
	}
	return model.Delta{Pruned: p}
}

func set(records []Record) *model.DeltaSet {
	s := &model.DeltaSet{}
	for _, r := range records {
		switch r.Type {
		case model.TypeWorkflow:
			s.Workflow = r.Fields
		case model.TypeFamilyProxy:
			s.FamilyProxies = append(s.FamilyProxies, r.Fields)
		case model.TypeTaskProxy:
			s.TaskProxies = append(s.TaskProxies, r.Fields)
		case model.TypeJob:
			s.Jobs = append(s.Jobs, r.Fields)
		}
	}
	return s
}
