package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DeltaSet carries the added or updated records of one delta message.
// Updated records are partial: only changed fields are present.
type DeltaSet struct {
	Workflow      Fields   `json:"workflow,omitempty"`
	FamilyProxies []Fields `json:"familyProxies,omitempty"`
	TaskProxies   []Fields `json:"taskProxies,omitempty"`
	Jobs          []Fields `json:"jobs,omitempty"`
}

// Records returns the records for one entity type.
func (s *DeltaSet) Records(t EntityType) []Fields {
	if s == nil {
		return nil
	}
	switch t {
	case TypeWorkflow:
		if len(s.Workflow) == 0 {
			return nil
		}
		return []Fields{s.Workflow}
	case TypeFamilyProxy:
		return s.FamilyProxies
	case TypeTaskProxy:
		return s.TaskProxies
	case TypeJob:
		return s.Jobs
	}
	return nil
}

// Empty reports whether the set carries no records.
func (s *DeltaSet) Empty() bool {
	if s == nil {
		return true
	}
	return len(s.Workflow) == 0 && len(s.FamilyProxies) == 0 &&
		len(s.TaskProxies) == 0 && len(s.Jobs) == 0
}

// PrunedSet carries the ids removed by one delta message.
type PrunedSet struct {
	Workflow      string   `json:"workflow,omitempty"`
	FamilyProxies []string `json:"familyProxies,omitempty"`
	TaskProxies   []string `json:"taskProxies,omitempty"`
	Jobs          []string `json:"jobs,omitempty"`
}

// IDs returns the pruned ids for one entity type.
func (p *PrunedSet) IDs(t EntityType) []string {
	if p == nil {
		return nil
	}
	switch t {
	case TypeWorkflow:
		if p.Workflow == "" {
			return nil
		}
		return []string{p.Workflow}
	case TypeFamilyProxy:
		return p.FamilyProxies
	case TypeTaskProxy:
		return p.TaskProxies
	case TypeJob:
		return p.Jobs
	}
	return nil
}

// Empty reports whether the set prunes nothing.
func (p *PrunedSet) Empty() bool {
	if p == nil {
		return true
	}
	return p.Workflow == "" && len(p.FamilyProxies) == 0 &&
		len(p.TaskProxies) == 0 && len(p.Jobs) == 0
}

// Delta is one message of the deltas subscription.
//
// Any of Added, Updated and Pruned may be nil; a message carrying only
// updated task proxies is normal.
type Delta struct {
	ID      string     `json:"id,omitempty"`
	Added   *DeltaSet  `json:"added,omitempty"`
	Updated *DeltaSet  `json:"updated,omitempty"`
	Pruned  *PrunedSet `json:"pruned,omitempty"`
}

// Empty reports whether the message carries no changes.
func (d Delta) Empty() bool {
	return d.Added.Empty() && d.Updated.Empty() && d.Pruned.Empty()
}

// ReloadedWorkflows returns the ids of workflows flagged reloaded in this
// message, in added-then-updated order without duplicates.
func (d Delta) ReloadedWorkflows() []string {
	var out []string
	seen := make(map[string]bool)
	for _, set := range []*DeltaSet{d.Added, d.Updated} {
		if set == nil || len(set.Workflow) == 0 {
			continue
		}
		reloaded, _ := set.Workflow.Bool("reloaded")
		if !reloaded {
			continue
		}
		id := set.Workflow.ID()
		if id == "" {
			id = d.ID
		}
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Workflows returns every workflow id touched by this message, derived from
// record ids. Used to scope invalidation to affected workflows only.
func (d Delta) Workflows() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(id string) {
		wf := WorkflowOf(id)
		if wf != "" && !seen[wf] {
			seen[wf] = true
			out = append(out, wf)
		}
	}
	if d.ID != "" {
		add(d.ID)
	}
	for _, t := range Types {
		for _, set := range []*DeltaSet{d.Added, d.Updated} {
			for _, rec := range set.Records(t) {
				add(rec.ID())
			}
		}
		for _, id := range d.Pruned.IDs(t) {
			add(id)
		}
	}
	return out
}

// envelope matches the shapes a delta message arrives in: a GraphQL
// result ({"data":{"deltas":...}}), a bare {"deltas":...} object, or the
// delta itself.
type envelope struct {
	Data *struct {
		Deltas json.RawMessage `json:"deltas"`
	} `json:"data"`
	Deltas json.RawMessage `json:"deltas"`
}

// DecodeDelta parses a delta message. Numbers are kept as json.Number.
func DecodeDelta(data []byte) (Delta, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Delta{}, fmt.Errorf("decode delta: %w", err)
	}
	raw := json.RawMessage(data)
	switch {
	case env.Data != nil && len(env.Data.Deltas) > 0:
		raw = env.Data.Deltas
	case len(env.Deltas) > 0:
		raw = env.Deltas
	}

	var d Delta
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&d); err != nil {
		return Delta{}, fmt.Errorf("decode delta: %w", err)
	}
	return d, nil
}

// EncodeDelta serializes a delta as canonical JSON, the form stored in the
// journal. DecodeDelta(EncodeDelta(d)) yields an equivalent message.
func EncodeDelta(d Delta) ([]byte, error) {
	plain, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode delta: %w", err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(plain))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("encode delta: %w", err)
	}
	out, err := MarshalCanonical(generic)
	if err != nil {
		return nil, fmt.Errorf("encode delta: %w", err)
	}
	return out, nil
}
