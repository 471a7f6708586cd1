package model

import (
	"fmt"
	"strings"
)

// EntityType identifies one of the entity collections carried by a delta.
type EntityType string

const (
	// TypeWorkflow is the workflow root record.
	TypeWorkflow EntityType = "workflow"
	// TypeFamilyProxy is a cycle point or task family grouping.
	TypeFamilyProxy EntityType = "familyProxy"
	// TypeTaskProxy is a runtime instance of a task within a cycle.
	TypeTaskProxy EntityType = "taskProxy"
	// TypeJob is one submission of a task proxy.
	TypeJob EntityType = "job"
)

// Types lists entity types in dependency order: parents before children.
// Added and updated batches are applied in this order, pruned batches in
// reverse.
var Types = []EntityType{TypeWorkflow, TypeFamilyProxy, TypeTaskProxy, TypeJob}

// collectionNames maps every accepted spelling to its entity type.
// GraphQL fragments use plural collection names; views use singular ones.
var collectionNames = map[string]EntityType{
	"workflow":      TypeWorkflow,
	"workflows":     TypeWorkflow,
	"familyproxy":   TypeFamilyProxy,
	"familyproxies": TypeFamilyProxy,
	"family":        TypeFamilyProxy,
	"taskproxy":     TypeTaskProxy,
	"taskproxies":   TypeTaskProxy,
	"task":          TypeTaskProxy,
	"job":           TypeJob,
	"jobs":          TypeJob,
}

// ParseEntityType resolves a collection name (singular or plural, any case)
// to an EntityType.
func ParseEntityType(name string) (EntityType, error) {
	t, ok := collectionNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unknown entity type %q", name)
	}
	return t, nil
}

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case TypeWorkflow, TypeFamilyProxy, TypeTaskProxy, TypeJob:
		return true
	}
	return false
}

// Collection returns the GraphQL collection name for t.
func (t EntityType) Collection() string {
	switch t {
	case TypeFamilyProxy:
		return "familyProxies"
	case TypeTaskProxy:
		return "taskProxies"
	case TypeJob:
		return "jobs"
	}
	return string(t)
}

func (t EntityType) String() string {
	return string(t)
}
