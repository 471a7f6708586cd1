package model

import "strings"

// RootFamily is the name of the family proxy that stands for a cycle point.
const RootFamily = "root"

// Tokens is a parsed entity identifier.
//
// Identifiers follow "<workflow>//<cycle>[/<task>[/<job>]]". The workflow
// part may itself contain single slashes ("~user/flow"); everything after
// the first "//" is the relative part.
type Tokens struct {
	Workflow string
	Cycle    string
	Task     string
	Job      string
}

// ParseID splits an identifier into its tokens. An id without "//" is a
// bare workflow id.
func ParseID(id string) Tokens {
	wf, rel, found := strings.Cut(id, "//")
	if !found {
		return Tokens{Workflow: id}
	}
	t := Tokens{Workflow: wf}
	parts := strings.SplitN(rel, "/", 3)
	t.Cycle = parts[0]
	if len(parts) > 1 {
		t.Task = parts[1]
	}
	if len(parts) > 2 {
		t.Job = parts[2]
	}
	return t
}

// WorkflowOf returns the workflow scope of any identifier.
func WorkflowOf(id string) string {
	wf, _, _ := strings.Cut(id, "//")
	return wf
}

// CycleRootID returns the id of the root family for the cycle of id, or ""
// when id carries no cycle.
func CycleRootID(id string) string {
	t := ParseID(id)
	if t.Cycle == "" {
		return ""
	}
	return t.Workflow + "//" + t.Cycle + "/" + RootFamily
}

// CycleOf returns the cycle token of id.
func CycleOf(id string) string {
	return ParseID(id).Cycle
}

// TrimLast removes the final path segment of a relative identifier, giving
// the owner of a job ("w//1/foo/02" -> "w//1/foo"). Workflow ids and bare
// cycle ids have no owner and return "".
func TrimLast(id string) string {
	wf, rel, found := strings.Cut(id, "//")
	if !found {
		return ""
	}
	i := strings.LastIndex(rel, "/")
	if i < 0 {
		return ""
	}
	return wf + "//" + rel[:i]
}

// LastSegment returns the final path segment of id, used as a display name
// when a record carries no "name" field.
func LastSegment(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}
