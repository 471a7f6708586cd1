package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/deltaview/internal/model"
	"github.com/roach88/deltaview/internal/projection"
	"github.com/roach88/deltaview/internal/store"
)

// AssertionContext holds what assertions read from.
type AssertionContext struct {
	Store     *store.Store
	Projector *projection.Projector
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Node     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Node != "" {
		fmt.Fprintf(&buf, " (%s)", e.Node)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure
// messages. An empty slice means all passed.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %s", i+1, err))
		}
	}
	return errs
}

func evaluateAssertion(a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertField:
		return assertField(a, actx.Store)
	case AssertPresent:
		return assertPresence(a, actx.Store, true)
	case AssertAbsent:
		return assertPresence(a, actx.Store, false)
	case AssertCount:
		return assertCount(a, actx.Store)
	case AssertLatestJob:
		return assertJob(a, actx.Store.LatestJob)
	case AssertPreviousJob:
		return assertJob(a, actx.Store.PreviousJob)
	case AssertChildren:
		return assertChildren(a, actx.Store)
	case AssertVisible:
		return assertVisible(a, actx.Projector)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertField compares a field by canonical JSON, so YAML integers match
// decoded JSON numbers.
func assertField(a Assertion, s *store.Store) error {
	n, ok := s.Get(a.Node)
	if !ok {
		return &AssertionError{Type: a.Type, Node: a.Node, Expected: "node in store", Actual: "not found"}
	}
	actual, found := n.Fields.Lookup(a.Field)
	if !found {
		actual = nil
	}

	want, err := model.MarshalCanonical(a.Expect)
	if err != nil {
		return fmt.Errorf("expected value: %w", err)
	}
	got, err := model.MarshalCanonical(actual)
	if err != nil {
		return fmt.Errorf("actual value: %w", err)
	}
	if string(want) != string(got) {
		return &AssertionError{
			Type:     a.Type,
			Node:     a.Node,
			Expected: fmt.Sprintf("%s = %s", a.Field, want),
			Actual:   fmt.Sprintf("%s = %s", a.Field, got),
		}
	}
	return nil
}

func assertPresence(a Assertion, s *store.Store, want bool) error {
	var wrong []string
	for _, id := range a.IDs {
		if _, ok := s.Get(id); ok != want {
			wrong = append(wrong, id)
		}
	}
	if len(wrong) == 0 {
		return nil
	}
	expected, actual := "present", "absent"
	if !want {
		expected, actual = actual, expected
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%v %s", a.IDs, expected),
		Actual:   fmt.Sprintf("%v %s", wrong, actual),
	}
}

func assertCount(a Assertion, s *store.Store) error {
	t, err := model.ParseEntityType(a.Entity)
	if err != nil {
		return err
	}
	if got := s.Count(t); got != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s", a.Count, t),
			Actual:   fmt.Sprintf("%d %s", got, t),
		}
	}
	return nil
}

func assertJob(a Assertion, lookup func(string) (store.Node, bool)) error {
	want, _ := a.Expect.(string)
	got := ""
	if j, ok := lookup(a.Node); ok {
		got = j.ID
	}
	if got != want {
		return &AssertionError{Type: a.Type, Node: a.Node, Expected: orNone(want), Actual: orNone(got)}
	}
	return nil
}

func assertChildren(a Assertion, s *store.Store) error {
	if _, ok := s.Get(a.Node); !ok {
		return &AssertionError{Type: a.Type, Node: a.Node, Expected: "node in store", Actual: "not found"}
	}
	var got []string
	for _, c := range s.Children(a.Node) {
		got = append(got, c.ID)
	}
	if !slices.Equal(got, a.IDs) {
		return &AssertionError{
			Type:     a.Type,
			Node:     a.Node,
			Expected: fmt.Sprintf("%v", a.IDs),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertVisible(a Assertion, p *projection.Projector) error {
	got := p.Visible(model.WorkflowOf(a.Node), a.Node, a.Filter)
	if got != *a.Visible {
		return &AssertionError{
			Type:     a.Type,
			Node:     a.Node,
			Expected: fmt.Sprintf("visible=%t under %+v", *a.Visible, a.Filter),
			Actual:   fmt.Sprintf("visible=%t", got),
		}
	}
	return nil
}

func orNone(id string) string {
	if id == "" {
		return "(none)"
	}
	return id
}
