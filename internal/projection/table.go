package projection

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/deltaview/internal/model"
	"github.com/roach88/deltaview/internal/store"
)

// Row is one task of the table view with its two most recent jobs.
type Row struct {
	Task        store.Node
	LatestJob   *store.Node
	PreviousJob *store.Node
}

// Column names a sortable table column.
type Column string

const (
	ColumnTask      Column = "task"
	ColumnCycle     Column = "cycle"
	ColumnPlatform  Column = "platform"
	ColumnJobRunner Column = "jobRunnerName"
	ColumnJobID     Column = "jobId"
	ColumnSubmitted Column = "submittedTime"
	ColumnStarted   Column = "startedTime"
	ColumnFinished  Column = "finishedTime"
	ColumnRunTime   Column = "runTime"
)

const defaultSortColumn = ColumnCycle

// Columns lists the sortable columns in display order.
var Columns = []Column{
	ColumnTask, ColumnCycle, ColumnPlatform, ColumnJobRunner, ColumnJobID,
	ColumnSubmitted, ColumnStarted, ColumnFinished, ColumnRunTime,
}

// ParseColumn resolves a column name, case-insensitively.
func ParseColumn(name string) (Column, error) {
	for _, c := range Columns {
		if strings.EqualFold(string(c), name) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown column %q", name)
}

// SortBy is one sort criterion.
type SortBy struct {
	Column Column
	Desc   bool
}

// ParseSort parses a comma-separated sort list such as "cycle,-startedTime".
// A leading "-" sorts that column descending.
func ParseSort(spec string) ([]SortBy, error) {
	var out []SortBy
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		desc := strings.HasPrefix(part, "-")
		col, err := ParseColumn(strings.TrimPrefix(part, "-"))
		if err != nil {
			return nil, err
		}
		out = append(out, SortBy{Column: col, Desc: desc})
	}
	return out, nil
}

// Table returns one row per task of the given workflows (every workflow in
// the store when none are named) that passes f, sorted by the criteria in
// order. With no criteria rows are sorted by cycle. Ties always fall back
// to the task id.
func (p *Projector) Table(f TaskFilter, sortBy []SortBy, workflows ...string) []Row {
	if len(workflows) == 0 {
		workflows = p.store.Workflows()
	}

	p.mu.Lock()
	var rows []Row
	for _, wf := range workflows {
		entry, ok := p.tree(wf)
		if !ok {
			continue
		}
		entry.root.Walk(func(n *TreeNode) bool {
			if n.Type != model.TypeTaskProxy {
				return n.Type != model.TypeJob
			}
			if f.MatchTask(n.Name, n.State) {
				rows = append(rows, rowOf(n))
			}
			return false
		})
	}
	p.mu.Unlock()

	SortRows(rows, sortBy)
	return rows
}

func rowOf(task *TreeNode) Row {
	r := Row{Task: task.Node}
	var jobs []*TreeNode
	for _, c := range task.Children {
		if c.Type == model.TypeJob {
			jobs = append(jobs, c)
		}
	}
	if len(jobs) > 0 {
		r.LatestJob = &jobs[0].Node
	}
	if len(jobs) > 1 {
		r.PreviousJob = &jobs[1].Node
	}
	return r
}

// SortRows sorts rows in place. Missing values sort last whatever the
// direction.
func SortRows(rows []Row, sortBy []SortBy) {
	if len(sortBy) == 0 {
		sortBy = []SortBy{{Column: defaultSortColumn}}
	}
	slices.SortStableFunc(rows, func(a, b Row) int {
		for _, s := range sortBy {
			if c := compareColumn(a, b, s); c != 0 {
				return c
			}
		}
		return strings.Compare(a.Task.ID, b.Task.ID)
	})
}

func compareColumn(a, b Row, s SortBy) int {
	switch s.Column {
	case ColumnSubmitted, ColumnStarted, ColumnFinished:
		at, aok := a.Time(s.Column)
		bt, bok := b.Time(s.Column)
		return comparePresent(aok, bok, s.Desc, func() int { return at.Compare(bt) })
	case ColumnRunTime:
		ad, aok := a.RunTime()
		bd, bok := b.RunTime()
		return comparePresent(aok, bok, s.Desc, func() int { return cmp.Compare(ad, bd) })
	default:
		av, aok := a.Text(s.Column)
		bv, bok := b.Text(s.Column)
		return comparePresent(aok, bok, s.Desc, func() int { return strings.Compare(av, bv) })
	}
}

func comparePresent(aok, bok, desc bool, compare func() int) int {
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return 1
	case !bok:
		return -1
	}
	c := compare()
	if desc {
		return -c
	}
	return c
}

// Text returns the value of a lexicographic column.
func (r Row) Text(c Column) (string, bool) {
	switch c {
	case ColumnTask:
		return r.Task.Name(), true
	case ColumnCycle:
		cycle := r.Task.Cycle()
		return cycle, cycle != ""
	case ColumnPlatform, ColumnJobRunner, ColumnJobID:
		if r.LatestJob == nil {
			return "", false
		}
		v, ok := r.LatestJob.Fields.String(string(c))
		return v, ok && v != ""
	}
	return "", false
}

// Time returns the timestamp of a time column, read from the latest job.
// A job without a finish time falls back to its estimated finish time.
func (r Row) Time(c Column) (time.Time, bool) {
	if r.LatestJob == nil {
		return time.Time{}, false
	}
	t, ok := parseTime(r.LatestJob.Fields, string(c))
	if !ok && c == ColumnFinished {
		t, ok = parseTime(r.LatestJob.Fields, "estimatedFinishTime")
	}
	return t, ok
}

// RunTime returns the latest job's elapsed time when it has started and
// finished, otherwise the task's mean elapsed time.
func (r Row) RunTime() (time.Duration, bool) {
	if r.LatestJob != nil {
		started, sok := parseTime(r.LatestJob.Fields, "startedTime")
		finished, fok := parseTime(r.LatestJob.Fields, "finishedTime")
		if sok && fok {
			return finished.Sub(started), true
		}
	}
	if mean, ok := r.Task.Fields.Float("task.meanElapsedTime"); ok {
		return time.Duration(mean * float64(time.Second)), true
	}
	return 0, false
}

func parseTime(f model.Fields, field string) (time.Time, bool) {
	s, ok := f.String(field)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
