package projection

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/roach88/deltaview/internal/model"
	"github.com/roach88/deltaview/internal/store"
)

// WorkflowSummary is one row of the workflows view.
type WorkflowSummary struct {
	ID          string         `json:"id"`
	Status      string         `json:"status,omitempty"`
	StatusMsg   string         `json:"statusMsg,omitempty"`
	Owner       string         `json:"owner,omitempty"`
	Host        string         `json:"host,omitempty"`
	Port        int64          `json:"port,omitempty"`
	CylcVersion string         `json:"cylcVersion,omitempty"`
	Tasks       int            `json:"tasks"`
	States      map[string]int `json:"states,omitempty"`
}

// Workflows summarizes the given workflows (every workflow in the store
// when none are named), sorted by id. Tasks without a state count toward
// Tasks only.
func (p *Projector) Workflows(workflows ...string) []WorkflowSummary {
	if len(workflows) == 0 {
		workflows = p.store.Workflows()
	}
	byID := make(map[string]*WorkflowSummary, len(workflows))
	for _, wf := range workflows {
		n, ok := p.store.Get(wf)
		if !ok || n.Type != model.TypeWorkflow {
			continue
		}
		sum := &WorkflowSummary{ID: n.ID, Status: n.State()}
		sum.StatusMsg, _ = n.Fields.String("statusMsg")
		sum.Owner, _ = n.Fields.String("owner")
		sum.Host, _ = n.Fields.String("host")
		sum.Port, _ = n.Fields.Int("port")
		sum.CylcVersion, _ = n.Fields.String("cylcVersion")
		byID[wf] = sum
	}

	for _, task := range p.store.GetNodes(model.TypeTaskProxy) {
		sum, ok := byID[task.Workflow()]
		if !ok {
			continue
		}
		sum.Tasks++
		if state := task.State(); state != "" {
			if sum.States == nil {
				sum.States = make(map[string]int)
			}
			sum.States[state]++
		}
	}

	out := make([]WorkflowSummary, 0, len(byID))
	for _, sum := range byID {
		out = append(out, *sum)
	}
	slices.SortFunc(out, func(a, b WorkflowSummary) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Condition is one term of a prerequisite expression.
type Condition struct {
	TaskID    string `json:"taskId"`
	ReqState  string `json:"reqState,omitempty"`
	ExprAlias string `json:"exprAlias,omitempty"`
	Satisfied bool   `json:"satisfied"`
}

// Prerequisite is one prerequisite of a task.
type Prerequisite struct {
	Expression string      `json:"expression"`
	Satisfied  bool        `json:"satisfied"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// Output is one task output and whether it has been produced.
type Output struct {
	Label     string `json:"label"`
	Satisfied bool   `json:"satisfied"`
}

// Xtrigger is one external trigger of a task.
type Xtrigger struct {
	Label     string `json:"label"`
	ID        string `json:"id,omitempty"`
	Satisfied bool   `json:"satisfied"`
}

// TaskDetail is the info view of one task.
type TaskDetail struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Cycle         string         `json:"cycle"`
	State         string         `json:"state,omitempty"`
	Flags         []string       `json:"flags,omitempty"`
	Title         string         `json:"title,omitempty"`
	Description   string         `json:"description,omitempty"`
	FlowNums      string         `json:"flowNums,omitempty"`
	MeanElapsed   time.Duration  `json:"meanElapsed,omitempty"`
	Runtime       map[string]any `json:"runtime,omitempty"`
	Prerequisites []Prerequisite `json:"prerequisites,omitempty"`
	Outputs       []Output       `json:"outputs,omitempty"`
	Xtriggers     []Xtrigger     `json:"xtriggers,omitempty"`
	Jobs          []model.Fields `json:"jobs,omitempty"`
}

// TaskDetail reads the task with the given id and its jobs, newest first.
func (p *Projector) TaskDetail(id string) (TaskDetail, bool) {
	n, ok := p.store.Get(id)
	if !ok || n.Type != model.TypeTaskProxy {
		return TaskDetail{}, false
	}
	f := n.Fields
	d := TaskDetail{
		ID:    n.ID,
		Name:  n.Name(),
		Cycle: n.Cycle(),
		State: n.State(),
	}
	for _, fl := range taskFlags {
		if on, _ := f.Bool(fl.field); on {
			d.Flags = append(d.Flags, fl.label)
		}
	}
	d.Title, _ = f.String("task.meta.title")
	d.Description, _ = f.String("task.meta.description")
	d.FlowNums, _ = f.String("flowNums")
	if mean, ok := f.Float("task.meanElapsedTime"); ok {
		d.MeanElapsed = time.Duration(mean * float64(time.Second))
	}
	if rt, ok := f.Object("runtime"); ok {
		d.Runtime = map[string]any(rt.Clone())
	}

	for _, pr := range f.Objects("prerequisites") {
		pre := Prerequisite{}
		pre.Expression, _ = pr.String("expression")
		pre.Satisfied, _ = pr.Bool("satisfied")
		for _, c := range pr.Objects("conditions") {
			cond := Condition{}
			cond.TaskID, _ = c.String("taskId")
			cond.ReqState, _ = c.String("reqState")
			cond.ExprAlias, _ = c.String("exprAlias")
			cond.Satisfied, _ = c.Bool("satisfied")
			pre.Conditions = append(pre.Conditions, cond)
		}
		d.Prerequisites = append(d.Prerequisites, pre)
	}
	for _, o := range f.Objects("outputs") {
		out := Output{}
		out.Label, _ = o.String("label")
		out.Satisfied, _ = o.Bool("satisfied")
		d.Outputs = append(d.Outputs, out)
	}
	for _, x := range f.Objects("xtriggers") {
		xt := Xtrigger{}
		xt.Label, _ = x.String("label")
		xt.ID, _ = x.String("id")
		xt.Satisfied, _ = x.Bool("satisfied")
		d.Xtriggers = append(d.Xtriggers, xt)
	}

	for _, child := range p.store.Children(id) {
		if child.Type == model.TypeJob {
			d.Jobs = append(d.Jobs, child.Fields)
		}
	}
	return d, true
}

// RenderWorkflows writes one line per workflow. State counts are listed
// by state name.
func RenderWorkflows(w io.Writer, rows []WorkflowSummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKFLOW\tSTATUS\tHOST\tPORT\tOWNER\tVERSION\tTASKS\tSTATES")
	for _, r := range rows {
		port := "-"
		if r.Port > 0 {
			port = fmt.Sprint(r.Port)
		}
		cells := []string{
			r.ID,
			orDash(r.Status),
			orDash(r.Host),
			port,
			orDash(r.Owner),
			orDash(r.CylcVersion),
			fmt.Sprint(r.Tasks),
			orDash(stateCounts(r.States)),
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func stateCounts(states map[string]int) string {
	names := make([]string, 0, len(states))
	for s := range states {
		names = append(names, s)
	}
	slices.Sort(names)
	parts := make([]string, 0, len(names))
	for _, s := range names {
		parts = append(parts, fmt.Sprintf("%s:%d", s, states[s]))
	}
	return strings.Join(parts, " ")
}

// RenderTaskDetail writes the info view of one task.
func RenderTaskDetail(w io.Writer, d TaskDetail) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s %s", d.Cycle, d.Name, orDash(d.State))
	if len(d.Flags) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(d.Flags, ","))
	}
	b.WriteString("\n")
	if d.Title != "" {
		fmt.Fprintf(&b, "title: %s\n", d.Title)
	}
	if d.Description != "" {
		fmt.Fprintf(&b, "description: %s\n", d.Description)
	}
	if d.FlowNums != "" {
		fmt.Fprintf(&b, "flows: %s\n", d.FlowNums)
	}
	if d.MeanElapsed > 0 {
		fmt.Fprintf(&b, "mean run time: %s\n", d.MeanElapsed.Round(time.Second))
	}
	if len(d.Runtime) > 0 {
		keys := make([]string, 0, len(d.Runtime))
		for k := range d.Runtime {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		b.WriteString("runtime:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, d.Runtime[k])
		}
	}
	if len(d.Prerequisites) > 0 {
		b.WriteString("prerequisites:\n")
		for _, p := range d.Prerequisites {
			fmt.Fprintf(&b, "  %s %s\n", mark(p.Satisfied), p.Expression)
			for _, c := range p.Conditions {
				fmt.Fprintf(&b, "    %s %s %s\n", mark(c.Satisfied), c.TaskID, c.ReqState)
			}
		}
	}
	if len(d.Outputs) > 0 {
		b.WriteString("outputs:\n")
		for _, o := range d.Outputs {
			fmt.Fprintf(&b, "  %s %s\n", mark(o.Satisfied), o.Label)
		}
	}
	if len(d.Xtriggers) > 0 {
		b.WriteString("xtriggers:\n")
		for _, x := range d.Xtriggers {
			fmt.Fprintf(&b, "  %s %s\n", mark(x.Satisfied), x.Label)
		}
	}
	if len(d.Jobs) > 0 {
		b.WriteString("jobs:\n")
		for _, j := range d.Jobs {
			n := store.Node{Type: model.TypeJob, Fields: j}
			fmt.Fprintf(&b, "  %s\n", jobCell(&n))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func mark(ok bool) string {
	if ok {
		return "[x]"
	}
	return "[ ]"
}
