package cli

import (
	"fmt"
	"strings"

	"github.com/roach88/deltaview/internal/config"
	"github.com/roach88/deltaview/internal/model"
	"github.com/roach88/deltaview/internal/projection"
	"github.com/roach88/deltaview/internal/store"
)

// View is one rendering of the store, in both output formats.
type View struct {
	Version uint64                 `json:"version"`
	Trees   []*projection.TreeNode `json:"trees,omitempty"`
	Rows    []RowView              `json:"rows,omitempty"`

	Workflows []projection.WorkflowSummary `json:"workflows,omitempty"`
	Task      *projection.TaskDetail       `json:"task,omitempty"`

	text string
}

// RowView is the JSON form of a table row.
type RowView struct {
	Task        model.Fields `json:"task"`
	LatestJob   model.Fields `json:"latestJob,omitempty"`
	PreviousJob model.Fields `json:"previousJob,omitempty"`
}

// buildView projects the store according to cfg. The tree view renders
// every configured workflow (all workflows when none are configured).
func buildView(st *store.Store, p *projection.Projector, cfg config.Config) (View, error) {
	v := View{Version: st.Version()}
	var b strings.Builder

	switch cfg.View {
	case "workflows":
		v.Workflows = p.Workflows(cfg.Workflows...)
		if err := projection.RenderWorkflows(&b, v.Workflows); err != nil {
			return View{}, fmt.Errorf("render workflows: %w", err)
		}
		v.text = b.String()
		return v, nil
	case "info":
		d, ok := p.TaskDetail(cfg.Task)
		if !ok {
			v.text = fmt.Sprintf("%s: not received yet\n", cfg.Task)
			return v, nil
		}
		v.Task = &d
		if err := projection.RenderTaskDetail(&b, d); err != nil {
			return View{}, fmt.Errorf("render task: %w", err)
		}
		v.text = b.String()
		return v, nil
	}

	if cfg.View == "table" {
		rows := p.Table(cfg.Filter, cfg.SortBy(), cfg.Workflows...)
		for _, r := range rows {
			v.Rows = append(v.Rows, rowView(r))
		}
		if err := projection.RenderTable(&b, rows); err != nil {
			return View{}, fmt.Errorf("render table: %w", err)
		}
		v.text = b.String()
		return v, nil
	}

	workflows := cfg.Workflows
	if len(workflows) == 0 {
		workflows = st.Workflows()
	}
	for _, wf := range workflows {
		root, ok := p.Filtered(wf, cfg.Filter)
		if !ok {
			continue
		}
		v.Trees = append(v.Trees, root)
		if err := projection.RenderTree(&b, root); err != nil {
			return View{}, fmt.Errorf("render tree: %w", err)
		}
	}
	v.text = b.String()
	return v, nil
}

func rowView(r projection.Row) RowView {
	out := RowView{Task: r.Task.Fields}
	if r.LatestJob != nil {
		out.LatestJob = r.LatestJob.Fields
	}
	if r.PreviousJob != nil {
		out.PreviousJob = r.PreviousJob.Fields
	}
	return out
}

// Text returns the plain-text rendering.
func (v View) Text() string {
	return v.text
}
