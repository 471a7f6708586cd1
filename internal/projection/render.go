package projection

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/roach88/deltaview/internal/model"
	"github.com/roach88/deltaview/internal/store"
)

var taskFlags = []struct {
	field string
	label string
}{
	{"isHeld", "held"},
	{"isQueued", "queued"},
	{"isRunahead", "runahead"},
	{"isRetry", "retry"},
	{"isWallclock", "wallclock"},
	{"isXtriggered", "xtriggered"},
}

// Label returns the display text of a tree node. Jobs show their submit
// number.
func (n *TreeNode) Label() string {
	if n.Type == model.TypeJob {
		if num := n.Node.SubmitNum(); num > 0 {
			return fmt.Sprintf("#%02d", num)
		}
	}
	return n.Name
}

// RenderTree writes root as an indented outline, one node per line.
func RenderTree(w io.Writer, root *TreeNode) error {
	var b strings.Builder
	var line func(n *TreeNode, depth int)
	line = func(n *TreeNode, depth int) {
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(n.Label())
		if n.State != "" {
			b.WriteString(" ")
			b.WriteString(n.State)
		}
		if n.Type == model.TypeTaskProxy {
			var flags []string
			for _, fl := range taskFlags {
				if on, _ := n.Node.Fields.Bool(fl.field); on {
					flags = append(flags, fl.label)
				}
			}
			if len(flags) > 0 {
				fmt.Fprintf(&b, " [%s]", strings.Join(flags, ","))
			}
		}
		b.WriteString("\n")
		for _, c := range n.Children {
			line(c, depth+1)
		}
	}
	if root != nil {
		line(root, 0)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// RenderTable writes rows as aligned columns. Missing values print as "-".
func RenderTable(w io.Writer, rows []Row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tCYCLE\tSTATE\tJOB\tPLATFORM\tRUNNER\tJOB ID\tSUBMITTED\tSTARTED\tFINISHED\tRUN TIME\tPREVIOUS")
	for _, r := range rows {
		cells := []string{
			r.Task.Name(),
			dash(r.Text(ColumnCycle)),
			orDash(r.Task.State()),
			jobCell(r.LatestJob),
			dash(r.Text(ColumnPlatform)),
			dash(r.Text(ColumnJobRunner)),
			dash(r.Text(ColumnJobID)),
			timeCell(r.Time(ColumnSubmitted)),
			timeCell(r.Time(ColumnStarted)),
			timeCell(r.Time(ColumnFinished)),
			durationCell(r.RunTime()),
			jobCell(r.PreviousJob),
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func jobCell(j *store.Node) string {
	if j == nil {
		return "-"
	}
	return fmt.Sprintf("#%02d %s", j.SubmitNum(), orDash(j.State()))
}

func dash(s string, ok bool) string {
	if !ok {
		return "-"
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func timeCell(t time.Time, ok bool) string {
	if !ok {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func durationCell(d time.Duration, ok bool) string {
	if !ok {
		return "-"
	}
	return d.Round(time.Second).String()
}
