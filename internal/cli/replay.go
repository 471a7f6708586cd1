package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/deltaview/internal/config"
	"github.com/roach88/deltaview/internal/journal"
	"github.com/roach88/deltaview/internal/model"
	"github.com/roach88/deltaview/internal/projection"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Journal string
	Session string // optional - specific session only
	Show    bool
}

// ReplaySessionResult holds the replay result for a single session.
type ReplaySessionResult struct {
	journal.Verification
	Source    string   `json:"source"`
	Workflows []string `json:"workflows,omitempty"`
	View      *View    `json:"view,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Sessions         []ReplaySessionResult `json:"sessions"`
	TotalSessions    int                   `json:"total_sessions"`
	AllDeterministic bool                  `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a delta journal and verify determinism",
		Long: `Replay journaled delta sessions and verify determinism.

Every message of a session is re-applied, in seq order, to two fresh
stores. The session is deterministic when both stores end with the same
checksums and contents. With --show the final tree of each session is
rendered.

Exit codes:
  0 - All sessions are deterministic
  1 - Determinism verification failed (differences detected)
  2 - Command error (journal not found, etc.)

Examples:
  deltaview replay --journal ./deltas.db
  deltaview replay --journal ./deltas.db --session 0192f0c4-...
  deltaview replay --journal ./deltas.db --show --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("journal")
	cmd.Flags().StringVar(&opts.Session, "session", "", "replay specific session only")
	cmd.Flags().BoolVar(&opts.Show, "show", false, "render the replayed tree")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := newFormatter(opts.RootOptions, cmd)

	// Opening a missing path would create an empty journal.
	if _, err := os.Stat(opts.Journal); errors.Is(err, fs.ErrNotExist) {
		return out.reportError(ErrCodeJournal,
			NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", opts.Journal)))
	}

	j, err := journal.Open(opts.Journal)
	if err != nil {
		return out.reportError(ErrCodeJournal, WrapExitError(ExitCommandError, "failed to open journal", err))
	}
	defer j.Close()

	var sessions []journal.Session
	if opts.Session != "" {
		s, err := j.GetSession(ctx, opts.Session)
		if err != nil {
			return out.reportError(ErrCodeJournal, WrapExitError(ExitCommandError, "failed to load session", err))
		}
		sessions = []journal.Session{s}
	} else {
		sessions, err = j.ListSessions(ctx)
		if err != nil {
			return out.reportError(ErrCodeJournal, WrapExitError(ExitCommandError, "failed to list sessions", err))
		}
	}

	result := ReplayResult{
		Sessions:         make([]ReplaySessionResult, 0, len(sessions)),
		TotalSessions:    len(sessions),
		AllDeterministic: true,
	}
	if len(sessions) == 0 {
		return out.Success(result, "No sessions found in journal.\n")
	}

	var text strings.Builder
	for _, s := range sessions {
		out.VerboseLog("Replaying session %s...", s.ID)

		v, st, err := j.Verify(ctx, s.ID)
		if err != nil {
			return out.reportError(ErrCodeJournal,
				WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay session %s", s.ID), err))
		}
		res := ReplaySessionResult{Verification: v, Source: s.Source, Workflows: s.Workflows}
		if !v.Deterministic {
			result.AllDeterministic = false
		}

		writeSessionText(&text, res)
		if opts.Show {
			cfg := config.Default()
			cfg.Workflows = s.Workflows
			view, err := buildView(st, projection.New(st), cfg)
			if err != nil {
				return err
			}
			res.View = &view
			text.WriteString(view.Text())
		}
		result.Sessions = append(result.Sessions, res)
	}

	if !result.AllDeterministic {
		text.WriteString("\n✗ Determinism verification failed\n")
		if err := out.Failure(result, text.String()); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	fmt.Fprintf(&text, "\n✓ All %d session(s) deterministic\n", result.TotalSessions)
	return out.Success(result, text.String())
}

func writeSessionText(w *strings.Builder, r ReplaySessionResult) {
	status := "✓"
	if !r.Deterministic {
		status = "✗"
	}
	fmt.Fprintf(w, "%s %s (%s)\n", status, r.SessionID, r.Source)
	fmt.Fprintf(w, "  messages: %d, last seq: %d, ignored: %d, rebuilds: %d\n",
		r.Applied, r.LastSeq, r.Ignored, r.Rebuilds)
	for _, t := range model.Types {
		fmt.Fprintf(w, "  %s: %s\n", t, r.Checksums[t])
	}
	if r.Diff != "" {
		fmt.Fprintf(w, "  diff:\n%s\n", r.Diff)
	}
}
