package harness

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/deltaview/internal/engine"
	"github.com/roach88/deltaview/internal/journal"
	"github.com/roach88/deltaview/internal/model"
	"github.com/roach88/deltaview/internal/projection"
	"github.com/roach88/deltaview/internal/store"
)

// DefaultSession is the journal session id used when a scenario names
// none.
const DefaultSession = "test-session"

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh store and an in-memory journal.
// Execution flow:
//  1. Submit every step to an engine and drain it
//  2. Replay the journal twice and check the replays agree with the live
//     store
//  3. Evaluate assertions and render the final tree
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	j, err := journal.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
	}
	defer j.Close()

	session := scenario.Session
	if session == "" {
		session = DefaultSession
	}

	result := NewResult()
	var mu sync.Mutex
	st := store.New()
	eng := engine.New(st,
		engine.WithJournal(j),
		engine.WithClock(engine.NewClock()),
		engine.WithIDGenerator(engine.NewFixedGenerator(session)),
		engine.WithSource("scenario:"+scenario.Name, nil),
		engine.WithApplyHook(func(ev engine.Event, res store.Result) {
			mu.Lock()
			defer mu.Unlock()
			result.Trace = append(result.Trace, TraceEvent{
				Seq:     ev.Seq,
				Added:   res.Added,
				Updated: res.Updated,
				Pruned:  res.Pruned,
				Ignored: res.Ignored,
				Rebuilt: res.Rebuilt,
			})
		}),
	)
	defer eng.Close()

	for i, step := range scenario.Steps {
		d, err := step.Delta()
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		eng.Submit(d)
	}
	eng.Stop()
	if err := eng.Run(ctx); err != nil {
		return nil, fmt.Errorf("failed to run engine: %w", err)
	}
	if n := eng.Stats().JournalErrors; n > 0 {
		return nil, fmt.Errorf("journal rejected %d messages", n)
	}

	for _, t := range model.Types {
		sum, err := st.Checksum(t)
		if err != nil {
			return nil, fmt.Errorf("checksum %s: %w", t, err)
		}
		result.Checksums[string(t)] = sum
	}
	if err := checkReplay(ctx, j, session, result); err != nil {
		return nil, err
	}

	var opts []projection.Option
	if scenario.Flat {
		opts = append(opts, projection.WithFlat())
	}
	p := projection.New(st, opts...)
	for _, msg := range EvaluateAssertions(scenario.Assertions, &AssertionContext{Store: st, Projector: p}) {
		result.AddError(msg)
	}

	tree, err := renderTrees(st, p)
	if err != nil {
		return nil, err
	}
	result.Tree = tree
	return result, nil
}

// checkReplay fails the result when replaying the journal does not give
// the state the live run ended in.
func checkReplay(ctx context.Context, j *journal.Journal, session string, result *Result) error {
	v, _, err := j.Verify(ctx, session)
	if err != nil {
		return fmt.Errorf("failed to verify journal: %w", err)
	}
	if !v.Deterministic {
		result.AddError("journal replay is not deterministic:\n" + v.Diff)
		return nil
	}
	for t, sum := range v.Checksums {
		if live := result.Checksums[string(t)]; live != sum {
			result.AddError(fmt.Sprintf("replayed %s checksum %s differs from live %s", t, sum, live))
		}
	}
	return nil
}

func renderTrees(st *store.Store, p *projection.Projector) (string, error) {
	var b strings.Builder
	for _, wf := range st.Workflows() {
		root, ok := p.Tree(wf)
		if !ok {
			continue
		}
		if err := projection.RenderTree(&b, root); err != nil {
			return "", fmt.Errorf("render %s: %w", wf, err)
		}
	}
	return b.String(), nil
}
