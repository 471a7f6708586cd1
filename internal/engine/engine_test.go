package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/deltaview/internal/journal"
	"github.com/roach88/deltaview/internal/metrics"
	"github.com/roach88/deltaview/internal/model"
	"github.com/roach88/deltaview/internal/store"
	"github.com/roach88/deltaview/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// runEngine starts Run in a goroutine and returns a func that stops the
// engine and waits for Run to return.
func runEngine(t *testing.T, e *Engine) func() error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	return func() error {
		e.Stop()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("engine did not stop")
			return nil
		}
	}
}

func scenarioDeltas() []model.Delta {
	return []model.Delta{
		testutil.Added(testutil.Workflow("w1", "running"), testutil.Task("w1//1/t1", "", "waiting")),
		testutil.Updated(testutil.Task("w1//1/t1", "", "running")),
		testutil.Added(testutil.Job("w1//1/t1/01", 1, "failed"), testutil.Job("w1//1/t1/02", 2, "running")),
	}
}

func TestEngine_AppliesInOrder(t *testing.T) {
	s := store.New()
	e := New(s, WithIDGenerator(NewFixedGenerator("s1")))
	stop := runEngine(t, e)

	for _, d := range scenarioDeltas() {
		require.True(t, e.Submit(d))
	}
	require.NoError(t, stop())

	stats := e.Stats()
	assert.Equal(t, 3, stats.Applied)
	assert.Equal(t, int64(3), stats.LastSeq)
	assert.Equal(t, "s1", e.SessionID())

	nodes := s.GetNodes(model.TypeTaskProxy, "w1//1/t1")
	assert.Equal(t, "running", nodes["w1//1/t1"].State())
	latest, ok := s.LatestJob("w1//1/t1")
	require.True(t, ok)
	assert.Equal(t, int64(2), latest.SubmitNum())
}

func TestEngine_StopDrainsQueue(t *testing.T) {
	e := New(store.New())
	for _, d := range scenarioDeltas() {
		e.Submit(d)
	}
	e.Stop()
	assert.False(t, e.Submit(scenarioDeltas()[0]), "submit after stop")

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 3, e.Stats().Applied)
	assert.Zero(t, e.QueueLen())
}

func TestEngine_ContextCancel(t *testing.T) {
	e := New(store.New())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, e.Submit(scenarioDeltas()[0]))
}

func TestEngine_SkipsEmptyDeltas(t *testing.T) {
	e := New(store.New())
	e.Submit(model.Delta{})
	e.Submit(scenarioDeltas()[0])
	e.Stop()
	require.NoError(t, e.Run(context.Background()))

	stats := e.Stats()
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Applied)
	assert.Equal(t, int64(1), stats.LastSeq, "empty messages take no seq")
}

func TestEngine_CountsIgnoredRecords(t *testing.T) {
	e := New(store.New())
	e.Submit(testutil.Updated(testutil.Task("w1//1/ghost", "", "running")))
	e.Stop()
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 1, e.Stats().Ignored)
}

func TestEngine_JournalsBeforeApply(t *testing.T) {
	ctx := context.Background()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	e := New(store.New(),
		WithJournal(j),
		WithIDGenerator(NewFixedGenerator("session-1")),
		WithSource("graphql-ws", []string{"w1"}),
	)
	for _, d := range scenarioDeltas() {
		e.Submit(d)
	}
	e.Stop()
	require.NoError(t, e.Run(ctx))

	session, err := j.GetSession(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, "graphql-ws", session.Source)
	assert.Equal(t, []string{"w1"}, session.Workflows)
	assert.Equal(t, Version, session.EngineVersion)

	entries, err := j.ReadDeltas(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{entries[0].Seq, entries[1].Seq, entries[2].Seq})

	// Replaying the journal reproduces the live store.
	replayed := store.New()
	_, err = j.Replay(ctx, "session-1", replayed)
	require.NoError(t, err)
	for _, typ := range model.Types {
		live, err := e.Store().Checksum(typ)
		require.NoError(t, err)
		again, err := replayed.Checksum(typ)
		require.NoError(t, err)
		assert.Equal(t, live, again)
	}
}

// failingJournal fails on demand.
type failingJournal struct {
	startErr  error
	appendErr error

	mu      sync.Mutex
	appends int
}

func (f *failingJournal) StartSession(context.Context, journal.Session) error {
	return f.startErr
}

func (f *failingJournal) AppendDelta(context.Context, string, int64, model.Delta) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	return f.appendErr == nil, f.appendErr
}

func TestEngine_JournalFailureStillApplies(t *testing.T) {
	fj := &failingJournal{appendErr: errors.New("disk full")}
	s := store.New()
	e := New(s, WithJournal(fj))
	for _, d := range scenarioDeltas() {
		e.Submit(d)
	}
	e.Stop()
	require.NoError(t, e.Run(context.Background()))

	stats := e.Stats()
	assert.Equal(t, 3, stats.Applied)
	assert.Equal(t, 3, stats.JournalErrors)
	assert.Equal(t, 2, s.Count(model.TypeJob))
}

func TestEngine_SessionStartFailureDisablesJournal(t *testing.T) {
	fj := &failingJournal{startErr: errors.New("read-only")}
	e := New(store.New(), WithJournal(fj))
	e.Submit(scenarioDeltas()[0])
	e.Stop()
	require.NoError(t, e.Run(context.Background()))

	assert.Zero(t, fj.appends)
	assert.Equal(t, 1, e.Stats().JournalErrors)
	assert.Equal(t, 1, e.Stats().Applied)
}

func TestEngine_HookAndClock(t *testing.T) {
	clock := NewClockAt(100)
	var seqs []int64
	e := New(store.New(),
		WithClock(clock),
		WithApplyHook(func(ev Event, res store.Result) {
			seqs = append(seqs, ev.Seq)
		}),
	)
	for _, d := range scenarioDeltas() {
		e.Submit(d)
	}
	e.Stop()
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []int64{101, 102, 103}, seqs)
	assert.Equal(t, int64(103), clock.Current())
}

func TestEngine_Metrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	e := New(store.New(), WithMetrics(m))
	for _, d := range scenarioDeltas() {
		e.Submit(d)
	}
	e.Stop()
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, 3.0, promtest.ToFloat64(m.Messages))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.Nodes.WithLabelValues("job")))
	assert.Equal(t, 0.0, promtest.ToFloat64(m.QueueDepth))
}

func TestEngine_CloseReleasesObservers(t *testing.T) {
	s := store.New()
	ch, _ := s.Watch()
	e := New(s)
	e.Close()

	_, ok := <-ch
	assert.False(t, ok)
	require.NoError(t, e.Run(context.Background()))
}

func TestRuntimeError(t *testing.T) {
	err := &RuntimeError{Code: ErrCodeJournalWrite, Message: "append delta", SessionID: "s1", Seq: 4, Err: errors.New("boom")}
	assert.Equal(t, "JOURNAL_WRITE: append delta (session=s1, seq=4): boom", err.Error())
	assert.True(t, IsJournalError(err))
	assert.False(t, IsJournalError(errors.New("other")))
	assert.EqualError(t, errors.Unwrap(err), "boom")
}
