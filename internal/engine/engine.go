package engine

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/deltaview/internal/journal"
	"github.com/roach88/deltaview/internal/metrics"
	"github.com/roach88/deltaview/internal/model"
	"github.com/roach88/deltaview/internal/store"
)

// Version is recorded with every journaled session.
const Version = "0.1.0"

// Journal is the durable log the engine appends to.
// Implemented by *journal.Journal.
type Journal interface {
	StartSession(ctx context.Context, s journal.Session) error
	AppendDelta(ctx context.Context, sessionID string, seq int64, d model.Delta) (bool, error)
}

// ApplyHook observes every applied message. Called on the Run goroutine
// after the store batch is committed.
type ApplyHook func(ev Event, res store.Result)

// Engine is the single-writer delta session loop.
//
// Thread-safety model:
//   - Submit(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Stop(), Stats(), SessionID(): safe from any goroutine
type Engine struct {
	store     *store.Store
	clock     SeqClock
	queue     *eventQueue
	ids       IDGenerator
	journal   Journal
	metrics   *metrics.Metrics
	hook      ApplyHook
	source    string
	workflows []string

	sessionID string

	mu    sync.Mutex
	stats Stats
}

// Stats counts what the loop has done so far.
type Stats struct {
	Applied       int   `json:"applied"`
	Skipped       int   `json:"skipped"`
	Ignored       int   `json:"ignored"`
	JournalErrors int   `json:"journal_errors"`
	LastSeq       int64 `json:"last_seq"`
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithJournal appends every message to j before applying it.
func WithJournal(j Journal) EngineOption {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithMetrics records loop activity in m.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock replaces the default clock, e.g. to continue a session's seq
// numbering or to use a deterministic clock in tests.
func WithClock(c SeqClock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator replaces the UUIDv7 session id generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithSource records the transport name and subscribed workflows in the
// journaled session.
func WithSource(name string, workflows []string) EngineOption {
	return func(e *Engine) {
		e.source = name
		e.workflows = slices.Clone(workflows)
	}
}

// WithApplyHook calls fn after every applied message.
func WithApplyHook(fn ApplyHook) EngineOption {
	return func(e *Engine) {
		e.hook = fn
	}
}

// New creates an Engine applying messages to s.
func New(s *store.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  s,
		clock:  NewClock(),
		queue:  newEventQueue(),
		ids:    UUIDv7Generator{},
		source: "unknown",
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sessionID = e.ids.Generate()
	return e
}

// SessionID returns the id this engine journals under.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Store returns the store the engine applies to.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Submit enqueues a message for the Run loop. It never blocks.
// Returns false once the engine has been stopped.
func (e *Engine) Submit(d model.Delta) bool {
	ok := e.queue.Enqueue(Event{Delta: d})
	if ok {
		e.metrics.SetQueueDepth(e.queue.Len())
	}
	return ok
}

// QueueLen returns the number of messages waiting to be applied.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Stats returns a copy of the loop counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Run starts the single-writer loop.
// Blocks until the context is cancelled or Stop() is called. After Stop,
// messages already queued are applied before Run returns nil.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// ERROR HANDLING: a failure on one message is logged with the message's
// context and processing continues with the next one.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting",
		"session", e.sessionID,
		"source", e.source,
		"workflows", e.workflows,
	)
	e.startSession(ctx)

	for {
		if event, ok := e.queue.TryDequeue(); ok {
			if err := e.processEvent(ctx, event); err != nil {
				logEventError(event, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled", "session", e.sessionID)
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// A signal can be left over from an event already dequeued;
			// only a closed and empty queue ends the loop.
			if e.queue.Drained() {
				slog.Info("engine stopping: queue closed", "session", e.sessionID)
				return nil
			}
		}
	}
}

// Stop closes the queue. Run applies what is already queued and returns.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Close stops the engine and releases the store's observers.
func (e *Engine) Close() {
	e.Stop()
	e.store.Close()
}

func (e *Engine) startSession(ctx context.Context) {
	if e.journal == nil {
		return
	}
	err := e.journal.StartSession(ctx, journal.Session{
		ID:            e.sessionID,
		Source:        e.source,
		Workflows:     e.workflows,
		EngineVersion: Version,
	})
	if err != nil {
		slog.Error("journal disabled for session",
			"error", &RuntimeError{
				Code:      ErrCodeSessionStart,
				Message:   "start session",
				SessionID: e.sessionID,
				Err:       err,
			},
		)
		e.journal = nil
		e.mu.Lock()
		e.stats.JournalErrors++
		e.mu.Unlock()
	}
}

// processEvent stamps, journals and applies one message.
// CRITICAL: Called only from Run() goroutine - single-writer guarantee.
//
// A journal failure does not stop the message from being applied: the
// live view must not lose data because the log did.
func (e *Engine) processEvent(ctx context.Context, ev Event) error {
	if ev.Delta.Empty() {
		e.mu.Lock()
		e.stats.Skipped++
		e.mu.Unlock()
		slog.Debug("empty delta skipped", "session", e.sessionID)
		return nil
	}
	ev.Seq = e.clock.Next()

	var journalErr error
	if e.journal != nil {
		if _, err := e.journal.AppendDelta(ctx, e.sessionID, ev.Seq, ev.Delta); err != nil {
			journalErr = &RuntimeError{
				Code:      ErrCodeJournalWrite,
				Message:   "append delta",
				SessionID: e.sessionID,
				Seq:       ev.Seq,
				Err:       err,
			}
		}
	}

	start := time.Now()
	res := e.store.Apply(ev.Delta)
	e.metrics.ObserveResult(res, time.Since(start).Seconds())
	e.metrics.ObserveStore(e.store)
	e.metrics.SetQueueDepth(e.queue.Len())

	e.mu.Lock()
	e.stats.Applied++
	e.stats.Ignored += res.Ignored
	e.stats.LastSeq = ev.Seq
	if journalErr != nil {
		e.stats.JournalErrors++
	}
	e.mu.Unlock()

	slog.Debug("delta applied",
		"seq", ev.Seq,
		"added", res.Added,
		"updated", res.Updated,
		"pruned", res.Pruned,
		"ignored", res.Ignored,
	)

	if e.hook != nil {
		e.hook(ev, res)
	}
	return journalErr
}

// logEventError logs a failed message with enough context to find it in
// the journal.
func logEventError(ev Event, err error) {
	slog.Error("delta processing failed",
		"error", err,
		"seq", ev.Seq,
		"delta_id", ev.Delta.ID,
		"workflows", ev.Delta.Workflows(),
	)
}
