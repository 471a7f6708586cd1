package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/roach88/deltaview/internal/model"
)

// DefaultSubjectPrefix is the subject namespace delta messages are
// published under: "<prefix>.<workflow>".
const DefaultSubjectPrefix = "deltas"

// NATSSource consumes delta messages republished on NATS.
//
// Each message body is one delta in any shape model.DecodeDelta accepts.
// Messages on one subject arrive in publish order. Reconnection is left to
// the NATS client; when the connection closes for good, Run returns.
type NATSSource struct {
	url    string
	prefix string
	conn   *nats.Conn
}

// NATSOption configures a NATSSource.
type NATSOption func(*NATSSource)

// WithSubjectPrefix overrides DefaultSubjectPrefix.
func WithSubjectPrefix(p string) NATSOption {
	return func(s *NATSSource) { s.prefix = p }
}

// WithConn uses an existing connection instead of dialing url. The caller
// keeps ownership of the connection.
func WithConn(nc *nats.Conn) NATSOption {
	return func(s *NATSSource) { s.conn = nc }
}

// NewNATSSource creates a source for the NATS server at url.
func NewNATSSource(url string, opts ...NATSOption) *NATSSource {
	s := &NATSSource{url: url, prefix: DefaultSubjectPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subjects returns the subjects subscribed for a workflow list: one per
// workflow, or the prefix wildcard when the list is empty. Dots in a
// workflow id would split the subject token and are replaced with "_".
func (s *NATSSource) Subjects(workflows []string) []string {
	if len(workflows) == 0 {
		return []string{s.prefix + ".>"}
	}
	out := make([]string, 0, len(workflows))
	for _, wf := range workflows {
		out = append(out, s.prefix+"."+strings.ReplaceAll(wf, ".", "_"))
	}
	return out
}

// Run implements Source.
func (s *NATSSource) Run(ctx context.Context, workflows []string, sink Sink) error {
	closed := make(chan struct{})
	nc := s.conn
	if nc == nil {
		var err error
		nc, err = nats.Connect(s.url,
			nats.Name("deltaview"),
			nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
		)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer nc.Close()
	}

	r := newReceiver(sink)
	subs := make([]*nats.Subscription, 0, len(workflows)+1)
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()
	for _, subject := range s.Subjects(workflows) {
		sub, err := nc.Subscribe(subject, r.handle)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}
	if err := nc.Flush(); err != nil {
		return fmt.Errorf("flush subscriptions: %w", err)
	}
	slog.Info("nats subscription started", "url", nc.ConnectedUrl(), "subjects", s.Subjects(workflows))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopped:
		slog.Info("nats subscription stopped: sink closed")
		return nil
	case <-closed:
		if err := nc.LastError(); err != nil {
			return fmt.Errorf("nats connection closed: %w", err)
		}
		return errors.New("nats connection closed")
	}
}

// receiver decodes messages into a sink. NATS may run handlers for
// different subscriptions concurrently, so submission is serialized.
type receiver struct {
	sink    Sink
	mu      sync.Mutex
	stopped chan struct{}
	once    sync.Once
}

func newReceiver(sink Sink) *receiver {
	return &receiver{sink: sink, stopped: make(chan struct{})}
}

func (r *receiver) handle(msg *nats.Msg) {
	d, err := model.DecodeDelta(msg.Data)
	if err != nil {
		slog.Warn("malformed delta", "subject", msg.Subject, "error", err)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.stopped:
		return
	default:
	}
	if !r.sink.Submit(d) {
		r.once.Do(func() { close(r.stopped) })
	}
}
