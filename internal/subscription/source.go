package subscription

import (
	"context"
	"errors"

	"github.com/roach88/deltaview/internal/model"
)

// ErrStreamComplete is returned by Run when the server ends the
// subscription.
var ErrStreamComplete = errors.New("subscription completed by server")

// Sink receives decoded delta messages in arrival order. Submit reports
// false once the sink no longer accepts messages.
//
// *engine.Engine implements Sink.
type Sink interface {
	Submit(d model.Delta) bool
}

// Source streams delta messages for a set of workflows into a sink until
// the context is cancelled, the sink closes, or the transport fails.
// An empty workflow list subscribes to every workflow.
type Source interface {
	Run(ctx context.Context, workflows []string, sink Sink) error
}
