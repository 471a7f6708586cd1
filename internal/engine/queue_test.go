package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deltaview/internal/model"
)

func deltaFor(id string) model.Delta {
	return model.Delta{ID: id}
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()
	for _, id := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(Event{Delta: deltaFor(id)}))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"A", "B", "C"} {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.Delta.ID)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_CloseRejectsEnqueue(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(Event{Delta: deltaFor("A")})
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(Event{Delta: deltaFor("B")}))

	// Queued events survive Close.
	e, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "A", e.Delta.ID)

	select {
	case _, open := <-q.Wait():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("Wait channel should be closed")
	}
}

func TestEventQueue_SignalCoalesces(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(Event{Delta: deltaFor("A")})
	q.Enqueue(Event{Delta: deltaFor("B")})

	<-q.Wait()
	select {
	case <-q.Wait():
		t.Fatal("signals should coalesce into one")
	default:
	}
	assert.Equal(t, 2, q.Len())
}

func TestEventQueue_ConcurrentEnqueue(t *testing.T) {
	q := newEventQueue()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue(Event{})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, q.Len())
}
