// Package queue implements the publish/subscribe message queues that carry
// envelopes between the connection layer and a portal binding (spec.md
// §4.4, C4): single-consumer, FIFO per queue. Grounded on
// internal/relay/peers.go's updateCh pattern and internal/relay/chat_relay.go's
// registry-of-channels for wiring multiple queues together.
package queue

import (
	"context"
	"sync"

	"github.com/dstrand/portal/internal/envelope"
)

// defaultCapacity bounds the buffered channel backing a Queue. A portal
// binding that falls this far behind its connection layer is already in
// trouble; the bound exists so a stalled consumer fails loudly (a blocked
// Publish) instead of growing memory without limit.
const defaultCapacity = 256

// Queue is a single-consumer, FIFO, publish/subscribe point for envelopes.
// Two exist per portal binding: one incoming (fed by the connection layer,
// drained by the binding) and one outgoing (fed by the binding, drained by
// the connection layer).
type Queue struct {
	ch     chan envelope.Envelope
	closed chan struct{}
	once   sync.Once
}

// New creates an empty Queue with room for defaultCapacity pending
// envelopes.
func New() *Queue {
	return &Queue{
		ch:     make(chan envelope.Envelope, defaultCapacity),
		closed: make(chan struct{}),
	}
}

// Publish appends env to the queue, in publication order. It blocks if the
// queue is full, and returns ctx.Err() if ctx is cancelled first. Publishing
// to a closed queue is a no-op.
func (q *Queue) Publish(ctx context.Context, env envelope.Envelope) error {
	select {
	case <-q.closed:
		return nil
	default:
	}
	select {
	case q.ch <- env:
		return nil
	case <-q.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until an envelope is available, the queue is closed with
// nothing left buffered (ok is then false), or ctx is cancelled. The
// underlying channel is never closed (Publish and Receive could otherwise
// race on a send to a closed channel); Close only stops accepting new
// publishes, and Receive keeps draining what's already buffered.
func (q *Queue) Receive(ctx context.Context) (env envelope.Envelope, ok bool, err error) {
	select {
	case env = <-q.ch:
		return env, true, nil
	default:
	}
	select {
	case env = <-q.ch:
		return env, true, nil
	case <-q.closed:
		select {
		case env = <-q.ch:
			return env, true, nil
		default:
			return envelope.Envelope{}, false, nil
		}
	case <-ctx.Done():
		return envelope.Envelope{}, false, ctx.Err()
	}
}

// Close stops the queue from accepting new publishes. Safe to call more
// than once.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.closed)
	})
}
