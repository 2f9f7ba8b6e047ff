package queue

import (
	"context"
	"testing"
	"time"

	"github.com/dstrand/portal/internal/envelope"
)

func testEnvelope(t *testing.T, typ envelope.Type) envelope.Envelope {
	t.Helper()
	e, err := envelope.NewBuilder(typ).Sender("p").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return e
}

func TestQueueFIFO(t *testing.T) {
	q := New()
	ctx := context.Background()

	a := testEnvelope(t, envelope.Insert)
	b := testEnvelope(t, envelope.Delete)
	if err := q.Publish(ctx, a); err != nil {
		t.Fatalf("Publish a: %v", err)
	}
	if err := q.Publish(ctx, b); err != nil {
		t.Fatalf("Publish b: %v", err)
	}

	got1, ok, err := q.Receive(ctx)
	if err != nil || !ok {
		t.Fatalf("Receive 1: %v %v", ok, err)
	}
	if got1.Type() != envelope.Insert {
		t.Fatalf("got %v first, want Insert", got1.Type())
	}
	got2, ok, err := q.Receive(ctx)
	if err != nil || !ok {
		t.Fatalf("Receive 2: %v %v", ok, err)
	}
	if got2.Type() != envelope.Delete {
		t.Fatalf("got %v second, want Delete", got2.Type())
	}
}

func TestQueueReceiveBlocksUntilPublish(t *testing.T) {
	q := New()
	ctx := context.Background()
	done := make(chan envelope.Envelope, 1)

	go func() {
		env, ok, err := q.Receive(ctx)
		if err != nil || !ok {
			t.Errorf("Receive: %v %v", ok, err)
			return
		}
		done <- env
	}()

	time.Sleep(20 * time.Millisecond)
	e := testEnvelope(t, envelope.Insert)
	if err := q.Publish(ctx, e); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Receive to unblock")
	}
}

func TestQueueCloseDrainsThenReturnsNotOK(t *testing.T) {
	q := New()
	ctx := context.Background()
	e := testEnvelope(t, envelope.Insert)
	if err := q.Publish(ctx, e); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	q.Close()

	_, ok, err := q.Receive(ctx)
	if err != nil || !ok {
		t.Fatalf("expected to drain the buffered envelope, got ok=%v err=%v", ok, err)
	}

	_, ok, err = q.Receive(ctx)
	if err != nil || ok {
		t.Fatalf("expected ok=false after drain, got ok=%v err=%v", ok, err)
	}
}

func TestQueuePublishAfterCloseIsNoop(t *testing.T) {
	q := New()
	q.Close()
	if err := q.Publish(context.Background(), testEnvelope(t, envelope.Insert)); err != nil {
		t.Fatalf("Publish after close: %v", err)
	}
	_, ok, _ := q.Receive(context.Background())
	if ok {
		t.Fatalf("expected no envelope after publishing to a closed queue")
	}
}

func TestRegistryAcquireIsIdempotent(t *testing.T) {
	r := NewRegistry()
	p1 := r.Acquire("host-1")
	p2 := r.Acquire("host-1")
	if p1.In != p2.In || p1.Out != p2.Out {
		t.Fatalf("expected the same pair for the same id")
	}
}

func TestRegistryReleaseClosesQueues(t *testing.T) {
	r := NewRegistry()
	p := r.Acquire("host-1")
	r.Release("host-1")

	if _, ok := r.Lookup("host-1"); ok {
		t.Fatalf("expected lookup to miss after release")
	}
	if err := p.In.Publish(context.Background(), testEnvelope(t, envelope.Insert)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	_, ok, _ := p.In.Receive(context.Background())
	if ok {
		t.Fatalf("expected released queue to reject new publishes")
	}
}
