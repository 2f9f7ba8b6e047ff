package portal

import (
	"context"

	"github.com/dstrand/portal/internal/envelope"
	"github.com/dstrand/portal/internal/logger"
	"github.com/dstrand/portal/internal/queue"
)

// Filter decides whether an inbound envelope should be delivered to a
// binding as a remote message (spec.md §4.7).
type Filter func(hdr envelope.Header) bool

// HostFilter accepts a message if it targets the host directly, or carries
// no targeting information at all and came from the server.
func HostFilter(hostPeerID string) Filter {
	return func(hdr envelope.Header) bool {
		if hdr.TargetPeerID == hostPeerID {
			return true
		}
		if hdr.TargetPeerID == "" && len(hdr.TargetPeerIDs) == 0 && hdr.Flag == envelope.FlagServer {
			return true
		}
		return false
	}
}

// GuestFilter accepts a message sent by the portal's host and addressed
// (directly or via targetPeerIds) to localPeerID.
func GuestFilter(portalHostPeerID, localPeerID string) Filter {
	return func(hdr envelope.Header) bool {
		if hdr.SenderPeerID != portalHostPeerID {
			return false
		}
		if hdr.TargetPeerID == localPeerID {
			return true
		}
		for _, id := range hdr.TargetPeerIDs {
			if id == localPeerID {
				return true
			}
		}
		return false
	}
}

// RemoteHandler is implemented by HostBinding and GuestBinding: given an
// accepted inbound envelope, it returns any envelopes to publish outward.
type RemoteHandler interface {
	HandleRemote(env envelope.Envelope) ([]envelope.Envelope, error)
}

// Activation runs the C7 handler loop for one binding: it drains a queue
// pair's incoming queue, applies a Filter, dispatches accepted envelopes to
// a RemoteHandler, and publishes whatever the handler returns to the
// outgoing queue. Stop deactivates the subscription; a fresh Activation can
// then be started against a different binding or queue pair ("swap binding
// or swap queue" in spec.md §4.7).
type Activation struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Activate starts the handler loop in its own goroutine.
func Activate(pair queue.Pair, filter Filter, handler RemoteHandler) *Activation {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Activation{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(a.done)
		for {
			env, ok, err := pair.In.Receive(ctx)
			if err != nil {
				return
			}
			if !ok {
				return
			}
			if !filter(env.Header()) {
				continue
			}
			out, err := handler.HandleRemote(env)
			if err != nil {
				logger.Warn("portal handler: dispatch failed", "type", env.Type(), "err", err)
				continue
			}
			for _, o := range out {
				if err := pair.Out.Publish(ctx, o); err != nil {
					logger.Warn("portal handler: publish failed", "type", o.Type(), "err", err)
				}
			}
		}
	}()

	return a
}

// Stop deactivates the subscription and waits for the handler goroutine to
// exit.
func (a *Activation) Stop() {
	a.cancel()
	<-a.done
}

// PublishLocal publishes locally-emitted envelopes (from HandleLocalEdit or
// a state-machine transition) to a queue pair's outgoing queue.
func PublishLocal(ctx context.Context, pair queue.Pair, envs []envelope.Envelope) error {
	for _, e := range envs {
		if err := pair.Out.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
