package connection

import (
	"context"
	"sync"

	"github.com/dstrand/portal/internal/envelope"
	"github.com/dstrand/portal/internal/logger"
)

// Router decides, for each outbound envelope, whether to send it via
// signalling or a peer's data channel, rejecting self-targeted messages
// (spec.md §4.8 "Routing"). For a peer with no existing connection it only
// creates the PeerConnection object via PeerManager.GetOrCreate; it opens no
// data channel and sends no offer, so such a send stays queued in the
// connecting state until Peer.Send's retries run out.
type Router struct {
	mu          sync.RWMutex
	localPeerID string
	signaling   *SignalingClient
	peers       *PeerManager
	limiter     *PeerRateLimiter
}

// NewRouter creates a Router for localPeerID, dispatching via signaling and
// peers.
func NewRouter(localPeerID string, signaling *SignalingClient, peers *PeerManager, limiter *PeerRateLimiter) *Router {
	return &Router{localPeerID: localPeerID, signaling: signaling, peers: peers, limiter: limiter}
}

// SetLocalPeerID updates the peer ID routing uses to reject self-targeted
// sends, set once ASSIGN_PEER_ID arrives from the signalling server.
func (r *Router) SetLocalPeerID(id string) {
	r.mu.Lock()
	r.localPeerID = id
	r.mu.Unlock()
}

func (r *Router) LocalPeerID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.localPeerID
}

// Route sends env to its destination(s).
func (r *Router) Route(ctx context.Context, env envelope.Envelope) error {
	hdr := env.Header()

	if hdr.Flag == envelope.FlagServer {
		return r.signaling.Send(ctx, env)
	}

	if hdr.TargetPeerID != "" {
		return r.sendToPeer(ctx, hdr.TargetPeerID, env)
	}

	if len(hdr.TargetPeerIDs) > 0 {
		var firstErr error
		for _, peerID := range hdr.TargetPeerIDs {
			if err := r.sendToPeer(ctx, peerID, env); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	logger.Debug("connection: envelope has no target, dropping", "type", env.Type())
	return nil
}

func (r *Router) sendToPeer(ctx context.Context, peerID string, env envelope.Envelope) error {
	if peerID == r.LocalPeerID() {
		return ErrSelfTarget
	}

	data, err := env.Marshal()
	if err == nil && r.limiter != nil {
		if err := r.limiter.Wait(ctx, peerID, len(data)); err != nil {
			return err
		}
	}

	peer, err := r.peers.GetOrCreate(peerID)
	if err != nil {
		return err
	}
	return peer.Send(ctx, env)
}
