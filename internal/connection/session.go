package connection

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dstrand/portal/internal/config"
	"github.com/dstrand/portal/internal/envelope"
	"github.com/dstrand/portal/internal/logger"
)

// Session ties the signalling client, peer manager, and router together
// into the complete connection layer: it handles the server messages
// spec.md §4.8 names (ASSIGN_PEER_ID, SESSION_OFFER, SESSION_ANSWER,
// NEW_ICE_CANDIDATE) and exposes Inbound for the portal binding layer.
type Session struct {
	Signaling *SignalingClient
	Peers     *PeerManager
	Router    *Router
	limiter   *PeerRateLimiter

	// Inbound receives envelopes the portal binding layer should consume:
	// LOCAL_PEER_ID on assignment, plus every envelope received over a
	// peer's data channel.
	Inbound chan envelope.Envelope
}

// NewSession wires a SignalingClient and PeerManager into a Session.
func NewSession(signalingURL string, backoffBase, backoffMax time.Duration, iceServers []config.ICEServer, limiter *PeerRateLimiter) *Session {
	signaling := NewSignalingClient(signalingURL, backoffBase, backoffMax)
	peers := NewPeerManager(toWebRTCICEServers(iceServers))
	router := NewRouter("", signaling, peers, limiter)

	s := &Session{
		Signaling: signaling,
		Peers:     peers,
		Router:    router,
		limiter:   limiter,
		Inbound:   make(chan envelope.Envelope, 64),
	}
	s.wire()
	return s
}

// ApplyConfig pushes a hot-reloaded configuration into the running session:
// iceServers take effect for connections created from this point on, and
// outRate updates the shared per-peer outbound limiter immediately
// (SPEC_FULL.md §4.11).
func (s *Session) ApplyConfig(iceServers []config.ICEServer, outRate config.OutboundRate) {
	s.Peers.SetICEServers(toWebRTCICEServers(iceServers))
	if s.limiter != nil {
		s.limiter.SetRate(outRate.BytesPerSec, outRate.Burst)
	}
}

func toWebRTCICEServers(servers []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, s := range servers {
		out[i] = webrtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential}
	}
	return out
}

func (s *Session) wire() {
	s.Signaling.OnAssignPeerID = func(peerID string) {
		s.Router.SetLocalPeerID(peerID)
		local, err := envelope.NewBuilder(envelope.LocalPeerID).
			Sender(peerID).
			LocalPeerID(peerID).
			Build()
		if err != nil {
			logger.Warn("connection: failed building LOCAL_PEER_ID envelope", "err", err)
			return
		}
		s.Inbound <- local
	}
	s.Peers.OnMessage(func(peerID string, env envelope.Envelope) {
		s.Inbound <- env
	})
	s.Peers.OnLocalICECandidate(func(peerID, candidate string) {
		env, err := candidateToEnvelope(s.Router.LocalPeerID(), peerID, candidate)
		if err != nil {
			logger.Warn("connection: failed building ICE candidate envelope", "err", err)
			return
		}
		if err := s.Signaling.Send(context.Background(), env); err != nil {
			logger.Warn("connection: failed sending ICE candidate", "peer", peerID, "err", err)
		}
	})
	s.Signaling.OnSessionOffer = func(env envelope.Envelope) {
		peer, err := s.Peers.GetOrCreate(env.Header().SenderPeerID)
		if err != nil {
			logger.Warn("connection: failed creating peer for offer", "err", err)
			return
		}
		answerSDP, err := peer.HandleRemoteOffer(context.Background(), env.Body().SessionDescription)
		if err != nil {
			logger.Warn("connection: failed handling remote offer", "peer", peer.ID, "err", err)
			return
		}
		answer, err := envelope.NewBuilder(envelope.SessionAnswer).
			Sender(s.Router.LocalPeerID()).
			Target(peer.ID).
			SessionDescription(answerSDP).
			Build()
		if err != nil {
			return
		}
		if err := s.Signaling.Send(context.Background(), answer); err != nil {
			logger.Warn("connection: failed sending answer", "peer", peer.ID, "err", err)
		}
	}
	s.Signaling.OnSessionAnswer = func(env envelope.Envelope) {
		peer, ok := s.Peers.Get(env.Header().SenderPeerID)
		if !ok {
			logger.Warn("connection: answer from unknown peer", "peer", env.Header().SenderPeerID)
			return
		}
		if err := peer.HandleRemoteAnswer(env.Body().SessionDescription); err != nil {
			logger.Warn("connection: failed applying remote answer", "peer", peer.ID, "err", err)
		}
	}
	s.Signaling.OnICECandidate = func(env envelope.Envelope) {
		peer, ok := s.Peers.Get(env.Header().SenderPeerID)
		if !ok {
			logger.Warn("connection: ice candidate from unknown peer", "peer", env.Header().SenderPeerID)
			return
		}
		if err := peer.AddICECandidate(env.Body().ICECandidate); err != nil {
			logger.Warn("connection: failed adding ice candidate", "peer", peer.ID, "err", err)
		}
	}
}

// Connect runs the signalling client until ctx is cancelled.
func (s *Session) Connect(ctx context.Context) error {
	return s.Signaling.Run(ctx)
}

// ConnectToPeer initiates an outbound offer to peerID (host-initiated
// connections to guests, or a guest's initial connection to its host).
func (s *Session) ConnectToPeer(ctx context.Context, peerID string) error {
	peer, err := s.Peers.CreateDataChannel(peerID)
	if err != nil {
		return err
	}
	sdp, err := peer.CreateOffer(ctx)
	if err != nil {
		return err
	}
	offer, err := envelope.NewBuilder(envelope.SessionOffer).
		Sender(s.Router.LocalPeerID()).
		Target(peerID).
		SessionDescription(sdp).
		Build()
	if err != nil {
		return err
	}
	return s.Signaling.Send(ctx, offer)
}
