package connection

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dstrand/portal/internal/envelope"
	"github.com/dstrand/portal/internal/logger"
)

// PeerManager owns one *Peer per remote peer ID, grounded on
// internal/webrtc/peer.go's PeerManager/senderPub-keyed map.
type PeerManager struct {
	mu         sync.Mutex
	peers      map[string]*Peer
	iceServers []webrtc.ICEServer

	// onLocalICECandidate is invoked with a trickled local candidate so the
	// caller can wrap it in a NEW_ICE_CANDIDATE envelope and send it via
	// signalling.
	onLocalICECandidate func(peerID string, candidate string)
	// onDataChannel is invoked when a remote-initiated data channel opens.
	onDataChannel func(peerID string, dc *webrtc.DataChannel)
	// onMessage is invoked for every envelope any peer's data channel
	// receives.
	onMessage func(peerID string, env envelope.Envelope)
}

// NewPeerManager creates a PeerManager configured with iceServers (spec.md
// §6).
func NewPeerManager(iceServers []webrtc.ICEServer) *PeerManager {
	return &PeerManager{
		peers:      make(map[string]*Peer),
		iceServers: iceServers,
	}
}

// OnLocalICECandidate registers the callback fired for every locally
// trickled ICE candidate.
func (m *PeerManager) OnLocalICECandidate(f func(peerID, candidate string)) {
	m.mu.Lock()
	m.onLocalICECandidate = f
	m.mu.Unlock()
}

// OnDataChannel registers the callback fired when a remote peer opens a
// data channel on an existing connection.
func (m *PeerManager) OnDataChannel(f func(peerID string, dc *webrtc.DataChannel)) {
	m.mu.Lock()
	m.onDataChannel = f
	m.mu.Unlock()
}

// OnMessage registers the callback fired for every envelope received over
// any peer's data channel.
func (m *PeerManager) OnMessage(f func(peerID string, env envelope.Envelope)) {
	m.mu.Lock()
	m.onMessage = f
	m.mu.Unlock()
}

// SetICEServers updates the ICE server list used for peer connections
// created from this point on — e.g. on a config hot-reload. Connections
// already established are unaffected.
func (m *PeerManager) SetICEServers(servers []webrtc.ICEServer) {
	m.mu.Lock()
	m.iceServers = servers
	m.mu.Unlock()
}

// GetOrCreate returns the existing Peer for id, or creates a fresh
// PeerConnection for it.
func (m *PeerManager) GetOrCreate(id string) (*Peer, error) {
	m.mu.Lock()
	if p, ok := m.peers[id]; ok {
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: m.iceServers})
	if err != nil {
		return nil, fmt.Errorf("connection: new peer connection: %w", err)
	}

	peer := newPeer(id, pc)
	peer.OnMessage(func(env envelope.Envelope) {
		m.mu.Lock()
		cb := m.onMessage
		m.mu.Unlock()
		if cb != nil {
			cb(id, env)
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		m.mu.Lock()
		cb := m.onLocalICECandidate
		m.mu.Unlock()
		if cb != nil {
			cb(id, c.ToJSON().Candidate)
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		peer.attachDataChannel(dc)
		m.mu.Lock()
		cb := m.onDataChannel
		m.mu.Unlock()
		if cb != nil {
			cb(id, dc)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("connection: peer state change", "peer", id, "state", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			m.mu.Lock()
			if m.peers[id] == peer {
				delete(m.peers, id)
			}
			m.mu.Unlock()
		}
	})

	m.mu.Lock()
	m.peers[id] = peer
	m.mu.Unlock()
	return peer, nil
}

// CreateDataChannel opens a new data channel to peerID, using peerID as the
// data channel label (spec.md §5: "one data channel per peer pair").
func (m *PeerManager) CreateDataChannel(peerID string) (*Peer, error) {
	peer, err := m.GetOrCreate(peerID)
	if err != nil {
		return nil, err
	}
	dc, err := peer.pc.CreateDataChannel(peerID, nil)
	if err != nil {
		return nil, fmt.Errorf("connection: create data channel: %w", err)
	}
	peer.attachDataChannel(dc)
	return peer, nil
}

// Get returns the Peer for id, if one exists.
func (m *PeerManager) Get(id string) (*Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	return p, ok
}

// Remove closes and forgets the peer connection for id.
func (m *PeerManager) Remove(id string) {
	m.mu.Lock()
	p, ok := m.peers[id]
	delete(m.peers, id)
	m.mu.Unlock()
	if ok {
		p.Close()
	}
}

// Close shuts down every peer connection.
func (m *PeerManager) Close() {
	m.mu.Lock()
	peers := m.peers
	m.peers = make(map[string]*Peer)
	m.mu.Unlock()
	for _, p := range peers {
		p.Close()
	}
}

// candidateToEnvelope wraps a local ICE candidate destined for peerID in a
// NEW_ICE_CANDIDATE envelope.
func candidateToEnvelope(localPeerID, peerID, candidate string) (envelope.Envelope, error) {
	return envelope.NewBuilder(envelope.NewICECandidate).
		Sender(localPeerID).
		Target(peerID).
		ICECandidate(candidate).
		Build()
}
