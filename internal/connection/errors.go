// Package connection implements the connection layer (spec.md §4.8, C8): a
// signalling client over a bidirectional websocket, per-peer WebRTC
// connections and data channels, per-peer outbound send queues, and a
// routing table that decides whether an outbound envelope goes over
// signalling or a peer's data channel. Grounded on internal/ws/client.go
// (signalling client, backoff), internal/webrtc/peer.go (per-peer
// connection objects), internal/webrtc/transport.go (SwappableWriter-style
// atomic send-path switching), and internal/relay/bandwidth.go (per-peer
// rate limiting).
package connection

import "errors"

// Sentinel errors for the "Connection" error kind (spec.md §7).
var (
	ErrServerClosed      = errors.New("connection: signalling server connection closed")
	ErrChannelNotOpen    = errors.New("connection: data channel not open")
	ErrRetriesExhausted  = errors.New("connection: send retry exhausted")
	ErrUnknownPeer       = errors.New("connection: unknown remote peer")
	ErrSelfTarget        = errors.New("connection: message targets the local peer")

	// Sentinel errors for the "Protocol" error kind, specific to inbound
	// server-message validation (spec.md §4.8 "Validation").
	ErrMissingData        = errors.New("connection: server message missing data field")
	ErrSenderIsSelf        = errors.New("connection: session message sender is the local peer")
	ErrTargetNotSelf       = errors.New("connection: session message does not target the local peer")
	ErrEmptySessionDesc    = errors.New("connection: empty session description")
	ErrEmptyICECandidate   = errors.New("connection: empty ice candidate")
)
