package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dstrand/portal/internal/envelope"
	"github.com/dstrand/portal/internal/logger"
)

// SignalingState is the per-remote-peer offer/answer/ICE state machine
// (spec.md §4.8).
type SignalingState int

const (
	StateIdle SignalingState = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateStable
	StateClosed
)

// dataChannelState mirrors the four data-channel lifecycle states spec.md
// §4.8 names explicitly.
type dataChannelState int

const (
	dcConnecting dataChannelState = iota
	dcOpen
	dcClosing
	dcClosed
)

// maxSendRetries and sendRetryInterval bound the "connecting" backoff
// described in spec.md §4.8 and exercised by P8. Declared as vars, not
// consts, so tests can shrink sendRetryInterval instead of waiting out the
// real 3s/10-retry bound.
var (
	maxSendRetries    = 10
	sendRetryInterval = 3 * time.Second
)

// Peer is one remote peer's WebRTC connection: its signalling state
// machine, data channel, and outbound send queue. Grounded on
// internal/webrtc/peer.go's per-sender PeerConnection map and
// internal/webrtc/transport.go's atomic send-path discipline.
type Peer struct {
	ID string

	mu           sync.Mutex
	pc           *webrtc.PeerConnection
	dc           *webrtc.DataChannel
	sigState     SignalingState
	dcState      dataChannelState
	dcOpenSignal chan struct{}
	dcOpenOnce   sync.Once
	outbound     []envelope.Envelope
	onMessage    func(envelope.Envelope)
}

// OnMessage registers the callback fired for every envelope this peer's
// data channel receives.
func (p *Peer) OnMessage(f func(envelope.Envelope)) {
	p.mu.Lock()
	p.onMessage = f
	p.mu.Unlock()
}

func newPeer(id string, pc *webrtc.PeerConnection) *Peer {
	return &Peer{
		ID:           id,
		pc:           pc,
		sigState:     StateIdle,
		dcState:      dcConnecting,
		dcOpenSignal: make(chan struct{}),
	}
}

// SignalingState returns the peer's current offer/answer/ICE state.
func (p *Peer) SignalingState() SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sigState
}

func (p *Peer) setSignalingState(s SignalingState) {
	p.mu.Lock()
	p.sigState = s
	p.mu.Unlock()
}

// attachDataChannel wires dc's lifecycle callbacks: an initialisation
// signal is armed at creation and fired when the channel transitions to
// open (spec.md §4.8), at which point the outbound queue is drained FIFO.
func (p *Peer) attachDataChannel(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.mu.Lock()
		p.dcState = dcOpen
		pending := p.outbound
		p.outbound = nil
		p.mu.Unlock()
		p.dcOpenOnce.Do(func() { close(p.dcOpenSignal) })

		for _, env := range pending {
			if err := p.writeDC(env); err != nil {
				logger.Warn("connection: failed draining queued message", "peer", p.ID, "err", err)
			}
		}
	})
	dc.OnClose(func() {
		p.mu.Lock()
		p.dcState = dcClosed
		p.mu.Unlock()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		env, err := envelope.Unmarshal(msg.Data)
		if err != nil {
			logger.Warn("connection: dropping malformed peer message", "peer", p.ID, "err", err)
			return
		}
		p.mu.Lock()
		cb := p.onMessage
		p.mu.Unlock()
		if cb != nil {
			cb(env)
		}
	})
}

func (p *Peer) writeDC(env envelope.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc == nil {
		return ErrChannelNotOpen
	}
	return dc.SendText(string(data))
}

// Send delivers env over the data channel, queueing it while the channel is
// still connecting (retried at sendRetryInterval, up to maxSendRetries
// times), and failing immediately if the channel is closing or closed
// (spec.md §4.8 "Send discipline").
func (p *Peer) Send(ctx context.Context, env envelope.Envelope) error {
	p.mu.Lock()
	state := p.dcState
	p.mu.Unlock()

	switch state {
	case dcOpen:
		return p.writeDC(env)
	case dcClosing, dcClosed:
		return ErrChannelNotOpen
	}

	// dcConnecting: queue it, then wait for open with a bounded number of
	// 3s-interval retries (P8).
	p.mu.Lock()
	p.outbound = append(p.outbound, env)
	p.mu.Unlock()

	for attempt := 0; attempt < maxSendRetries; attempt++ {
		select {
		case <-p.dcOpenSignal:
			return nil // drained by the OnOpen callback
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sendRetryInterval):
			p.mu.Lock()
			stillConnecting := p.dcState == dcConnecting
			p.mu.Unlock()
			if !stillConnecting {
				return nil
			}
		}
	}
	return ErrRetriesExhausted
}

// Close tears down the peer connection and data channel.
func (p *Peer) Close() error {
	p.mu.Lock()
	p.dcState = dcClosing
	pc := p.pc
	p.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.Close()
}

// CreateOffer creates a local offer, sets it as the local description,
// waits for ICE gathering to complete (spec.md §4.8 "If the remote end
// cannot trickle ICE..."), and returns the resulting SDP.
func (p *Peer) CreateOffer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("connection: create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("connection: set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	p.setSignalingState(StateHaveLocalOffer)

	local := p.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("connection: no local description after ICE gathering")
	}
	return local.SDP, nil
}

// HandleRemoteOffer sets sdp as the remote description, creates and sets a
// local answer, waits for ICE gathering, and returns the answer SDP.
func (p *Peer) HandleRemoteOffer(ctx context.Context, sdp string) (string, error) {
	p.setSignalingState(StateHaveRemoteOffer)
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return "", fmt.Errorf("connection: set remote description: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("connection: create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("connection: set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	p.setSignalingState(StateStable)

	local := p.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("connection: no local description after ICE gathering")
	}
	return local.SDP, nil
}

// HandleRemoteAnswer applies a remote answer to an offer this peer sent.
func (p *Peer) HandleRemoteAnswer(sdp string) error {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("connection: set remote description: %w", err)
	}
	p.setSignalingState(StateStable)
	return nil
}

// AddICECandidate applies a remote trickled ICE candidate.
func (p *Peer) AddICECandidate(candidate string) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}
