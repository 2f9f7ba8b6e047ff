package portal

import (
	"sync"

	"github.com/dstrand/portal/internal/buffer"
	"github.com/dstrand/portal/internal/envelope"
	"github.com/dstrand/portal/internal/logger"
)

// GuestState is a state in the guest join/leave protocol (spec.md §4.6).
type GuestState int

const (
	StateInit GuestState = iota
	StateWaitingSiteID
	StateAckSiteID
	StateActive
	StateLeaving
	StateClosed
)

func (s GuestState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateWaitingSiteID:
		return "WAITING_SITE_ID"
	case StateAckSiteID:
		return "ACK_SITE_ID"
	case StateActive:
		return "ACTIVE"
	case StateLeaving:
		return "LEAVING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// GuestBinding is the C6 guest portal binding: it drives the join/leave
// state machine and, once ACTIVE, translates local edits into per-character
// INSERT/DELETE envelopes and applies remote batches from the host.
type GuestBinding struct {
	mu sync.Mutex

	state GuestState

	portalHostPeerID string
	localPeerID      string
	username         string
	siteID           int

	proxies *proxyRegistry
}

// NewGuestBinding creates a guest binding in the INIT state for the portal
// hosted at portalHostPeerID.
func NewGuestBinding(portalHostPeerID, localPeerID, username string) *GuestBinding {
	return &GuestBinding{
		state:            StateInit,
		portalHostPeerID: portalHostPeerID,
		localPeerID:      localPeerID,
		username:         username,
		proxies:          newProxyRegistry(),
	}
}

// State returns the binding's current join/leave state.
func (g *GuestBinding) State() GuestState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// SendJoin transitions INIT -> WAITING_SITE_ID and returns the
// JOIN_PORTAL_REQUEST envelope to publish.
func (g *GuestBinding) SendJoin() (envelope.Envelope, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateInit {
		return envelope.Envelope{}, ErrInvalidState
	}
	g.state = StateWaitingSiteID

	return envelope.NewBuilder(envelope.JoinPortalRequest).
		Sender(g.localPeerID).
		Target(g.portalHostPeerID).
		PortalHost(g.portalHostPeerID).
		Build()
}

// SendLeave transitions ACTIVE -> LEAVING and returns the
// LEAVE_PORTAL_REQUEST envelope to publish.
func (g *GuestBinding) SendLeave() (envelope.Envelope, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateActive {
		return envelope.Envelope{}, ErrInvalidState
	}
	g.state = StateLeaving

	return envelope.NewBuilder(envelope.LeavePortalRequest).
		Sender(g.localPeerID).
		Target(g.portalHostPeerID).
		PortalHost(g.portalHostPeerID).
		Build()
}

// Timeout forces LEAVING -> CLOSED when the host's acknowledgement never
// arrives (spec.md §4.6 "LEAVING --JOIN_REQUEST_ACCEPTED(leave) /
// timeout--> CLOSED").
func (g *GuestBinding) Timeout() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateLeaving {
		g.state = StateClosed
	}
}

// HandleRemote dispatches one inbound envelope already accepted by the guest
// filter (§4.7), returning any envelopes to publish back out.
func (g *GuestBinding) HandleRemote(env envelope.Envelope) ([]envelope.Envelope, error) {
	switch env.Type() {
	case envelope.SiteIDAssignment:
		return g.handleSiteIDAssignment(env)
	case envelope.JoinRequestAccepted:
		return g.handleJoinRequestAccepted(env)
	case envelope.InsertBatch:
		return nil, g.applyBatch(env, true)
	case envelope.DeleteBatch:
		return nil, g.applyBatch(env, false)
	case envelope.Insert:
		return nil, g.applySingle(env, true)
	case envelope.Delete:
		return nil, g.applySingle(env, false)
	default:
		logger.Debug("guest binding: ignoring unhandled envelope type", "type", env.Type())
		return nil, nil
	}
}

func (g *GuestBinding) handleSiteIDAssignment(env envelope.Envelope) ([]envelope.Envelope, error) {
	g.mu.Lock()
	if g.state != StateWaitingSiteID {
		g.mu.Unlock()
		return nil, ErrInvalidState
	}
	body := env.Body()
	if body.SiteID == nil {
		g.mu.Unlock()
		return nil, ErrInvalidState
	}
	g.siteID = *body.SiteID
	g.state = StateAckSiteID
	g.mu.Unlock()

	out, err := envelope.NewBuilder(envelope.SiteIDAcknowledgement).
		Sender(g.localPeerID).
		Target(g.portalHostPeerID).
		PortalHost(g.portalHostPeerID).
		SiteID(g.siteID).
		Username(g.username).
		Build()
	if err != nil {
		return nil, err
	}
	return []envelope.Envelope{out}, nil
}

func (g *GuestBinding) handleJoinRequestAccepted(env envelope.Envelope) ([]envelope.Envelope, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case StateAckSiteID:
		g.state = StateActive
	case StateLeaving:
		g.state = StateClosed
	default:
		return nil, ErrInvalidState
	}
	return nil, nil
}

// RegisterBuffer attaches a text buffer under proxyID for a buffer the
// guest is locally editing. If the host's snapshot INSERT_BATCH envelopes
// already populated this proxy's CRDT before the caller got here, buf is
// seeded with that content first so the two stay consistent.
func (g *GuestBinding) RegisterBuffer(proxyID string, buf buffer.ExternalTextBuffer, onLocalEdit func(buffer.Message)) {
	g.proxies.attachBuffer(proxyID, g.SiteID(), buf, onLocalEdit)
}

// SiteID returns the site ID assigned by the host, or 0 before one has been
// assigned.
func (g *GuestBinding) SiteID() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.siteID
}

// HandleLocalEdit translates a locally-observed buffer edit into one
// INSERT/DELETE envelope per character, targeting the host (spec.md §4.6:
// "the guest may send one-by-one").
func (g *GuestBinding) HandleLocalEdit(msg buffer.Message) ([]envelope.Envelope, error) {
	if g.State() != StateActive {
		return nil, nil
	}
	proxy, ok := g.proxies.get(msg.TextBufferProxyID)
	if !ok {
		return nil, ErrUnknownBufferProxy
	}

	var out []envelope.Envelope
	switch msg.Kind {
	case buffer.MessageInsert:
		pos := msg.StartPos
		for _, r := range msg.NewText {
			ch := proxy.CRDT.HandleLocalInsert(r, pos)
			env, err := envelope.NewBuilder(envelope.Insert).
				Sender(g.localPeerID).
				Target(g.portalHostPeerID).
				PortalHost(g.portalHostPeerID).
				TextBufferProxyID(msg.TextBufferProxyID).
				CharObject(toWireCharacter(ch)).
				Build()
			if err != nil {
				return nil, err
			}
			out = append(out, env)
			pos = advancePosition(pos, r)
		}
	case buffer.MessageDelete:
		removed := proxy.CRDT.HandleLocalDelete(msg.StartPos, msg.EndPos)
		for _, ch := range removed {
			env, err := envelope.NewBuilder(envelope.Delete).
				Sender(g.localPeerID).
				Target(g.portalHostPeerID).
				PortalHost(g.portalHostPeerID).
				TextBufferProxyID(msg.TextBufferProxyID).
				CharObject(toWireCharacter(ch)).
				Build()
			if err != nil {
				return nil, err
			}
			out = append(out, env)
		}
	}
	return out, nil
}

// applyBatch applies an INSERT_BATCH/DELETE_BATCH body by iterating its
// sub-messages in order (spec.md §4.6), creating a buffer proxy/CRDT on
// first reference to an unknown textBufferProxyId.
func (g *GuestBinding) applyBatch(env envelope.Envelope, isInsert bool) error {
	for _, sub := range env.Body().MessageBatch {
		proxy := g.proxies.getOrCreate(sub.TextBufferProxyID, g.SiteID(), nil, nil)
		ch := fromWireCharacter(sub.CharObject)
		if isInsert {
			_, pos, applied := proxy.CRDT.HandleRemoteInsert(ch)
			if applied && proxy.Adapter != nil {
				_ = proxy.Adapter.ApplyInsert(pos, string(ch.Value))
			}
		} else {
			pos, applied := proxy.CRDT.HandleRemoteDelete(ch.IDSeq)
			if applied && proxy.Adapter != nil {
				end := pos
				end.CharIndex++
				_ = proxy.Adapter.ApplyDelete(buffer.Range{Start: pos, End: end}, string(ch.Value))
			}
		}
	}
	return nil
}

func (g *GuestBinding) applySingle(env envelope.Envelope, isInsert bool) error {
	body := env.Body()
	proxy := g.proxies.getOrCreate(body.TextBufferProxyID, g.SiteID(), nil, nil)
	ch := fromWireCharacter(body.CharObject)
	if isInsert {
		_, pos, applied := proxy.CRDT.HandleRemoteInsert(ch)
		if applied && proxy.Adapter != nil {
			_ = proxy.Adapter.ApplyInsert(pos, string(ch.Value))
		}
	} else {
		pos, applied := proxy.CRDT.HandleRemoteDelete(ch.IDSeq)
		if applied && proxy.Adapter != nil {
			end := pos
			end.CharIndex++
			_ = proxy.Adapter.ApplyDelete(buffer.Range{Start: pos, End: end}, string(ch.Value))
		}
	}
	return nil
}
