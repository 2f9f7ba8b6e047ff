package portal

import (
	"fmt"
	"sync"

	"github.com/dstrand/portal/internal/buffer"
	"github.com/dstrand/portal/internal/envelope"
	"github.com/dstrand/portal/internal/logger"
)

const hostSiteID = 1

// guestMetadata is what the host records about each guest once it
// acknowledges its site ID (spec.md §4.5 "guestMetadataByPeerId").
type guestMetadata struct {
	SiteID   int
	Username string
}

// HostBinding is the C5 host portal binding: it owns site-ID assignment,
// the authoritative CRDTs for every buffer in the portal, and fans local
// edits and accepted guest edits out to every other guest.
type HostBinding struct {
	mu sync.Mutex

	localPeerID     string
	username        string
	nextGuestSiteID int

	guestPeerIDs  []string
	guestMeta     map[string]guestMetadata
	usernameBySID map[int]string

	proxies *proxyRegistry
}

// NewHostBinding creates a host binding for a freshly-created portal.
func NewHostBinding(localPeerID, username string) *HostBinding {
	return &HostBinding{
		localPeerID:     localPeerID,
		username:        username,
		nextGuestSiteID: 2,
		guestMeta:       make(map[string]guestMetadata),
		usernameBySID:   map[int]string{hostSiteID: username},
		proxies:         newProxyRegistry(),
	}
}

// RegisterBuffer attaches a text buffer under proxyID, populating its CRDT
// from initialText, the buffer's current contents as passed by the caller
// (spec.md §4.5 "On observing a buffer with a new URI"). onLocalEdit receives every locally-originated change message.
func (h *HostBinding) RegisterBuffer(proxyID string, buf buffer.ExternalTextBuffer, initialText string, onLocalEdit func(buffer.Message)) {
	proxy := h.proxies.getOrCreate(proxyID, hostSiteID, buf, onLocalEdit)

	line, col := 0, 0
	for _, r := range initialText {
		proxy.CRDT.HandleLocalInsert(r, crdtPos(line, col))
		if r == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}
}

// HandleLocalEdit translates a locally-observed buffer edit into one or more
// outbound envelopes fragmented at envelope.MaxBatchSize, applying it to the
// CRDT first so the host's own document reflects it immediately.
func (h *HostBinding) HandleLocalEdit(msg buffer.Message) ([]envelope.Envelope, error) {
	h.mu.Lock()
	targets := append([]string(nil), h.guestPeerIDs...)
	h.mu.Unlock()

	proxy, ok := h.proxies.get(msg.TextBufferProxyID)
	if !ok {
		return nil, ErrUnknownBufferProxy
	}

	var subs []envelope.SubMessage
	var batchType envelope.Type

	switch msg.Kind {
	case buffer.MessageInsert:
		batchType = envelope.InsertBatch
		pos := msg.StartPos
		for _, r := range msg.NewText {
			ch := proxy.CRDT.HandleLocalInsert(r, pos)
			subs = append(subs, envelope.SubMessage{
				TextBufferProxyID: msg.TextBufferProxyID,
				CharObject:        toWireCharacter(ch),
			})
			pos = advancePosition(pos, r)
		}
	case buffer.MessageDelete:
		batchType = envelope.DeleteBatch
		removed := proxy.CRDT.HandleLocalDelete(msg.StartPos, msg.EndPos)
		for _, ch := range removed {
			subs = append(subs, envelope.SubMessage{
				TextBufferProxyID: msg.TextBufferProxyID,
				CharObject:        toWireCharacter(ch),
			})
		}
	default:
		return nil, fmt.Errorf("portal: unknown message kind %v", msg.Kind)
	}

	if len(targets) == 0 || len(subs) == 0 {
		return nil, nil
	}
	return h.buildBatches(batchType, targets, subs)
}

func (h *HostBinding) buildBatches(t envelope.Type, targets []string, subs []envelope.SubMessage) ([]envelope.Envelope, error) {
	var out []envelope.Envelope
	for _, batch := range envelope.Fragment(subs) {
		env, err := envelope.NewBuilder(t).
			Sender(h.localPeerID).
			Targets(targets).
			PortalHost(h.localPeerID).
			MessageBatch(batch).
			Build()
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

// HandleRemote dispatches one inbound envelope already accepted by the host
// filter (§4.7), returning any envelopes that should now be published
// outward.
func (h *HostBinding) HandleRemote(env envelope.Envelope) ([]envelope.Envelope, error) {
	switch env.Type() {
	case envelope.LocalPeerID:
		return h.handleLocalPeerID(env)
	case envelope.JoinPortalRequest:
		return h.handleJoinRequest(env)
	case envelope.SiteIDAcknowledgement:
		return h.handleSiteIDAcknowledgement(env)
	case envelope.Insert:
		return h.handleRemoteCharOp(env, true)
	case envelope.Delete:
		return h.handleRemoteCharOp(env, false)
	case envelope.LeavePortalRequest:
		return h.handleLeaveRequest(env)
	default:
		logger.Debug("host binding: ignoring unhandled envelope type", "type", env.Type())
		return nil, nil
	}
}

func (h *HostBinding) handleLocalPeerID(env envelope.Envelope) ([]envelope.Envelope, error) {
	h.mu.Lock()
	h.localPeerID = env.Body().LocalPeerID
	h.mu.Unlock()

	out, err := envelope.NewBuilder(envelope.AcceptedPeerID).
		Flag(envelope.FlagServer).
		Build()
	if err != nil {
		return nil, err
	}
	return []envelope.Envelope{out}, nil
}

// handleJoinRequest assigns the next guest site ID (spec.md §4.5).
func (h *HostBinding) handleJoinRequest(env envelope.Envelope) ([]envelope.Envelope, error) {
	h.mu.Lock()
	siteID := h.nextGuestSiteID
	h.nextGuestSiteID++
	h.mu.Unlock()

	out, err := envelope.NewBuilder(envelope.SiteIDAssignment).
		Sender(h.localPeerID).
		Target(env.Header().SenderPeerID).
		PortalHost(h.localPeerID).
		SiteID(siteID).
		Build()
	if err != nil {
		return nil, err
	}
	return []envelope.Envelope{out}, nil
}

// handleSiteIDAcknowledgement records the new guest's metadata, accepts the
// join, and streams the current document state as INSERT_BATCH envelopes
// (spec.md §4.5).
func (h *HostBinding) handleSiteIDAcknowledgement(env envelope.Envelope) ([]envelope.Envelope, error) {
	guestPeerID := env.Header().SenderPeerID
	body := env.Body()
	if body.SiteID == nil {
		return nil, ErrInvalidState
	}

	h.mu.Lock()
	if _, exists := h.guestMeta[guestPeerID]; exists {
		h.mu.Unlock()
		return nil, ErrDuplicateSiteID
	}
	h.guestMeta[guestPeerID] = guestMetadata{SiteID: *body.SiteID, Username: body.Username}
	h.usernameBySID[*body.SiteID] = body.Username
	h.guestPeerIDs = append(h.guestPeerIDs, guestPeerID)
	h.mu.Unlock()

	accepted, err := envelope.NewBuilder(envelope.JoinRequestAccepted).
		Sender(h.localPeerID).
		Target(guestPeerID).
		PortalHost(h.localPeerID).
		Username(h.username).
		Build()
	if err != nil {
		return nil, err
	}

	out := []envelope.Envelope{accepted}
	for _, proxyID := range h.proxies.ids() {
		proxy, _ := h.proxies.get(proxyID)
		snapshot := snapshotSubMessages(proxyID, proxy)
		for _, batch := range envelope.Fragment(snapshot) {
			env, err := envelope.NewBuilder(envelope.InsertBatch).
				Sender(h.localPeerID).
				Target(guestPeerID).
				PortalHost(h.localPeerID).
				MessageBatch(batch).
				Build()
			if err != nil {
				return nil, err
			}
			out = append(out, env)
		}
	}
	return out, nil
}

func snapshotSubMessages(proxyID string, proxy *bufferProxy) []envelope.SubMessage {
	la := proxy.CRDT.LineArray()
	var subs []envelope.SubMessage
	for _, line := range la.Lines {
		for _, ch := range line.Chars {
			subs = append(subs, envelope.SubMessage{
				TextBufferProxyID: proxyID,
				CharObject:        toWireCharacter(ch),
			})
		}
	}
	return subs
}

// handleRemoteCharOp applies a guest INSERT/DELETE to the corresponding CRDT
// and forwards it to every other guest (spec.md §4.5 "forward to all other
// guests"): copy the envelope, removing the sender from targetPeerIds.
func (h *HostBinding) handleRemoteCharOp(env envelope.Envelope, isInsert bool) ([]envelope.Envelope, error) {
	body := env.Body()
	proxy, ok := h.proxies.get(body.TextBufferProxyID)
	if !ok {
		return nil, ErrUnknownBufferProxy
	}

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

	h.mu.Lock()
	targets := make([]string, 0, len(h.guestPeerIDs))
	for _, g := range h.guestPeerIDs {
		if g != env.Header().SenderPeerID {
			targets = append(targets, g)
		}
	}
	h.mu.Unlock()
	if len(targets) == 0 {
		return nil, nil
	}

	forward, err := envelope.NewBuilder(env.Type()).
		Sender(env.Header().SenderPeerID).
		Targets(targets).
		PortalHost(h.localPeerID).
		TextBufferProxyID(body.TextBufferProxyID).
		CharObject(body.CharObject).
		Build()
	if err != nil {
		return nil, err
	}
	return []envelope.Envelope{forward}, nil
}

func (h *HostBinding) handleLeaveRequest(env envelope.Envelope) ([]envelope.Envelope, error) {
	h.mu.Lock()
	peerID := env.Header().SenderPeerID
	for i, g := range h.guestPeerIDs {
		if g == peerID {
			h.guestPeerIDs = append(h.guestPeerIDs[:i], h.guestPeerIDs[i+1:]...)
			break
		}
	}
	delete(h.guestMeta, peerID)
	h.mu.Unlock()

	ack, err := envelope.NewBuilder(envelope.JoinRequestAccepted).
		Sender(h.localPeerID).
		Target(peerID).
		PortalHost(h.localPeerID).
		Build()
	if err != nil {
		return nil, err
	}
	return []envelope.Envelope{ack}, nil
}

// GuestPeerIDs returns a snapshot of the currently-joined guest peer IDs.
func (h *HostBinding) GuestPeerIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.guestPeerIDs...)
}
