package portal

import (
	"testing"

	"github.com/dstrand/portal/internal/buffer"
	"github.com/dstrand/portal/internal/crdt"
	"github.com/dstrand/portal/internal/envelope"
)

func mustBuild(t *testing.T, b *envelope.Builder) envelope.Envelope {
	t.Helper()
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return e
}

func TestHostFilterAcceptsDirectTarget(t *testing.T) {
	f := HostFilter("host-1")
	if !f(envelope.Header{TargetPeerID: "host-1"}) {
		t.Fatalf("expected direct target to be accepted")
	}
	if f(envelope.Header{TargetPeerID: "other"}) {
		t.Fatalf("expected mismatched target to be rejected")
	}
}

func TestHostFilterAcceptsUntargetedServerMessage(t *testing.T) {
	f := HostFilter("host-1")
	if !f(envelope.Header{Flag: envelope.FlagServer}) {
		t.Fatalf("expected untargeted server message to be accepted")
	}
	if f(envelope.Header{Flag: envelope.FlagPeer}) {
		t.Fatalf("expected untargeted peer message to be rejected")
	}
}

func TestGuestFilter(t *testing.T) {
	f := GuestFilter("host-1", "guest-1")
	if !f(envelope.Header{SenderPeerID: "host-1", TargetPeerID: "guest-1"}) {
		t.Fatalf("expected direct target from host to be accepted")
	}
	if !f(envelope.Header{SenderPeerID: "host-1", TargetPeerIDs: []string{"guest-2", "guest-1"}}) {
		t.Fatalf("expected target-in-list from host to be accepted")
	}
	if f(envelope.Header{SenderPeerID: "someone-else", TargetPeerID: "guest-1"}) {
		t.Fatalf("expected message from a non-host sender to be rejected")
	}
	if f(envelope.Header{SenderPeerID: "host-1", TargetPeerID: "guest-2"}) {
		t.Fatalf("expected message targeting a different guest to be rejected")
	}
}

func TestGuestJoinProtocolHappyPath(t *testing.T) {
	g := NewGuestBinding("host-1", "guest-1", "amber-otter")
	if g.State() != StateInit {
		t.Fatalf("initial state = %v, want INIT", g.State())
	}

	if _, err := g.SendJoin(); err != nil {
		t.Fatalf("SendJoin: %v", err)
	}
	if g.State() != StateWaitingSiteID {
		t.Fatalf("state after SendJoin = %v, want WAITING_SITE_ID", g.State())
	}

	siteID := 2
	assignment := mustBuild(t, envelope.NewBuilder(envelope.SiteIDAssignment).
		Sender("host-1").Target("guest-1").PortalHost("host-1").SiteID(siteID))
	out, err := g.HandleRemote(assignment)
	if err != nil {
		t.Fatalf("HandleRemote(assignment): %v", err)
	}
	if g.State() != StateAckSiteID {
		t.Fatalf("state after assignment = %v, want ACK_SITE_ID", g.State())
	}
	if len(out) != 1 || out[0].Type() != envelope.SiteIDAcknowledgement {
		t.Fatalf("expected one SITE_ID_ACKNOWLEDGEMENT, got %+v", out)
	}
	if g.SiteID() != siteID {
		t.Fatalf("SiteID() = %d, want %d", g.SiteID(), siteID)
	}

	accepted := mustBuild(t, envelope.NewBuilder(envelope.JoinRequestAccepted).
		Sender("host-1").Target("guest-1").PortalHost("host-1"))
	if _, err := g.HandleRemote(accepted); err != nil {
		t.Fatalf("HandleRemote(accepted): %v", err)
	}
	if g.State() != StateActive {
		t.Fatalf("state after accept = %v, want ACTIVE", g.State())
	}

	if _, err := g.SendLeave(); err != nil {
		t.Fatalf("SendLeave: %v", err)
	}
	if g.State() != StateLeaving {
		t.Fatalf("state after SendLeave = %v, want LEAVING", g.State())
	}

	leaveAck := mustBuild(t, envelope.NewBuilder(envelope.JoinRequestAccepted).
		Sender("host-1").Target("guest-1").PortalHost("host-1"))
	if _, err := g.HandleRemote(leaveAck); err != nil {
		t.Fatalf("HandleRemote(leaveAck): %v", err)
	}
	if g.State() != StateClosed {
		t.Fatalf("state after leave ack = %v, want CLOSED", g.State())
	}
}

func TestGuestTimeoutClosesFromLeaving(t *testing.T) {
	g := NewGuestBinding("host-1", "guest-1", "amber-otter")
	g.state = StateLeaving
	g.Timeout()
	if g.State() != StateClosed {
		t.Fatalf("state after timeout = %v, want CLOSED", g.State())
	}
}

// TestHostJoinAndSnapshot exercises scenario 4 (spec.md §8): a host with an
// existing document streams it to a newly-joined guest as INSERT_BATCH
// envelopes, and the guest's resulting document matches the host's.
func TestHostJoinAndSnapshot(t *testing.T) {
	h := NewHostBinding("host-1", "host-username")
	h.RegisterBuffer("buf-1", nil, "hello world", nil)

	join := mustBuild(t, envelope.NewBuilder(envelope.JoinPortalRequest).
		Sender("guest-1").Target("host-1").PortalHost("host-1"))
	out, err := h.HandleRemote(join)
	if err != nil {
		t.Fatalf("HandleRemote(join): %v", err)
	}
	if len(out) != 1 || out[0].Type() != envelope.SiteIDAssignment {
		t.Fatalf("expected one SITE_ID_ASSIGNMENT, got %+v", out)
	}
	siteID := *out[0].Body().SiteID
	if siteID != 2 {
		t.Fatalf("siteID = %d, want 2", siteID)
	}

	ack := mustBuild(t, envelope.NewBuilder(envelope.SiteIDAcknowledgement).
		Sender("guest-1").Target("host-1").PortalHost("host-1").SiteID(siteID).Username("g"))
	out, err = h.HandleRemote(ack)
	if err != nil {
		t.Fatalf("HandleRemote(ack): %v", err)
	}

	var accepted envelope.Envelope
	var snapshotBatches []envelope.Envelope
	for _, e := range out {
		if e.Type() == envelope.JoinRequestAccepted {
			accepted = e
		} else {
			snapshotBatches = append(snapshotBatches, e)
		}
	}
	if accepted.Type() != envelope.JoinRequestAccepted {
		t.Fatalf("expected a JOIN_REQUEST_ACCEPTED, got %+v", out)
	}
	wantBatches := 1 // len("hello world") == 11, ceil(11/32) == 1
	if len(snapshotBatches) != wantBatches {
		t.Fatalf("got %d snapshot batches, want %d", len(snapshotBatches), wantBatches)
	}

	// Apply the snapshot to a guest and check convergence.
	g := NewGuestBinding("host-1", "guest-1", "g")
	g.state = StateActive
	for _, batch := range snapshotBatches {
		if _, err := g.HandleRemote(batch); err != nil {
			t.Fatalf("guest HandleRemote(batch): %v", err)
		}
	}
	gProxy, ok := g.proxies.get("buf-1")
	if !ok {
		t.Fatalf("expected guest to have created buf-1 proxy on snapshot receipt")
	}
	if got := gProxy.CRDT.Text(); got != "hello world" {
		t.Fatalf("guest text = %q, want %q", got, "hello world")
	}
}

// TestForwardingTopology exercises scenario 5 (spec.md §8): an INSERT from
// one guest is applied at the host and forwarded to every *other* guest,
// with the sender removed from targetPeerIds.
func TestForwardingTopology(t *testing.T) {
	h := NewHostBinding("host-1", "h")
	h.RegisterBuffer("buf-1", nil, "", nil)
	h.guestPeerIDs = []string{"guest-1", "guest-2"}

	c := crdt.New(2)
	ch := c.HandleLocalInsert('x', crdt.Position{0, 0})

	insert := mustBuild(t, envelope.NewBuilder(envelope.Insert).
		Sender("guest-1").Target("host-1").PortalHost("host-1").
		TextBufferProxyID("buf-1").CharObject(toWireCharacter(ch)))

	out, err := h.HandleRemote(insert)
	if err != nil {
		t.Fatalf("HandleRemote: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one forwarded envelope, got %d", len(out))
	}
	fwd := out[0]
	if fwd.Header().SenderPeerID != "guest-1" {
		t.Fatalf("forwarded sender = %q, want guest-1", fwd.Header().SenderPeerID)
	}
	if len(fwd.Header().TargetPeerIDs) != 1 || fwd.Header().TargetPeerIDs[0] != "guest-2" {
		t.Fatalf("forwarded targets = %v, want [guest-2]", fwd.Header().TargetPeerIDs)
	}

	proxy, _ := h.proxies.get("buf-1")
	if got := proxy.CRDT.Text(); got != "x" {
		t.Fatalf("host text = %q, want %q", got, "x")
	}
}

// TestHostBatchesLocalEditsAt32 exercises P7: 100 local insertions emit
// exactly ceil(100/32) = 4 batches.
func TestHostBatchesLocalEditsAt32(t *testing.T) {
	h := NewHostBinding("host-1", "h")
	h.RegisterBuffer("buf-1", nil, "", nil)
	h.guestPeerIDs = []string{"guest-1"}

	text := ""
	for i := 0; i < 100; i++ {
		text += "a"
	}
	msg := buffer.Message{
		Kind:              buffer.MessageInsert,
		TextBufferProxyID: "buf-1",
		StartPos:          crdt.Position{0, 0},
		NewText:           text,
	}
	out, err := h.HandleLocalEdit(msg)
	if err != nil {
		t.Fatalf("HandleLocalEdit: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("got %d batches, want 4", len(out))
	}
	total := 0
	for _, e := range out {
		if e.Type() != envelope.InsertBatch {
			t.Fatalf("batch type = %v, want INSERT_BATCH", e.Type())
		}
		total += len(e.Body().MessageBatch)
	}
	if total != 100 {
		t.Fatalf("total sub-messages = %d, want 100", total)
	}
}

// TestHostMultiLineInsertPlacesCharactersAcrossLines guards against the
// position-advancement bug where a rune following an embedded '\n' in a
// single insert message was placed on the same line as the newline instead
// of at the start of the next one.
func TestHostMultiLineInsertPlacesCharactersAcrossLines(t *testing.T) {
	h := NewHostBinding("host-1", "h")
	h.RegisterBuffer("buf-1", nil, "", nil)

	msg := buffer.Message{
		Kind:              buffer.MessageInsert,
		TextBufferProxyID: "buf-1",
		StartPos:          crdt.Position{0, 0},
		NewText:           "ab\ncd",
	}
	if _, err := h.HandleLocalEdit(msg); err != nil {
		t.Fatalf("HandleLocalEdit: %v", err)
	}

	proxy, _ := h.proxies.get("buf-1")
	if got := proxy.CRDT.Text(); got != "ab\ncd" {
		t.Fatalf("host text = %q, want %q", got, "ab\ncd")
	}
	lines := proxy.CRDT.LineArray().Lines
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if got := string(runesOf(lines[0].Chars)); got != "ab\n" {
		t.Fatalf("line 0 = %q, want %q", got, "ab\n")
	}
	if got := string(runesOf(lines[1].Chars)); got != "cd" {
		t.Fatalf("line 1 = %q, want %q", got, "cd")
	}
}

// TestGuestMultiLineInsertPlacesCharactersAcrossLines is the guest-side
// counterpart of TestHostMultiLineInsertPlacesCharactersAcrossLines.
func TestGuestMultiLineInsertPlacesCharactersAcrossLines(t *testing.T) {
	g := NewGuestBinding("host-1", "guest-1", "g")
	g.state = StateActive
	g.proxies.attachBuffer("buf-1", 2, nil, nil)

	msg := buffer.Message{
		Kind:              buffer.MessageInsert,
		TextBufferProxyID: "buf-1",
		StartPos:          crdt.Position{0, 0},
		NewText:           "ab\ncd",
	}
	if _, err := g.HandleLocalEdit(msg); err != nil {
		t.Fatalf("HandleLocalEdit: %v", err)
	}

	proxy, _ := g.proxies.get("buf-1")
	if got := proxy.CRDT.Text(); got != "ab\ncd" {
		t.Fatalf("guest text = %q, want %q", got, "ab\ncd")
	}
}

func runesOf(chars []crdt.Character) []rune {
	out := make([]rune, len(chars))
	for i, c := range chars {
		out[i] = c.Value
	}
	return out
}

func TestDuplicateSiteIDAcknowledgementRejected(t *testing.T) {
	h := NewHostBinding("host-1", "h")
	ack := mustBuild(t, envelope.NewBuilder(envelope.SiteIDAcknowledgement).
		Sender("guest-1").Target("host-1").PortalHost("host-1").SiteID(2).Username("g"))
	if _, err := h.HandleRemote(ack); err != nil {
		t.Fatalf("first ack: %v", err)
	}
	if _, err := h.HandleRemote(ack); err == nil {
		t.Fatalf("expected duplicate acknowledgement to error")
	}
}
