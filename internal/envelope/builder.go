package envelope

// Builder accumulates header and body fields for one envelope, following the
// teacher's fluent-construction convention. Build validates required header
// fields and returns an immutable Envelope.
type Builder struct {
	header Header
	body   Body
}

// NewBuilder starts a builder for the given type.
func NewBuilder(t Type) *Builder {
	return &Builder{header: Header{Type: t}}
}

func (b *Builder) Sender(peerID string) *Builder {
	b.header.SenderPeerID = peerID
	return b
}

func (b *Builder) Target(peerID string) *Builder {
	b.header.TargetPeerID = peerID
	return b
}

func (b *Builder) Targets(peerIDs []string) *Builder {
	b.header.TargetPeerIDs = append([]string(nil), peerIDs...)
	return b
}

func (b *Builder) PortalHost(peerID string) *Builder {
	b.header.PortalHostPeerID = peerID
	return b
}

func (b *Builder) Flag(f Flag) *Builder {
	b.header.Flag = f
	return b
}

func (b *Builder) TextBufferProxyID(id string) *Builder {
	b.body.TextBufferProxyID = id
	return b
}

func (b *Builder) CharObject(c WireCharacter) *Builder {
	b.body.CharObject = c
	return b
}

func (b *Builder) StartPos(p Position) *Builder {
	b.body.StartPos = &p
	return b
}

func (b *Builder) EndPos(p Position) *Builder {
	b.body.EndPos = &p
	return b
}

func (b *Builder) NewText(text string) *Builder {
	b.body.NewText = text
	return b
}

func (b *Builder) SiteID(id int) *Builder {
	b.body.SiteID = &id
	return b
}

func (b *Builder) Username(name string) *Builder {
	b.body.Username = name
	return b
}

func (b *Builder) MessageBatch(batch []SubMessage) *Builder {
	b.body.MessageBatch = batch
	return b
}

func (b *Builder) LocalPeerID(id string) *Builder {
	b.body.LocalPeerID = id
	return b
}

func (b *Builder) AssignedPeerID(id string) *Builder {
	b.body.AssignedPeerID = id
	return b
}

func (b *Builder) SessionDescription(sd string) *Builder {
	b.body.SessionDescription = sd
	return b
}

func (b *Builder) ICECandidate(c string) *Builder {
	b.body.ICECandidate = c
	return b
}

// Build validates the accumulated header and returns an immutable Envelope.
// An unknown type, or a missing sender on any type other than
// ASSIGN_PEER_ID, LOCAL_PEER_ID and ACCEPTED_PEER_ID, is rejected (spec.md §7
// "Protocol" kind: missing required header field).
func (b *Builder) Build() (Envelope, error) {
	if !IsKnown(b.header.Type) {
		return Envelope{}, ErrUnknownType
	}
	switch b.header.Type {
	case AssignPeerID, LocalPeerID, AcceptedPeerID:
		// Server-originated or server-flagged: no peer sender to require.
	default:
		if b.header.SenderPeerID == "" {
			return Envelope{}, ErrMissingField
		}
	}
	return Envelope{header: b.header, body: b.body}, nil
}
