// Package buffer adapts an external, UI-owned text buffer to the typed
// change messages the portal protocol replicates (spec.md §4.2, C2). It owns
// no document state of its own — the CRDT (internal/crdt) does — it only
// translates edit events in both directions and suppresses the echo that
// would otherwise occur when a remotely-applied edit is read back out of the
// external buffer as if it were a fresh local edit.
package buffer

import "github.com/dstrand/portal/internal/crdt"

// Range is a half-open [Start, End) span expressed in the external buffer's
// own line/column coordinates.
type Range struct {
	Start crdt.Position
	End   crdt.Position
}

// ChangeEvent is what an ExternalTextBuffer reports after a local edit:
// oldRange/newRange bracket the edit in before/after coordinates, oldText is
// what was there before, newText is what's there now.
type ChangeEvent struct {
	OldRange Range
	NewRange Range
	OldText  string
	NewText  string
}

// ExternalTextBuffer is the host-environment collaborator this adapter
// wraps — the actual editor's buffer. It is out of scope per spec.md §1; we
// only specify the interface the core requires of it.
type ExternalTextBuffer interface {
	// InsertAt inserts text at the given position.
	InsertAt(pos crdt.Position, text string) error
	// DeleteRange removes the half-open range.
	DeleteRange(r Range) error
	// OnChange registers a callback invoked after every local mutation
	// (including ones this adapter itself performed). Returns an
	// unsubscribe function, per spec.md §9's "explicit subscription
	// handles that release on drop" guidance.
	OnChange(func(ChangeEvent)) (unsubscribe func())
}

// Message is the typed output of watching an ExternalTextBuffer — one of the
// two C2 message kinds defined in spec.md §4.2.
type Message struct {
	Kind              MessageKind
	TextBufferProxyID string
	StartPos          crdt.Position
	EndPos            crdt.Position
	NewText           string
}

// MessageKind discriminates the two message shapes C2 emits.
type MessageKind int

const (
	MessageInsert MessageKind = iota
	MessageDelete
)

// Adapter watches one ExternalTextBuffer and translates its edits to/from
// the CRDT's Character-level operations, fingerprinting remote applications
// so they don't round-trip back out as new local edits.
type Adapter struct {
	ProxyID string
	buf     ExternalTextBuffer

	fp     *fingerprintSet
	unsub  func()
	onEdit func(Message)
}

// NewAdapter wires an Adapter to buf and starts watching it. onEdit is
// called for every local (non-suppressed) change event, translated to a
// Message ready for the portal binding to turn into an envelope.
func NewAdapter(proxyID string, buf ExternalTextBuffer, onEdit func(Message)) *Adapter {
	a := &Adapter{
		ProxyID: proxyID,
		buf:     buf,
		fp:      newFingerprintSet(defaultFingerprintCap, defaultFingerprintTTL),
		onEdit:  onEdit,
	}
	a.unsub = buf.OnChange(a.handleChange)
	return a
}

// Close stops watching the buffer.
func (a *Adapter) Close() {
	if a.unsub != nil {
		a.unsub()
		a.unsub = nil
	}
}

func (a *Adapter) handleChange(ev ChangeEvent) {
	if a.fp.consume(fingerprint(ev.OldRange, ev.OldText, ev.NewText)) {
		// This change event is the echo of an ApplyInsert/ApplyDelete call this
		// adapter itself made — drop it rather than re-emitting it as a
		// new local edit (spec.md §4.2 re-echo suppression, P4).
		return
	}

	if ev.NewText != "" {
		a.onEdit(Message{
			Kind:              MessageInsert,
			TextBufferProxyID: a.ProxyID,
			StartPos:          ev.NewRange.Start,
			NewText:           ev.NewText,
		})
	}
	if ev.OldText != "" {
		a.onEdit(Message{
			Kind:              MessageDelete,
			TextBufferProxyID: a.ProxyID,
			StartPos:          ev.OldRange.Start,
			EndPos:            ev.OldRange.End,
		})
	}
}

// ApplyInsert applies a remote insertion to the external buffer, registering
// a fingerprint first so the resulting ChangeEvent is recognised and
// suppressed instead of re-emitted.
func (a *Adapter) ApplyInsert(pos crdt.Position, text string) error {
	a.fp.add(fingerprint(Range{Start: pos, End: pos}, "", text))
	return a.buf.InsertAt(pos, text)
}

// ApplyDelete applies a remote deletion to the external buffer, registering
// a fingerprint first. oldText is what the adapter expects to find in that
// range — callers should pass the text they are about to remove (from the
// CRDT's own record of the deleted characters) so the fingerprint matches
// the ChangeEvent the buffer reports back.
func (a *Adapter) ApplyDelete(r Range, oldText string) error {
	a.fp.add(fingerprint(r, oldText, ""))
	return a.buf.DeleteRange(r)
}
