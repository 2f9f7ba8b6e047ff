package buffer

import (
	"testing"

	"github.com/dstrand/portal/internal/crdt"
)

// fakeBuffer is a minimal ExternalTextBuffer: it just records calls and lets
// the test manually fire change events, simulating what a real editor buffer
// would report.
type fakeBuffer struct {
	inserts []string
	deletes []Range
	cb      func(ChangeEvent)
}

func (f *fakeBuffer) InsertAt(pos crdt.Position, text string) error {
	f.inserts = append(f.inserts, text)
	if f.cb != nil {
		f.cb(ChangeEvent{
			NewRange: Range{Start: pos, End: crdt.Position{LineIndex: pos.LineIndex, CharIndex: pos.CharIndex + len([]rune(text))}},
			NewText:  text,
		})
	}
	return nil
}

func (f *fakeBuffer) DeleteRange(r Range) error {
	f.deletes = append(f.deletes, r)
	if f.cb != nil {
		f.cb(ChangeEvent{OldRange: r, OldText: "x"})
	}
	return nil
}

func (f *fakeBuffer) OnChange(cb func(ChangeEvent)) func() {
	f.cb = cb
	return func() { f.cb = nil }
}

func TestAdapterEmitsLocalInsert(t *testing.T) {
	fb := &fakeBuffer{}
	var got []Message
	a := NewAdapter("proxy-1", fb, func(m Message) { got = append(got, m) })
	defer a.Close()

	fb.cb(ChangeEvent{
		NewRange: Range{Start: crdt.Position{0, 0}, End: crdt.Position{0, 1}},
		NewText:  "a",
	})

	if len(got) != 1 || got[0].Kind != MessageInsert || got[0].NewText != "a" {
		t.Fatalf("got %+v", got)
	}
}

func TestAdapterSuppressesRemoteEcho(t *testing.T) {
	fb := &fakeBuffer{}
	var got []Message
	a := NewAdapter("proxy-1", fb, func(m Message) { got = append(got, m) })
	defer a.Close()

	if err := a.ApplyInsert(crdt.Position{0, 0}, "b"); err != nil {
		t.Fatalf("ApplyInsert: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected remote insert to be suppressed, got %+v", got)
	}
	if len(fb.inserts) != 1 {
		t.Fatalf("expected the underlying buffer to still receive the insert")
	}
}

func TestAdapterDoesNotSuppressUnrelatedLocalEdit(t *testing.T) {
	fb := &fakeBuffer{}
	var got []Message
	a := NewAdapter("proxy-1", fb, func(m Message) { got = append(got, m) })
	defer a.Close()

	if err := a.ApplyInsert(crdt.Position{0, 0}, "b"); err != nil {
		t.Fatalf("ApplyInsert: %v", err)
	}
	got = nil

	// A genuinely new local edit with a different shape must still surface.
	fb.cb(ChangeEvent{
		NewRange: Range{Start: crdt.Position{0, 5}, End: crdt.Position{0, 6}},
		NewText:  "z",
	})
	if len(got) != 1 {
		t.Fatalf("expected unrelated local edit to surface, got %+v", got)
	}
}

func TestFingerprintSetCapEviction(t *testing.T) {
	s := newFingerprintSet(2, defaultFingerprintTTL)
	s.add("a")
	s.add("b")
	s.add("c") // evicts "a"

	if s.consume("a") {
		t.Fatalf("expected \"a\" to have been evicted")
	}
	if !s.consume("b") {
		t.Fatalf("expected \"b\" to still be present")
	}
	if !s.consume("c") {
		t.Fatalf("expected \"c\" to still be present")
	}
}

func TestFingerprintConsumeIsOneShot(t *testing.T) {
	s := newFingerprintSet(defaultFingerprintCap, defaultFingerprintTTL)
	s.add("k")
	if !s.consume("k") {
		t.Fatalf("expected first consume to find the key")
	}
	if s.consume("k") {
		t.Fatalf("expected second consume to find nothing")
	}
}
