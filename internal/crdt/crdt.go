// Package crdt implements the position-identifier CRDT (spec.md §4.1): a
// line-array document model where every character carries a dense,
// site-tagged identifier sequence that totally orders it against every other
// character ever produced by any replica, so that applying the same
// multiset of inserts/deletes in any order converges to the same document.
//
// This is the algorithm Atom's teletype-crdt exposes behaviourally rather
// than structurally — spec.md §1 is explicit that "the CRDT algorithm's
// construction of identifier sequences is described behaviourally, not
// derived" — so the generator (generate.go) is original to this package,
// built from that behavioural description rather than ported from any
// example repo. The surrounding contract (Merge-style convergence, doc
// comment register) follows cshekharsharma/go-crdt's RGA.
package crdt

import (
	"math/rand/v2"
	"sync"

	"github.com/dstrand/portal/internal/ids"
)

// CRDT holds one replica's state for one document: its site ID and the
// materialized line array. One CRDT exists per buffer proxy (spec.md §3
// Lifecycle).
type CRDT struct {
	mu sync.Mutex

	siteID int
	doc    LineArray
	rng    *rand.Rand

	// tombstones holds identifier sequences deleted before their insert was
	// ever observed locally (spec.md §5 "Limitation"). A later
	// HandleRemoteInsert for the same sequence is then a no-op instead of
	// resurrecting a character its author already deleted.
	tombstones map[string]struct{}
}

// New creates a CRDT for siteID with an empty single-line document.
func New(siteID int) *CRDT {
	return &CRDT{
		siteID:     siteID,
		doc:        NewLineArray(),
		rng:        rand.New(rand.NewPCG(uint64(siteID), 0xC0FFEE)),
		tombstones: make(map[string]struct{}),
	}
}

// SiteID returns this replica's site ID.
func (c *CRDT) SiteID() int {
	return c.siteID
}

// Text returns the current document contents as a string. LineArray()
// returns the same content with its line structure and identifiers.
func (c *CRDT) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Text()
}

// LineArray returns a snapshot copy of the document's line structure.
func (c *CRDT) LineArray() LineArray {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := make([]Line, len(c.doc.Lines))
	for i, l := range c.doc.Lines {
		lines[i] = Line{Chars: append([]Character{}, l.Chars...)}
	}
	return LineArray{Lines: lines}
}

// HandleLocalInsert synthesises a fresh identifier sequence strictly between
// pos's neighbours, splices the character into the document, and returns it
// so the caller can broadcast it to other replicas.
func (c *CRDT) HandleLocalInsert(value rune, pos Position) Character {
	c.mu.Lock()
	defer c.mu.Unlock()

	var leftSeq, rightSeq ids.Sequence
	if before, ok := c.doc.Before(pos); ok {
		leftSeq = before.IDSeq
	}
	if after, ok := c.doc.After(pos); ok {
		rightSeq = after.IDSeq
	}

	seq := generateBetween(leftSeq, rightSeq, c.siteID, c.rng)
	ch := Character{Value: value, IDSeq: seq}
	c.doc.InsertAt(pos, ch)
	return ch
}

// HandleLocalDelete removes the characters in [start, end) and returns them
// in document order, for the caller to broadcast as DELETE operations.
func (c *CRDT) HandleLocalDelete(start, end Position) []Character {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Count up front, from the pristine document: start stays a valid
	// "next character to remove" reference across line merges (a merge at
	// start always splices the following line's characters in starting
	// exactly at start.CharIndex), so repeatedly removing at start is
	// equivalent to removing the whole [start, end) range in document order.
	count := c.doc.FlatIndex(end) - c.doc.FlatIndex(start)
	var removed []Character
	for i := 0; i < count; i++ {
		removed = append(removed, c.doc.RemoveAt(start))
	}
	return removed
}

// HandleRemoteInsert places ch at the unique position consistent with its
// identifier sequence. If that sequence already exists in the document, or
// was already tombstoned by an out-of-order remote delete, this is a no-op
// (applied=false) — idempotence (P2) and the delete-before-insert limitation
// (spec.md §5) both fall out of this one check.
func (c *CRDT) HandleRemoteInsert(ch Character) (flatIndex int, pos Position, applied bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := ch.IDSeq.String()
	if _, tombstoned := c.tombstones[key]; tombstoned {
		delete(c.tombstones, key)
		return 0, Position{}, false
	}

	lineIdx, charIdx, found := c.doc.Locate(ch.IDSeq)
	if found {
		return 0, Position{}, false
	}

	pos = Position{LineIndex: lineIdx, CharIndex: charIdx}
	flatIndex = c.doc.FlatIndex(pos)
	c.doc.InsertAt(pos, ch)
	return flatIndex, pos, true
}

// HandleRemoteDelete removes the character identified by seq. If it isn't
// present yet — the delete arrived before its insert — seq is tombstoned so
// the eventual HandleRemoteInsert is suppressed instead of resurrecting
// already-deleted content.
func (c *CRDT) HandleRemoteDelete(seq ids.Sequence) (pos Position, applied bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lineIdx, charIdx, found := c.doc.Locate(seq)
	if !found {
		c.tombstones[seq.String()] = struct{}{}
		return Position{}, false
	}

	pos = Position{LineIndex: lineIdx, CharIndex: charIdx}
	c.doc.RemoveAt(pos)
	return pos, true
}
