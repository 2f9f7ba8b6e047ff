package crdt

import (
	"sort"
	"strings"

	"github.com/dstrand/portal/internal/ids"
)

// Character is an immutable document character: a codepoint tagged with the
// dense identifier sequence that totally orders it against every other
// character ever produced in this CRDT. '\n' is a normal character like any
// other — it terminates the line it appears in.
type Character struct {
	Value rune
	IDSeq ids.Sequence
}

// Line is an ordered sequence of Characters. Every line except possibly the
// last ends with a '\n' Character.
type Line struct {
	Chars []Character
}

// Text renders the line's characters back to a Go string.
func (l Line) Text() string {
	var sb strings.Builder
	for _, c := range l.Chars {
		sb.WriteRune(c.Value)
	}
	return sb.String()
}

// Position addresses a character slot within a LineArray: lineIndex selects
// the line, charIndex is the insertion/char offset within that line (so
// charIndex == len(line.Chars) addresses "append to this line").
type Position struct {
	LineIndex int
	CharIndex int
}

// LineArray is the CRDT's materialized document: an ordered list of Lines
// satisfying the invariants in spec.md §3 — sorted within and across lines
// by IDSeq, with every non-final line ending in a newline Character.
type LineArray struct {
	Lines []Line
}

// NewLineArray returns a document containing a single empty line, the state
// every fresh CRDT (and every fresh buffer proxy) starts from.
func NewLineArray() LineArray {
	return LineArray{Lines: []Line{{}}}
}

// Before returns the Character immediately preceding pos, if any. false
// means pos addresses the very start of the document.
func (d *LineArray) Before(pos Position) (Character, bool) {
	if pos.CharIndex > 0 {
		return d.Lines[pos.LineIndex].Chars[pos.CharIndex-1], true
	}
	if pos.LineIndex == 0 {
		return Character{}, false
	}
	prev := d.Lines[pos.LineIndex-1]
	if len(prev.Chars) == 0 {
		return Character{}, false
	}
	return prev.Chars[len(prev.Chars)-1], true
}

// After returns the Character currently occupying pos (the one that would be
// pushed right by an insertion there), if any. false means pos addresses the
// very end of the document.
func (d *LineArray) After(pos Position) (Character, bool) {
	line := d.Lines[pos.LineIndex]
	if pos.CharIndex < len(line.Chars) {
		return line.Chars[pos.CharIndex], true
	}
	for li := pos.LineIndex + 1; li < len(d.Lines); li++ {
		if len(d.Lines[li].Chars) > 0 {
			return d.Lines[li].Chars[0], true
		}
	}
	return Character{}, false
}

// InsertAt splices ch into the document at pos, splitting the line in two
// when ch is a newline.
func (d *LineArray) InsertAt(pos Position, ch Character) {
	line := &d.Lines[pos.LineIndex]
	chars := make([]Character, 0, len(line.Chars)+1)
	chars = append(chars, line.Chars[:pos.CharIndex]...)
	chars = append(chars, ch)
	chars = append(chars, line.Chars[pos.CharIndex:]...)
	line.Chars = chars

	if ch.Value == '\n' {
		splitIdx := pos.CharIndex + 1
		rest := append([]Character{}, line.Chars[splitIdx:]...)
		line.Chars = line.Chars[:splitIdx]
		newLines := make([]Line, 0, len(d.Lines)+1)
		newLines = append(newLines, d.Lines[:pos.LineIndex+1]...)
		newLines = append(newLines, Line{Chars: rest})
		newLines = append(newLines, d.Lines[pos.LineIndex+1:]...)
		d.Lines = newLines
	}
}

// RemoveAt deletes the Character at pos, merging adjacent lines when the
// removed character was the newline terminating a non-final line.
func (d *LineArray) RemoveAt(pos Position) Character {
	line := &d.Lines[pos.LineIndex]
	removed := line.Chars[pos.CharIndex]
	line.Chars = append(line.Chars[:pos.CharIndex], line.Chars[pos.CharIndex+1:]...)

	if removed.Value == '\n' && pos.LineIndex+1 < len(d.Lines) {
		merged := append(line.Chars, d.Lines[pos.LineIndex+1].Chars...)
		d.Lines[pos.LineIndex] = Line{Chars: merged}
		d.Lines = append(d.Lines[:pos.LineIndex+1], d.Lines[pos.LineIndex+2:]...)
	}
	return removed
}

// FlatIndex returns the number of characters preceding pos in document
// order — the offset an external text buffer would use for this position.
func (d *LineArray) FlatIndex(pos Position) int {
	n := 0
	for i := 0; i < pos.LineIndex; i++ {
		n += len(d.Lines[i].Chars)
	}
	return n + pos.CharIndex
}

// Locate finds the unique position of seq in the document. found is false
// when no character with that identifier sequence currently exists; in that
// case lineIdx/charIdx name the insertion point that preserves order.
//
// Lines are scanned linearly (a line's last identifier bounds whether seq
// can live in it, since the document is globally increasing by IDSeq), then
// the line itself is binary-searched. This favors simplicity over the
// balanced-tree-of-lines a production implementation would use for very
// large documents.
func (d *LineArray) Locate(seq ids.Sequence) (lineIdx, charIdx int, found bool) {
	for li, line := range d.Lines {
		if len(line.Chars) == 0 {
			continue
		}
		last := line.Chars[len(line.Chars)-1].IDSeq
		if seq.Compare(last) > 0 {
			continue
		}
		idx := sort.Search(len(line.Chars), func(i int) bool {
			return line.Chars[i].IDSeq.Compare(seq) >= 0
		})
		if idx < len(line.Chars) && line.Chars[idx].IDSeq.Equal(seq) {
			return li, idx, true
		}
		return li, idx, false
	}
	last := len(d.Lines) - 1
	if last < 0 {
		return 0, 0, false
	}
	return last, len(d.Lines[last].Chars), false
}

// Text renders the entire document back to a Go string.
func (d *LineArray) Text() string {
	var sb strings.Builder
	for _, l := range d.Lines {
		sb.WriteString(l.Text())
	}
	return sb.String()
}

// Equal reports whether two documents contain the same characters (value +
// identifier) in the same line structure — the convergence property (P1)
// checked by the test suite.
func (d *LineArray) Equal(other *LineArray) bool {
	if len(d.Lines) != len(other.Lines) {
		return false
	}
	for i := range d.Lines {
		a, b := d.Lines[i].Chars, other.Lines[i].Chars
		if len(a) != len(b) {
			return false
		}
		for j := range a {
			if a[j].Value != b[j].Value || !a[j].IDSeq.Equal(b[j].IDSeq) {
				return false
			}
		}
	}
	return true
}
