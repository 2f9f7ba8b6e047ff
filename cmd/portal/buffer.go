package main

import (
	"strings"
	"sync"

	"github.com/dstrand/portal/internal/buffer"
	"github.com/dstrand/portal/internal/crdt"
)

// memBuffer is an in-memory ExternalTextBuffer stand-in for the CLI demo —
// spec.md §1 scopes the real editor integration out, so this is the
// smallest thing that satisfies the interface and lets `portal host`/`portal
// join` exercise the library end-to-end.
type memBuffer struct {
	mu    sync.Mutex
	lines []string
	subs  map[int]func(buffer.ChangeEvent)
	next  int
}

func newMemBuffer(initial string) *memBuffer {
	return &memBuffer{
		lines: splitLines(initial),
		subs:  make(map[int]func(buffer.ChangeEvent)),
	}
}

func splitLines(text string) []string {
	if text == "" {
		return []string{""}
	}
	return strings.Split(text, "\n")
}

func (b *memBuffer) Snapshot() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}

func (b *memBuffer) InsertAt(pos crdt.Position, text string) error {
	b.mu.Lock()
	b.ensureLine(pos.LineIndex)
	line := b.lines[pos.LineIndex]
	col := clamp(pos.CharIndex, len(line))
	merged := line[:col] + text + line[col:]
	inserted := splitLines(merged)
	b.lines = append(b.lines[:pos.LineIndex], append(inserted, b.lines[pos.LineIndex+1:]...)...)
	b.mu.Unlock()

	b.notify(buffer.ChangeEvent{
		OldRange: buffer.Range{Start: pos, End: pos},
		NewRange: buffer.Range{Start: pos, End: advance(pos, text)},
		NewText:  text,
	})
	return nil
}

func (b *memBuffer) DeleteRange(r buffer.Range) error {
	b.mu.Lock()
	removed := b.extractLocked(r)
	b.mu.Unlock()

	b.notify(buffer.ChangeEvent{
		OldRange: r,
		NewRange: buffer.Range{Start: r.Start, End: r.Start},
		OldText:  removed,
	})
	return nil
}

func (b *memBuffer) extractLocked(r buffer.Range) string {
	b.ensureLine(r.End.LineIndex)
	if r.Start.LineIndex == r.End.LineIndex {
		line := b.lines[r.Start.LineIndex]
		start, end := clamp(r.Start.CharIndex, len(line)), clamp(r.End.CharIndex, len(line))
		removed := line[start:end]
		b.lines[r.Start.LineIndex] = line[:start] + line[end:]
		return removed
	}

	var removed strings.Builder
	startLine := b.lines[r.Start.LineIndex]
	startCol := clamp(r.Start.CharIndex, len(startLine))
	removed.WriteString(startLine[startCol:])
	for i := r.Start.LineIndex + 1; i < r.End.LineIndex; i++ {
		removed.WriteString("\n")
		removed.WriteString(b.lines[i])
	}
	endLine := b.lines[r.End.LineIndex]
	endCol := clamp(r.End.CharIndex, len(endLine))
	removed.WriteString("\n")
	removed.WriteString(endLine[:endCol])

	merged := startLine[:startCol] + endLine[endCol:]
	b.lines = append(b.lines[:r.Start.LineIndex], append([]string{merged}, b.lines[r.End.LineIndex+1:]...)...)
	return removed.String()
}

func (b *memBuffer) ensureLine(n int) {
	for n >= len(b.lines) {
		b.lines = append(b.lines, "")
	}
}

func clamp(n, max int) int {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}

func advance(pos crdt.Position, text string) crdt.Position {
	line, col := pos.LineIndex, pos.CharIndex
	for _, r := range text {
		if r == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}
	return crdt.Position{LineIndex: line, CharIndex: col}
}

func (b *memBuffer) OnChange(f func(buffer.ChangeEvent)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = f
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *memBuffer) notify(ev buffer.ChangeEvent) {
	b.mu.Lock()
	subs := make([]func(buffer.ChangeEvent), 0, len(b.subs))
	for _, f := range b.subs {
		subs = append(subs, f)
	}
	b.mu.Unlock()
	for _, f := range subs {
		f(ev)
	}
}
