package crdt

import "testing"

func TestLocalInsertAppend(t *testing.T) {
	c := New(1)
	c.HandleLocalInsert('a', Position{0, 0})
	c.HandleLocalInsert('b', Position{0, 1})
	c.HandleLocalInsert('c', Position{0, 2})
	if got := c.Text(); got != "abc" {
		t.Fatalf("Text() = %q, want %q", got, "abc")
	}
}

func TestLocalInsertInMiddle(t *testing.T) {
	c := New(1)
	for i, r := range "ac" {
		c.HandleLocalInsert(r, Position{0, i})
	}
	c.HandleLocalInsert('b', Position{0, 1})
	if got := c.Text(); got != "abc" {
		t.Fatalf("Text() = %q, want %q", got, "abc")
	}
}

func TestNewlineSplitsLine(t *testing.T) {
	c := New(1)
	for i, r := range "ab" {
		c.HandleLocalInsert(r, Position{0, i})
	}
	c.HandleLocalInsert('\n', Position{0, 1})
	c.HandleLocalInsert('c', Position{1, 0})
	if got := c.Text(); got != "a\ncb" {
		t.Fatalf("Text() = %q, want %q", got, "a\ncb")
	}
	la := c.LineArray()
	if len(la.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(la.Lines))
	}
}

func TestLocalDeleteMergesLines(t *testing.T) {
	c := New(1)
	c.HandleLocalInsert('a', Position{0, 0})
	c.HandleLocalInsert('\n', Position{0, 1})
	c.HandleLocalInsert('b', Position{1, 0})
	// document is now "a\nb" split into lines ["a\n", "b"]
	removed := c.HandleLocalDelete(Position{0, 1}, Position{1, 0})
	if len(removed) != 1 || removed[0].Value != '\n' {
		t.Fatalf("expected to remove the newline, got %v", removed)
	}
	if got := c.Text(); got != "ab" {
		t.Fatalf("Text() = %q, want %q", got, "ab")
	}
	la := c.LineArray()
	if len(la.Lines) != 1 {
		t.Fatalf("expected lines merged into 1, got %d", len(la.Lines))
	}
}

func TestLocalDeleteRange(t *testing.T) {
	c := New(1)
	for i, r := range "hello world" {
		c.HandleLocalInsert(r, Position{0, i})
	}
	removed := c.HandleLocalDelete(Position{0, 5}, Position{0, 11})
	if len(removed) != 6 {
		t.Fatalf("expected 6 removed characters, got %d", len(removed))
	}
	if got := c.Text(); got != "hello" {
		t.Fatalf("Text() = %q, want %q", got, "hello")
	}
}

func TestRemoteInsertIdempotent(t *testing.T) {
	c := New(2)
	ch := Character{Value: 'x', IDSeq: generateBetween(nil, nil, 2, c.rng)}

	_, _, applied1 := c.HandleRemoteInsert(ch)
	_, _, applied2 := c.HandleRemoteInsert(ch)
	if !applied1 {
		t.Fatalf("first remote insert should apply")
	}
	if applied2 {
		t.Fatalf("duplicate remote insert should be a no-op")
	}
	if got := c.Text(); got != "x" {
		t.Fatalf("Text() = %q, want %q", got, "x")
	}
}

func TestRemoteDeleteBeforeInsertIsTombstoned(t *testing.T) {
	c := New(3)
	seq := generateBetween(nil, nil, 3, c.rng)
	ch := Character{Value: 'z', IDSeq: seq}

	// Delete arrives before its insert.
	_, applied := c.HandleRemoteDelete(seq)
	if applied {
		t.Fatalf("delete of an unseen character should not apply")
	}

	// The insert now arrives; it must be suppressed (known limitation,
	// spec.md §5 / §9).
	_, _, insertApplied := c.HandleRemoteInsert(ch)
	if insertApplied {
		t.Fatalf("insert of a tombstoned character should be suppressed")
	}
	if got := c.Text(); got != "" {
		t.Fatalf("Text() = %q, want empty", got)
	}
}

func TestRemoteDeleteIdempotent(t *testing.T) {
	c := New(1)
	ch := c.HandleLocalInsert('a', Position{0, 0})

	pos1, applied1 := c.HandleRemoteDelete(ch.IDSeq)
	pos2, applied2 := c.HandleRemoteDelete(ch.IDSeq)
	if !applied1 {
		t.Fatalf("first delete should apply at %v", pos1)
	}
	if applied2 {
		t.Fatalf("second delete of the same identifier should be a no-op, got %v", pos2)
	}
}
