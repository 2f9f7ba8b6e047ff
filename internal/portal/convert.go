package portal

import (
	"github.com/dstrand/portal/internal/crdt"
	"github.com/dstrand/portal/internal/envelope"
	"github.com/dstrand/portal/internal/ids"
)

func toWireCharacter(ch crdt.Character) envelope.WireCharacter {
	idArray := make([]envelope.IDComponent, len(ch.IDSeq))
	for i, id := range ch.IDSeq {
		idArray[i] = envelope.IDComponent{Value: id.Value, SiteID: id.SiteID}
	}
	return envelope.WireCharacter{Value: string(ch.Value), IDArray: idArray}
}

func fromWireCharacter(w envelope.WireCharacter) crdt.Character {
	r := []rune(w.Value)
	var v rune
	if len(r) > 0 {
		v = r[0]
	}
	seq := make(ids.Sequence, len(w.IDArray))
	for i, c := range w.IDArray {
		seq[i] = ids.Identifier{Value: c.Value, SiteID: c.SiteID}
	}
	return crdt.Character{Value: v, IDSeq: seq}
}

func toPosition(p crdt.Position) envelope.Position {
	return envelope.Position{Line: p.LineIndex, Col: p.CharIndex}
}

func fromPosition(p *envelope.Position) crdt.Position {
	if p == nil {
		return crdt.Position{}
	}
	return crdt.Position{LineIndex: p.Line, CharIndex: p.Col}
}

func crdtPos(line, col int) crdt.Position {
	return crdt.Position{LineIndex: line, CharIndex: col}
}
