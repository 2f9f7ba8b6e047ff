package crdt

import (
	"math"
	"math/rand/v2"

	"github.com/dstrand/portal/internal/ids"
)

// negInf and posInf stand in for "no neighbour" at a given depth: negInf when
// the left neighbour's sequence is exhausted (or absent entirely, i.e.
// inserting at the very start of the document), posInf when the right
// neighbour's sequence is exhausted. Quartered rather than full-range so
// arithmetic on them never overflows int64.
const (
	negInf int64 = math.MinInt64 / 4
	posInf int64 = math.MaxInt64 / 4
)

// generateBetween produces an identifier sequence strictly greater than left
// and strictly less than right, terminated by (value, siteID). It walks
// depth by depth: while the candidate's value-gap at the current depth is
// wide enough, it picks a random value in the gap and stops. When the gap is
// exactly 1 (no integer strictly between), it descends by copying left's
// digit at that depth — a value strictly less than right's at this depth —
// and from here on right no longer constrains any deeper depth. When the gap
// is exactly 0 (left and right share the same value at this depth, i.e. left
// is a prefix of right so far), the copied digit equals right's value here,
// not less than it, so right still bounds the depth below: comparison
// continues against right[depth+1], not the unconstrained (negInf, posInf)
// span.
//
// This is a pure function of (left, right, siteID, rng) as required by
// spec.md §4.1: the same four inputs always produce the same sequence, and
// two sites generating between the same neighbours with different siteIDs
// necessarily produce sequences that differ at the first depth where their
// siteID breaks a value tie, or earlier once a replica's own random gap pick
// diverges.
func generateBetween(left, right ids.Sequence, siteID int, rng *rand.Rand) ids.Sequence {
	var result ids.Sequence
	rightBounds := true

	for depth := 0; ; depth++ {
		lVal := negInf
		if depth < len(left) {
			lVal = left[depth].Value
		}

		rVal := posInf
		if rightBounds && depth < len(right) {
			rVal = right[depth].Value
		} else {
			rightBounds = false
		}

		gap := rVal - lVal
		if gap > 1 {
			span := gap - 1
			newVal := lVal + 1 + int64(rng.IntN(int(span)))
			return append(result, ids.Identifier{Value: newVal, SiteID: siteID})
		}

		// No room at this depth: copy left's digit (or, if left is
		// exhausted here too, synthesize one) and keep extending.
		digit := ids.Identifier{Value: lVal, SiteID: siteID}
		if depth < len(left) {
			digit = left[depth]
		}
		result = append(result, digit)

		// Only a gap of exactly 1 makes the copied digit strictly less
		// than right's at this depth; a gap of 0 means left is still
		// tied with right here, so right must keep bounding deeper depths.
		if gap == 1 {
			rightBounds = false
		}
	}
}
