package collide

import (
	"sort"

	"crashsim/internal/shape"
)

// BroadPhase produces candidate colliding pairs by sweeping AABB intervals
// along one axis and confirming with a full AABB overlap test. It never drops
// a truly overlapping pair; false positives are filtered by the narrow phase.
//
// Buffers are reused across steps.
type BroadPhase struct {
	order []int
	pairs [][2]int
}

func NewBroadPhase() *BroadPhase {
	return &BroadPhase{}
}

// Pairs returns all index pairs (i < j) whose AABBs overlap, in ascending
// (i, j) order. The returned slice is reused on the next call.
func (bp *BroadPhase) Pairs(boxes []shape.AABB) [][2]int {
	bp.pairs = bp.pairs[:0]
	if len(boxes) < 2 {
		return bp.pairs
	}

	axis := bp.sweepAxis(boxes)

	bp.order = bp.order[:0]
	for i := range boxes {
		bp.order = append(bp.order, i)
	}
	sort.Slice(bp.order, func(a, b int) bool {
		ia, ib := bp.order[a], bp.order[b]
		if boxes[ia].Min[axis] != boxes[ib].Min[axis] {
			return boxes[ia].Min[axis] < boxes[ib].Min[axis]
		}
		return ia < ib
	})

	// Sweep: an interval can only overlap intervals that start before it ends.
	for oi, i := range bp.order {
		maxI := boxes[i].Max[axis]
		for _, j := range bp.order[oi+1:] {
			if boxes[j].Min[axis] > maxI {
				break
			}
			if boxes[i].Intersects(boxes[j]) {
				if i < j {
					bp.pairs = append(bp.pairs, [2]int{i, j})
				} else {
					bp.pairs = append(bp.pairs, [2]int{j, i})
				}
			}
		}
	}

	// Canonical order keeps downstream phases deterministic regardless of the
	// sweep axis chosen.
	sort.Slice(bp.pairs, func(a, b int) bool {
		if bp.pairs[a][0] != bp.pairs[b][0] {
			return bp.pairs[a][0] < bp.pairs[b][0]
		}
		return bp.pairs[a][1] < bp.pairs[b][1]
	})
	return bp.pairs
}

// sweepAxis picks the axis with the largest variance of box centers, which
// minimizes the number of interval overlaps to test.
func (bp *BroadPhase) sweepAxis(boxes []shape.AABB) int {
	var mean, meanSq [3]float64
	for _, b := range boxes {
		c := b.Center()
		for k := 0; k < 3; k++ {
			mean[k] += c[k]
			meanSq[k] += c[k] * c[k]
		}
	}
	n := float64(len(boxes))
	axis := 0
	best := -1.0
	for k := 0; k < 3; k++ {
		variance := meanSq[k]/n - (mean[k]/n)*(mean[k]/n)
		if variance > best {
			best = variance
			axis = k
		}
	}
	return axis
}
