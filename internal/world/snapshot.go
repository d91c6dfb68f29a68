package world

import (
	"fmt"

	"github.com/jinzhu/copier"
)

// Snapshot returns an independent copy of the world for what-if exploration:
// step the copy with different parameters and the original stays untouched.
//
// The copy starts with a cold solver cache and reset sleep timers, which can
// change how fast contacts converge for a few steps but not where bodies end
// up. The clock and step counter carry over.
func (w *World) Snapshot() (*World, error) {
	nw, err := New(w.cfg)
	if err != nil {
		return nil, err
	}
	nw.gravity = w.gravity
	nw.time = w.time
	nw.steps = w.steps
	nw.energy = w.energy

	opt := copier.Option{DeepCopy: true, IgnoreEmpty: false}
	if err := copier.CopyWithOption(&nw.bodies, &w.bodies, opt); err != nil {
		return nil, fmt.Errorf("world: snapshot bodies: %w", err)
	}

	// Shapes are immutable values; sharing the slice elements is safe, the
	// slice itself must be private so AddBody on one world cannot alias.
	nw.shapes = append(nw.shapes, w.shapes...)

	for _, d := range w.deformables {
		nw.deformables = append(nw.deformables, d.Clone())
	}
	return nw, nil
}
