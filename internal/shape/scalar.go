package shape

import "golang.org/x/exp/constraints"

// Clamp restricts a value to a range.
func Clamp[T constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
