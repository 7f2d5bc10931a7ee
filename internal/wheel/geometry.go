package wheel

import (
	"fmt"
	"math"
)

// FullTurn is one revolution in degrees.
const FullTurn = 360.0

// indexEpsilon absorbs float error when an angle lands a hair below a segment start.
// It is expressed in segment units.
const indexEpsilon = 1e-7

// Normalize maps any angle into [0, 360).
func Normalize(angle float64) float64 {
	m := math.Mod(angle, FullTurn)
	if m < 0 {
		m += FullTurn
	}
	if m >= FullTurn {
		m -= FullTurn
	}
	return m
}

// Validate checks that index addresses one of count segments.
func Validate(index, count int) error {
	if count < 1 {
		return fmt.Errorf("%w: count %d", ErrInvalidSegment, count)
	}
	if index < 0 || index >= count {
		return fmt.Errorf("%w: index %d of %d", ErrInvalidSegment, index, count)
	}
	return nil
}

// SegmentWidth is the angular width of each of count equal segments.
func SegmentWidth(count int) float64 {
	return FullTurn / float64(count)
}

// SegmentBounds returns the clockwise start and end angle of segment index,
// measured from 12 o'clock before any rotation is applied.
func SegmentBounds(index, count int) (start, end float64) {
	width := SegmentWidth(count)
	start = float64(index) * width
	return start, start + width
}

// SegmentCenter returns the midpoint angle of segment index.
func SegmentCenter(index, count int) float64 {
	start, end := SegmentBounds(index, count)
	return (start + end) / 2
}

// PrizeIndexAtPointer returns the segment under the fixed pointer at 12 o'clock
// once the wheel has turned clockwise by rotation degrees.
func PrizeIndexAtPointer(rotation float64, count int) int {
	if count <= 1 {
		return 0
	}
	width := SegmentWidth(count)
	// The wheel turned clockwise, so the pointer now reads the angle that sat
	// rotation degrees counter-clockwise of it.
	angleAtPointer := Normalize(FullTurn - Normalize(rotation))
	adjusted := Normalize(angleAtPointer - width/2)
	index := int(math.Floor(adjusted/width + indexEpsilon))
	if index >= count {
		// Wrapped past 360: that is segment 0 again.
		index = 0
	}
	if index < 0 {
		index = count - 1
	}
	return index
}

// RotationForTarget returns the clockwise delta in [0, 360) that, added to
// current, puts the center of segment target under the pointer.
func RotationForTarget(target, count int, current float64) float64 {
	required := Normalize(FullTurn - SegmentCenter(target, count))
	return Normalize(required - Normalize(current) + FullTurn)
}
