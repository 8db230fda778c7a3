package protocol

import "fmt"

// Accelerometer axes as numbered by the board.
const (
	AxisX = 1
	AxisY = 2
	AxisZ = 3
)

// AccelEmitPolicy decides when the accelerometer vector is emitted.
type AccelEmitPolicy string

const (
	// AccelEmitEveryUpdate emits after every axis update.
	AccelEmitEveryUpdate AccelEmitPolicy = "every"
	// AccelEmitEveryNth emits after every Nth axis update.
	AccelEmitEveryNth AccelEmitPolicy = "nth"
	// AccelEmitFullRotation emits once X, Y and Z have each been updated.
	AccelEmitFullRotation AccelEmitPolicy = "rotation"
)

// ParseAccelEmitPolicy validates a policy name.
func ParseAccelEmitPolicy(s string) (AccelEmitPolicy, error) {
	switch p := AccelEmitPolicy(s); p {
	case AccelEmitEveryUpdate, AccelEmitEveryNth, AccelEmitFullRotation:
		return p, nil
	case "":
		return AccelEmitEveryUpdate, nil
	default:
		return "", fmt.Errorf("invalid accelerometer emit policy %q (must be every, nth or rotation)", s)
	}
}

// AccelExtractor keeps a persistent 3-axis vector updated one axis at a time.
type AccelExtractor struct {
	policy  AccelEmitPolicy
	every   int
	scale   float64
	vector  AccelVector
	seen    [3]bool
	updates int
}

// NewAccelExtractor creates an extractor. every is used by AccelEmitEveryNth
// and is clamped to at least 1.
func NewAccelExtractor(policy AccelEmitPolicy, every int, sendCounts bool) *AccelExtractor {
	if every < 1 {
		every = 1
	}
	if policy == "" {
		policy = AccelEmitEveryUpdate
	}
	scale := ScaleAccelPerCount
	if sendCounts {
		scale = 1
	}
	return &AccelExtractor{policy: policy, every: every, scale: scale}
}

// Update writes one axis count into the vector and emits according to the
// policy. Axes outside 1..3 are ignored.
func (a *AccelExtractor) Update(axis int, count int16, emit func(Event)) {
	if axis < AxisX || axis > AxisZ {
		return
	}
	a.vector[axis-1] = float64(count) * a.scale
	a.seen[axis-1] = true
	a.updates++

	switch a.policy {
	case AccelEmitEveryNth:
		if a.updates%a.every != 0 {
			return
		}
	case AccelEmitFullRotation:
		if !a.seen[0] || !a.seen[1] || !a.seen[2] {
			return
		}
		a.seen = [3]bool{}
	}
	emit(AccelEvent{Vector: a.vector})
}

// Vector returns the current values.
func (a *AccelExtractor) Vector() AccelVector {
	return a.vector
}

// Reset zeroes the vector and the emission bookkeeping.
func (a *AccelExtractor) Reset() {
	a.vector = AccelVector{}
	a.seen = [3]bool{}
	a.updates = 0
}

// accelAxis returns the axis carried by an 18-bit frame, or 0.
func accelAxis(id byte) int {
	switch axis := int(id % 10); axis {
	case AxisX, AxisY, AxisZ:
		return axis
	default:
		return 0
	}
}
