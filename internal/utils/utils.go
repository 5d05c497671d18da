// Package utils collects small numeric helpers shared across the module,
// carried over from the teacher's own utils package.
package utils

// MinInt64 returns the smaller of a and b.
func MinInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// MaxInt64 returns the larger of a and b.
func MaxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// SaturatingSubInt64 subtracts b from a, clamping at zero rather than
// going negative, used by the tick driver's countdown arithmetic so a
// large elapsed value triggers exactly one emission.
func SaturatingSubInt64(a, b int64) int64 {
	if b >= a {
		return 0
	}
	return a - b
}
