// Package safe provides guarded file operations and integer conversions.
package safe

import (
	"math"
)

// Uint64ToInt64 converts a uint64 to int64, clamping to math.MaxInt64.
// The boolean reports whether clamping occurred.
func Uint64ToInt64(val uint64) (int64, bool) {
	if val > math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(val), false
}

// Int64ToUint64 converts an int64 to uint64, clamping negatives to zero.
// The boolean reports whether clamping occurred.
func Int64ToUint64(val int64) (uint64, bool) {
	if val < 0 {
		return 0, true
	}
	return uint64(val), false
}
