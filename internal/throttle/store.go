// Package throttle caps how many identical error records are uploaded per window.
package throttle

import (
	"context"
	"time"
)

// Store counts hits per key in fixed windows.
type Store interface {
	// Increment records a hit on key and returns the hits in the current
	// window. The first hit opens a window of the given length.
	Increment(ctx context.Context, key string, window time.Duration) (int, error)

	Close() error
}
