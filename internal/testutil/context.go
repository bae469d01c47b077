// Package testutil provides helpers shared by cycletrack tests.
package testutil

import (
	"context"
	"time"
)

// NewTestContext creates a context that expires after 30 seconds.
func NewTestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
