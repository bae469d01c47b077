package testutil

import (
	"path/filepath"
	"testing"

	"github.com/coral-mesh/cycletrack/internal/store"
)

// NewTestStore opens a run history store in a temporary directory. The store
// is closed when the test completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	ctx, cancel := NewTestContext()
	defer cancel()

	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "history.duckdb"), NewTestLogger(t))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("failed to close test store: %v", err)
		}
	})
	return s
}
