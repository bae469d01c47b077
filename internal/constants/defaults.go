package constants

import "time"

// Profiling defaults.
const (
	// DefaultSampleInterval samples every cycle.
	DefaultSampleInterval = 1
)

// Execution defaults.
const (
	// DefaultMaxCycles of zero disables the cycle limit.
	DefaultMaxCycles = 0

	// CancelCheckInterval is how often, in cycles, a running program checks
	// for cancellation.
	CancelCheckInterval = 1 << 16
)

// Logging defaults.
const (
	DefaultLogLevel = "info"
)

// Store defaults.
const (
	// DefaultStoreRetries is the number of retries for a conflicting write.
	DefaultStoreRetries = 5

	// DefaultStoreInitialBackoff is the first retry delay.
	DefaultStoreInitialBackoff = 50 * time.Millisecond

	// DefaultStoreMaxBackoff caps the retry delay.
	DefaultStoreMaxBackoff = 1 * time.Second

	// DefaultQueryTimeout bounds store queries issued by the CLI.
	DefaultQueryTimeout = 30 * time.Second

	// DefaultHistoryLimit is the number of runs listed by default.
	DefaultHistoryLimit = 20
)
