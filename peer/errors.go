package peer

import "errors"

// Failure taxonomy for the download path. Network and integrity errors
// are transient and consumed by the scheduler's retry logic; the
// exhausted variants are terminal and surface as one Failed download.
var (
	// ErrChunkNotAvailable means the seeder answered but does not hold
	// the requested chunk. Retryable against a different seeder.
	ErrChunkNotAvailable = errors.New("chunk not available on peer")

	// ErrIntegrity means received bytes did not match their digest.
	ErrIntegrity = errors.New("digest mismatch")

	// ErrWholeFileIntegrity means all chunks verified individually but
	// the assembled file did not. Fatal: points at a chunking or offset
	// bug, not wire corruption, so no retry can help.
	ErrWholeFileIntegrity = errors.New("assembled file digest mismatch")

	// ErrRetriesExhausted means a chunk ran out of its retry budget.
	ErrRetriesExhausted = errors.New("chunk retry budget exhausted")

	// ErrNoSeeders means a chunk has no seeder left to try.
	ErrNoSeeders = errors.New("no eligible seeder for chunk")
)
