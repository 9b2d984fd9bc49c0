package domain

import "errors"

var (
	ErrStaleData        = errors.New("snapshot stale")
	ErrUnprofitable     = errors.New("unprofitable after costs")
	ErrBuildFailed      = errors.New("bundle build failed")
	ErrSimulationFailed = errors.New("bundle simulation failed")
	ErrSubmissionFailed = errors.New("bundle submission failed")
	ErrBreakerTripped   = errors.New("circuit breaker tripped")
	ErrBlacklisted      = errors.New("target blacklisted")

	ErrNotFound     = errors.New("not found")
	ErrWSDisconnect = errors.New("websocket disconnected")
)

// Retryable reports whether err is worth another submission attempt.
// Only relay submission failures are transient; build and simulation
// failures mean the bundle itself is wrong.
func Retryable(err error) bool {
	return errors.Is(err, ErrSubmissionFailed)
}
