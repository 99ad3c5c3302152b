// Package taskgraph is the durable DAG engine the MultitrackPipeline runs
// on: per-task timeout/retry/concurrency declarations, dynamic fan-out/
// join over a runtime-sized item list, crash-driven re-invocation via
// durable task state, and the error-handling decorator that sets
// Transcript status=error on an uncaught task failure.
package taskgraph

import "time"

// Declared timeout tiers.
const (
	TimeoutShort  = 60 * time.Second
	TimeoutMedium = 300 * time.Second
	TimeoutLong   = 600 * time.Second
	TimeoutHeavy  = 900 * time.Second
)

// WorkerLabel selects which labeled worker pool a task prefers. CPU-bound
// work such as the mixdown is pinned to the cpu-heavy pool.
type WorkerLabel string

const (
	WorkerLabelDefault  WorkerLabel = "default"
	WorkerLabelCPUHeavy WorkerLabel = "cpu-heavy"
)

// Decl declares a task's execution policy: timeout, retry budget, and
// optional global concurrency serialization.
type Decl struct {
	// Name identifies the task for logging, metrics, and durable state.
	Name string
	// Timeout is a fixed execution timeout. Leave zero and set
	// TimeoutFunc for a dynamic timeout (MixdownTracks scales with the
	// track count and recording length).
	Timeout time.Duration
	// TimeoutFunc overrides Timeout when set.
	TimeoutFunc func() time.Duration
	// Retries is the number of attempts (including the first) before
	// the task fails for good. Most tasks use 3; the two post-finalize
	// notification tasks allow 5.
	Retries int
	// ConcurrencyKey, if non-empty, serializes every task sharing the
	// key behind MaxRuns concurrent executions process-wide. Mixdown is
	// serialized on "mixdown" with MaxRuns=1.
	ConcurrencyKey string
	MaxRuns        int
	// Label is the preferred worker pool.
	Label WorkerLabel
	// SkipErrorStatus opts a task out of the error-handling decorator's
	// status=error side effect. The post-finalize notification tasks
	// opt out so a failed chat post never flips a finished transcript
	// back to error.
	SkipErrorStatus bool
}

// EffectiveTimeout resolves Timeout or TimeoutFunc.
func (d Decl) EffectiveTimeout() time.Duration {
	if d.TimeoutFunc != nil {
		return d.TimeoutFunc()
	}
	return d.Timeout
}

// DynamicMixdownTimeout scales the mixdown budget with the input:
// 300s base + 60s per track + 0.1s per second of recording.
func DynamicMixdownTimeout(tracks int, recordingDurationSeconds float64) time.Duration {
	seconds := 300 + 60*float64(tracks) + 0.1*recordingDurationSeconds
	return time.Duration(seconds * float64(time.Second))
}
