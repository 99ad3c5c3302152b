package taskgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Monadical-SAS/reflector/httperr"
	"github.com/Monadical-SAS/reflector/logger"
	"github.com/Monadical-SAS/reflector/metrics"
)

var tracer = otel.Tracer("reflector/taskgraph")

// ErrorHook is invoked when a task's retries are exhausted and
// decl.SkipErrorStatus is false: it sets the Transcript's status to
// error. Returning an error here only logs; it must never mask the
// original task failure.
type ErrorHook func(ctx context.Context, transcriptID string, taskErr error) error

// Engine runs Decl-wrapped task functions with retry, timeout,
// concurrency, tracing, metrics, and crash recovery.
type Engine struct {
	Store   TaskStore
	OnError ErrorHook
	sems    *keyedSemaphores
}

// NewEngine builds an Engine. onError may be nil if no Transcript status
// side effect is desired (e.g. in unit tests).
func NewEngine(store TaskStore, onError ErrorHook) *Engine {
	return &Engine{Store: store, OnError: onError, sems: newKeyedSemaphores()}
}

// Execute runs fn under decl's policy for (runID, transcriptID), returning
// its cached output if a prior attempt already succeeded, so a re-driven
// run replays completed tasks instead of redoing them.
func Execute[T any](ctx context.Context, e *Engine, runID, transcriptID string, decl Decl, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if e.Store != nil {
		if prior, err := e.Store.Get(ctx, runID, decl.Name); err == nil && prior != nil && prior.Status == TaskRunSucceeded {
			logger.Info("taskgraph: skipping already-succeeded task on replay", "task", decl.Name, "run_id", runID)
			return decodeOutput[T](prior.Output)
		}
	}

	release, err := e.sems.acquire(ctx, decl.ConcurrencyKey, maxRuns(decl))
	if err != nil {
		return zero, fmt.Errorf("taskgraph: acquire concurrency slot for %s: %w", decl.Name, err)
	}
	defer release()

	attempts := decl.Retries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if e.Store != nil {
			_ = e.Store.MarkRunning(ctx, runID, decl.Name, attempt)
		}
		logger.TaskStart(decl.Name, transcriptID, attempt)

		out, err := runOnce(ctx, decl, fn)
		if err == nil {
			metrics.RecordTask(decl.Name, "success", 0)
			logger.TaskDone(decl.Name, transcriptID, 0)
			if e.Store != nil {
				if raw, mErr := json.Marshal(out); mErr == nil {
					_ = e.Store.MarkSucceeded(ctx, runID, decl.Name, raw)
				}
			}
			return out, nil
		}

		lastErr = err
		logger.TaskError(decl.Name, transcriptID, attempt, err)

		if !httperr.IsTransient(err) || attempt == attempts {
			break
		}
		backoff := exponentialBackoff(attempt)
		logger.TaskRetry(decl.Name, transcriptID, attempt, backoff.String(), err)
		metrics.TaskTotal.WithLabelValues(decl.Name, "retried").Inc()
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = attempts // break outer loop
		}
	}

	metrics.RecordTask(decl.Name, "error", 0)
	if e.OnError != nil && !decl.SkipErrorStatus && transcriptID != "" {
		if hookErr := e.OnError(ctx, transcriptID, lastErr); hookErr != nil {
			logger.ErrorContext(ctx, "taskgraph: error hook failed", "task", decl.Name, "error", hookErr)
		}
	}
	if e.Store != nil {
		_ = e.Store.MarkFailed(ctx, runID, decl.Name, lastErr.Error())
	}
	return zero, fmt.Errorf("taskgraph: task %s failed: %w", decl.Name, lastErr)
}

func maxRuns(decl Decl) int64 {
	if decl.MaxRuns <= 0 {
		return 1
	}
	return int64(decl.MaxRuns)
}

func runOnce[T any](ctx context.Context, decl Decl, fn func(ctx context.Context) (T, error)) (T, error) {
	spanCtx, span := tracer.Start(ctx, decl.Name, trace.WithAttributes(
		attribute.String("taskgraph.task", decl.Name),
		attribute.String("taskgraph.worker_label", string(decl.Label)),
	))
	defer span.End()

	timeout := decl.EffectiveTimeout()
	if timeout <= 0 {
		timeout = TimeoutMedium
	}
	timeoutCtx, cancel := context.WithTimeout(spanCtx, timeout)
	defer cancel()

	out, err := fn(timeoutCtx)
	if err != nil {
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("taskgraph: %s exceeded timeout %s: %w", decl.Name, timeout, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func exponentialBackoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base)/2 + 1))
	return base + jitter
}
