package taskgraph

import (
	"fmt"
	"time"

	"github.com/Monadical-SAS/reflector/transcriptstore"
)

// LifecycleEvent names the transitions a MultitrackPipeline run drives a
// Transcript through. The lifecycle never varies across runs, so the
// transition table is fixed rather than data-driven.
type LifecycleEvent string

const (
	EventStart    LifecycleEvent = "start"
	EventFinalize LifecycleEvent = "finalize"
	EventFail     LifecycleEvent = "fail"
)

var lifecycleTransitions = map[transcriptstore.Status]map[LifecycleEvent]transcriptstore.Status{
	transcriptstore.StatusIdle: {
		EventStart: transcriptstore.StatusProcessing,
		EventFail:  transcriptstore.StatusError,
	},
	transcriptstore.StatusProcessing: {
		EventFinalize: transcriptstore.StatusEnded,
		EventFail:     transcriptstore.StatusError,
	},
}

// LifecycleTransition records one recognized status change.
type LifecycleTransition struct {
	From      transcriptstore.Status
	To        transcriptstore.Status
	Event     LifecycleEvent
	Timestamp time.Time
}

// Lifecycle tracks a single run's Transcript status transitions in memory
// for logging/metrics; the durable source of truth is always the
// Transcript row in TranscriptStore.
type Lifecycle struct {
	current transcriptstore.Status
	history []LifecycleTransition
}

// NewLifecycle starts tracking from current (normally StatusIdle).
func NewLifecycle(current transcriptstore.Status) *Lifecycle {
	return &Lifecycle{current: current}
}

// Apply validates and records event, returning the resulting status or an
// error if the event is not defined for the current status (e.g. a
// Finalize arriving after the run already failed).
func (l *Lifecycle) Apply(event LifecycleEvent, now time.Time) (transcriptstore.Status, error) {
	transitions, ok := lifecycleTransitions[l.current]
	if !ok {
		return l.current, fmt.Errorf("taskgraph: status %q is terminal, cannot apply %q", l.current, event)
	}
	next, ok := transitions[event]
	if !ok {
		return l.current, fmt.Errorf("taskgraph: event %q not valid from status %q", event, l.current)
	}
	l.history = append(l.history, LifecycleTransition{From: l.current, To: next, Event: event, Timestamp: now})
	l.current = next
	return next, nil
}

// Current returns the tracked status.
func (l *Lifecycle) Current() transcriptstore.Status { return l.current }

// History returns the recorded transitions.
func (l *Lifecycle) History() []LifecycleTransition { return l.history }
