// Package progressbus is the pub/sub layer keyed by transcript id.
// Pipeline tasks call Publish after the TranscriptStore write that
// appended the event; apart from the error hook, they publish after that
// write has committed, not from inside its transaction. progressbus
// itself does not know about Postgres. Its Redis-stream backing store
// lets a subscriber resume from a cursor and see every event published
// so far; an event committed but not yet published when its worker
// crashed reaches subscribers only when the re-driven task publishes it.
package progressbus

import "context"

// Bus is the pub/sub interface transcript-scoped subscribers use.
type Bus interface {
	// Publish appends event to transcriptID's stream. Publishing an
	// event whose ID was already appended is a no-op.
	Publish(ctx context.Context, transcriptID string, event Event) error

	// Subscribe returns a channel of events for transcriptID starting
	// after cursor ("" means from the beginning, replaying any events
	// already durable so a crashed publisher never loses a subscriber's
	// view). The returned stop function releases resources; the channel
	// is closed after stop is called or ctx is done.
	Subscribe(ctx context.Context, transcriptID, cursor string) (events <-chan Event, stop func(), err error)
}
