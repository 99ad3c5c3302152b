package progressbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBus(t *testing.T) *RedisBus {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisBus(client)
}

func event(id string, kind Kind, payload any) Event {
	data, _ := json.Marshal(payload)
	return Event{ID: id, Event: kind, Data: data}
}

func collect(t *testing.T, events <-chan Event, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event channel closed early")
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(out))
		}
	}
	return out
}

func TestRedisBus_PublishSubscribe(t *testing.T) {
	bus := setupBus(t)
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, "t-1", event("e1", KindStatus, StatusPayload{Value: "processing"})))
	require.NoError(t, bus.Publish(ctx, "t-1", event("e2", KindFinalTitle, FinalTitlePayload{Title: "Standup"})))

	events, stop, err := bus.Subscribe(ctx, "t-1", "")
	require.NoError(t, err)
	defer stop()

	got := collect(t, events, 2)
	assert.Equal(t, KindStatus, got[0].Event)
	assert.Equal(t, KindFinalTitle, got[1].Event)
}

func TestRedisBus_DuplicateEventSuppressed(t *testing.T) {
	bus := setupBus(t)
	ctx := context.Background()

	ev := event("Finalize:duration:t-1", KindDuration, DurationPayload{Duration: 10000})
	require.NoError(t, bus.Publish(ctx, "t-1", ev))
	// A re-driven task publishes the same event id again.
	require.NoError(t, bus.Publish(ctx, "t-1", ev))

	events, stop, err := bus.Subscribe(ctx, "t-1", "")
	require.NoError(t, err)
	defer stop()

	got := collect(t, events, 1)
	assert.Equal(t, KindDuration, got[0].Event)

	// No second DURATION arrives.
	select {
	case extra, ok := <-events:
		if ok {
			t.Fatalf("unexpected duplicate event: %+v", extra)
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRedisBus_IsolatedPerTranscript(t *testing.T) {
	bus := setupBus(t)
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, "t-1", event("a", KindStatus, StatusPayload{Value: "processing"})))
	require.NoError(t, bus.Publish(ctx, "t-2", event("b", KindStatus, StatusPayload{Value: "ended"})))

	events, stop, err := bus.Subscribe(ctx, "t-2", "")
	require.NoError(t, err)
	defer stop()

	got := collect(t, events, 1)
	var payload StatusPayload
	require.NoError(t, json.Unmarshal(got[0].Data, &payload))
	assert.Equal(t, "ended", payload.Value)
}

func TestRedisBus_LateSubscriberReplaysDurableSuffix(t *testing.T) {
	bus := setupBus(t)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, bus.Publish(ctx, "t-1", event(id, KindTopic, map[string]string{"id": id})))
	}

	// Subscribing after the fact still observes every persisted event in
	// commit order.
	events, stop, err := bus.Subscribe(ctx, "t-1", "")
	require.NoError(t, err)
	defer stop()

	got := collect(t, events, 3)
	for i, want := range []string{"e1", "e2", "e3"} {
		assert.Equal(t, want, got[i].ID)
	}
}
