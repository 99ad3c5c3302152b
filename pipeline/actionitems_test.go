package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Monadical-SAS/reflector/progressbus"
	"github.com/Monadical-SAS/reflector/transcriptstore"
)

func TestIdentifyActionItems_PersistsAndPublishes(t *testing.T) {
	store := newMemStore()
	bus := newMemBus()
	store.seed(&transcriptstore.Transcript{ID: "t-1"})
	llm := &fakeLLM{responses: []string{`{"decisions":["ship v2"],"next_steps":["write docs"]}`}}
	d := newTestDeps(store, bus, newMemObjects(), llm, &fakeASR{})

	merged := []transcriptstore.Word{{Text: "we", Speaker: 0}, {Text: "decided", Speaker: 0}}
	items := d.IdentifyActionItems(context.Background(), "run-1", "t-1", merged)

	assert.Equal(t, []string{"ship v2"}, items.Decisions)
	assert.Equal(t, []string{"write docs"}, items.NextSteps)

	persisted, err := store.GetByID(context.Background(), "t-1")
	require.NoError(t, err)
	assert.True(t, persisted.ActionItems.Valid)
	assert.Equal(t, []string{"ship v2"}, persisted.ActionItems.Decisions)

	kinds := bus.kinds("t-1")
	require.Len(t, kinds, 1)
	assert.Equal(t, progressbus.KindActionItems, kinds[0])
}

func TestIdentifyActionItems_LLMFailureDegradesToEmpty(t *testing.T) {
	store := newMemStore()
	bus := newMemBus()
	store.seed(&transcriptstore.Transcript{ID: "t-1"})
	llm := &fakeLLM{errs: []error{errors.New("llm exploded")}}
	d := newTestDeps(store, bus, newMemObjects(), llm, &fakeASR{})

	items := d.IdentifyActionItems(context.Background(), "run-1", "t-1", nil)
	assert.Empty(t, items.Decisions)
	assert.Empty(t, items.NextSteps)

	// No status change, no event, no persisted items.
	persisted, err := store.GetByID(context.Background(), "t-1")
	require.NoError(t, err)
	assert.False(t, persisted.ActionItems.Valid)
	assert.Empty(t, bus.published("t-1"))
}
