package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Monadical-SAS/reflector/progressbus"
	"github.com/Monadical-SAS/reflector/transcriptstore"
)

func TestBuildLongSummary(t *testing.T) {
	got := buildLongSummary("We planned the quarter.", []SubjectSummary{
		{Subject: "Budget", Summary: "Numbers were approved."},
		{Subject: "Hiring", Summary: "Two offers going out."},
	})

	want := "# Quick recap\n\nWe planned the quarter.\n\n# Summary\n\n" +
		"**Budget**\nNumbers were approved.\n\n" +
		"**Hiring**\nTwo offers going out."
	assert.Equal(t, want, got)
}

func TestGenerateRecap_PersistsAndPublishesBothSummaries(t *testing.T) {
	store := newMemStore()
	bus := newMemBus()
	store.seed(&transcriptstore.Transcript{ID: "t-1"})
	llm := &fakeLLM{responses: []string{"A short recap."}}
	d := newTestDeps(store, bus, newMemObjects(), llm, &fakeASR{})

	result, err := d.GenerateRecap(context.Background(), "run-1", "t-1", []SubjectSummary{
		{Subject: "Budget", Summary: "Approved."},
	})
	require.NoError(t, err)
	assert.Equal(t, "A short recap.", result.ShortSummary)
	assert.Contains(t, result.LongSummary, "# Quick recap")
	assert.Contains(t, result.LongSummary, "**Budget**")

	persisted, err := store.GetByID(context.Background(), "t-1")
	require.NoError(t, err)
	require.NotNil(t, persisted.ShortSummary)
	require.NotNil(t, persisted.LongSummary)
	assert.Equal(t, result.ShortSummary, *persisted.ShortSummary)
	assert.Equal(t, result.LongSummary, *persisted.LongSummary)

	kinds := bus.kinds("t-1")
	require.Len(t, kinds, 2)
	assert.Equal(t, progressbus.KindFinalShortSumm, kinds[0])
	assert.Equal(t, progressbus.KindFinalLongSummary, kinds[1])
}
