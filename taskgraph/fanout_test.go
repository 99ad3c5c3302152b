package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanOut_PreservesOrder(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7}

	results, err := FanOut(context.Background(), items, 0, func(ctx context.Context, item, index int) (string, error) {
		// Reverse the completion order to prove results stay in item order.
		time.Sleep(time.Duration(len(items)-index) * time.Millisecond)
		return fmt.Sprintf("item-%d", item), nil
	})
	require.NoError(t, err)
	require.Len(t, results, len(items))
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("item-%d", i), r)
	}
}

func TestFanOut_FirstErrorCancelsRest(t *testing.T) {
	var cancelled atomic.Int32
	boom := errors.New("child failed")

	_, err := FanOut(context.Background(), []int{0, 1, 2, 3}, 0, func(ctx context.Context, item, _ int) (int, error) {
		if item == 0 {
			return 0, boom
		}
		select {
		case <-ctx.Done():
			cancelled.Add(1)
			return 0, ctx.Err()
		case <-time.After(2 * time.Second):
			return item, nil
		}
	})
	require.ErrorIs(t, err, boom)
	assert.Positive(t, cancelled.Load())
}

func TestFanOut_Empty(t *testing.T) {
	results, err := FanOut(context.Background(), []int{}, 0, func(ctx context.Context, item, _ int) (int, error) {
		return item, nil
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFanOut_BoundedConcurrency(t *testing.T) {
	var active, peak atomic.Int32

	_, err := FanOut(context.Background(), make([]struct{}, 10), 2, func(ctx context.Context, _ struct{}, _ int) (struct{}, error) {
		n := active.Add(1)
		if p := peak.Load(); n > p {
			peak.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return struct{}{}, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
