package review

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_FIFOAndIdempotent(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, q.Enqueue(ctx, Item{ClaimID: "c1", EnqueuedAt: now}))
	require.NoError(t, q.Enqueue(ctx, Item{ClaimID: "c2", EnqueuedAt: now}))
	require.NoError(t, q.Enqueue(ctx, Item{ClaimID: "c1", EnqueuedAt: now})) // duplicate

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	first, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "c1", first.ClaimID)

	second, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "c2", second.ClaimID)

	empty, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)

	// A popped claim can be re-queued.
	require.NoError(t, q.Enqueue(ctx, Item{ClaimID: "c1", EnqueuedAt: now}))
	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
