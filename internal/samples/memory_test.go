package samples

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/activityrecognition/internal/domain"
)

func window(n int, v float64) []domain.Reading {
	out := make([]domain.Reading, n)
	for i := range out {
		out[i] = domain.Reading{X: v, Y: v, Z: v}
	}
	return out
}

func TestSnapshotIsIsolatedFromLaterAppends(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(4)

	require.NoError(t, store.Append(ctx, domain.LabeledSample{Activity: "walking", Readings: window(4, 1)}))

	snapshot, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)

	require.NoError(t, store.Append(ctx, domain.LabeledSample{Activity: "running", Readings: window(4, 2)}))
	require.Len(t, snapshot, 1)

	summary, err := store.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Total)
	require.Equal(t, []string{"running", "walking"}, summary.Activities)
}

func TestAppendCopiesCallerReadings(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(2)

	readings := window(2, 1)
	require.NoError(t, store.Append(ctx, domain.LabeledSample{Activity: "walking", Readings: readings}))
	readings[0].X = 99

	snapshot, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 1.0, snapshot[0].Readings[0].X)
}

func TestAppendRejectsWholeBatchOnInvalidSample(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(3)

	err := store.Append(ctx,
		domain.LabeledSample{Activity: "walking", Readings: window(3, 1)},
		domain.LabeledSample{Activity: "walking", Readings: window(2, 1)},
	)
	require.ErrorIs(t, err, domain.ErrInvalidSample)

	summary, err := store.Summary(ctx)
	require.NoError(t, err)
	require.Zero(t, summary.Total)
}

func TestConcurrentAppendAndSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = store.Append(ctx, domain.LabeledSample{Activity: "walking", Readings: window(2, 1)})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = store.Snapshot(ctx)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, store.Clear(ctx))
	snapshot, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.Empty(t, snapshot)
}
