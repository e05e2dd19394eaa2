package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/activityrecognition/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "recognition.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSampleRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewSampleRepository(openTestDB(t), 2)

	require.NoError(t, repo.Append(ctx,
		domain.LabeledSample{Activity: "walking", Readings: []domain.Reading{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}},
		domain.LabeledSample{Activity: "running", Readings: []domain.Reading{{X: 7}, {Y: 8}}},
	))
	require.NoError(t, repo.Append(ctx))

	snapshot, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 2)
	require.Equal(t, "walking", snapshot[0].Activity)
	require.Equal(t, []domain.Reading{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}, snapshot[0].Readings)

	summary, err := repo.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.SampleSummary{
		Total:      2,
		Activities: []string{"running", "walking"},
		PerLabel:   map[string]int{"running": 1, "walking": 1},
	}, summary)

	require.NoError(t, repo.Clear(ctx))
	summary, err = repo.Summary(ctx)
	require.NoError(t, err)
	require.Zero(t, summary.Total)
	require.Empty(t, summary.Activities)
}

func TestSampleRepositoryRejectsWholeBatch(t *testing.T) {
	ctx := context.Background()
	repo := NewSampleRepository(openTestDB(t), 2)

	err := repo.Append(ctx,
		domain.LabeledSample{Activity: "walking", Readings: []domain.Reading{{X: 1}, {X: 2}}},
		domain.LabeledSample{Activity: "walking", Readings: []domain.Reading{{X: 1}}},
	)
	require.ErrorIs(t, err, domain.ErrInvalidSample)

	snapshot, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	require.Empty(t, snapshot)
}

func TestSampleRepositoryConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	repo := NewSampleRepository(openTestDB(t), 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := repo.Append(ctx, domain.LabeledSample{Activity: "sitting", Readings: []domain.Reading{{X: float64(i)}}}); err != nil {
					t.Errorf("append: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	summary, err := repo.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, 80, summary.Total)
}

func TestRunRepositoryUpsertsRuns(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepository(openTestDB(t))

	started := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	run := domain.TrainingRun{
		ID:          "run-new",
		Status:      domain.RunStatusRunning,
		Config:      domain.DefaultTrainingConfig(),
		SampleCount: 90,
		StartedAt:   started,
	}
	require.NoError(t, repo.RecordRun(ctx, run))

	finished := started.Add(3 * time.Second)
	accuracy := 0.81
	run.Status = domain.RunStatusSucceeded
	run.FinishedAt = &finished
	run.Accuracy = &accuracy
	run.Classes = []string{"sitting", "walking"}
	require.NoError(t, repo.RecordRun(ctx, run))

	msg := "training diverged"
	require.NoError(t, repo.RecordRun(ctx, domain.TrainingRun{
		ID:          "run-old",
		Status:      domain.RunStatusFailed,
		Config:      domain.DefaultTrainingConfig(),
		SampleCount: 4,
		StartedAt:   started.Add(-time.Hour),
		FinishedAt:  &started,
		Error:       &msg,
	}))

	runs, err := repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	require.Equal(t, run, runs[0])
	require.Equal(t, "run-old", runs[1].ID)
	require.Equal(t, "training diverged", *runs[1].Error)
	require.Nil(t, runs[1].Accuracy)
	require.Nil(t, runs[1].Classes)

	limited, err := repo.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, "run-new", limited[0].ID)
}
