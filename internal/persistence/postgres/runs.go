package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/activityrecognition/internal/domain"
)

const defaultRunLimit = 50

// RunRepository stores training runs in the training_runs table.
type RunRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository constructs a RunRepository.
func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

// RecordRun inserts the run or updates it in place when it already exists.
func (r *RunRepository) RecordRun(ctx context.Context, run domain.TrainingRun) error {
	const stmt = `INSERT INTO training_runs (run_id, status, epochs, batch_size, validation_split, sample_count, accuracy, error, classes, started_at, finished_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
        ON CONFLICT (run_id) DO UPDATE SET
            status = EXCLUDED.status,
            accuracy = EXCLUDED.accuracy,
            error = EXCLUDED.error,
            classes = EXCLUDED.classes,
            finished_at = EXCLUDED.finished_at,
            updated_at = now()`

	_, err := r.pool.Exec(ctx, stmt,
		run.ID,
		string(run.Status),
		run.Config.Epochs,
		run.Config.BatchSize,
		run.Config.ValidationSplit,
		run.SampleCount,
		run.Accuracy,
		run.Error,
		run.Classes,
		run.StartedAt,
		run.FinishedAt,
	)
	return err
}

// ListRuns returns the most recent runs, newest first.
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]domain.TrainingRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}

	const query = `SELECT run_id::text, status, epochs, batch_size, validation_split, sample_count, accuracy, error, classes, started_at, finished_at
        FROM training_runs ORDER BY started_at DESC, run_id LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TrainingRun
	for rows.Next() {
		var (
			run    domain.TrainingRun
			status string
		)
		if err := rows.Scan(
			&run.ID,
			&status,
			&run.Config.Epochs,
			&run.Config.BatchSize,
			&run.Config.ValidationSplit,
			&run.SampleCount,
			&run.Accuracy,
			&run.Error,
			&run.Classes,
			&run.StartedAt,
			&run.FinishedAt,
		); err != nil {
			return nil, err
		}
		run.Status = domain.RunStatus(status)
		run.StartedAt = run.StartedAt.UTC()
		if run.FinishedAt != nil {
			finished := run.FinishedAt.UTC()
			run.FinishedAt = &finished
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
