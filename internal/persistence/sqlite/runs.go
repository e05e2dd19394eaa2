package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"example.com/activityrecognition/internal/domain"
)

const defaultRunLimit = 50

// RunRepository stores training runs in the training_runs table.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository constructs a RunRepository.
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// RecordRun inserts the run or updates it in place when it already exists.
func (r *RunRepository) RecordRun(ctx context.Context, run domain.TrainingRun) error {
	var classes []byte
	if run.Classes != nil {
		encoded, err := msgpack.Marshal(run.Classes)
		if err != nil {
			return fmt.Errorf("encode classes: %w", err)
		}
		classes = encoded
	}

	var finishedAt sql.NullInt64
	if run.FinishedAt != nil {
		finishedAt = sql.NullInt64{Int64: run.FinishedAt.UnixNano(), Valid: true}
	}

	const stmt = `INSERT INTO training_runs (run_id, status, epochs, batch_size, validation_split, sample_count, accuracy, error, classes, started_at, finished_at, updated_at)
        VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT (run_id) DO UPDATE SET
            status = excluded.status,
            accuracy = excluded.accuracy,
            error = excluded.error,
            classes = excluded.classes,
            finished_at = excluded.finished_at,
            updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, stmt,
		run.ID,
		string(run.Status),
		run.Config.Epochs,
		run.Config.BatchSize,
		run.Config.ValidationSplit,
		run.SampleCount,
		nullFloat(run.Accuracy),
		nullString(run.Error),
		classes,
		run.StartedAt.UnixNano(),
		finishedAt,
		time.Now().UTC().UnixNano(),
	)
	return err
}

// ListRuns returns the most recent runs, newest first.
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]domain.TrainingRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}

	const query = `SELECT run_id, status, epochs, batch_size, validation_split, sample_count, accuracy, error, classes, started_at, finished_at
        FROM training_runs ORDER BY started_at DESC, run_id LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TrainingRun
	for rows.Next() {
		var (
			run        domain.TrainingRun
			status     string
			accuracy   sql.NullFloat64
			errMsg     sql.NullString
			classes    []byte
			startedAt  int64
			finishedAt sql.NullInt64
		)
		if err := rows.Scan(
			&run.ID,
			&status,
			&run.Config.Epochs,
			&run.Config.BatchSize,
			&run.Config.ValidationSplit,
			&run.SampleCount,
			&accuracy,
			&errMsg,
			&classes,
			&startedAt,
			&finishedAt,
		); err != nil {
			return nil, err
		}

		run.Status = domain.RunStatus(status)
		run.StartedAt = time.Unix(0, startedAt).UTC()
		if finishedAt.Valid {
			finished := time.Unix(0, finishedAt.Int64).UTC()
			run.FinishedAt = &finished
		}
		if accuracy.Valid {
			value := accuracy.Float64
			run.Accuracy = &value
		}
		if errMsg.Valid {
			msg := errMsg.String
			run.Error = &msg
		}
		if len(classes) > 0 {
			if err := msgpack.Unmarshal(classes, &run.Classes); err != nil {
				return nil, fmt.Errorf("decode classes: %w", err)
			}
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
