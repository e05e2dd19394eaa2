// Package postgres provides Postgres-backed sample storage and training run history.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/activityrecognition/internal/domain"
)

// SampleRepository stores labeled samples in the labeled_samples table.
type SampleRepository struct {
	pool         *pgxpool.Pool
	windowLength int
}

// NewSampleRepository constructs a SampleRepository accepting windows of windowLength readings.
func NewSampleRepository(pool *pgxpool.Pool, windowLength int) *SampleRepository {
	return &SampleRepository{pool: pool, windowLength: windowLength}
}

// Append validates every sample and copies the batch in one transaction.
func (r *SampleRepository) Append(ctx context.Context, samples ...domain.LabeledSample) error {
	for i, sample := range samples {
		if err := sample.Validate(r.windowLength); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
	}
	if len(samples) == 0 {
		return nil
	}

	rows := make([][]any, len(samples))
	for i, sample := range samples {
		rows[i] = []any{sample.Activity, flatten(sample.Readings)}
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"labeled_samples"},
		[]string{"activity", "readings"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// Snapshot returns every stored sample in insertion order.
func (r *SampleRepository) Snapshot(ctx context.Context) ([]domain.LabeledSample, error) {
	rows, err := r.pool.Query(ctx, `SELECT activity, readings FROM labeled_samples ORDER BY sample_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LabeledSample
	for rows.Next() {
		var (
			activity string
			flat     []float64
		)
		if err := rows.Scan(&activity, &flat); err != nil {
			return nil, err
		}
		readings, err := unflatten(flat)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.LabeledSample{Activity: activity, Readings: readings})
	}
	return out, rows.Err()
}

// Summary counts samples per activity.
func (r *SampleRepository) Summary(ctx context.Context) (domain.SampleSummary, error) {
	rows, err := r.pool.Query(ctx, `SELECT activity, COUNT(*) FROM labeled_samples GROUP BY activity ORDER BY activity`)
	if err != nil {
		return domain.SampleSummary{}, err
	}
	defer rows.Close()

	summary := domain.SampleSummary{Activities: []string{}, PerLabel: map[string]int{}}
	for rows.Next() {
		var (
			activity string
			count    int
		)
		if err := rows.Scan(&activity, &count); err != nil {
			return domain.SampleSummary{}, err
		}
		summary.Activities = append(summary.Activities, activity)
		summary.PerLabel[activity] = count
		summary.Total += count
	}
	return summary, rows.Err()
}

// Clear removes every stored sample.
func (r *SampleRepository) Clear(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `TRUNCATE labeled_samples`)
	return err
}

func flatten(readings []domain.Reading) []float64 {
	out := make([]float64, 0, len(readings)*3)
	for _, reading := range readings {
		out = append(out, reading.X, reading.Y, reading.Z)
	}
	return out
}

func unflatten(flat []float64) ([]domain.Reading, error) {
	if len(flat)%3 != 0 {
		return nil, fmt.Errorf("corrupt readings: %d values", len(flat))
	}
	out := make([]domain.Reading, len(flat)/3)
	for i := range out {
		out[i] = domain.Reading{X: flat[3*i], Y: flat[3*i+1], Z: flat[3*i+2]}
	}
	return out, nil
}
