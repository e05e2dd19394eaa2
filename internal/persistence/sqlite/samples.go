package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"example.com/activityrecognition/internal/domain"
)

// SampleRepository stores labeled samples with msgpack-encoded readings.
type SampleRepository struct {
	db           *sql.DB
	windowLength int
}

// NewSampleRepository constructs a SampleRepository accepting windows of windowLength readings.
func NewSampleRepository(db *sql.DB, windowLength int) *SampleRepository {
	return &SampleRepository{db: db, windowLength: windowLength}
}

// Append validates every sample and inserts the batch in one transaction.
func (r *SampleRepository) Append(ctx context.Context, samples ...domain.LabeledSample) error {
	encoded := make([][]byte, len(samples))
	for i, sample := range samples {
		if err := sample.Validate(r.windowLength); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		blob, err := msgpack.Marshal(sample.Readings)
		if err != nil {
			return fmt.Errorf("encode sample %d: %w", i, err)
		}
		encoded[i] = blob
	}
	if len(samples) == 0 {
		return nil
	}

	now := time.Now().UTC().UnixNano()
	return transaction(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO labeled_samples (activity, readings, created_at) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, sample := range samples {
			if _, err := stmt.ExecContext(ctx, sample.Activity, encoded[i], now); err != nil {
				return err
			}
		}
		return nil
	})
}

// Snapshot returns every stored sample in insertion order.
func (r *SampleRepository) Snapshot(ctx context.Context) ([]domain.LabeledSample, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT activity, readings FROM labeled_samples ORDER BY sample_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LabeledSample
	for rows.Next() {
		var (
			activity string
			blob     []byte
		)
		if err := rows.Scan(&activity, &blob); err != nil {
			return nil, err
		}
		var readings []domain.Reading
		if err := msgpack.Unmarshal(blob, &readings); err != nil {
			return nil, fmt.Errorf("decode readings: %w", err)
		}
		out = append(out, domain.LabeledSample{Activity: activity, Readings: readings})
	}
	return out, rows.Err()
}

// Summary counts samples per activity.
func (r *SampleRepository) Summary(ctx context.Context) (domain.SampleSummary, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT activity, COUNT(*) FROM labeled_samples GROUP BY activity ORDER BY activity`)
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
	_, err := r.db.ExecContext(ctx, `DELETE FROM labeled_samples`)
	return err
}
