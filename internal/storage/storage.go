// Package storage selects the sample store and run recorder backing a binary.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/activityrecognition/internal/config"
	"example.com/activityrecognition/internal/domain"
	"example.com/activityrecognition/internal/persistence/postgres"
	"example.com/activityrecognition/internal/persistence/sqlite"
	"example.com/activityrecognition/internal/samples"
)

// ErrUnknownDriver is returned for unsupported STORE_DRIVER values.
var ErrUnknownDriver = errors.New("unknown store driver")

const (
	connectAttempts = 30
	connectBackoff  = time.Second
)

// Stores bundles the persistence ports. Runs is nil for the memory driver; run history then lives
// in the training manager only.
type Stores struct {
	Driver  string
	Samples domain.SampleStore
	Runs    domain.RunRecorder

	close func()
}

// Durable reports whether samples survive a restart.
func (s *Stores) Durable() bool {
	return s.Driver != config.StoreMemory
}

// Close releases the underlying database handles.
func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// Open builds the stores for cfg.StoreDriver. Postgres connections are retried while the
// database starts up.
func Open(ctx context.Context, cfg config.Config, logger *log.Logger) (*Stores, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory, "":
		return &Stores{
			Driver:  config.StoreMemory,
			Samples: samples.NewInMemoryStore(cfg.SequenceLength),
		}, nil

	case config.StoreSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		return &Stores{
			Driver:  config.StoreSQLite,
			Samples: sqlite.NewSampleRepository(db, cfg.SequenceLength),
			Runs:    sqlite.NewRunRepository(db),
			close:   func() { _ = db.Close() },
		}, nil

	case config.StorePostgres:
		pool, err := connectPostgres(ctx, cfg.PostgresURL, logger)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return &Stores{
			Driver:  config.StorePostgres,
			Samples: postgres.NewSampleRepository(pool, cfg.SequenceLength),
			Runs:    postgres.NewRunRepository(pool),
			close:   pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.StoreDriver)
	}
}

func connectPostgres(ctx context.Context, url string, logger *log.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	for attempt := 1; ; attempt++ {
		err = pool.Ping(ctx)
		if err == nil {
			return pool, nil
		}
		if attempt == connectAttempts {
			break
		}
		logger.Printf("postgres not ready (attempt %d/%d): %v", attempt, connectAttempts, err)
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
	pool.Close()
	return nil, fmt.Errorf("postgres unreachable: %w", err)
}
