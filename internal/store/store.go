package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/arkpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS task_results (
    id          UUID PRIMARY KEY,
    run_id      UUID NOT NULL,
    device      TEXT NOT NULL,
    type        TEXT NOT NULL,
    succeeded   BOOLEAN NOT NULL,
    reasons     JSONB NOT NULL,
    tried_times INTEGER NOT NULL,
    time_remain BIGINT NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS task_results_device_finished ON task_results (device, finished_at DESC);
`

var resultColumns = []string{"id", "run_id", "device", "type", "succeeded", "reasons", "tried_times", "time_remain", "finished_at"}

// Store persists task results in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the result table when it is missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// PersistData writes every result of the envelope in one transaction.
func (s *Store) PersistData(ctx context.Context, envelope *schemas.ResultEnvelope) error {
	if envelope == nil || len(envelope.Results) == 0 {
		return nil
	}
	rows, err := resultRows(envelope)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a commit reports ErrTxClosed.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"task_results"}, resultColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy task results: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied results count: expected %d, got %d", len(rows), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Persisted task results", zap.String("run_id", envelope.RunID), zap.Int("count", len(rows)))
	return nil
}

// resultRows flattens an envelope into task_results rows in column order.
func resultRows(envelope *schemas.ResultEnvelope) ([][]any, error) {
	finishedAt := envelope.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now()
	}
	finishedAt = finishedAt.UTC()

	rows := make([][]any, len(envelope.Results))
	for i, r := range envelope.Results {
		reasons, err := encodeReasons(r.Reasons)
		if err != nil {
			return nil, err
		}
		rows[i] = []any{
			uuid.NewString(), envelope.RunID, envelope.Device,
			r.Type, r.Succeeded, reasons,
			r.TriedTimes, r.RemainingSeconds(), finishedAt,
		}
	}
	return rows, nil
}

func encodeReasons(reasons []string) (string, error) {
	if reasons == nil {
		reasons = []string{}
	}
	data, err := json.Marshal(reasons)
	if err != nil {
		return "", fmt.Errorf("encode reasons: %w", err)
	}
	return string(data), nil
}

func decodeReasons(raw string) ([]string, error) {
	var reasons []string
	if err := json.Unmarshal([]byte(raw), &reasons); err != nil {
		return nil, fmt.Errorf("decode reasons: %w", err)
	}
	if reasons == nil {
		reasons = []string{}
	}
	return reasons, nil
}

// RecentResults returns the newest results first. An empty device returns
// results of every device.
func (s *Store) RecentResults(ctx context.Context, device string, limit int) ([]schemas.HistoryRecord, error) {
	query := `
        SELECT id::text, run_id::text, device, type, succeeded, reasons::text, tried_times, time_remain, finished_at
        FROM task_results
        WHERE ($1 = '' OR device = $1)
        ORDER BY finished_at DESC, id
        LIMIT $2;
    `
	rows, err := s.pool.Query(ctx, query, device, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query task results: %w", err)
	}
	defer rows.Close()

	var records []schemas.HistoryRecord
	for rows.Next() {
		var (
			rec     schemas.HistoryRecord
			reasons string
			remain  int64
		)
		err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Device,
			&rec.Result.Type, &rec.Result.Succeeded, &reasons,
			&rec.Result.TriedTimes, &remain, &rec.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task result row: %w", err)
		}
		if rec.Result.Reasons, err = decodeReasons(reasons); err != nil {
			return nil, err
		}
		rec.Result.TimeRemaining = time.Duration(remain) * time.Second
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
