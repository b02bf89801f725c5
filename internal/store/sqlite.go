package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/arkpilot/api/schemas"
)

type migration struct {
	version int
	upSQL   string
}

var sqliteMigrations = []migration{
	{
		version: 1,
		upSQL: `
CREATE TABLE IF NOT EXISTS task_results (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	device TEXT NOT NULL,
	type TEXT NOT NULL,
	succeeded INTEGER NOT NULL,
	reasons TEXT NOT NULL,
	tried_times INTEGER NOT NULL,
	time_remain INTEGER NOT NULL,
	finished_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS task_results_device_finished
ON task_results(device, finished_at DESC);
`,
	},
}

// SQLiteStore persists task results in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, log: logger.Named("store")}, nil
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range sqliteMigrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.version).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.upSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

// PersistData writes every result of the envelope in one transaction.
func (s *SQLiteStore) PersistData(ctx context.Context, envelope *schemas.ResultEnvelope) error {
	if envelope == nil || len(envelope.Results) == 0 {
		return nil
	}
	rows, err := resultRows(envelope)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO task_results(id, run_id, device, type, succeeded, reasons, tried_times, time_remain, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		// succeeded and finished_at are stored as INTEGER and TEXT.
		row[4] = boolToInt(row[4].(bool))
		row[8] = ts(row[8].(time.Time))
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("insert task result: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Debug("Persisted task results", zap.String("run_id", envelope.RunID), zap.Int("count", len(rows)))
	return nil
}

// RecentResults returns the newest results first. An empty device returns
// results of every device.
func (s *SQLiteStore) RecentResults(ctx context.Context, device string, limit int) ([]schemas.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, run_id, device, type, succeeded, reasons, tried_times, time_remain, finished_at
FROM task_results
WHERE (? = '' OR device = ?)
ORDER BY finished_at DESC, rowid DESC
LIMIT ?`, device, device, limit)
	if err != nil {
		return nil, fmt.Errorf("query task results: %w", err)
	}
	defer rows.Close()

	var records []schemas.HistoryRecord
	for rows.Next() {
		var (
			rec        schemas.HistoryRecord
			succeeded  int
			reasons    string
			remain     int64
			finishedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Device, &rec.Result.Type, &succeeded, &reasons, &rec.Result.TriedTimes, &remain, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		rec.Result.Succeeded = succeeded != 0
		if rec.Result.Reasons, err = decodeReasons(reasons); err != nil {
			return nil, err
		}
		rec.Result.TimeRemaining = time.Duration(remain) * time.Second
		if rec.FinishedAt, err = parseTS(finishedAt); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task results: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// tsLayout is fixed width so finished_at sorts as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}
