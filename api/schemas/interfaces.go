package schemas

import (
	"context"
	"time"
)

// -- Store Interface --

// Store persists task results. Implementations exist for PostgreSQL and
// SQLite.
type Store interface {
	// PersistData saves every result of one device batch.
	PersistData(ctx context.Context, data *ResultEnvelope) error
	// RecentResults returns the newest records first. An empty device
	// matches every device.
	RecentResults(ctx context.Context, device string, limit int) ([]HistoryRecord, error)
	Close() error
}

// -- Runner Interface --

// TaskRunner executes one task against a connected engine session.
type TaskRunner interface {
	RunTask(ctx context.Context, def TaskDefinition, budget time.Duration) TaskResult
}
