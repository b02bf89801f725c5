// internal/engine/batch.go
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/arkpilot/api/schemas"
)

const persistTimeout = 30 * time.Second

// BatchExecutor runs a device's task list in order against one runner.
// Tasks share the engine session and the device, so they never overlap.
type BatchExecutor struct {
	store  schemas.Store
	logger *zap.Logger
}

// NewBatchExecutor creates an executor. store may be nil to skip
// persistence.
func NewBatchExecutor(store schemas.Store, logger *zap.Logger) (*BatchExecutor, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &BatchExecutor{
		store:  store,
		logger: logger.With(zap.String("component", "batch_executor")),
	}, nil
}

// Run executes defs in order. Each task gets what the previous one left of
// the budget. A failed task is recorded and the batch goes on; only a
// cancelled context stops new tasks from launching.
func (b *BatchExecutor) Run(ctx context.Context, device string, runner schemas.TaskRunner, defs []schemas.TaskDefinition, budget time.Duration) []schemas.TaskResult {
	runID := uuid.NewString()
	logger := b.logger.With(zap.String("device", device), zap.String("run_id", runID))
	logger.Info("Starting task batch", zap.Int("tasks", len(defs)), zap.Duration("budget", budget))

	results := make([]schemas.TaskResult, 0, len(defs))
	remaining := budget
	for _, def := range defs {
		if err := ctx.Err(); err != nil {
			logger.Warn("Context cancelled, not launching remaining tasks", zap.Int("skipped", len(defs)-len(results)), zap.Error(err))
			break
		}

		res := runner.RunTask(ctx, def, remaining)
		remaining = res.TimeRemaining
		results = append(results, res)

		fields := []zap.Field{
			zap.String("task", res.Type),
			zap.Strings("reasons", res.Reasons),
			zap.Int("tried_times", res.TriedTimes),
			zap.Duration("time_remain", res.TimeRemaining),
		}
		if res.Succeeded {
			logger.Info("Task succeeded", fields...)
		} else {
			logger.Warn("Task failed", fields...)
		}
	}

	b.persist(logger, &schemas.ResultEnvelope{
		RunID:      runID,
		Device:     device,
		FinishedAt: time.Now().UTC(),
		Results:    results,
	})
	return results
}

func (b *BatchExecutor) persist(logger *zap.Logger, env *schemas.ResultEnvelope) {
	if b.store == nil || len(env.Results) == 0 {
		return
	}
	// Results are saved even when the batch context was cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := b.store.PersistData(ctx, env); err != nil {
		logger.Error("Failed to persist task results", zap.Error(err))
		return
	}
	logger.Debug("Persisted task results", zap.Int("results", len(env.Results)))
}
