// internal/engine/batch_test.go
package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/arkpilot/api/schemas"
	"github.com/xkilldash9x/arkpilot/internal/mocks"
)

func TestNewBatchExecutor(t *testing.T) {
	_, err := NewBatchExecutor(nil, nil)
	assert.Error(t, err)

	b, err := NewBatchExecutor(nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, b)
}

func TestBatchExecutor_Run(t *testing.T) {
	defs := []schemas.TaskDefinition{
		{Name: "StartUp", Params: map[string]any{"client_type": "Official"}},
		{Name: "Fight", Params: map[string]any{"stage": "1-7"}},
		{Name: "Award"},
	}

	t.Run("budget carries over and failures do not abort", func(t *testing.T) {
		runner := new(mocks.MockTaskRunner)
		store := new(mocks.MockStore)
		ctx := context.Background()

		runner.On("RunTask", ctx, defs[0], 600*time.Second).
			Return(schemas.TaskResult{Type: "StartUp", Succeeded: true, Reasons: []string{"TaskChainCompleted"}, TriedTimes: 1, TimeRemaining: 540 * time.Second}).Once()
		runner.On("RunTask", ctx, defs[1], 540*time.Second).
			Return(schemas.TaskResult{Type: "Fight", Succeeded: false, Reasons: []string{"TaskChainError"}, TriedTimes: 2, TimeRemaining: 100 * time.Second}).Once()
		runner.On("RunTask", ctx, defs[2], 100*time.Second).
			Return(schemas.TaskResult{Type: "Award", Succeeded: true, Reasons: []string{"TaskChainCompleted"}, TriedTimes: 1, TimeRemaining: 80 * time.Second}).Once()

		var persisted *schemas.ResultEnvelope
		store.On("PersistData", mock.Anything, mock.AnythingOfType("*schemas.ResultEnvelope")).
			Run(func(args mock.Arguments) { persisted = args.Get(1).(*schemas.ResultEnvelope) }).
			Return(nil).Once()

		b, err := NewBatchExecutor(store, zaptest.NewLogger(t))
		require.NoError(t, err)

		results := b.Run(ctx, "main", runner, defs, 600*time.Second)

		require.Len(t, results, 3)
		assert.False(t, results[1].Succeeded)
		assert.True(t, results[2].Succeeded)
		runner.AssertExpectations(t)
		store.AssertExpectations(t)

		require.NotNil(t, persisted)
		assert.Equal(t, "main", persisted.Device)
		assert.NotEmpty(t, persisted.RunID)
		assert.Equal(t, results, persisted.Results)
	})

	t.Run("negative remainder is passed on", func(t *testing.T) {
		runner := new(mocks.MockTaskRunner)
		ctx := context.Background()
		runner.On("RunTask", ctx, defs[0], 10*time.Second).
			Return(schemas.TaskResult{Type: "StartUp", TimeRemaining: -5 * time.Second}).Once()
		runner.On("RunTask", ctx, defs[1], -5*time.Second).
			Return(schemas.TaskResult{Type: "Fight", TimeRemaining: -10 * time.Second}).Once()

		b, err := NewBatchExecutor(nil, zaptest.NewLogger(t))
		require.NoError(t, err)

		results := b.Run(ctx, "main", runner, defs[:2], 10*time.Second)
		assert.Len(t, results, 2)
		runner.AssertExpectations(t)
	})

	t.Run("cancellation stops launching new tasks", func(t *testing.T) {
		runner := new(mocks.MockTaskRunner)
		store := new(mocks.MockStore)
		ctx, cancel := context.WithCancel(context.Background())

		runner.On("RunTask", mock.Anything, defs[0], time.Minute).
			Run(func(mock.Arguments) { cancel() }).
			Return(schemas.TaskResult{Type: "StartUp", TimeRemaining: 30 * time.Second}).Once()
		store.On("PersistData", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), mock.Anything).
			Return(nil).Once()

		b, err := NewBatchExecutor(store, zaptest.NewLogger(t))
		require.NoError(t, err)

		results := b.Run(ctx, "main", runner, defs, time.Minute)
		assert.Len(t, results, 1)
		runner.AssertNumberOfCalls(t, "RunTask", 1)
		store.AssertExpectations(t)
	})

	t.Run("persistence failure is logged only", func(t *testing.T) {
		runner := new(mocks.MockTaskRunner)
		store := new(mocks.MockStore)
		runner.On("RunTask", mock.Anything, mock.Anything, mock.Anything).Return(schemas.TaskResult{Type: "Award"})
		store.On("PersistData", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

		b, err := NewBatchExecutor(store, zaptest.NewLogger(t))
		require.NoError(t, err)

		assert.Len(t, b.Run(context.Background(), "main", runner, defs[2:], time.Minute), 1)
		store.AssertExpectations(t)
	})

	t.Run("empty batch persists nothing", func(t *testing.T) {
		store := new(mocks.MockStore)
		b, err := NewBatchExecutor(store, zaptest.NewLogger(t))
		require.NoError(t, err)

		assert.Empty(t, b.Run(context.Background(), "main", new(mocks.MockTaskRunner), nil, time.Minute))
		store.AssertNotCalled(t, "PersistData", mock.Anything, mock.Anything)
	})
}
