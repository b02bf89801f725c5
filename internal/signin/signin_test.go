package signin_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/arkpilot/internal/config"
	"github.com/xkilldash9x/arkpilot/internal/mocks"
	"github.com/xkilldash9x/arkpilot/internal/signin"
)

func TestNew(t *testing.T) {
	_, err := signin.New(config.SignInConfig{}, nil, nil)
	assert.Error(t, err)
}

func TestHandle(t *testing.T) {
	cfg := config.SignInConfig{Command: []string{"skland", "sign", "--all"}, Timeout: time.Minute}

	t.Run("runs the command and logs its output", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		runner := new(mocks.MockCommandRunner)
		runner.On("Run", mock.MatchedBy(func(ctx context.Context) bool {
			_, ok := ctx.Deadline()
			return ok
		}), "skland", []string{"sign", "--all"}).
			Return([]byte("account 1 signed\naccount 2 signed\n"), nil).Once()

		r, err := signin.New(cfg, runner, zap.New(core))
		require.NoError(t, err)
		require.NoError(t, r.Handle(context.Background()))

		runner.AssertExpectations(t)
		assert.Equal(t, 2, logs.FilterMessage("sign-in output").Len())
	})

	t.Run("command failure", func(t *testing.T) {
		runner := new(mocks.MockCommandRunner)
		runner.On("Run", mock.Anything, "skland", []string{"sign", "--all"}).
			Return([]byte("token expired"), errors.New("exit status 1")).Once()

		r, err := signin.New(cfg, runner, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.ErrorContains(t, r.Handle(context.Background()), "sign-in: exit status 1")
	})

	t.Run("timeout", func(t *testing.T) {
		runner := new(mocks.MockCommandRunner)
		runner.On("Run", mock.Anything, "skland", []string{"sign", "--all"}).
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return([]byte(nil), errors.New("signal: killed")).Once()

		short := cfg
		short.Timeout = 10 * time.Millisecond
		r, err := signin.New(short, runner, zaptest.NewLogger(t))
		require.NoError(t, err)

		err = r.Handle(context.Background())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("not configured", func(t *testing.T) {
		r, err := signin.New(config.SignInConfig{}, new(mocks.MockCommandRunner), zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.ErrorIs(t, r.Handle(context.Background()), signin.ErrNotConfigured)
	})
}
