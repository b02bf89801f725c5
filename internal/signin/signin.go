// Package signin runs the external daily sign-in routine.
package signin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/arkpilot/internal/config"
	"github.com/xkilldash9x/arkpilot/internal/shell"
)

// ErrNotConfigured is returned when no sign-in command is set.
var ErrNotConfigured = errors.New("sign-in command not configured")

// Routine runs the configured command line with a timeout.
type Routine struct {
	command []string
	timeout time.Duration
	runner  shell.Runner
	logger  *zap.Logger
}

// New creates a routine. A nil runner executes real processes.
func New(cfg config.SignInConfig, runner shell.Runner, logger *zap.Logger) (*Routine, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if runner == nil {
		runner = shell.OSRunner{}
	}
	return &Routine{
		command: cfg.Command,
		timeout: cfg.Timeout,
		runner:  runner,
		logger:  logger.Named("signin"),
	}, nil
}

// Handle runs the sign-in command once.
func (r *Routine) Handle(ctx context.Context) error {
	if len(r.command) == 0 {
		return ErrNotConfigured
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.logger.Info("Running sign-in", zap.Strings("command", r.command))
	out, err := r.runner.Run(ctx, r.command[0], r.command[1:]...)
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			r.logger.Info("sign-in output", zap.String("line", line))
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("sign-in timed out after %s: %w", r.timeout, ctx.Err())
		}
		return fmt.Errorf("sign-in: %w", err)
	}
	r.logger.Info("Sign-in finished")
	return nil
}
