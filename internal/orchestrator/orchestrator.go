// File: internal/orchestrator/orchestrator.go
// Description: Owns the per-device session lifecycle: prepare the emulator,
// open an engine session, load resources, connect, run the batch and shut
// the emulator down again.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/arkpilot/api/schemas"
	"github.com/xkilldash9x/arkpilot/internal/adb"
	"github.com/xkilldash9x/arkpilot/internal/config"
	"github.com/xkilldash9x/arkpilot/internal/device"
	"github.com/xkilldash9x/arkpilot/internal/engine"
	"github.com/xkilldash9x/arkpilot/internal/maa"
	"github.com/xkilldash9x/arkpilot/internal/observability"
	"github.com/xkilldash9x/arkpilot/internal/runner"
	"github.com/xkilldash9x/arkpilot/internal/shell"
)

const shutdownTimeout = time.Minute

// Target is one device with its configured batch.
type Target struct {
	Device *device.Device
	Tasks  []schemas.TaskDefinition
	Budget time.Duration
}

// BuildTargets turns the device configuration into targets. Each device
// gets its own adb channel and, when configured, an emulator lifecycle.
func BuildTargets(cfg *config.Config, sh shell.Runner, procs device.ProcessTable, starter device.Starter, logger *zap.Logger) ([]Target, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("cannot build targets with nil dependencies")
	}
	targets := make([]Target, 0, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		devLogger := observability.ForDevice(logger, dc.Alias, dc.EmulatorAddress)
		lc, err := device.NewLifecycle(dc, procs, starter, devLogger)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dc.Alias, err)
		}
		commands := adb.New(cfg.ADBPath, dc.EmulatorAddress, sh, devLogger)
		dev, err := device.New(dc, commands, lc, logger)
		if err != nil {
			return nil, err
		}

		tasks := make([]schemas.TaskDefinition, 0, len(dc.Tasks))
		for _, tc := range dc.Tasks {
			tasks = append(tasks, schemas.TaskDefinition{Name: tc.TaskName, Params: tc.TaskConfig})
		}
		budget := dc.TimeBudget
		if budget == 0 {
			budget = cfg.Orchestrator.DefaultTimeBudget
		}
		targets = append(targets, Target{Device: dev, Tasks: tasks, Budget: budget})
	}
	return targets, nil
}

// Orchestrator runs device sessions.
type Orchestrator struct {
	cfg        *config.Config
	logger     *zap.Logger
	factory    maa.Factory
	batch      *engine.BatchExecutor
	pool       *engine.DevicePool
	runnerOpts []runner.Option
}

// New creates an Orchestrator. runnerOpts are passed to every runner.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	factory maa.Factory,
	batch *engine.BatchExecutor,
	pool *engine.DevicePool,
	runnerOpts ...runner.Option,
) (*Orchestrator, error) {
	if cfg == nil ||
		logger == nil ||
		factory == nil ||
		batch == nil ||
		pool == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "orchestrator")),
		factory:    factory,
		batch:      batch,
		pool:       pool,
		runnerOpts: runnerOpts,
	}, nil
}

// retryable reports whether a session failure warrants a fresh session.
func retryable(err error) bool {
	return errors.Is(err, runner.ErrConnectExhausted) || errors.Is(err, runner.ErrResourceLoadFailed)
}

// RunDevice runs one device session. Connect and resource load failures
// relaunch the emulator and retry the whole session up to the configured
// count. The emulator is killed afterwards when the device asks for it.
func (o *Orchestrator) RunDevice(ctx context.Context, t Target) ([]schemas.TaskResult, error) {
	dev := t.Device
	logger := o.logger.With(zap.String("device", dev.String()))
	retries := o.cfg.Orchestrator.SessionRetries

	var (
		results []schemas.TaskResult
		err     error
	)
	for attempt := 0; ; attempt++ {
		results, err = o.session(ctx, t)
		if err == nil || !retryable(err) || attempt >= retries || ctx.Err() != nil {
			break
		}
		logger.Warn("Device session failed, retrying", zap.Int("retry", attempt+1), zap.Int("max", retries), zap.Error(err))
	}

	if dev.KillAfterEnd {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		if kerr := dev.Shutdown(shutdownCtx); kerr != nil {
			logger.Warn("Failed to kill emulator", zap.Error(kerr))
		}
		cancel()
	}

	if err != nil {
		logger.Error("Device session failed", zap.Error(err))
		return results, err
	}
	logger.Info("Device session finished", zap.Int("tasks", len(results)))
	return results, nil
}

func (o *Orchestrator) session(ctx context.Context, t Target) ([]schemas.TaskResult, error) {
	dev := t.Device
	if err := dev.EnsureStarted(ctx); err != nil {
		return nil, err
	}

	r, err := runner.New(o.cfg, dev, o.factory, o.logger, o.runnerOpts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil {
			o.logger.Warn("Failed to close engine session", zap.Error(cerr))
		}
	}()

	if err := r.LoadResources(ctx, dev.ClientType); err != nil {
		return nil, err
	}
	if err := r.Connect(ctx); err != nil {
		return nil, err
	}
	return o.batch.Run(ctx, dev.Name(), r, t.Tasks, t.Budget), nil
}

type deviceSession struct {
	o *Orchestrator
	t Target
}

func (s deviceSession) Name() string { return s.t.Device.Name() }

func (s deviceSession) Run(ctx context.Context) error {
	_, err := s.o.RunDevice(ctx, s.t)
	return err
}

// RunAll runs the targets in parallel through the device pool. A non-empty
// aliases list restricts the run to those devices.
func (o *Orchestrator) RunAll(ctx context.Context, targets []Target, aliases ...string) error {
	selected, err := Select(targets, aliases...)
	if err != nil {
		return err
	}
	sessions := make([]engine.Session, 0, len(selected))
	for _, t := range selected {
		sessions = append(sessions, deviceSession{o: o, t: t})
	}
	return o.pool.RunAll(ctx, sessions)
}

// Select filters targets by alias, keeping the configuration order.
func Select(targets []Target, aliases ...string) ([]Target, error) {
	if len(aliases) == 0 {
		return targets, nil
	}
	want := make(map[string]bool, len(aliases))
	for _, a := range aliases {
		want[a] = true
	}
	var out []Target
	for _, t := range targets {
		if want[t.Device.Name()] {
			out = append(out, t)
			delete(want, t.Device.Name())
		}
	}
	for a := range want {
		return nil, fmt.Errorf("unknown device %q", a)
	}
	return out, nil
}
