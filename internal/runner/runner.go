// Package runner owns one engine session bound to one device and runs tasks
// on it with retries.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/arkpilot/api/schemas"
	"github.com/xkilldash9x/arkpilot/internal/config"
	"github.com/xkilldash9x/arkpilot/internal/device"
	"github.com/xkilldash9x/arkpilot/internal/maa"
	"github.com/xkilldash9x/arkpilot/internal/status"
)

// Device is the part of a device session the runner uses.
type Device interface {
	Name() string
	String() string
	Addr() string
	ConnectionProfile() string
	ConnectionExtras() (extras string, ok bool, err error)
	CurrentServer() device.ClientType
	SetCurrentServer(device.ClientType)
	ForceStopGame(ctx context.Context) error
}

// Sleeper blocks for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Option customizes a Runner.
type Option func(*Runner)

// WithSleeper replaces the wall-clock sleeper.
func WithSleeper(s Sleeper) Option {
	return func(r *Runner) { r.sleeper = s }
}

// WithStrategies replaces the built-in strategy registry.
func WithStrategies(reg *Registry) Option {
	return func(r *Runner) { r.strategies = reg }
}

// Runner drives one engine session. It is not safe for concurrent use;
// engine callbacks reach it only through its status store.
type Runner struct {
	dev        Device
	engine     maa.Engine
	status     *status.Store
	cfg        config.RunnerConfig
	maaCfg     config.MAAConfig
	adbPath    string
	strategies *Registry
	sleeper    Sleeper
	logger     *zap.Logger
}

// New creates the engine session for dev. The engine is built by factory
// with the runner's status observer as its callback sink.
func New(cfg *config.Config, dev Device, factory maa.Factory, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if dev == nil {
		return nil, errors.New("device cannot be nil")
	}
	if factory == nil {
		return nil, errors.New("engine factory cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	log := logger.Named("runner").With(zap.String("device", dev.String()))
	store := status.NewStore(log)
	eng, err := factory(status.NewObserver(store, log))
	if err != nil {
		return nil, fmt.Errorf("create engine for %s: %w", dev, err)
	}

	r := &Runner{
		dev:        dev,
		engine:     eng,
		status:     store,
		cfg:        cfg.Runner,
		maaCfg:     cfg.MAA,
		adbPath:    cfg.ADBPath,
		strategies: NewRegistry(),
		sleeper:    timerSleeper{},
		logger:     log,
	}
	for _, opt := range opts {
		opt(r)
	}

	if cfg.MAA.TouchType != "" && !eng.SetInstanceOption(maa.TouchType, cfg.MAA.TouchType) {
		r.logger.Warn("Engine rejected touch type", zap.String("touch_type", cfg.MAA.TouchType))
	}
	r.logger.Debug("Runner initialized")
	return r, nil
}

// Status exposes the session status store.
func (r *Runner) Status() *status.Store { return r.status }

// Close releases the engine session.
func (r *Runner) Close() error {
	return r.engine.Close()
}

// Connect performs the engine connect handshake. It never relaunches the
// emulator.
func (r *Runner) Connect(ctx context.Context) error {
	profile := r.dev.ConnectionProfile()
	extras, ok, err := r.dev.ConnectionExtras()
	if err != nil {
		return err
	}
	if ok {
		r.logger.Debug("Applying connection extras", zap.String("extras", extras))
		r.engine.SetConnectionExtras(profile, extras)
	}

	attempts := r.cfg.ConnectAttempts
	for i := 0; i < attempts; i++ {
		if r.engine.Connect(r.adbPath, r.dev.Addr(), profile) {
			r.logger.Info("Connected to device", zap.Int("attempt", i+1))
			return nil
		}
		r.logger.Warn("Connect failed", zap.Int("attempt", i+1), zap.Int("max", attempts))
		if i == attempts-1 {
			break
		}
		if err := r.sleeper.Sleep(ctx, r.cfg.ConnectInterval); err != nil {
			return fmt.Errorf("connect %s: %w", r.dev, err)
		}
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrConnectExhausted, r.dev, attempts)
}

// LoadResources loads the engine resources for the client variant.
func (r *Runner) LoadResources(ctx context.Context, client device.ClientType) error {
	incremental := filepath.Join(r.maaCfg.Dir, "cache")
	if !client.UsesCache() {
		incremental = filepath.Join(r.maaCfg.Dir, "resource", "global", string(client))
	}
	userDir := filepath.Join(r.maaCfg.UserDir, r.dev.Name())

	attempts := r.cfg.LoadAttempts
	for i := 0; i < attempts; i++ {
		if r.engine.Load(r.maaCfg.Dir, incremental, userDir) {
			r.logger.Info("Resources loaded", zap.Stringer("client", client), zap.String("incremental", incremental))
			return nil
		}
		r.logger.Warn("Resource load failed", zap.Int("attempt", i+1), zap.Int("max", attempts))
		if i == attempts-1 {
			break
		}
		if err := r.sleeper.Sleep(ctx, r.cfg.LoadInterval); err != nil {
			return fmt.Errorf("load resources: %w", err)
		}
	}
	return fmt.Errorf("%w: client %s", ErrResourceLoadFailed, client)
}

// AddTask appends one task to the engine queue and returns its id.
func (r *Runner) AddTask(name string, params map[string]any) (int, error) {
	id := r.engine.AppendTask(name, params)
	if id == 0 {
		return 0, fmt.Errorf("%w: %s", ErrTaskAppendRejected, name)
	}
	r.logger.Debug("Task appended", zap.String("task", name), zap.Int("id", id), zap.Any("params", params))
	return id, nil
}

// RunTask executes def with retries and returns its verdict. Per-attempt
// failures are logged and retried; they never escape as errors.
func (r *Runner) RunTask(ctx context.Context, def schemas.TaskDefinition, budget time.Duration) schemas.TaskResult {
	log := r.logger.With(zap.String("task", def.Name))
	log.Info("Start task", zap.Duration("budget", budget))

	strategy := r.strategies.Lookup(def.Name)
	maxAttempts := strategy.MaxAttempts(r.cfg.MaxAttempts)
	exec := strategy.Begin(r.dev, def.CloneParams())

	remaining := budget
	tried := 0
	var lastErr error

	for i := 0; i < maxAttempts; i++ {
		tried = i + 1
		log.Info("Trying task", zap.Int("attempt", tried), zap.Int("max", maxAttempts))

		retry, err := r.attempt(ctx, def.Name, strategy, exec, i, &remaining)
		lastErr = err
		if err != nil {
			log.Info("Task attempt failed", zap.Int("attempt", tried), zap.Error(err))
			retry = true
		}
		if !retry || ctx.Err() != nil {
			break
		}
	}

	result := r.verdict(def.Name, exec, tried, remaining, lastErr)
	if result.Succeeded {
		log.Info("Task ended successfully", zap.Strings("reasons", result.Reasons))
	} else {
		log.Warn("Task failed", zap.Strings("reasons", result.Reasons), zap.Int("tried_times", result.TriedTimes))
	}
	return result
}

// attempt runs one try of a task and reports whether another one is due.
func (r *Runner) attempt(ctx context.Context, name string, strategy Strategy, exec Execution, i int, remaining *time.Duration) (retry bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during attempt: %v", p)
		}
	}()

	if _, err := r.AddTask(name, exec.Params(i)); err != nil {
		return false, err
	}
	r.status.Delete(status.KeyTaskChain)
	if !r.engine.Start() {
		return false, ErrEngineStartFailed
	}
	r.logger.Debug("Engine start invoked")

	r.poll(ctx, remaining, strategy.ForcedStop())

	snap := r.status.Snapshot()
	kind, ok := snap.ChainKind()
	r.logger.Debug("Engine stopped running", zap.String("status", snap.ChainName()), zap.Duration("remaining", *remaining))
	if !ok {
		return false, errNoChainStatus
	}

	switch kind {
	case maa.TaskChainError:
		if err := exec.OnChainError(ctx, r.dev); err != nil {
			r.logger.Warn("Recovery after task chain error failed", zap.Error(err))
		}
		return true, nil
	case maa.TaskChainStopped:
		return false, nil
	}
	return exec.OnFinished(i, snap), nil
}

// poll waits until the engine stops running. A stop is requested at most
// once: when the budget is spent and forcedStop allows it, or when ctx is
// cancelled. Polling always continues until the engine reports idle.
func (r *Runner) poll(ctx context.Context, remaining *time.Duration, forcedStop bool) {
	interval := r.cfg.PollInterval
	stopped := false
	sleepCtx := ctx

	for r.engine.Running() {
		if err := r.sleeper.Sleep(sleepCtx, interval); err != nil {
			sleepCtx = context.WithoutCancel(ctx)
			if !stopped {
				r.logger.Warn("Context cancelled, stopping engine", zap.Error(err))
				r.engine.Stop()
				stopped = true
			}
			continue
		}
		*remaining -= interval
		if *remaining < 0 && forcedStop && !stopped {
			r.logger.Warn("Task out of time, stopping engine", zap.Duration("remaining", *remaining))
			r.engine.Stop()
			r.logger.Debug("Engine stop invoked")
			stopped = true
		}
	}
}

func (r *Runner) verdict(name string, exec Execution, tried int, remaining time.Duration, lastErr error) schemas.TaskResult {
	snap := r.status.Snapshot()
	kind, seen := snap.ChainKind()

	reasons := []string{snap.ChainName()}
	succeeded := seen && kind == maa.TaskChainCompleted

	if remaining < 0 {
		reasons = append(reasons, ReasonTimeout)
		succeeded = false
	}
	if ok, reason := exec.Verdict(snap); !ok {
		reasons = append(reasons, reason)
		succeeded = false
	}
	if lastErr != nil {
		reasons = append(reasons, lastErr.Error())
		succeeded = false
	}

	return schemas.TaskResult{
		Type:          name,
		Succeeded:     succeeded,
		Reasons:       reasons,
		TriedTimes:    tried,
		TimeRemaining: remaining,
	}
}
