package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/arkpilot/api/schemas"
	"github.com/xkilldash9x/arkpilot/internal/device"
	"github.com/xkilldash9x/arkpilot/internal/engine"
	"github.com/xkilldash9x/arkpilot/internal/maa"
	"github.com/xkilldash9x/arkpilot/internal/observability"
	"github.com/xkilldash9x/arkpilot/internal/orchestrator"
	"github.com/xkilldash9x/arkpilot/internal/runner"
	"github.com/xkilldash9x/arkpilot/internal/shell"
	"github.com/xkilldash9x/arkpilot/internal/store"
	"github.com/xkilldash9x/arkpilot/internal/version"
)

// dependencies are the process-level collaborators the commands wire in.
// Tests replace them with fakes.
type dependencies struct {
	openEngine  func(libDir string) (maa.Factory, error)
	shell       shell.Runner
	procs       device.ProcessTable
	starter     device.Starter
	runnerOpts  []runner.Option
	versionOpts []version.Option
}

func defaultDependencies() dependencies {
	return dependencies{
		openEngine: maa.OpenCore,
		shell:      shell.OSRunner{},
		procs:      device.SystemProcesses{},
		starter:    device.ExecStarter{},
	}
}

// components holds everything a device run needs.
type components struct {
	logger       *zap.Logger
	store        schemas.Store
	orchestrator *orchestrator.Orchestrator
	targets      []orchestrator.Target
}

func (c *components) Close() {
	if c.store == nil {
		return
	}
	if err := c.store.Close(); err != nil {
		c.logger.Warn("Failed to close result store", zap.Error(err))
	}
}

func (a *app) targets() ([]orchestrator.Target, error) {
	return orchestrator.BuildTargets(a.cfg, a.deps.shell, a.deps.procs, a.deps.starter, observability.GetLogger())
}

// buildComponents wires the store, engine and device pool.
func (a *app) buildComponents(ctx context.Context) (*components, error) {
	logger := observability.GetLogger()
	cfg := a.cfg

	targets, err := a.targets()
	if err != nil {
		return nil, err
	}
	factory, err := a.deps.openEngine(cfg.MAA.LibDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load engine library: %w", err)
	}

	c := &components{logger: logger, targets: targets}
	c.store, err = store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}

	batch, err := engine.NewBatchExecutor(c.store, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	pool, err := engine.NewDevicePool(cfg.Engine, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.orchestrator, err = orchestrator.New(cfg, logger, factory, batch, pool, a.deps.runnerOpts...)
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
