package device

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/arkpilot/internal/config"
)

// Lifecycle controls the emulator process of one device.
type Lifecycle interface {
	// KillIfRunning prepares a fresh launch. alive is true when the emulator
	// is healthy and must not be relaunched.
	KillIfRunning(ctx context.Context) (alive bool, err error)
	Launch(ctx context.Context) error
	Kill(ctx context.Context) error
}

// Starter launches the emulator executable detached from this process.
type Starter interface {
	Start(ctx context.Context, path string) error
}

// ExecStarter starts the executable with os/exec and releases it.
type ExecStarter struct{}

func (ExecStarter) Start(_ context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	cmd := exec.Command(abs)
	cmd.Dir = filepath.Dir(abs)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", abs, err)
	}
	return cmd.Process.Release()
}

const familyMuMu = "mumu"

const (
	mumuHeadlessName = "MuMuVMMHeadless"
	mumuPlayerName   = "MuMuPlayer"
)

// NewLifecycle picks the emulator family from the process descriptor. It
// returns nil when neither a process nor a start path is configured.
func NewLifecycle(cfg config.DeviceConfig, procs ProcessTable, starter Starter, logger *zap.Logger) (Lifecycle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if starter == nil {
		starter = ExecStarter{}
	}
	launcher := launcher{path: cfg.StartPath, starter: starter, logger: logger.Named("lifecycle")}

	switch p := cfg.Process.(type) {
	case nil:
		if cfg.StartPath == "" {
			return nil, nil
		}
		return &launchOnly{launcher: launcher}, nil
	case string:
		if procs == nil {
			return nil, errors.New("process table cannot be nil")
		}
		if p == familyMuMu {
			_, portStr, err := splitPort(cfg.EmulatorAddress)
			if err != nil {
				return nil, err
			}
			port, err := strconv.ParseUint(portStr, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("emulator port %q: %w", portStr, err)
			}
			return &MuMu{launcher: launcher, procs: procs, port: uint32(port)}, nil
		}
		return &ProcessNames{launcher: launcher, procs: procs, names: []string{p}}, nil
	case []string:
		if procs == nil {
			return nil, errors.New("process table cannot be nil")
		}
		return &ProcessNames{launcher: launcher, procs: procs, names: p}, nil
	case []any:
		if procs == nil {
			return nil, errors.New("process table cannot be nil")
		}
		names := make([]string, 0, len(p))
		for _, n := range p {
			s, ok := n.(string)
			if !ok {
				return nil, fmt.Errorf("process entry %v is not a string", n)
			}
			names = append(names, s)
		}
		return &ProcessNames{launcher: launcher, procs: procs, names: names}, nil
	default:
		return nil, fmt.Errorf("unsupported process descriptor %T", cfg.Process)
	}
}

func splitPort(addr string) (string, string, error) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return "", "", fmt.Errorf("emulator address %q has no port", addr)
	}
	return addr[:i], addr[i+1:], nil
}

type launcher struct {
	path    string
	starter Starter
	logger  *zap.Logger
}

func (l launcher) Launch(ctx context.Context) error {
	if l.path == "" {
		l.logger.Warn("No start_path configured, skipping emulator launch")
		return nil
	}
	if err := l.starter.Start(ctx, l.path); err != nil {
		return err
	}
	l.logger.Info("Started emulator", zap.String("path", l.path))
	return nil
}

// launchOnly starts the emulator without knowing its processes.
type launchOnly struct {
	launcher
}

func (*launchOnly) KillIfRunning(context.Context) (bool, error) { return false, nil }
func (*launchOnly) Kill(context.Context) error                  { return nil }

// ProcessNames kills every process matching one of the configured names.
type ProcessNames struct {
	launcher
	procs ProcessTable
	names []string
}

func (p *ProcessNames) KillIfRunning(ctx context.Context) (bool, error) {
	return false, p.Kill(ctx)
}

func (p *ProcessNames) Kill(ctx context.Context) error {
	var errs []error
	for _, name := range p.names {
		pids, err := p.procs.PidsByName(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("find %s: %w", name, err))
			continue
		}
		for _, pid := range pids {
			p.logger.Debug("Killing process", zap.String("name", name), zap.Int32("pid", pid))
			if err := p.procs.Kill(ctx, pid); err != nil {
				errs = append(errs, fmt.Errorf("kill %s(%d): %w", name, pid, err))
			}
		}
	}
	return errors.Join(errs...)
}

// MuMu manages a MuMu emulator instance: the headless VM listening on the
// device port and the player window that owns it.
type MuMu struct {
	launcher
	procs ProcessTable
	port  uint32
}

func (m *MuMu) pids(ctx context.Context) (headless, player int32, err error) {
	headless, err = m.procs.ListeningPid(ctx, m.port)
	if err != nil || headless == 0 {
		return 0, 0, err
	}
	player, err = m.procs.AncestorByName(ctx, headless, mumuPlayerName)
	if err != nil {
		return headless, 0, err
	}
	return headless, player, nil
}

func (m *MuMu) KillIfRunning(ctx context.Context) (bool, error) {
	headless, player, err := m.pids(ctx)
	if err != nil {
		return false, fmt.Errorf("locate mumu processes: %w", err)
	}
	m.logger.Debug("MuMu processes",
		zap.Int32(mumuHeadlessName, headless),
		zap.Int32(mumuPlayerName, player),
	)

	switch {
	case headless != 0 && player != 0:
		return true, nil
	case headless != 0:
		// A VM without its player window is not usable.
		return false, m.procs.Kill(ctx, headless)
	}
	return false, nil
}

func (m *MuMu) Kill(ctx context.Context) error {
	headless, player, err := m.pids(ctx)
	if err != nil {
		return fmt.Errorf("locate mumu processes: %w", err)
	}
	var errs []error
	for _, pid := range []int32{headless, player} {
		if pid == 0 {
			continue
		}
		if err := m.procs.Kill(ctx, pid); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
