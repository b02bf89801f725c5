// Package device models one emulator binding: its address, identity,
// command channel and emulator lifecycle.
package device

import (
	"context"
	"fmt"
	"net"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/arkpilot/internal/config"
)

const defaultProfile = "General"

// CommandChannel runs device commands. *adb.Client implements it.
type CommandChannel interface {
	Exec(ctx context.Context, args ...string) (string, error)
	ForceStop(ctx context.Context, pkg string) error
	GameVersion(ctx context.Context, pkg string) (string, error)
}

// Device is one emulator binding. It maps to at most one active session at
// a time; only the session owner may kill or relaunch it.
type Device struct {
	Alias        string
	Host         string
	Port         string
	Profile      string
	Extras       map[string]any
	KillAfterEnd bool
	ClientType   ClientType

	commands  CommandChannel
	lifecycle Lifecycle
	logger    *zap.Logger

	mu     sync.Mutex
	server ClientType
}

// New builds a device from its configuration entry. lifecycle may be nil
// when the emulator is managed outside this process.
func New(cfg config.DeviceConfig, commands CommandChannel, lifecycle Lifecycle, logger *zap.Logger) (*Device, error) {
	if commands == nil {
		return nil, fmt.Errorf("device %s: command channel cannot be nil", cfg.Alias)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	host, port, err := net.SplitHostPort(cfg.EmulatorAddress)
	if err != nil {
		return nil, fmt.Errorf("device %s: invalid emulator address: %w", cfg.Alias, err)
	}
	client, err := ParseClientType(cfg.ClientType)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", cfg.Alias, err)
	}
	profile := cfg.Profile
	if profile == "" {
		profile = defaultProfile
	}

	d := &Device{
		Alias:        cfg.Alias,
		Host:         host,
		Port:         port,
		Profile:      profile,
		Extras:       cfg.Extras,
		KillAfterEnd: cfg.ShouldKillAfterEnd(),
		ClientType:   client,
		commands:     commands,
		lifecycle:    lifecycle,
	}
	d.logger = logger.With(zap.String("device", d.String()))
	d.logger.Debug("Device initialized")
	return d, nil
}

func (d *Device) String() string {
	return fmt.Sprintf("%s(%s)", d.Alias, d.Addr())
}

// Name is the configured alias.
func (d *Device) Name() string { return d.Alias }

// Addr is the host:port the engine connects to.
func (d *Device) Addr() string {
	return net.JoinHostPort(d.Host, d.Port)
}

func (d *Device) ConnectionProfile() string { return d.Profile }

// ConnectionExtras returns the extras encoded as JSON; ok is false when no
// extras are configured.
func (d *Device) ConnectionExtras() (extras string, ok bool, err error) {
	if len(d.Extras) == 0 {
		return "", false, nil
	}
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(d.Extras)
	if err != nil {
		return "", false, fmt.Errorf("encode connection extras: %w", err)
	}
	return string(data), true, nil
}

func (d *Device) CurrentServer() ClientType {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.server
}

func (d *Device) SetCurrentServer(c ClientType) {
	d.mu.Lock()
	d.server = c
	d.mu.Unlock()
	d.logger.Debug("Current server updated", zap.Stringer("server", c))
}

// Commands is the device's command channel.
func (d *Device) Commands() CommandChannel { return d.commands }

// ForceStopGame kills the game app of the current server.
func (d *Device) ForceStopGame(ctx context.Context) error {
	pkg := d.CurrentServer().PackageName()
	d.logger.Info("Force stopping game", zap.String("package", pkg))
	if err := d.commands.ForceStop(ctx, pkg); err != nil {
		return fmt.Errorf("force stop %s: %w", pkg, err)
	}
	return nil
}

// InstalledVersion reads the installed game version of the given variant.
func (d *Device) InstalledVersion(ctx context.Context, c ClientType) (string, error) {
	return d.commands.GameVersion(ctx, c.PackageName())
}

// EnsureStarted brings the emulator into a freshly started state. Without
// a lifecycle nothing happens.
func (d *Device) EnsureStarted(ctx context.Context) error {
	if d.lifecycle == nil {
		return nil
	}
	d.logger.Debug("Try to confirm emulator in the starting state")
	alive, err := d.lifecycle.KillIfRunning(ctx)
	if err != nil {
		return fmt.Errorf("prepare emulator: %w", err)
	}
	if alive {
		d.logger.Debug("Emulator already running")
		return nil
	}
	if err := d.lifecycle.Launch(ctx); err != nil {
		return fmt.Errorf("launch emulator: %w", err)
	}
	d.logger.Info("Started emulator")
	return nil
}

// Shutdown kills the emulator.
func (d *Device) Shutdown(ctx context.Context) error {
	if d.lifecycle == nil {
		return nil
	}
	d.logger.Debug("Try to kill emulator")
	return d.lifecycle.Kill(ctx)
}
