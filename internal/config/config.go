// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is populated by viper
// from the config file, ARKPILOT_* environment variables and bound CLI flags.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	ADBPath      string             `mapstructure:"adb_path" yaml:"adb_path"`
	MAA          MAAConfig          `mapstructure:"maa" yaml:"maa"`
	Runner       RunnerConfig       `mapstructure:"runner" yaml:"runner"`
	Engine       EngineConfig       `mapstructure:"engine" yaml:"engine"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler" yaml:"scheduler"`
	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	SignIn       SignInConfig       `mapstructure:"signin" yaml:"signin"`
	Version      VersionConfig      `mapstructure:"version" yaml:"version"`
	Devices      []DeviceConfig     `mapstructure:"devices" yaml:"devices"`
	Plan         []PlanEntryConfig  `mapstructure:"plan" yaml:"plan"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names used for each log level on the console.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// MAAConfig locates the automation engine installation.
type MAAConfig struct {
	// Dir is the engine root holding resource/ and cache/.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// LibDir holds the MaaCore shared library. Defaults to Dir.
	LibDir string `mapstructure:"lib_dir" yaml:"lib_dir"`
	// UserDir is the parent of the per-session user data directories.
	UserDir   string `mapstructure:"user_dir" yaml:"user_dir"`
	TouchType string `mapstructure:"touch_type" yaml:"touch_type"`
}

// RunnerConfig tunes the per-device task runner.
type RunnerConfig struct {
	ConnectAttempts int           `mapstructure:"connect_attempts" yaml:"connect_attempts"`
	ConnectInterval time.Duration `mapstructure:"connect_interval" yaml:"connect_interval"`
	LoadAttempts    int           `mapstructure:"load_attempts" yaml:"load_attempts"`
	LoadInterval    time.Duration `mapstructure:"load_interval" yaml:"load_interval"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// EngineConfig configures the device worker pool.
type EngineConfig struct {
	WorkerConcurrency int `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
}

// OrchestratorConfig controls the device session policy.
type OrchestratorConfig struct {
	// SessionRetries is how many times a whole device session is retried
	// after a connect or resource load failure.
	SessionRetries int `mapstructure:"session_retries" yaml:"session_retries"`
	// DefaultTimeBudget applies to devices without a time_budget.
	DefaultTimeBudget time.Duration `mapstructure:"default_time_budget" yaml:"default_time_budget"`
}

// SchedulerConfig controls the plan loop.
type SchedulerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// Clock is "hhmm" (hour*100+minute) or "seconds" (seconds since midnight).
	Clock string `mapstructure:"clock" yaml:"clock"`
}

// DatabaseConfig selects the result history backend.
type DatabaseConfig struct {
	// Driver is "postgres", "sqlite" or empty to disable persistence.
	Driver string `mapstructure:"driver" yaml:"driver"`
	URL    string `mapstructure:"url" yaml:"url"`
}

// SignInConfig configures the external sign-in routine.
type SignInConfig struct {
	Command []string      `mapstructure:"command" yaml:"command"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// VersionConfig tunes the remote version checks.
type VersionConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// DeviceConfig is one emulator binding.
type DeviceConfig struct {
	Alias           string `mapstructure:"alias" yaml:"alias"`
	StartPath       string `mapstructure:"start_path" yaml:"start_path"`
	EmulatorAddress string `mapstructure:"emulator_address" yaml:"emulator_address"`
	// Process is either an emulator family name ("mumu") or a list of
	// process names to kill before launching.
	Process      any            `mapstructure:"process" yaml:"process"`
	Extras       map[string]any `mapstructure:"extras" yaml:"extras"`
	Profile      string         `mapstructure:"config" yaml:"config"`
	KillAfterEnd *bool          `mapstructure:"kill_after_end" yaml:"kill_after_end"`
	ClientType   string         `mapstructure:"client_type" yaml:"client_type"`
	TimeBudget   time.Duration  `mapstructure:"time_budget" yaml:"time_budget"`
	Tasks        []TaskConfig   `mapstructure:"tasks" yaml:"tasks"`
}

// ShouldKillAfterEnd defaults to true when unset.
func (d DeviceConfig) ShouldKillAfterEnd() bool {
	return d.KillAfterEnd == nil || *d.KillAfterEnd
}

// TaskConfig is a task_name/task_config pair.
type TaskConfig struct {
	TaskName   string         `mapstructure:"task_name" yaml:"task_name"`
	TaskConfig map[string]any `mapstructure:"task_config" yaml:"task_config"`
}

// PlanEntryConfig is one scheduled slot.
type PlanEntryConfig struct {
	Time int      `mapstructure:"time" yaml:"time"`
	Task []string `mapstructure:"task" yaml:"task"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "arkpilot")
	v.SetDefault("logger.log_file", "arkpilot.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("adb_path", "adb")

	// -- MAA --
	v.SetDefault("maa.dir", "./MAA")
	v.SetDefault("maa.user_dir", "./userdata")
	v.SetDefault("maa.touch_type", "minitouch")

	// -- Runner --
	v.SetDefault("runner.connect_attempts", 50)
	v.SetDefault("runner.connect_interval", "2s")
	v.SetDefault("runner.load_attempts", 2)
	v.SetDefault("runner.load_interval", "5s")
	v.SetDefault("runner.poll_interval", "5s")
	v.SetDefault("runner.max_attempts", 2)

	v.SetDefault("engine.worker_concurrency", 2)
	v.SetDefault("orchestrator.session_retries", 1)
	v.SetDefault("orchestrator.default_time_budget", "1h")

	// -- Scheduler --
	v.SetDefault("scheduler.poll_interval", "10s")
	v.SetDefault("scheduler.clock", "hhmm")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "./arkpilot.db")

	v.SetDefault("signin.timeout", "2m")

	// -- Version checks --
	v.SetDefault("version.request_timeout", "10s")
	v.SetDefault("version.rate_limit", 1.0)
	v.SetDefault("version.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.BindEnv("database.url", "ARKPILOT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	paths := []*string{&c.ADBPath, &c.MAA.Dir, &c.MAA.LibDir, &c.MAA.UserDir, &c.Logger.LogFile}
	if c.Database.Driver == "sqlite" {
		paths = append(paths, &c.Database.URL)
	}
	for i := range c.Devices {
		paths = append(paths, &c.Devices[i].StartPath)
	}
	for _, p := range paths {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	if c.MAA.LibDir == "" {
		c.MAA.LibDir = c.MAA.Dir
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if err := c.Runner.Validate(); err != nil {
		return fmt.Errorf("runner configuration invalid: %w", err)
	}
	if c.Orchestrator.SessionRetries < 0 {
		return fmt.Errorf("orchestrator.session_retries must not be negative")
	}
	if c.Orchestrator.DefaultTimeBudget <= 0 {
		return fmt.Errorf("orchestrator.default_time_budget must be a positive duration")
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler configuration invalid: %w", err)
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}

	seen := make(map[string]struct{}, len(c.Devices))
	for i, d := range c.Devices {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
		if _, dup := seen[d.Alias]; dup {
			return fmt.Errorf("devices[%d]: duplicate alias %q", i, d.Alias)
		}
		seen[d.Alias] = struct{}{}
	}
	for i, p := range c.Plan {
		if len(p.Task) == 0 {
			return fmt.Errorf("plan[%d]: task set must not be empty", i)
		}
	}
	return nil
}

// Validate checks the runner tuning.
func (r *RunnerConfig) Validate() error {
	if r.ConnectAttempts <= 0 {
		return fmt.Errorf("connect_attempts must be a positive integer")
	}
	if r.LoadAttempts < 1 {
		return fmt.Errorf("load_attempts must be at least 1")
	}
	if r.LoadInterval < time.Second {
		return fmt.Errorf("load_interval must be at least 1s")
	}
	if r.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be a positive integer")
	}
	return nil
}

// Validate checks the SchedulerConfig settings.
func (s *SchedulerConfig) Validate() error {
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if s.Clock != "hhmm" && s.Clock != "seconds" {
		return fmt.Errorf("clock must be \"hhmm\" or \"seconds\"")
	}
	return nil
}

// Validate checks one device entry.
func (d *DeviceConfig) Validate() error {
	if d.Alias == "" {
		return errors.New("alias is required")
	}
	if _, _, err := net.SplitHostPort(d.EmulatorAddress); err != nil {
		return fmt.Errorf("emulator_address %q must be host:port: %w", d.EmulatorAddress, err)
	}
	if d.TimeBudget < 0 {
		return fmt.Errorf("time_budget must not be negative")
	}
	for i, t := range d.Tasks {
		if t.TaskName == "" {
			return fmt.Errorf("tasks[%d]: task_name is required", i)
		}
	}
	return nil
}

// Device returns the device entry with the given alias.
func (c *Config) Device(alias string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Alias == alias {
			return d, true
		}
	}
	return DeviceConfig{}, false
}
