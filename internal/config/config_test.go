// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "arkpilot", cfg.Logger.ServiceName)
	assert.Equal(t, 50, cfg.Runner.ConnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.Runner.ConnectInterval)
	assert.Equal(t, 2, cfg.Runner.LoadAttempts)
	assert.Equal(t, 5*time.Second, cfg.Runner.PollInterval)
	assert.Equal(t, 2, cfg.Runner.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, "hhmm", cfg.Scheduler.Clock)
	assert.Equal(t, "minitouch", cfg.MAA.TouchType)
	assert.Equal(t, time.Hour, cfg.Orchestrator.DefaultTimeBudget)
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate())

		invalidEngine := *cfg
		invalidEngine.Engine.WorkerConcurrency = 0
		err := invalidEngine.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "engine.worker_concurrency must be a positive integer")

		invalidDriver := *cfg
		invalidDriver.Database.Driver = "mysql"
		err = invalidDriver.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `database.driver "mysql" is not supported`)

		emptyPlan := *cfg
		emptyPlan.Plan = []PlanEntryConfig{{Time: 100}}
		err = emptyPlan.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "plan[0]: task set must not be empty")
	})

	t.Run("Runner Validation", func(t *testing.T) {
		valid := NewDefaultConfig().Runner
		assert.NoError(t, valid.Validate())

		noLoad := valid
		noLoad.LoadAttempts = 0
		assert.ErrorContains(t, noLoad.Validate(), "load_attempts must be at least 1")

		fastLoad := valid
		fastLoad.LoadInterval = 500 * time.Millisecond
		assert.ErrorContains(t, fastLoad.Validate(), "load_interval must be at least 1s")

		noAttempts := valid
		noAttempts.MaxAttempts = 0
		assert.ErrorContains(t, noAttempts.Validate(), "max_attempts must be a positive integer")
	})

	t.Run("Scheduler Validation", func(t *testing.T) {
		s := SchedulerConfig{PollInterval: time.Second, Clock: "epoch"}
		assert.ErrorContains(t, s.Validate(), "clock must be")
		s.Clock = "seconds"
		assert.NoError(t, s.Validate())
	})

	t.Run("Device Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Devices = []DeviceConfig{
			{Alias: "main", EmulatorAddress: "127.0.0.1:16384"},
			{Alias: "main", EmulatorAddress: "127.0.0.1:16416"},
		}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `duplicate alias "main"`)

		bad := DeviceConfig{Alias: "x", EmulatorAddress: "127.0.0.1"}
		assert.ErrorContains(t, bad.Validate(), "must be host:port")

		missingName := DeviceConfig{Alias: "x", EmulatorAddress: "127.0.0.1:5555", Tasks: []TaskConfig{{}}}
		assert.ErrorContains(t, missingName.Validate(), "tasks[0]: task_name is required")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
adb_path: /opt/platform-tools/adb
maa:
  dir: /opt/MAA
devices:
  - alias: mumu12
    emulator_address: 127.0.0.1:16384
    process: mumu
    start_path: /opt/mumu/MuMuPlayer
    client_type: Official
    time_budget: 90m
    extras:
      path: /opt/mumu
    tasks:
      - task_name: StartUp
        task_config:
          client_type: Official
          start_game_enabled: true
      - task_name: Fight
        task_config:
          stage: 1-7
          standby_stage: CE-6
  - alias: ld
    emulator_address: 127.0.0.1:5555
    process: [dnplayer, LdVBoxHeadless]
    kill_after_end: false
plan:
  - time: 1300
    task: [maa]
  - time: 400
    task: [skland, maa]
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "/opt/platform-tools/adb", cfg.ADBPath)
		assert.Equal(t, "/opt/MAA", cfg.MAA.LibDir, "lib dir falls back to the engine dir")
		require.Len(t, cfg.Devices, 2)

		mumu := cfg.Devices[0]
		assert.Equal(t, "mumu", mumu.Process)
		assert.Equal(t, 90*time.Minute, mumu.TimeBudget)
		assert.True(t, mumu.ShouldKillAfterEnd())
		assert.Equal(t, "/opt/mumu", mumu.Extras["path"])
		require.Len(t, mumu.Tasks, 2)
		assert.Equal(t, "Fight", mumu.Tasks[1].TaskName)
		assert.Equal(t, "CE-6", mumu.Tasks[1].TaskConfig["standby_stage"])

		ld, ok := cfg.Device("ld")
		require.True(t, ok)
		assert.False(t, ld.ShouldKillAfterEnd())
		assert.Equal(t, []any{"dnplayer", "LdVBoxHeadless"}, ld.Process)

		require.Len(t, cfg.Plan, 2)
		assert.Equal(t, []string{"skland", "maa"}, cfg.Plan[1].Task)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("runner.poll_interval", "0s")

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "poll_interval must be a positive duration")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("database.driver", "postgres")
		t.Setenv("ARKPILOT_DATABASE_URL", "postgres://envvar/arkpilot")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "postgres://envvar/arkpilot", cfg.Database.URL)
	})
}
