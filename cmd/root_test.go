package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		out, err := executeCommand(context.Background(), t, testDeps(), "--version")
		require.NoError(t, err)
		assert.Equal(t, Version+"\n", out)
	})

	t.Run("subcommands are registered", func(t *testing.T) {
		root := NewRootCommand()
		for _, name := range []string{"run", "schedule", "versions", "history", "config"} {
			c, _, err := root.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, c.Name())
		}
	})

	t.Run("log level flag overrides config", func(t *testing.T) {
		path := writeConfig(t, baseConfig)
		out, err := executeCommand(context.Background(), t, testDeps(), "--config", path, "--log-level", "error", "config", "print")
		require.NoError(t, err)
		assert.Contains(t, out, "level: error")
	})

	t.Run("environment overrides config", func(t *testing.T) {
		path := writeConfig(t, baseConfig)
		t.Setenv("ARKPILOT_ADB_PATH", "/env/adb")
		out, err := executeCommand(context.Background(), t, testDeps(), "--config", path, "config", "print")
		require.NoError(t, err)
		assert.Contains(t, out, "adb_path: /env/adb")
	})

	t.Run("invalid config is rejected", func(t *testing.T) {
		path := writeConfig(t, baseConfig+"engine:\n  worker_concurrency: 0\n")
		_, err := executeCommand(context.Background(), t, testDeps(), "--config", path, "config", "print")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "engine.worker_concurrency must be a positive integer")
	})

	t.Run("missing explicit config file", func(t *testing.T) {
		_, err := executeCommand(context.Background(), t, testDeps(), "--config", "/nonexistent/arkpilot.yaml", "config", "print")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config file")
	})
}
