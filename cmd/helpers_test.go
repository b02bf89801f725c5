package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/arkpilot/internal/maa"
	"github.com/xkilldash9x/arkpilot/internal/mocks"
	"github.com/xkilldash9x/arkpilot/internal/observability"
)

// testDeps returns dependencies that never touch the host.
func testDeps() dependencies {
	return dependencies{
		openEngine: func(string) (maa.Factory, error) {
			return func(maa.EventSink) (maa.Engine, error) {
				return nil, errors.New("no engine in tests")
			}, nil
		},
		shell: new(mocks.MockCommandRunner),
	}
}

// writeConfig writes body to a config.yaml in a temp dir and returns its path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// executeCommand runs a fresh command tree and captures its stdout.
func executeCommand(ctx context.Context, t *testing.T, deps dependencies, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	root, _ := newRootCmd(deps)
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

const baseConfig = `
logger:
  level: warn
  log_file: ""
database:
  driver: ""
`
