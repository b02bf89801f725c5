package mocks_test

import (
	"github.com/xkilldash9x/arkpilot/api/schemas"
	"github.com/xkilldash9x/arkpilot/internal/engine"
	"github.com/xkilldash9x/arkpilot/internal/maa"
	"github.com/xkilldash9x/arkpilot/internal/mocks"
	"github.com/xkilldash9x/arkpilot/internal/runner"
	"github.com/xkilldash9x/arkpilot/internal/scheduler"
	"github.com/xkilldash9x/arkpilot/internal/shell"
)

var (
	_ maa.Engine         = (*mocks.MockEngine)(nil)
	_ runner.Device      = (*mocks.MockDevice)(nil)
	_ shell.Runner       = (*mocks.MockCommandRunner)(nil)
	_ schemas.Store      = (*mocks.MockStore)(nil)
	_ schemas.TaskRunner = (*mocks.MockTaskRunner)(nil)
	_ scheduler.Handler  = (*mocks.MockHandler)(nil)
	_ engine.Session     = (*mocks.MockSession)(nil)
)
