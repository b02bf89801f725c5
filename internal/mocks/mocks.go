// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/arkpilot/api/schemas"
	"github.com/xkilldash9x/arkpilot/internal/device"
	"github.com/xkilldash9x/arkpilot/internal/maa"
)

// -- Engine Mock --

// MockEngine mocks the maa.Engine interface.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Load(envDir, incrementalDir, userDir string) bool {
	return m.Called(envDir, incrementalDir, userDir).Bool(0)
}
func (m *MockEngine) SetInstanceOption(key maa.InstanceOption, value string) bool {
	return m.Called(key, value).Bool(0)
}
func (m *MockEngine) SetConnectionExtras(profile, extrasJSON string) {
	m.Called(profile, extrasJSON)
}
func (m *MockEngine) Connect(adbPath, address, profile string) bool {
	return m.Called(adbPath, address, profile).Bool(0)
}
func (m *MockEngine) AppendTask(name string, params map[string]any) int {
	return m.Called(name, params).Int(0)
}
func (m *MockEngine) Start() bool   { return m.Called().Bool(0) }
func (m *MockEngine) Stop() bool    { return m.Called().Bool(0) }
func (m *MockEngine) Running() bool { return m.Called().Bool(0) }
func (m *MockEngine) Close() error  { return m.Called().Error(0) }

// -- Device Mock --

// MockDevice mocks the runner.Device interface.
type MockDevice struct {
	mock.Mock
}

func (m *MockDevice) Name() string              { return m.Called().String(0) }
func (m *MockDevice) String() string            { return m.Called().String(0) }
func (m *MockDevice) Addr() string              { return m.Called().String(0) }
func (m *MockDevice) ConnectionProfile() string { return m.Called().String(0) }

func (m *MockDevice) ConnectionExtras() (string, bool, error) {
	args := m.Called()
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockDevice) CurrentServer() device.ClientType {
	args := m.Called()
	if ct, ok := args.Get(0).(device.ClientType); ok {
		return ct
	}
	return ""
}

func (m *MockDevice) SetCurrentServer(c device.ClientType) {
	m.Called(c)
}

func (m *MockDevice) ForceStopGame(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Command Runner Mock --

// MockCommandRunner mocks the shell.Runner interface. Expectations match
// the arguments as one []string.
type MockCommandRunner struct {
	mock.Mock
}

func (m *MockCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ret := m.Called(ctx, name, args)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).([]byte), ret.Error(1)
}

// -- Store Mock --

// MockStore mocks the schemas.Store interface.
type MockStore struct {
	mock.Mock
}

// PersistData provides a mock function for persisting result envelopes.
func (m *MockStore) PersistData(ctx context.Context, data *schemas.ResultEnvelope) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

func (m *MockStore) RecentResults(ctx context.Context, device string, limit int) ([]schemas.HistoryRecord, error) {
	args := m.Called(ctx, device, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.HistoryRecord), args.Error(1)
}

func (m *MockStore) Close() error { return m.Called().Error(0) }

// -- Task Runner Mock --

// MockTaskRunner mocks the schemas.TaskRunner interface.
type MockTaskRunner struct {
	mock.Mock
}

func (m *MockTaskRunner) RunTask(ctx context.Context, def schemas.TaskDefinition, budget time.Duration) schemas.TaskResult {
	return m.Called(ctx, def, budget).Get(0).(schemas.TaskResult)
}

// -- Scheduler Handler Mock --

// MockHandler mocks the scheduler.Handler interface.
type MockHandler struct {
	mock.Mock
}

func (m *MockHandler) Handle(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Session Mock --

// MockSession mocks the engine.Session interface.
type MockSession struct {
	mock.Mock
}

func (m *MockSession) Name() string { return m.Called().String(0) }

func (m *MockSession) Run(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
