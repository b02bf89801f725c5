package runner

import "errors"

var (
	// ErrConnectExhausted is returned when every connect attempt failed.
	ErrConnectExhausted = errors.New("engine connect attempts exhausted")
	// ErrResourceLoadFailed is returned when every resource load failed.
	ErrResourceLoadFailed = errors.New("engine resource load failed")
	// ErrTaskAppendRejected is returned when the engine refuses a task.
	ErrTaskAppendRejected = errors.New("engine rejected task")
	// ErrEngineStartFailed is returned when the engine refuses to start.
	ErrEngineStartFailed = errors.New("engine failed to start")

	errNoChainStatus = errors.New("no task chain status reported")
)

// ReasonTimeout is recorded when a task ran past its budget.
const ReasonTimeout = "Timeout"
