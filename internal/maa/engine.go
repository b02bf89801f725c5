// Package maa defines the contract of the MAA automation engine and a
// dynamic binding to the MaaCore shared library.
package maa

import (
	"fmt"
	"sync"
)

// Kind is the engine's callback message code.
type Kind int

const (
	InternalError     Kind = 0
	InitFailed        Kind = 1
	ConnectionInfo    Kind = 2
	AllTasksCompleted Kind = 3
	AsyncCallInfo     Kind = 4
	Destroyed         Kind = 5

	TaskChainError     Kind = 10000
	TaskChainStart     Kind = 10001
	TaskChainCompleted Kind = 10002
	TaskChainExtraInfo Kind = 10003
	TaskChainStopped   Kind = 10004

	SubTaskError     Kind = 20000
	SubTaskStart     Kind = 20001
	SubTaskCompleted Kind = 20002
	SubTaskExtraInfo Kind = 20003
	SubTaskStopped   Kind = 20004
)

var kindNames = map[Kind]string{
	InternalError:      "InternalError",
	InitFailed:         "InitFailed",
	ConnectionInfo:     "ConnectionInfo",
	AllTasksCompleted:  "AllTasksCompleted",
	AsyncCallInfo:      "AsyncCallInfo",
	Destroyed:          "Destroyed",
	TaskChainError:     "TaskChainError",
	TaskChainStart:     "TaskChainStart",
	TaskChainCompleted: "TaskChainCompleted",
	TaskChainExtraInfo: "TaskChainExtraInfo",
	TaskChainStopped:   "TaskChainStopped",
	SubTaskError:       "SubTaskError",
	SubTaskStart:       "SubTaskStart",
	SubTaskCompleted:   "SubTaskCompleted",
	SubTaskExtraInfo:   "SubTaskExtraInfo",
	SubTaskStopped:     "SubTaskStopped",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsTaskChain reports whether k describes the state of a whole task chain.
func (k Kind) IsTaskChain() bool {
	switch k {
	case TaskChainStart, TaskChainCompleted, TaskChainError, TaskChainStopped, TaskChainExtraInfo:
		return true
	}
	return false
}

// Event is one asynchronous callback delivered by the engine.
type Event struct {
	Kind    Kind
	Details map[string]any
	Arg     uintptr
}

// EventSink receives engine callbacks. OnEvent runs on engine-owned threads.
type EventSink interface {
	OnEvent(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) OnEvent(ev Event) { f(ev) }

// InstanceOption is a per-instance engine setting key.
type InstanceOption int

const (
	TouchType           InstanceOption = 2
	DeploymentWithPause InstanceOption = 3
	AdbLiteEnabled      InstanceOption = 4
	KillAdbOnExit       InstanceOption = 5
)

// Engine is one engine session. Methods mirror the MaaCore API and report
// outcomes as the library does; task results only arrive through the
// EventSink the engine was created with.
type Engine interface {
	Load(envDir, incrementalDir, userDir string) bool
	SetInstanceOption(key InstanceOption, value string) bool
	SetConnectionExtras(profile, extrasJSON string)
	Connect(adbPath, address, profile string) bool
	// AppendTask queues a task and returns its id, or 0 when rejected.
	AppendTask(name string, params map[string]any) int
	Start() bool
	Stop() bool
	Running() bool
	Close() error
}

// Factory creates an engine bound to sink.
type Factory func(sink EventSink) (Engine, error)

// sinkRegistry maps the opaque custom argument passed through the C
// callback back to the Go sink of the owning engine.
type sinkRegistry struct {
	mu    sync.RWMutex
	next  uintptr
	sinks map[uintptr]EventSink
}

func newSinkRegistry() *sinkRegistry {
	return &sinkRegistry{sinks: make(map[uintptr]EventSink)}
}

func (r *sinkRegistry) add(s EventSink) uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.sinks[r.next] = s
	return r.next
}

func (r *sinkRegistry) remove(id uintptr) {
	r.mu.Lock()
	delete(r.sinks, id)
	r.mu.Unlock()
}

func (r *sinkRegistry) dispatch(id uintptr, ev Event) {
	r.mu.RLock()
	s := r.sinks[id]
	r.mu.RUnlock()
	if s != nil {
		s.OnEvent(ev)
	}
}
