//go:build linux || darwin

package maa

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// coreLib holds the MaaCore entry points resolved from one dlopen handle.
type coreLib struct {
	createEx            func(callback uintptr, customArg uintptr) uintptr
	destroy             func(handle uintptr)
	setUserDir          func(path string) bool
	loadResource        func(path string) bool
	setInstanceOption   func(handle uintptr, key int32, value string) bool
	setConnectionExtras func(name string, extras string)
	connect             func(handle uintptr, adbPath, address, config string) bool
	appendTask          func(handle uintptr, taskType, params string) int32
	start               func(handle uintptr) bool
	stop                func(handle uintptr) bool
	running             func(handle uintptr) bool

	// The engine serializes resource loading process-wide.
	loadMu sync.Mutex
}

var (
	libsMu   sync.Mutex
	libs     = map[string]*coreLib{}
	registry = newSinkRegistry()

	trampolineOnce sync.Once
	trampoline     uintptr
)

func libraryName() string {
	if runtime.GOOS == "darwin" {
		return "libMaaCore.dylib"
	}
	return "libMaaCore.so"
}

// OpenCore loads MaaCore from libDir and returns a Factory producing
// engine instances backed by it.
func OpenCore(libDir string) (Factory, error) {
	path := filepath.Join(libDir, libraryName())

	libsMu.Lock()
	lib, ok := libs[path]
	if !ok {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			libsMu.Unlock()
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		lib = &coreLib{}
		purego.RegisterLibFunc(&lib.createEx, handle, "AsstCreateEx")
		purego.RegisterLibFunc(&lib.destroy, handle, "AsstDestroy")
		purego.RegisterLibFunc(&lib.setUserDir, handle, "AsstSetUserDir")
		purego.RegisterLibFunc(&lib.loadResource, handle, "AsstLoadResource")
		purego.RegisterLibFunc(&lib.setInstanceOption, handle, "AsstSetInstanceOption")
		purego.RegisterLibFunc(&lib.setConnectionExtras, handle, "AsstSetConnectionExtras")
		purego.RegisterLibFunc(&lib.connect, handle, "AsstConnect")
		purego.RegisterLibFunc(&lib.appendTask, handle, "AsstAppendTask")
		purego.RegisterLibFunc(&lib.start, handle, "AsstStart")
		purego.RegisterLibFunc(&lib.stop, handle, "AsstStop")
		purego.RegisterLibFunc(&lib.running, handle, "AsstRunning")
		libs[path] = lib
	}
	libsMu.Unlock()

	// purego callbacks are a finite resource; one trampoline serves every
	// instance and routes by the custom argument.
	trampolineOnce.Do(func() {
		trampoline = purego.NewCallback(onCallback)
	})

	return func(sink EventSink) (Engine, error) {
		if sink == nil {
			return nil, errors.New("event sink cannot be nil")
		}
		id := registry.add(sink)
		handle := lib.createEx(trampoline, id)
		if handle == 0 {
			registry.remove(id)
			return nil, errors.New("AsstCreateEx returned a null handle")
		}
		return &coreEngine{lib: lib, handle: handle, id: id}, nil
	}, nil
}

func onCallback(msg uintptr, details uintptr, customArg uintptr) uintptr {
	ev := Event{Kind: Kind(int32(msg)), Arg: customArg}
	if raw := goString(details); raw != "" {
		if err := json.UnmarshalFromString(raw, &ev.Details); err != nil {
			ev.Details = map[string]any{"raw": raw}
		}
	}
	registry.dispatch(customArg, ev)
	return 0
}

// goString copies a NUL-terminated C string.
func goString(p uintptr) string {
	if p == 0 {
		return ""
	}
	ptr := unsafe.Pointer(p)
	n := 0
	for *(*byte)(unsafe.Add(ptr, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(ptr), n))
}

type coreEngine struct {
	lib    *coreLib
	handle uintptr
	id     uintptr
	closed sync.Once
}

func (e *coreEngine) Load(envDir, incrementalDir, userDir string) bool {
	e.lib.loadMu.Lock()
	defer e.lib.loadMu.Unlock()
	if userDir != "" && !e.lib.setUserDir(userDir) {
		return false
	}
	if !e.lib.loadResource(envDir) {
		return false
	}
	if incrementalDir != "" {
		return e.lib.loadResource(incrementalDir)
	}
	return true
}

func (e *coreEngine) SetInstanceOption(key InstanceOption, value string) bool {
	return e.lib.setInstanceOption(e.handle, int32(key), value)
}

func (e *coreEngine) SetConnectionExtras(profile, extrasJSON string) {
	e.lib.setConnectionExtras(profile, extrasJSON)
}

func (e *coreEngine) Connect(adbPath, address, profile string) bool {
	return e.lib.connect(e.handle, adbPath, address, profile)
}

func (e *coreEngine) AppendTask(name string, params map[string]any) int {
	payload, err := json.MarshalToString(params)
	if err != nil {
		return 0
	}
	return int(e.lib.appendTask(e.handle, name, payload))
}

func (e *coreEngine) Start() bool   { return e.lib.start(e.handle) }
func (e *coreEngine) Stop() bool    { return e.lib.stop(e.handle) }
func (e *coreEngine) Running() bool { return e.lib.running(e.handle) }

func (e *coreEngine) Close() error {
	e.closed.Do(func() {
		e.lib.destroy(e.handle)
		registry.remove(e.id)
	})
	return nil
}
