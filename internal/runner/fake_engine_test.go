package runner_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/arkpilot/internal/device"
	"github.com/xkilldash9x/arkpilot/internal/maa"
	"github.com/xkilldash9x/arkpilot/internal/mocks"
)

// script drives one Start call of the fake engine.
type script struct {
	refuseStart bool
	panics      bool
	// ticks is how many Running calls report true.
	ticks int
	// events are delivered right before Running first reports false.
	events []maa.Event
	// onStop replaces events when Stop is called.
	onStop []maa.Event
	// stopEnds makes Stop end the run on the next Running call.
	stopEnds bool
}

type appendCall struct {
	name   string
	params map[string]any
}

type loadCall struct {
	env, incremental, user string
}

type fakeEngine struct {
	mu   sync.Mutex
	sink maa.EventSink

	scripts []script
	current script
	started int
	ticks   int
	pending []maa.Event

	stops    []int
	appended []appendCall

	connectResults []bool
	connects       []string
	extras         []string
	loadResults    []bool
	loads          []loadCall
	rejectAppend   bool
	options        map[maa.InstanceOption]string
	closed         bool
}

func newFakeEngine(scripts ...script) *fakeEngine {
	return &fakeEngine{scripts: scripts, options: map[maa.InstanceOption]string{}}
}

func (f *fakeEngine) factory() maa.Factory {
	return func(sink maa.EventSink) (maa.Engine, error) {
		f.sink = sink
		return f, nil
	}
}

func (f *fakeEngine) emit(events []maa.Event) {
	for _, ev := range events {
		f.sink.OnEvent(ev)
	}
}

func (f *fakeEngine) Load(env, incremental, user string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, loadCall{env, incremental, user})
	i := len(f.loads) - 1
	if i < len(f.loadResults) {
		return f.loadResults[i]
	}
	return true
}

func (f *fakeEngine) SetInstanceOption(key maa.InstanceOption, value string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.options[key] = value
	return true
}

func (f *fakeEngine) SetConnectionExtras(profile, extras string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extras = append(f.extras, profile+" "+extras)
}

func (f *fakeEngine) Connect(adbPath, address, profile string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, adbPath+" "+address+" "+profile)
	i := len(f.connects) - 1
	return i < len(f.connectResults) && f.connectResults[i]
}

func (f *fakeEngine) AppendTask(name string, params map[string]any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectAppend {
		return 0
	}
	copied := make(map[string]any, len(params))
	for k, v := range params {
		copied[k] = v
	}
	f.appended = append(f.appended, appendCall{name, copied})
	return len(f.appended)
}

func (f *fakeEngine) Start() bool {
	f.mu.Lock()
	s := script{events: []maa.Event{chain(maa.TaskChainCompleted)}}
	if f.started < len(f.scripts) {
		s = f.scripts[f.started]
	}
	f.started++
	f.current = s
	if s.panics {
		f.mu.Unlock()
		panic("engine crashed")
	}
	if s.refuseStart {
		f.mu.Unlock()
		return false
	}
	f.ticks = s.ticks
	f.pending = s.events
	f.mu.Unlock()

	f.emit([]maa.Event{chain(maa.TaskChainStart)})
	return true
}

func (f *fakeEngine) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, f.started-1)
	if f.current.onStop != nil {
		f.pending = f.current.onStop
	}
	if f.current.stopEnds {
		f.ticks = 0
	}
	return true
}

func (f *fakeEngine) Running() bool {
	f.mu.Lock()
	if f.ticks > 0 {
		f.ticks--
		f.mu.Unlock()
		return true
	}
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()

	f.emit(pending)
	return false
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func chain(kind maa.Kind) maa.Event {
	return maa.Event{Kind: kind, Details: map[string]any{"taskchain": "test"}}
}

func sanity(current, maxSanity int) maa.Event {
	return maa.Event{Kind: maa.SubTaskExtraInfo, Details: map[string]any{
		"class": "asst::SanityBeforeStageTaskPlugin",
		"details": map[string]any{
			"current_sanity": float64(current),
			"max_sanity":     float64(maxSanity),
		},
	}}
}

// recordingSleeper returns immediately and records every requested pause.
type recordingSleeper struct {
	mu     sync.Mutex
	slept  []time.Duration
	cancel context.CancelFunc
	// cancelAfter cancels the context once this many sleeps were recorded.
	cancelAfter int
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.slept = append(s.slept, d)
	n := len(s.slept)
	s.mu.Unlock()
	if s.cancel != nil && n == s.cancelAfter {
		s.cancel()
	}
	return nil
}

func (s *recordingSleeper) total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum time.Duration
	for _, d := range s.slept {
		sum += d
	}
	return sum
}

func newMockDevice() *mocks.MockDevice {
	dev := new(mocks.MockDevice)
	dev.On("Name").Return("main").Maybe()
	dev.On("String").Return("main(127.0.0.1:16384)").Maybe()
	dev.On("Addr").Return("127.0.0.1:16384").Maybe()
	dev.On("ConnectionProfile").Return("General").Maybe()
	dev.On("ConnectionExtras").Return("", false, nil).Maybe()
	dev.On("CurrentServer").Return(device.ClientType("")).Maybe()
	dev.On("SetCurrentServer", mock.Anything).Return().Maybe()
	return dev
}
