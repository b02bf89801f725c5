package runner

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/arkpilot/api/schemas"
	"github.com/xkilldash9x/arkpilot/internal/device"
	"github.com/xkilldash9x/arkpilot/internal/status"
)

// Strategy holds the behaviour that differs between task types. The retry
// loop in RunTask only talks to strategies.
type Strategy interface {
	// MaxAttempts returns the attempt budget given the configured default.
	MaxAttempts(configured int) int
	// ForcedStop reports whether a task past its budget may be stopped.
	ForcedStop() bool
	// Begin starts one execution with a private copy of the parameters.
	Begin(dev Device, params map[string]any) Execution
}

// Execution is the per-run state of a strategy.
type Execution interface {
	// Params returns the engine parameters for the given attempt.
	Params(attempt int) map[string]any
	// OnChainError runs a recovery action after a TaskChainError.
	OnChainError(ctx context.Context, dev Device) error
	// OnFinished inspects a terminal, non-error status and reports whether
	// another attempt should run.
	OnFinished(attempt int, snap status.Snapshot) (retry bool)
	// Verdict reports the strategy's own pass condition against the final
	// session status and, when it failed, a diagnostic reason. It runs
	// however the last attempt ended.
	Verdict(final status.Snapshot) (ok bool, reason string)
}

// Registry maps task names to strategies.
type Registry struct {
	byName   map[string]Strategy
	fallback Strategy
}

// NewRegistry returns the built-in strategies.
func NewRegistry() *Registry {
	return &Registry{
		byName: map[string]Strategy{
			schemas.TaskFight:   FightStrategy{},
			schemas.TaskStartUp: StartUpStrategy{},
			schemas.TaskAward:   SingleAttemptStrategy{},
		},
		fallback: DefaultStrategy{},
	}
}

// Register installs s for the task name, replacing any previous entry.
func (r *Registry) Register(name string, s Strategy) {
	r.byName[name] = s
}

// Lookup falls back to the default strategy for unknown names.
func (r *Registry) Lookup(name string) Strategy {
	if s, ok := r.byName[name]; ok {
		return s
	}
	return r.fallback
}

// DefaultStrategy retries up to the configured attempt count.
type DefaultStrategy struct{}

func (DefaultStrategy) MaxAttempts(configured int) int { return configured }
func (DefaultStrategy) ForcedStop() bool               { return true }

func (DefaultStrategy) Begin(_ Device, params map[string]any) Execution {
	return &plainExecution{params: params}
}

type plainExecution struct {
	params map[string]any
}

func (e *plainExecution) Params(int) map[string]any                  { return e.params }
func (e *plainExecution) OnChainError(context.Context, Device) error { return nil }
func (e *plainExecution) OnFinished(int, status.Snapshot) bool       { return false }
func (e *plainExecution) Verdict(status.Snapshot) (bool, string)     { return true, "" }

// SingleAttemptStrategy is for tasks that may legitimately end with a
// benign error, such as collecting awards.
type SingleAttemptStrategy struct {
	DefaultStrategy
}

func (SingleAttemptStrategy) MaxAttempts(int) int { return 1 }

// StartUpStrategy records the client variant being started and kills the
// game after a failed start so the next attempt begins clean.
type StartUpStrategy struct {
	DefaultStrategy
}

func (StartUpStrategy) Begin(dev Device, params map[string]any) Execution {
	if raw, ok := params["client_type"].(string); ok {
		if ct, err := device.ParseClientType(raw); err == nil && ct != "" {
			dev.SetCurrentServer(ct)
		}
	}
	return &startUpExecution{plainExecution: plainExecution{params: params}}
}

type startUpExecution struct {
	plainExecution
}

func (e *startUpExecution) OnChainError(ctx context.Context, dev Device) error {
	return dev.ForceStopGame(ctx)
}

// FightStrategy switches to the standby stage after the first attempt and
// checks leftover sanity to catch fights that did not really happen. Fights
// are never force stopped.
type FightStrategy struct {
	DefaultStrategy
}

const (
	paramStage        = "stage"
	paramStandbyStage = "standby_stage"
)

func (FightStrategy) ForcedStop() bool { return false }

func (FightStrategy) Begin(_ Device, params map[string]any) Execution {
	e := &fightExecution{params: params}
	e.stage, e.hasStage = params[paramStage]
	e.standby, e.hasStandby = params[paramStandbyStage]
	delete(params, paramStandbyStage)
	return e
}

type fightExecution struct {
	params     map[string]any
	stage      any
	hasStage   bool
	standby    any
	hasStandby bool
}

func (e *fightExecution) Params(attempt int) map[string]any {
	switch {
	case attempt > 0 && e.hasStandby:
		e.params[paramStage] = e.standby
	case e.hasStage:
		e.params[paramStage] = e.stage
	}
	return e.params
}

func (e *fightExecution) OnChainError(context.Context, Device) error { return nil }

// OnFinished retries the first attempt when too much sanity is left.
func (e *fightExecution) OnFinished(attempt int, snap status.Snapshot) bool {
	return attempt == 0 && sanityLeftOver(snap)
}

func (e *fightExecution) Verdict(final status.Snapshot) (bool, string) {
	if sanityLeftOver(final) {
		return false, SanitySuspectFailure(final.CurrentSanity, final.MaxSanity)
	}
	return true, ""
}

// sanityLeftOver reports current > max/3 without integer truncation.
func sanityLeftOver(snap status.Snapshot) bool {
	return 3*snap.CurrentSanity > snap.MaxSanity
}

// SanitySuspectFailure is the diagnostic recorded when too much sanity is
// left after a fight.
func SanitySuspectFailure(current, maxSanity int) string {
	return fmt.Sprintf("current_sanity(%d) > max_sanity(%d)/3, may failed", current, maxSanity)
}
