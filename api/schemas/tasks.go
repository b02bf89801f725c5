package schemas

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// -- Task Schemas --

// Well known task names.
const (
	TaskStartUp = "StartUp"
	TaskFight   = "Fight"
	TaskAward   = "Award"
)

// TaskDefinition is one configured task: the engine task name and its
// parameters.
type TaskDefinition struct {
	Name   string         `json:"task_name" mapstructure:"task_name"`
	Params map[string]any `json:"task_config" mapstructure:"task_config"`
}

// CloneParams returns a shallow copy of the parameters.
func (d TaskDefinition) CloneParams() map[string]any {
	out := make(map[string]any, len(d.Params))
	for k, v := range d.Params {
		out[k] = v
	}
	return out
}

// -- Result Schemas --

// TaskResult is the verdict of one task execution.
type TaskResult struct {
	Type       string
	Succeeded  bool
	Reasons    []string
	TriedTimes int
	// TimeRemaining is what is left of the task budget. It is negative
	// once the budget was exceeded.
	TimeRemaining time.Duration
}

// RemainingSeconds is TimeRemaining floored to whole seconds.
func (r TaskResult) RemainingSeconds() int64 {
	return int64(math.Floor(r.TimeRemaining.Seconds()))
}

type execResultJSON struct {
	Succeed    bool     `json:"succeed"`
	Reason     []string `json:"reason"`
	TriedTimes int      `json:"tried_times"`
}

type taskResultJSON struct {
	Type       string         `json:"type"`
	ExecResult execResultJSON `json:"exec_result"`
	TimeRemain int64          `json:"time_remain"`
}

// MarshalJSON renders the result with time_remain in whole seconds.
func (r TaskResult) MarshalJSON() ([]byte, error) {
	reasons := r.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return json.Marshal(taskResultJSON{
		Type: r.Type,
		ExecResult: execResultJSON{
			Succeed:    r.Succeeded,
			Reason:     reasons,
			TriedTimes: r.TriedTimes,
		},
		TimeRemain: r.RemainingSeconds(),
	})
}

func (r *TaskResult) UnmarshalJSON(data []byte) error {
	var raw taskResultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode task result: %w", err)
	}
	*r = TaskResult{
		Type:          raw.Type,
		Succeeded:     raw.ExecResult.Succeed,
		Reasons:       raw.ExecResult.Reason,
		TriedTimes:    raw.ExecResult.TriedTimes,
		TimeRemaining: time.Duration(raw.TimeRemain) * time.Second,
	}
	return nil
}

// ResultEnvelope wraps every result of one device batch.
type ResultEnvelope struct {
	RunID      string       `json:"run_id"`
	Device     string       `json:"device"`
	FinishedAt time.Time    `json:"finished_at"`
	Results    []TaskResult `json:"results"`
}

// HistoryRecord is one persisted task result.
type HistoryRecord struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	Device     string     `json:"device"`
	FinishedAt time.Time  `json:"finished_at"`
	Result     TaskResult `json:"result"`
}
