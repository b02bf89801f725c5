package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/arkpilot/internal/scheduler"
	"github.com/xkilldash9x/arkpilot/internal/signin"
)

// Plan task names.
const (
	planTaskMAA    = "maa"
	planTaskSkland = "skland"
)

func newScheduleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Runs the daily plan until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(a.cfg.Plan) == 0 {
				return errors.New("no plan entries configured")
			}

			c, err := a.buildComponents(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			sched, err := a.newScheduler(c)
			if err != nil {
				return err
			}
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func (a *app) newScheduler(c *components) (*scheduler.Scheduler, error) {
	routine, err := signin.New(a.cfg.SignIn, a.deps.shell, c.logger)
	if err != nil {
		return nil, err
	}
	handlers := map[string]scheduler.Handler{
		planTaskMAA: scheduler.HandlerFunc(func(ctx context.Context) error {
			return c.orchestrator.RunAll(ctx, c.targets)
		}),
		planTaskSkland: routine,
	}

	plan := make([]scheduler.PlanEntry, 0, len(a.cfg.Plan))
	for _, p := range a.cfg.Plan {
		plan = append(plan, scheduler.PlanEntry{Time: p.Time, Tasks: p.Task})
	}
	clock, err := scheduler.ClockByName(a.cfg.Scheduler.Clock)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	return scheduler.New(plan, handlers, clock, a.cfg.Scheduler.PollInterval, c.logger)
}
