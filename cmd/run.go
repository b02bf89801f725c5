package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd(a *app) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [aliases...]",
		Short: "Runs the configured task batch on every device, or on the named ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("concurrency") {
				n, _ := cmd.Flags().GetInt("concurrency")
				if n <= 0 {
					return fmt.Errorf("--concurrency must be a positive integer")
				}
				a.cfg.Engine.WorkerConcurrency = n
			}

			c, err := a.buildComponents(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			c.logger.Info("Starting device run", zap.Strings("devices", args), zap.Int("concurrency", a.cfg.Engine.WorkerConcurrency))
			return c.orchestrator.RunAll(ctx, c.targets, args...)
		},
	}
	runCmd.Flags().IntP("concurrency", "j", 0, "number of devices run in parallel (overrides engine.worker_concurrency)")
	return runCmd
}
