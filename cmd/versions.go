package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/arkpilot/internal/device"
	"github.com/xkilldash9x/arkpilot/internal/observability"
	"github.com/xkilldash9x/arkpilot/internal/version"
)

func newVersionsCmd(a *app) *cobra.Command {
	versionsCmd := &cobra.Command{
		Use:   "versions [aliases...]",
		Short: "Shows installed and newest game versions per device",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			showAPK, _ := cmd.Flags().GetBool("apk")

			targets, err := a.targets()
			if err != nil {
				return err
			}
			checker, err := version.NewChecker(a.cfg.Version, logger, a.deps.versionOpts...)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			header := "DEVICE\tCLIENT\tINSTALLED\tLATEST\tSTATUS"
			if showAPK {
				header += "\tAPK"
			}
			fmt.Fprintln(w, header)

			selected := map[string]bool{}
			for _, alias := range args {
				selected[alias] = true
			}
			for _, t := range targets {
				dev := t.Device
				if len(selected) > 0 && !selected[dev.Name()] {
					continue
				}
				installed, err := dev.InstalledVersion(ctx, dev.ClientType)
				if err != nil {
					logger.Warn("Failed to read installed version", zap.String("device", dev.String()), zap.Error(err))
					installed = "-"
				}
				latest, err := checker.Latest(ctx, dev.ClientType)
				if err != nil {
					logger.Warn("Failed to look up newest version", zap.Stringer("client", dev.ClientType), zap.Error(err))
					latest = "-"
				}
				line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s", dev.Name(), dev.ClientType, installed, latest, versionStatus(installed, latest))
				if showAPK {
					line += "\t" + apkLink(ctx, checker, dev.ClientType)
				}
				fmt.Fprintln(w, line)
			}
			return w.Flush()
		},
	}
	versionsCmd.Flags().Bool("apk", false, "also print the newest package download link")
	return versionsCmd
}

func versionStatus(installed, latest string) string {
	switch {
	case installed == "-" || latest == "-":
		return "unknown"
	case version.UpToDate(installed, latest):
		return "up to date"
	}
	return "outdated"
}

func apkLink(ctx context.Context, c *version.Checker, ct device.ClientType) string {
	link, err := c.LatestAPK(ctx, ct)
	if err != nil {
		observability.GetLogger().Debug("No package link", zap.Stringer("client", ct), zap.Error(err))
		return "-"
	}
	return link
}
