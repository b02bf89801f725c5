package cmd

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/arkpilot/internal/observability"
	"github.com/xkilldash9x/arkpilot/internal/store"
)

func newHistoryCmd(a *app) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history [device]",
		Short: "Prints recently persisted task results as JSON lines",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			if limit <= 0 {
				return errors.New("--limit must be a positive integer")
			}
			device := ""
			if len(args) == 1 {
				device = args[0]
			}

			s, err := store.Open(cmd.Context(), a.cfg.Database, observability.GetLogger())
			if err != nil {
				return err
			}
			if s == nil {
				return errors.New("no result store configured (set database.driver)")
			}
			defer s.Close()

			records, err := s.RecentResults(cmd.Context(), device, limit)
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}
			enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
			for _, rec := range records {
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
			return nil
		},
	}
	historyCmd.Flags().IntP("limit", "n", 20, "maximum number of results")
	return historyCmd
}
