package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bullionwatch/internal/app"
)

var (
	backfillFrom   string
	backfillTo     string
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Import daily snapshots from the historical rates endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := parseTimeFlag(backfillFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}
		to, err := parseTimeFlag(backfillTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}
		if to.Before(from) {
			return fmt.Errorf("--from must not be after --to")
		}

		return getApp().Backfill(cmd.Context(), app.BackfillOptions{
			From:   from,
			To:     to,
			DryRun: backfillDryRun,
		})
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First day (YYYY-MM-DD or RFC3339, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Last day (YYYY-MM-DD or RFC3339, inclusive)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Print snapshots without writing to storage")
}
