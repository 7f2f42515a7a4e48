package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-forecast/internal/app"
)

var (
	backfillFrom    string
	backfillTo      string
	backfillTickers []string
	backfillDryRun  bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Replay history into the journal with the current model",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := parseDate(backfillFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to, err := parseDate(backfillTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		if !from.Before(to) {
			return fmt.Errorf("--from must be before --to")
		}

		opts := app.BackfillOptions{
			From:    from,
			To:      to,
			Tickers: backfillTickers,
			DryRun:  backfillDryRun,
		}

		reports, err := getApp().Backfill(cmd.Context(), opts)
		if len(reports) > 0 {
			if perr := printJSON(cmd.OutOrStdout(), reports); perr != nil {
				return perr
			}
		}
		return err
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First target session (YYYY-MM-DD or RFC3339)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Last target session (YYYY-MM-DD or RFC3339)")
	backfillCmd.Flags().StringSliceVar(&backfillTickers, "ticker", nil, "Tickers to replay (defaults to scheduler.tickers)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Report accuracies without writing to the journal")
}
