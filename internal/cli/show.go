package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-forecast/internal/app"
)

var (
	showLimit  int
	showTicker string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent journal entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Ticker: showTicker,
		}

		return getApp().Show(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of entries to display")
	showCmd.Flags().StringVar(&showTicker, "ticker", "", "Only show entries for this ticker")
}
