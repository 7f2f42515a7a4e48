package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	statsTicker string
	statsWindow int

	intelTicker string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show rolling accuracy statistics for a ticker",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statsTicker == "" {
			return errors.New("--ticker is required")
		}
		stats, err := getApp().Stats(cmd.Context(), statsTicker, statsWindow)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), stats)
	},
}

var intelligenceCmd = &cobra.Command{
	Use:   "intelligence",
	Short: "Compute the aggregated intelligence score for a ticker",
	RunE: func(cmd *cobra.Command, args []string) error {
		if intelTicker == "" {
			return errors.New("--ticker is required")
		}
		score, err := getApp().Intelligence(cmd.Context(), intelTicker)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), score)
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsTicker, "ticker", "", "Ticker to summarise")
	statsCmd.Flags().IntVar(&statsWindow, "window", 30, "Window in calendar days for trend and average")

	intelligenceCmd.Flags().StringVar(&intelTicker, "ticker", "", "Ticker to score")
}
