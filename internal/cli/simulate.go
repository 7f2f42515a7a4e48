package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateTicker     string
	simulateAccuracies []float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-retrain",
	Short: "Feed a sequence of daily accuracies through the retrain path and notify",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateTicker == "" {
			return errors.New("--ticker is required")
		}
		if len(simulateAccuracies) == 0 {
			return errors.New("--accuracy must be given at least once")
		}

		results, err := getApp().SimulateRetrain(cmd.Context(), simulateTicker, simulateAccuracies)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), results)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateTicker, "ticker", "", "Ticker to simulate")
	simulateCmd.Flags().Float64SliceVar(&simulateAccuracies, "accuracy", []float64{79.8, 81.2, 78.5}, "Daily accuracies in percent, oldest first")
}
