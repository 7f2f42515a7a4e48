package cli

import (
	"github.com/spf13/cobra"
)

var trainTickers []string

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the forecast model on daily history and save it",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := getApp().Train(cmd.Context(), trainTickers)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	trainCmd.Flags().StringSliceVar(&trainTickers, "ticker", nil, "Tickers to train on (defaults to scheduler.tickers)")
}
