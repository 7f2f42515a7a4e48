package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	retrainTicker string
	retrainServer string
)

var retrainCompleteCmd = &cobra.Command{
	Use:   "retrain-complete",
	Short: "Tell the running service that a ticker's rebuild finished",
	RunE: func(cmd *cobra.Command, args []string) error {
		if retrainTicker == "" {
			return errors.New("--ticker is required")
		}
		body, err := getApp().CompleteRetrain(cmd.Context(), retrainServer, retrainTicker)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return err
	},
}

func init() {
	retrainCompleteCmd.Flags().StringVar(&retrainTicker, "ticker", "", "Ticker whose retrain completed")
	retrainCompleteCmd.Flags().StringVar(&retrainServer, "server", "", "Base URL of the running service (defaults to api.addr on localhost)")
}
