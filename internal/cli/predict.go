package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"price-forecast/internal/engine"
)

var (
	predictTicker string
	predictDate   string
	predictLog    bool

	validateTicker string
	validateDate   string
	validateActual float64
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Forecast the next close for a ticker",
	RunE: func(cmd *cobra.Command, args []string) error {
		if predictTicker == "" {
			return errors.New("--ticker is required")
		}
		req := engine.ForecastRequest{Ticker: predictTicker, Log: predictLog}
		if predictDate != "" {
			date, err := parseDate(predictDate)
			if err != nil {
				return fmt.Errorf("invalid --date value: %w", err)
			}
			req.Date = date
		}

		res, err := getApp().Predict(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Settle a recorded prediction with the realized close",
	RunE: func(cmd *cobra.Command, args []string) error {
		if validateTicker == "" || validateDate == "" {
			return errors.New("--ticker and --date are required")
		}
		if validateActual <= 0 {
			return errors.New("--actual must be greater than zero")
		}
		date, err := parseDate(validateDate)
		if err != nil {
			return fmt.Errorf("invalid --date value: %w", err)
		}

		res, err := getApp().Validate(cmd.Context(), validateTicker, date, decimal.NewFromFloat(validateActual))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	predictCmd.Flags().StringVar(&predictTicker, "ticker", "", "Ticker to forecast")
	predictCmd.Flags().StringVar(&predictDate, "date", "", "Target session (defaults to the next session)")
	predictCmd.Flags().BoolVar(&predictLog, "log", false, "Record the forecast in the journal")

	validateCmd.Flags().StringVar(&validateTicker, "ticker", "", "Ticker of the prediction")
	validateCmd.Flags().StringVar(&validateDate, "date", "", "Target session of the prediction")
	validateCmd.Flags().Float64Var(&validateActual, "actual", 0, "Realized close")
}
