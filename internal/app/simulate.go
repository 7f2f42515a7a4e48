package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"price-forecast/internal/engine"
	"price-forecast/internal/feed"
	"price-forecast/internal/journal"
)

// simulatedPrediction is the predicted price every simulated day uses.
var simulatedPrediction = decimal.NewFromInt(100)

// SimulateRetrain drives a throwaway in-memory journal through one validated
// day per accuracy so the retrain path and the configured notification
// channel can be exercised end to end. The builder hook is not run.
func (a *App) SimulateRetrain(ctx context.Context, ticker string, accuracies []float64) ([]engine.ValidationResult, error) {
	if len(accuracies) == 0 {
		return nil, errors.New("at least one accuracy is required")
	}
	if a.newNotifier() == nil {
		return nil, errors.New("alerting is disabled; enable alerting to simulate")
	}

	rt, err := a.build(ctx, buildOptions{
		noBuilder: true,
		store:     journal.NewMemoryStore(),
		feed:      feed.Static{},
	})
	if err != nil {
		return nil, err
	}
	defer rt.close()
	sim := rt.engine

	day := journal.Day(time.Now().UTC()).AddDate(0, 0, -len(accuracies))
	out := make([]engine.ValidationResult, 0, len(accuracies))
	for _, acc := range accuracies {
		day = engine.NextSession(day)
		actual, err := actualFor(acc)
		if err != nil {
			return out, err
		}
		if _, err := sim.LogPrediction(ctx, ticker, day, simulatedPrediction, journal.RecordOptions{ModelVersion: "simulated"}); err != nil {
			return out, err
		}
		res, err := sim.ValidatePrediction(ctx, ticker, day, actual)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// actualFor returns the realized price that scores acc against a prediction
// of 100 (the actual lies above the prediction).
func actualFor(acc float64) (decimal.Decimal, error) {
	if acc <= 0 || acc > 100 {
		return decimal.Decimal{}, fmt.Errorf("accuracy %.2f must be in (0, 100]", acc)
	}
	return simulatedPrediction.Mul(decimal.NewFromInt(100)).Div(decimal.NewFromFloat(acc)).Round(4), nil
}
