package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"price-forecast/internal/engine"
	"price-forecast/internal/intelligence"
	"price-forecast/internal/journal"
)

// Train fits the model on the configured (or given) tickers and saves it to
// model.path.
func (a *App) Train(ctx context.Context, tickers []string) (engine.TrainResult, error) {
	var res engine.TrainResult
	err := a.withEngine(ctx, func(e *engine.Engine) error {
		var err error
		res, err = e.Train(ctx, tickers)
		return err
	})
	return res, err
}

// Predict forecasts one ticker and, when requested, records the forecast.
func (a *App) Predict(ctx context.Context, req engine.ForecastRequest) (engine.ForecastResult, error) {
	var res engine.ForecastResult
	err := a.withEngine(ctx, func(e *engine.Engine) error {
		var err error
		res, err = e.Forecast(ctx, req)
		return err
	})
	return res, err
}

// Validate settles a recorded prediction with the realized price.
func (a *App) Validate(ctx context.Context, ticker string, date time.Time, actual decimal.Decimal) (engine.ValidationResult, error) {
	var res engine.ValidationResult
	err := a.withEngine(ctx, func(e *engine.Engine) error {
		var err error
		res, err = e.ValidatePrediction(ctx, ticker, date, actual)
		return err
	})
	return res, err
}

// Stats reads rolling accuracy statistics from the journal.
func (a *App) Stats(ctx context.Context, ticker string, windowDays int) (journal.RollingStats, error) {
	j, closeJournal, err := a.openJournal(ctx)
	if err != nil {
		return journal.RollingStats{}, err
	}
	defer closeJournal()
	return j.Stats(ticker, windowDays)
}

// Intelligence computes the aggregated score for ticker.
func (a *App) Intelligence(ctx context.Context, ticker string) (intelligence.AggregatedScore, error) {
	var res intelligence.AggregatedScore
	err := a.withEngine(ctx, func(e *engine.Engine) error {
		var err error
		res, err = e.Intelligence(ctx, ticker)
		return err
	})
	return res, err
}

// CompleteRetrain tells a running server that the rebuild for ticker
// finished. Retrain state lives in the serving process, so this goes over
// HTTP rather than through a local engine.
func (a *App) CompleteRetrain(ctx context.Context, server, ticker string) (json.RawMessage, error) {
	if server == "" {
		server = serverURL(a.Config.API.Addr)
	}
	endpoint := strings.TrimRight(server, "/") + "/retrain/" + url.PathEscape(journal.NormalizeTicker(ticker)) + "/complete"

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("retrain complete for %s: %s: %s", ticker, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.RawMessage(body), nil
}

// serverURL turns a listen address such as ":8080" into a local base URL.
func serverURL(addr string) string {
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}
