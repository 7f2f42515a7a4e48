package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"price-forecast/internal/alerting"
	"price-forecast/internal/feed"
	"price-forecast/internal/forecast"
	"price-forecast/internal/indicators"
	"price-forecast/internal/intelligence"
	"price-forecast/internal/journal"
	"price-forecast/internal/retrain"
	"price-forecast/internal/rootcause"
	"price-forecast/internal/signals"
)

// ForecastRequest asks for a next-period forecast. Features are computed from
// the price feed when nil. With Log set the forecast is recorded as a pending
// journal entry for Date (the next session when zero).
type ForecastRequest struct {
	Ticker   string
	Features *indicators.FeatureVector
	Log      bool
	Date     time.Time
}

// ForecastResult is a forecast plus how it was handled.
type ForecastResult struct {
	Ticker       string                   `json:"ticker"`
	Date         time.Time                `json:"date"`
	Value        float64                  `json:"predicted_price"`
	Confidence   float64                  `json:"confidence"`
	ModelVersion string                   `json:"model_version"`
	Features     indicators.FeatureVector `json:"features"`
	Logged       bool                     `json:"logged"`
	Degraded     []string                 `json:"degraded,omitempty"`
}

// Forecast scores the model for a ticker.
func (e *Engine) Forecast(ctx context.Context, req ForecastRequest) (ForecastResult, error) {
	return e.forecast(ctx, req, nil)
}

func (e *Engine) forecast(ctx context.Context, req ForecastRequest, candles []feed.Candle) (ForecastResult, error) {
	defer e.observeLatency("forecast", time.Now())

	ticker := journal.NormalizeTicker(req.Ticker)
	if ticker == "" {
		return ForecastResult{}, fmt.Errorf("%w: empty ticker", forecast.ErrInvalidInput)
	}

	var (
		fv   indicators.FeatureVector
		last time.Time
		err  error
	)
	switch {
	case req.Features != nil:
		if fv, err = indicators.FromValues(req.Features.Values()); err != nil {
			return ForecastResult{}, err
		}
		last = journal.Day(e.opts.Now())
	case candles != nil:
		if fv, err = featuresFrom(candles); err != nil {
			return ForecastResult{}, err
		}
		last = journal.Day(candles[len(candles)-1].Date)
	default:
		if candles, err = e.feed.DailyCandles(ctx, ticker, e.opts.FeatureDays); err != nil {
			return ForecastResult{}, err
		}
		if fv, err = featuresFrom(candles); err != nil {
			return ForecastResult{}, err
		}
		last = journal.Day(candles[len(candles)-1].Date)
	}

	fc, err := e.model.Predict(fv)
	if err != nil {
		return ForecastResult{}, err
	}

	res := ForecastResult{
		Ticker:       ticker,
		Date:         journal.Day(req.Date),
		Value:        fc.Value,
		Confidence:   fc.Confidence,
		ModelVersion: fc.ModelVersion,
		Features:     fv,
	}
	if req.Date.IsZero() {
		res.Date = NextSession(last)
	}

	if req.Log {
		_, err := e.journal.Record(ctx, ticker, res.Date, decimal.NewFromFloat(fc.Value).Round(4), journal.RecordOptions{
			Confidence:   fc.Confidence,
			ModelVersion: fc.ModelVersion,
		})
		switch {
		case errors.Is(err, journal.ErrJournalUnavailable):
			res.Degraded = append(res.Degraded, DegradedJournal)
			e.degrade(DegradedJournal, err, ticker)
		case err != nil:
			return ForecastResult{}, err
		default:
			res.Logged = true
		}
	}
	e.metrics.RecordPrediction(ticker, res.Logged)
	return res, nil
}

// LogPrediction records an externally produced prediction.
func (e *Engine) LogPrediction(ctx context.Context, ticker string, date time.Time, predicted decimal.Decimal, opts journal.RecordOptions) (journal.Entry, error) {
	entry, err := e.journal.Record(ctx, ticker, date, predicted, opts)
	if err != nil {
		return journal.Entry{}, err
	}
	e.metrics.RecordPrediction(entry.Ticker, true)
	return entry, nil
}

// ValidationResult is the outcome of settling one prediction.
type ValidationResult struct {
	Entry     journal.Entry      `json:"entry"`
	Signal    signals.RiskSignal `json:"signal"`
	RootCause *rootcause.Report  `json:"root_cause,omitempty"`
	Decision  retrain.Decision   `json:"retrain"`
}

// ValidatePrediction settles the prediction for (ticker, date) with the
// realized price.
func (e *Engine) ValidatePrediction(ctx context.Context, ticker string, date time.Time, actual decimal.Decimal) (ValidationResult, error) {
	entry, err := e.journal.Get(ticker, date)
	if err != nil {
		return ValidationResult{}, err
	}
	if entry.Status == journal.StatusValidated && entry.Actual != nil && !entry.Actual.Equal(actual) {
		return ValidationResult{}, fmt.Errorf("%w: %s %s", journal.ErrAlreadyValidated, entry.Ticker, entry.Date.Format(time.DateOnly))
	}
	return e.validate(ctx, entry, actual, nil)
}

func (e *Engine) validate(ctx context.Context, entry journal.Entry, actual decimal.Decimal, candles []feed.Candle) (ValidationResult, error) {
	defer e.observeLatency("validate", time.Now())
	if !actual.IsPositive() {
		return ValidationResult{}, fmt.Errorf("%w: actual price must be positive", journal.ErrInvalidInput)
	}

	spike, spikeErr := e.volumeSpike(ctx, entry.Ticker, entry.Date, candles)

	// drift is only worth computing for a miss
	var drift signals.DriftFunc
	if journal.Accuracy(entry.Predicted, actual) < e.journal.Threshold() {
		drift = e.drift
	}
	sig := e.signals.Collect(ctx, entry.Ticker, entry.Date, spike, drift)
	if spikeErr != nil {
		sig.Degraded = append(sig.Degraded, DegradedVolume)
		e.degrade(DegradedVolume, spikeErr, entry.Ticker)
	}

	validated, err := e.journal.Validate(ctx, entry.Ticker, entry.Date, actual, journal.RiskContext{
		GeoRisk:     sig.HeadlineScore,
		VolumeSpike: sig.VolumeSpike,
		Earnings:    sig.Earnings,
	})
	if err != nil {
		return ValidationResult{}, err
	}

	res := ValidationResult{Entry: validated, Signal: sig}
	obs := retrain.Observation{Ticker: validated.Ticker, Date: validated.Date, Accuracy: *validated.Accuracy}
	if validated.Outcome == journal.OutcomeRootCauseNeeded {
		report := rootcause.Classify(validated, rootcause.Signal{
			HeadlineScore: sig.HeadlineScore,
			VolumeSpike:   sig.VolumeSpike,
			Earnings:      sig.Earnings,
		}, sig.Drift)
		res.RootCause = &report
		obs.Cause = &report
	}
	res.Decision = e.retrain.Observe(obs)

	e.metrics.RecordValidation(validated.Ticker, string(validated.Outcome), *validated.Accuracy)
	if res.Decision.Needed {
		e.dispatch(ctx, validated, res.Decision, res.RootCause)
	}
	return res, nil
}

// volumeSpike falls back to a neutral ratio of 1 when history is unavailable.
func (e *Engine) volumeSpike(ctx context.Context, ticker string, date time.Time, candles []feed.Candle) (float64, error) {
	if candles == nil {
		var err error
		if candles, err = e.feed.DailyCandles(ctx, ticker, e.opts.FeatureDays); err != nil {
			return 1, err
		}
	}
	i, ok := settlingIndex(candles, date)
	if !ok {
		return 1, fmt.Errorf("%w: no candle for %s on %s", feed.ErrDataUnavailable, ticker, date.Format(time.DateOnly))
	}
	_, volumes := feed.Split(candles[:i+1])
	return indicators.VolumeSpikeRatio(volumes), nil
}

func (e *Engine) dispatch(ctx context.Context, entry journal.Entry, d retrain.Decision, cause *rootcause.Report) {
	e.metrics.RecordRetrain(d.Ticker)
	e.logger.Warn().Str("ticker", d.Ticker).
		Int("consecutive_low_days", d.ConsecutiveLowDays).
		Str("reason", d.Reason).
		Msg("retrain triggered")

	if e.builder != nil {
		if err := e.builder.Trigger(ctx, d.Ticker, d.Reason); err != nil {
			e.logger.Error().Err(err).Str("ticker", d.Ticker).Msg("failed to start builder")
		}
	}
	if e.notifier != nil {
		note := alerting.Notification{
			Kind:               alerting.KindRetrain,
			Ticker:             d.Ticker,
			At:                 e.opts.Now(),
			Reason:             d.Reason,
			Accuracy:           entry.Accuracy,
			ConsecutiveLowDays: d.ConsecutiveLowDays,
		}
		if d.TriggeredAt != nil {
			note.At = *d.TriggeredAt
		}
		if cause != nil {
			note.Causes = cause.Fired()
		}
		if err := e.notifier.Notify(ctx, note); err != nil {
			e.logger.Error().Err(err).Str("ticker", d.Ticker).Msg("failed to dispatch retrain notification")
		}
	}
}

// Stats returns rolling accuracy statistics.
func (e *Engine) Stats(ticker string, windowDays int) (journal.RollingStats, error) {
	return e.journal.Stats(ticker, windowDays)
}

// Intelligence returns the aggregated score for ticker.
func (e *Engine) Intelligence(ctx context.Context, ticker string) (intelligence.AggregatedScore, error) {
	defer e.observeLatency("intelligence", time.Now())
	return e.intel.Score(ctx, ticker)
}

// reviewIntelligence notifies when the daily score recommends an alert.
func (e *Engine) reviewIntelligence(ctx context.Context, ticker string) {
	score, err := e.Intelligence(ctx, ticker)
	if err != nil {
		e.logger.Warn().Err(err).Str("ticker", ticker).Msg("intelligence unavailable")
		return
	}
	if score.Decision.RecommendedAction != intelligence.ActionAlert || e.notifier == nil {
		return
	}
	s := score.IntelligenceScore
	note := alerting.Notification{
		Kind:   alerting.KindAlert,
		Ticker: ticker,
		At:     score.At,
		Reason: score.Decision.Reason,
		Score:  &s,
		Action: string(score.Decision.RecommendedAction),
	}
	if err := e.notifier.Notify(ctx, note); err != nil {
		e.logger.Error().Err(err).Str("ticker", ticker).Msg("failed to dispatch intelligence alert")
	}
}

// Journal exposes read access for the CLI and HTTP layers.
func (e *Engine) Journal() *journal.Journal {
	return e.journal
}

// RetrainSnapshot lists the retrain state of every known ticker.
func (e *Engine) RetrainSnapshot() []retrain.Decision {
	return e.retrain.Snapshot()
}

// Features computes the current feature vector for ticker from the feed.
func (e *Engine) Features(ctx context.Context, ticker string) (indicators.FeatureVector, error) {
	candles, err := e.feed.DailyCandles(ctx, ticker, e.opts.FeatureDays)
	if err != nil {
		return indicators.FeatureVector{}, err
	}
	return featuresFrom(candles)
}

func (e *Engine) currentRisk(ctx context.Context, ticker string) signals.RiskSignal {
	return e.signals.Collect(ctx, ticker, journal.Day(e.opts.Now()), 0, nil)
}

func featuresFrom(candles []feed.Candle) (indicators.FeatureVector, error) {
	if len(candles) == 0 {
		return indicators.FeatureVector{}, fmt.Errorf("%w: no candles", feed.ErrDataUnavailable)
	}
	closes, volumes := feed.Split(candles)
	return indicators.Compute(closes, volumes)
}

func closeDecimal(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(4)
}
