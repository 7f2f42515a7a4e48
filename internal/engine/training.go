package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"price-forecast/internal/feed"
	"price-forecast/internal/forecast"
	"price-forecast/internal/indicators"
	"price-forecast/internal/journal"
	"price-forecast/internal/retrain"
)

// Dataset pairs each feature vector with the close that followed it.
type Dataset struct {
	X     []indicators.FeatureVector
	Y     []float64
	Dates []time.Time
}

// Len is the number of samples.
func (d Dataset) Len() int { return len(d.X) }

// Tail keeps the last n samples.
func (d Dataset) Tail(n int) Dataset {
	if n <= 0 || n >= d.Len() {
		return d
	}
	k := d.Len() - n
	return Dataset{X: d.X[k:], Y: d.Y[k:], Dates: d.Dates[k:]}
}

// BuildDataset turns candles (oldest first) into supervised samples. Dates
// are the target sessions.
func BuildDataset(candles []feed.Candle, minHistory int) (Dataset, error) {
	if len(candles) < minHistory+1 {
		return Dataset{}, fmt.Errorf("%w: need %d candles, got %d", indicators.ErrInvalidInput, minHistory+1, len(candles))
	}
	closes, volumes := feed.Split(candles)
	n := len(closes)
	X, offset, err := indicators.Series(closes[:n-1], volumes[:n-1], minHistory)
	if err != nil {
		return Dataset{}, err
	}
	ds := Dataset{X: X, Y: closes[offset+1:], Dates: make([]time.Time, len(X))}
	for i := range X {
		ds.Dates[i] = journal.Day(candles[offset+1+i].Date)
	}
	return ds, nil
}

// TrainResult summarises a training run.
type TrainResult struct {
	Report  forecast.TrainingReport `json:"report"`
	Model   forecast.Info           `json:"model"`
	Tickers []string                `json:"tickers"`
	Saved   bool                    `json:"saved"`
}

// Train fits a model on the history of tickers (the configured set when
// empty), installs it, and saves it when a model path is configured.
func (e *Engine) Train(ctx context.Context, tickers []string) (TrainResult, error) {
	defer e.observeLatency("train", time.Now())
	if len(tickers) == 0 {
		tickers = e.opts.Tickers
	}
	if len(tickers) == 0 {
		return TrainResult{}, fmt.Errorf("%w: no tickers to train on", forecast.ErrInvalidInput)
	}

	type sample struct {
		x    indicators.FeatureVector
		y    float64
		date time.Time
	}
	var samples []sample
	used := make([]string, 0, len(tickers))
	for _, t := range tickers {
		ticker := journal.NormalizeTicker(t)
		candles, err := e.feed.DailyCandles(ctx, ticker, e.opts.HistoryDays)
		if err != nil {
			return TrainResult{}, fmt.Errorf("fetch %s history: %w", ticker, err)
		}
		ds, err := BuildDataset(candles, e.opts.MinHistory)
		if err != nil {
			return TrainResult{}, fmt.Errorf("build %s dataset: %w", ticker, err)
		}
		for i := range ds.X {
			samples = append(samples, sample{x: ds.X[i], y: ds.Y[i], date: ds.Dates[i]})
		}
		used = append(used, ticker)
	}

	// interleave tickers by session so the holdout is the most recent period
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].date.Before(samples[j].date) })
	X := make([]indicators.FeatureVector, len(samples))
	y := make([]float64, len(samples))
	for i, s := range samples {
		X[i], y[i] = s.x, s.y
	}

	m, report, err := forecast.Train(X, y, e.opts.Forecast)
	if err != nil {
		return TrainResult{}, err
	}

	res := TrainResult{Report: report, Model: m.Info(), Tickers: used}
	if e.opts.ModelPath != "" {
		if err := forecast.Save(e.opts.ModelPath, m); err != nil {
			return TrainResult{}, fmt.Errorf("save model: %w", err)
		}
		res.Saved = true
	}
	e.model.Swap(m)

	e.logger.Info().Strs("tickers", used).
		Str("version", m.Version).
		Int("samples", report.Samples).
		Float64("r2", report.R2).
		Float64("rmse", report.RMSE).
		Float64("mae", report.MAE).
		Msg("model trained")
	return res, nil
}

// LoadModel installs the persisted model, if any. It reports whether a model
// was loaded.
func (e *Engine) LoadModel() (bool, error) {
	if e.opts.ModelPath == "" {
		return false, nil
	}
	m, err := forecast.Load(e.opts.ModelPath)
	if errors.Is(err, forecast.ErrModelNotTrained) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	e.model.Swap(m)
	e.logger.Info().Str("version", m.Version).Str("path", e.opts.ModelPath).Msg("model loaded")
	return true, nil
}

// ModelInfo describes the active model.
func (e *Engine) ModelInfo() (forecast.Info, error) {
	m := e.model.Current()
	if m == nil {
		return forecast.Info{}, forecast.ErrModelNotTrained
	}
	return m.Info(), nil
}

// RetrainCompletion reports the effect of a retrain-complete signal.
type RetrainCompletion struct {
	Decision retrain.Decision `json:"retrain"`
	Reloaded bool             `json:"reloaded"`
	Version  string           `json:"model_version,omitempty"`
}

// RetrainComplete ends a ticker's cooldown and reloads the model file the
// builder is expected to have written. A missing or unchanged file keeps the
// current model.
func (e *Engine) RetrainComplete(ctx context.Context, ticker string) (RetrainCompletion, error) {
	d, err := e.retrain.Complete(ticker)
	if err != nil {
		return RetrainCompletion{}, err
	}
	res := RetrainCompletion{Decision: d}

	before := e.model.Current()
	if _, err := e.LoadModel(); err != nil {
		e.logger.Warn().Err(err).Str("ticker", d.Ticker).Msg("retrain complete but model reload failed")
	}
	if cur := e.model.Current(); cur != nil {
		res.Version = cur.Version
		res.Reloaded = before == nil || cur.Version != before.Version
	}
	e.logger.Info().Str("ticker", d.Ticker).Bool("reloaded", res.Reloaded).Str("version", res.Version).Msg("retrain complete")
	return res, nil
}

// drift compares permutation importance on the ticker's recent window with
// the model's training baseline.
func (e *Engine) drift(ctx context.Context, ticker string) (map[string]float64, error) {
	m := e.model.Current()
	if m == nil {
		return nil, forecast.ErrModelNotTrained
	}
	candles, err := e.feed.DailyCandles(ctx, ticker, e.opts.DriftWindow+e.opts.MinHistory+1)
	if err != nil {
		return nil, err
	}
	ds, err := BuildDataset(candles, e.opts.MinHistory)
	if err != nil {
		return nil, err
	}
	ds = ds.Tail(e.opts.DriftWindow)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	current := forecast.PermutationImportance(m, ds.X, ds.Y)
	return forecast.Drift(m.Baseline, current), nil
}
