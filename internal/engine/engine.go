package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"price-forecast/internal/alerting"
	"price-forecast/internal/builder"
	"price-forecast/internal/feed"
	"price-forecast/internal/forecast"
	"price-forecast/internal/intelligence"
	"price-forecast/internal/journal"
	"price-forecast/internal/retrain"
	"price-forecast/internal/scheduler"
	"price-forecast/internal/signals"
	"price-forecast/internal/storage"
)

// Degraded inputs reported on responses and counted in metrics.
const (
	DegradedJournal = "journal"
	DegradedVolume  = "volume"
)

// Recorder receives engine metrics. *metrics.Recorder satisfies it.
type Recorder interface {
	RecordPrediction(ticker string, logged bool)
	RecordValidation(ticker, outcome string, accuracy float64)
	RecordRetrain(ticker string)
	RecordIntelligence(ticker string, score float64)
	Degraded(reason string)
	RecordLatency(op string, seconds float64)
}

// Options tune the engine.
type Options struct {
	Tickers []string
	// HistoryDays is how many sessions training requests per ticker.
	HistoryDays int
	// MinHistory is the first bar that yields a training sample.
	MinHistory int
	// FeatureDays is how many sessions are fetched to compute live features.
	FeatureDays int
	// DriftWindow is the number of recent samples used for importance drift.
	DriftWindow int
	ModelPath   string
	Forecast    forecast.Options
	LockKey     int64
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.HistoryDays <= 0 {
		o.HistoryDays = 504
	}
	if o.MinHistory <= 0 {
		o.MinHistory = 30
	}
	if o.FeatureDays < o.MinHistory {
		o.FeatureDays = max(o.MinHistory, 90)
	}
	if o.DriftWindow <= 0 {
		o.DriftWindow = 60
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Deps are the collaborators the engine orchestrates. Journal, Model, Feed
// and Retrain are required; the rest may be nil.
type Deps struct {
	Journal   *journal.Journal
	Model     *forecast.Handle
	Feed      feed.Source
	Signals   *signals.Collector
	Retrain   *retrain.Engine
	Builder   builder.Trigger
	Notifier  alerting.Notifier
	Metrics   Recorder
	Locker    storage.AdvisoryLocker
	Scheduler *scheduler.Scheduler
	Weights   intelligence.Weights
	// AlertBelow is the intelligence score that raises ALERT.
	AlertBelow float64
}

// Engine wires the forecast, journal, root-cause, retrain and intelligence
// components into the serving operations and the daily cycle.
type Engine struct {
	journal   *journal.Journal
	model     *forecast.Handle
	feed      feed.Source
	signals   *signals.Collector
	retrain   *retrain.Engine
	intel     *intelligence.Aggregator
	builder   builder.Trigger
	notifier  alerting.Notifier
	metrics   Recorder
	locker    storage.AdvisoryLocker
	scheduler *scheduler.Scheduler

	opts   Options
	logger zerolog.Logger
}

// New constructs the engine and replays journal history into the retrain
// state machine.
func New(deps Deps, opts Options, logger zerolog.Logger) (*Engine, error) {
	if deps.Journal == nil || deps.Model == nil || deps.Feed == nil || deps.Retrain == nil {
		return nil, fmt.Errorf("engine: journal, model, feed and retrain are required")
	}
	opts = opts.withDefaults()
	logger = logger.With().Str("component", "engine").Logger()

	e := &Engine{
		journal:   deps.Journal,
		model:     deps.Model,
		feed:      deps.Feed,
		signals:   deps.Signals,
		retrain:   deps.Retrain,
		builder:   deps.Builder,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		locker:    deps.Locker,
		scheduler: deps.Scheduler,
		opts:      opts,
		logger:    logger,
	}
	if e.signals == nil {
		e.signals = signals.NewCollector(nil, nil, nil, nil, signals.CollectorOptions{}, logger)
	}
	if e.metrics == nil {
		e.metrics = nopRecorder{}
	}
	e.intel = intelligence.New(e.Features, e.currentRisk, e.journal, e.retrain, e.metrics,
		intelligence.Options{Weights: deps.Weights, AlertBelow: deps.AlertBelow, Now: opts.Now}, logger)

	var history []journal.Entry
	for _, t := range e.journal.Tickers() {
		history = append(history, e.journal.Entries(t)...)
	}
	if n := e.retrain.Restore(history); n > 0 {
		logger.Info().Int("validations", n).Msg("retrain state restored from journal")
	}
	return e, nil
}

// Run begins the scheduled daily cycle.
func (e *Engine) Run(ctx context.Context) error {
	if e.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return e.scheduler.Run(ctx, e.ProcessDay)
}

// ProcessDay validates each ticker's pending prediction against the latest
// close and records the forecast for the next session.
func (e *Engine) ProcessDay(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := e.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		e.logger.Debug().Time("bucket", bucket).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	var errs []error
	for _, ticker := range e.opts.Tickers {
		if err := e.processTicker(ctx, journal.NormalizeTicker(ticker)); err != nil {
			e.logger.Error().Err(err).Str("ticker", ticker).Msg("cycle failed for ticker")
			errs = append(errs, fmt.Errorf("%s: %w", ticker, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) processTicker(ctx context.Context, ticker string) error {
	candles, err := e.feed.DailyCandles(ctx, ticker, e.opts.FeatureDays)
	if err != nil {
		return fmt.Errorf("fetch candles: %w", err)
	}
	last := candles[len(candles)-1]
	session := journal.Day(last.Date)

	for _, entry := range e.journal.Entries(ticker) {
		if entry.Status != journal.StatusPending || entry.Date.After(session) {
			continue
		}
		// a target date without a candle (exchange holiday) settles on the
		// next session that traded
		i, ok := settlingIndex(candles, entry.Date)
		if !ok {
			continue
		}
		res, err := e.validate(ctx, entry, closeDecimal(candles[i].Close), candles)
		if err != nil {
			return fmt.Errorf("validate %s: %w", entry.Date.Format(time.DateOnly), err)
		}
		e.logger.Info().Str("ticker", ticker).
			Time("date", entry.Date).
			Float64("accuracy", *res.Entry.Accuracy).
			Str("outcome", string(res.Entry.Outcome)).
			Str("retrain_state", string(res.Decision.State)).
			Msg("prediction validated")
	}

	if e.model.Current() == nil {
		e.logger.Warn().Str("ticker", ticker).Msg("model not trained; skipping forecast")
		return nil
	}

	res, err := e.forecast(ctx, ForecastRequest{
		Ticker: ticker,
		Log:    true,
		Date:   NextSession(session),
	}, candles)
	switch {
	case errors.Is(err, journal.ErrDuplicateActiveEntry):
		e.logger.Debug().Str("ticker", ticker).Msg("forecast for next session already recorded")
		return nil
	case err != nil:
		return fmt.Errorf("forecast: %w", err)
	}
	e.logger.Info().Str("ticker", ticker).
		Time("target", res.Date).
		Float64("predicted", res.Value).
		Float64("confidence", res.Confidence).
		Bool("logged", res.Logged).
		Msg("forecast recorded")

	e.reviewIntelligence(ctx, ticker)
	return nil
}

func (e *Engine) acquireLock(ctx context.Context) (func(), bool, error) {
	if e.opts.LockKey == 0 || e.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := e.locker.TryAdvisoryLock(ctx, e.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// NextSession returns the next weekday after day. Exchange holidays are not
// modelled here; see settlingIndex.
func NextSession(day time.Time) time.Time {
	next := journal.Day(day).AddDate(0, 0, 1)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// settlingIndex returns the first candle on or after date. Dates older than
// the fetched window cannot be settled.
func settlingIndex(candles []feed.Candle, date time.Time) (int, bool) {
	if len(candles) == 0 || date.Before(journal.Day(candles[0].Date)) {
		return 0, false
	}
	for i, c := range candles {
		if !journal.Day(c.Date).Before(date) {
			return i, true
		}
	}
	return 0, false
}

func (e *Engine) observeLatency(op string, start time.Time) {
	e.metrics.RecordLatency(op, time.Since(start).Seconds())
}

func (e *Engine) degrade(reason string, err error, ticker string) {
	e.logger.Warn().Err(err).Str("ticker", ticker).Str("input", reason).Msg("degraded call")
	e.metrics.Degraded(reason)
}

type nopRecorder struct{}

func (nopRecorder) RecordPrediction(string, bool) {}

func (nopRecorder) RecordValidation(string, string, float64) {}

func (nopRecorder) RecordRetrain(string) {}

func (nopRecorder) RecordIntelligence(string, float64) {}

func (nopRecorder) Degraded(string) {}

func (nopRecorder) RecordLatency(string, float64) {}
