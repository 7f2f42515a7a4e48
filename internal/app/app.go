package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"price-forecast/internal/alerting"
	"price-forecast/internal/api"
	"price-forecast/internal/builder"
	"price-forecast/internal/config"
	"price-forecast/internal/engine"
	"price-forecast/internal/feed"
	"price-forecast/internal/forecast"
	"price-forecast/internal/intelligence"
	"price-forecast/internal/journal"
	"price-forecast/internal/metrics"
	"price-forecast/internal/retrain"
	"price-forecast/internal/scheduler"
	"price-forecast/internal/signals"
	"price-forecast/internal/storage"
	"price-forecast/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// runtime is a wired engine plus what must be released with it.
type runtime struct {
	engine  *engine.Engine
	journal *journal.Journal
	metrics *metrics.Recorder
	closers []func()
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

type buildOptions struct {
	// scheduled wires the daily scheduler.
	scheduled bool
	// quiet leaves out the builder hook and notifications, for replays.
	quiet bool
	// noBuilder keeps notifications but never runs the builder hook.
	noBuilder bool
	feed      feed.Source
	store     journal.EventStore
}

func (a *App) build(ctx context.Context, opts buildOptions) (*runtime, error) {
	rt := &runtime{metrics: metrics.New()}

	jopts := journal.Options{Threshold: a.Config.Journal.Threshold, Logger: a.Logger}
	store := opts.store
	var (
		locker   storage.AdvisoryLocker
		j        *journal.Journal
		storeErr error
	)
	if store == nil {
		s, l, closer, err := a.openEventStore(ctx)
		if err != nil {
			storeErr = err
		} else {
			store, locker = s, l
			rt.closers = append(rt.closers, closer)
		}
	}
	if storeErr == nil {
		j, storeErr = journal.New(ctx, store, jopts)
	}
	if storeErr != nil {
		// forecasts are still served; nothing is recorded until the store is repaired
		a.Logger.Error().Err(storeErr).Msg("journal unavailable; forecasts will not be recorded")
		rt.metrics.Degraded(engine.DegradedJournal)
		j = journal.NewUnavailable(storeErr, jopts)
	}
	rt.journal = j

	src := opts.feed
	if src == nil {
		src = a.newFeed()
	}

	collector, closeCache := a.newCollector(rt.metrics)
	if closeCache != nil {
		rt.closers = append(rt.closers, closeCache)
	}

	deps := engine.Deps{
		Journal: j,
		Model:   forecast.NewHandle(a.forecastOptions()),
		Feed:    src,
		Signals: collector,
		Retrain: retrain.New(retrain.Options{
			Threshold:       a.Config.Retrain.Threshold,
			ConsecutiveDays: a.Config.Retrain.ConsecutiveDays,
		}),
		Metrics: rt.metrics,
		Locker:  locker,
		Weights: intelligence.Weights{
			Geopolitical: a.Config.Intelligence.Weights.Geopolitical,
			Technical:    a.Config.Intelligence.Weights.Technical,
			ML:           a.Config.Intelligence.Weights.ML,
		},
		AlertBelow: a.Config.Intelligence.AlertBelow,
	}
	if !opts.quiet {
		deps.Notifier = a.newNotifier()
		// a nil *builder.Exec must not reach the Trigger interface
		if b := a.newBuilder(); b != nil && !opts.noBuilder {
			deps.Builder = b
			// in-flight rebuilds finish before the process exits
			rt.closers = append(rt.closers, b.Wait)
		}
	}
	if opts.scheduled {
		sched, err := scheduler.New(scheduler.Options{
			Interval:     a.Config.Scheduler.Interval,
			AlignToStart: a.Config.Scheduler.AlignToBucket,
			Offset:       a.Config.Scheduler.Offset,
			StartupDelay: a.Config.Scheduler.StartupDelay,
			RunOnStart:   a.Config.Scheduler.RunOnStart,
		}, a.Logger)
		if err != nil {
			rt.close()
			return nil, err
		}
		deps.Scheduler = sched
	}

	eng, err := engine.New(deps, engine.Options{
		Tickers:     a.Config.Scheduler.Tickers,
		HistoryDays: a.Config.Model.HistoryDays,
		MinHistory:  a.Config.Model.MinHistory,
		DriftWindow: a.Config.Model.DriftWindow,
		ModelPath:   a.Config.Model.Path,
		Forecast:    a.forecastOptions(),
		LockKey:     a.Config.Scheduler.AdvisoryLockKey,
	}, a.Logger)
	if err != nil {
		rt.close()
		return nil, err
	}
	if _, err := eng.LoadModel(); err != nil {
		rt.close()
		return nil, fmt.Errorf("load model: %w", err)
	}
	rt.engine = eng
	return rt, nil
}

// openEventStore returns the configured journal backend. The PostgreSQL
// backend also provides the advisory lock for the daily cycle.
func (a *App) openEventStore(ctx context.Context) (journal.EventStore, storage.AdvisoryLocker, func(), error) {
	switch a.Config.Journal.Backend {
	case "postgres":
		pool, err := storage.NewPool(ctx, a.Config.Database)
		if err != nil {
			return nil, nil, nil, err
		}
		store := storage.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, nil, err
		}
		if n, err := store.CountEvents(ctx); err == nil {
			a.Logger.Debug().Int64("events", n).Msg("journal store ready")
		}
		return store, store, store.Close, nil
	default:
		log, err := storage.OpenFileLog(a.Config.Journal.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		return log, nil, func() {
			if err := log.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("close journal file")
			}
		}, nil
	}
}

func (a *App) openJournal(ctx context.Context) (*journal.Journal, func(), error) {
	store, _, closer, err := a.openEventStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	j, err := journal.New(ctx, store, journal.Options{Threshold: a.Config.Journal.Threshold, Logger: a.Logger})
	if err != nil {
		closer()
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	return j, closer, nil
}

func (a *App) forecastOptions() forecast.Options {
	m := a.Config.Model
	return forecast.Options{
		Tree: forecast.TreeParams{
			Trees:          m.Trees,
			MaxDepth:       m.MaxDepth,
			MinSamplesLeaf: m.MinSamplesLeaf,
			LearningRate:   m.LearningRate,
		},
		HoldoutFraction:     m.HoldoutFraction,
		ConfidenceBins:      m.ConfidenceBins,
		ConfidenceTolerance: m.ConfidenceTolerance,
	}
}

func (a *App) newFeed() feed.Source {
	return feed.NewYahoo(feed.YahooOptions{
		BaseURL:           a.Config.Feed.BaseURL,
		Timeout:           a.Config.Feed.RequestTimeout,
		UserAgent:         a.Config.Feed.UserAgent,
		RequestsPerMinute: a.Config.Feed.RequestsPerMinute,
	}, a.Logger)
}

func (a *App) newCollector(rec signals.DegradedRecorder) (*signals.Collector, func()) {
	cfg := a.Config.Signals
	opts := signals.CollectorOptions{
		Timeout:          cfg.Timeout,
		LookbackDays:     cfg.LookbackDays,
		EarningsKeywords: cfg.EarningsKeywords,
	}
	scorer := signals.NewKeywordScorer(cfg.RiskKeywords)
	if !cfg.Enabled {
		return signals.NewCollector(nil, scorer, nil, rec, opts, a.Logger), nil
	}

	source := signals.NewNewsClient(signals.NewsOptions{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Timeout:           cfg.Timeout,
		RequestsPerMinute: cfg.RequestsPerMinute,
	}, a.Logger)

	if cfg.Redis.Addr == "" {
		return signals.NewCollector(source, scorer, nil, rec, opts, a.Logger), nil
	}
	cli := signals.NewRedisClient(signals.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	cache := signals.NewRedisCache(cli, cfg.Redis.TTL)
	closer := func() {
		if err := cli.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close redis client")
		}
	}
	return signals.NewCollector(source, scorer, cache, rec, opts, a.Logger), closer
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if cfg := a.Config.Alerting.Telegram; cfg.Enabled {
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) newBuilder() *builder.Exec {
	if len(a.Config.Retrain.BuilderCommand) == 0 {
		return nil
	}
	return builder.NewExec(builder.Options{
		Command: a.Config.Retrain.BuilderCommand,
		Timeout: a.Config.Retrain.BuilderTimeout,
	}, a.Logger)
}

func (a *App) newServer(rt *runtime) *api.Server {
	return api.NewServer(rt.engine, rt.metrics, api.Options{
		Addr:           a.Config.API.Addr,
		ReadTimeout:    a.Config.API.ReadTimeout,
		WriteTimeout:   a.Config.API.WriteTimeout,
		RequestTimeout: a.Config.API.RequestTimeout,
		MetricsHandler: rt.metrics.Handler(),
	}, a.Logger)
}

// Run executes the daily cycle and serves the HTTP API until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(a.Config.Scheduler.Tickers) == 0 {
		return errors.New("scheduler.tickers is empty; nothing to forecast")
	}
	rt, err := a.build(ctx, buildOptions{scheduled: true})
	if err != nil {
		return err
	}
	defer rt.close()

	if _, err := rt.engine.ModelInfo(); err != nil {
		a.Logger.Warn().Str("path", a.Config.Model.Path).Msg("no trained model; cycles will only validate until `pricecast train` runs")
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.newServer(rt).Run(ctx)
	}()

	a.Logger.Info().Strs("tickers", a.Config.Scheduler.Tickers).Str("version", version.String()).Msg("starting forecast service")
	err = rt.engine.Run(ctx)
	cancel()
	if sErr := <-serveErr; sErr != nil && !errors.Is(sErr, context.Canceled) {
		a.Logger.Error().Err(sErr).Msg("http server terminated with error")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("forecast service stopped")
	return nil
}

// Serve exposes the HTTP API without the scheduled cycle.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.build(ctx, buildOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	err = a.newServer(rt).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// withEngine runs fn against a freshly wired engine.
func (a *App) withEngine(ctx context.Context, fn func(*engine.Engine) error) error {
	rt, err := a.build(ctx, buildOptions{})
	if err != nil {
		return err
	}
	defer rt.close()
	return fn(rt.engine)
}

// ExportOptions hold parameters for exporting journal history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	Ticker    string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Ticker string
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From    time.Time
	To      time.Time
	Tickers []string
	DryRun  bool
}
