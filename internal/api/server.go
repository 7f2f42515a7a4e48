package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-forecast/internal/engine"
	"price-forecast/internal/forecast"
	"price-forecast/internal/intelligence"
	"price-forecast/internal/journal"
	"price-forecast/internal/retrain"
)

// Service is the engine surface served over HTTP. *engine.Engine satisfies it.
type Service interface {
	Forecast(ctx context.Context, req engine.ForecastRequest) (engine.ForecastResult, error)
	LogPrediction(ctx context.Context, ticker string, date time.Time, predicted decimal.Decimal, opts journal.RecordOptions) (journal.Entry, error)
	ValidatePrediction(ctx context.Context, ticker string, date time.Time, actual decimal.Decimal) (engine.ValidationResult, error)
	Stats(ticker string, windowDays int) (journal.RollingStats, error)
	Intelligence(ctx context.Context, ticker string) (intelligence.AggregatedScore, error)
	RetrainComplete(ctx context.Context, ticker string) (engine.RetrainCompletion, error)
	RetrainSnapshot() []retrain.Decision
	ModelInfo() (forecast.Info, error)
}

var _ Service = (*engine.Engine)(nil)

// RequestRecorder counts served requests. *metrics.Recorder satisfies it.
type RequestRecorder interface {
	RecordRequest(method, route, status string)
}

// Options configure the HTTP server.
type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	// MetricsHandler is mounted on /metrics when set.
	MetricsHandler http.Handler
}

// Server wraps the echo instance.
type Server struct {
	echo   *echo.Echo
	opts   Options
	logger zerolog.Logger
}

// NewServer registers every route on a fresh echo instance.
func NewServer(svc Service, recorder RequestRecorder, opts Options, logger zerolog.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	logger = logger.With().Str("component", "api").Logger()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = opts.ReadTimeout
	e.Server.WriteTimeout = opts.WriteTimeout

	e.Use(requestLogging(logger, recorder))
	e.Use(recoverer(logger))
	if opts.RequestTimeout > 0 {
		e.Use(requestTimeout(opts.RequestTimeout))
	}

	h := &handler{svc: svc, logger: logger}
	h.register(e)
	if opts.MetricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(opts.MetricsHandler))
	}

	return &Server{echo: e, opts: opts, logger: logger}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		if err := s.echo.Start(s.opts.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info().Msg("http server stopped")
	return ctx.Err()
}
