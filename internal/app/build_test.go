package app

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-forecast/internal/config"
	"price-forecast/internal/engine"
	"price-forecast/internal/feed"
	"price-forecast/internal/forecast"
	"price-forecast/internal/journal"
	"price-forecast/internal/retrain"
)

// defaultApp loads the shipped defaults with state files under a temp dir.
func defaultApp(t *testing.T) *App {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Journal.Path = filepath.Join(dir, "journal.jsonl")
	cfg.Model.Path = filepath.Join(dir, "model.json")
	return NewApp(cfg, zerolog.Nop())
}

func bars(n int) []feed.Candle {
	out := make([]feed.Candle, n)
	day := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)
	for i := n - 1; i >= 0; i-- {
		c := 50 + 3*math.Sin(float64(i)/5)
		out[i] = feed.Candle{Date: day, Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 2_000_000}
		day = day.AddDate(0, 0, -1)
		for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			day = day.AddDate(0, 0, -1)
		}
	}
	return out
}

func TestRetrainTriggerWithDefaultConfig(t *testing.T) {
	a := defaultApp(t)
	require.Empty(t, a.Config.Retrain.BuilderCommand)

	ctx := context.Background()
	rt, err := a.build(ctx, buildOptions{store: journal.NewMemoryStore(), feed: feed.Static{}})
	require.NoError(t, err)
	defer rt.close()

	var last engine.ValidationResult
	for d := 2; d <= 4; d++ {
		date := time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC)
		_, err := rt.engine.LogPrediction(ctx, "INTC", date, decimal.NewFromInt(120), journal.RecordOptions{})
		require.NoError(t, err)
		last, err = rt.engine.ValidatePrediction(ctx, "INTC", date, decimal.NewFromInt(100))
		require.NoError(t, err)
	}
	assert.True(t, last.Decision.Needed)
	assert.Equal(t, retrain.StateRetrainTriggered, last.Decision.State)
}

func TestBuilderCommandWaitsOnClose(t *testing.T) {
	a := defaultApp(t)
	a.Config.Retrain.BuilderCommand = []string{"true"}

	plain, err := a.build(context.Background(), buildOptions{store: journal.NewMemoryStore(), feed: feed.Static{}, noBuilder: true})
	require.NoError(t, err)
	base := len(plain.closers)
	plain.close()

	rt, err := a.build(context.Background(), buildOptions{store: journal.NewMemoryStore(), feed: feed.Static{}})
	require.NoError(t, err)
	assert.Len(t, rt.closers, base+1)
	rt.close()
}

func TestCorruptJournalStillServesForecasts(t *testing.T) {
	a := defaultApp(t)
	require.NoError(t, os.WriteFile(a.Config.Journal.Path, []byte("{not json\n"), 0o644))

	history := bars(120)
	ds, err := engine.BuildDataset(history, a.Config.Model.MinHistory)
	require.NoError(t, err)
	fopts := forecast.DefaultOptions()
	fopts.Tree.Trees = 10
	m, _, err := forecast.Train(ds.X, ds.Y, fopts)
	require.NoError(t, err)
	require.NoError(t, forecast.Save(a.Config.Model.Path, m))

	ctx := context.Background()
	rt, err := a.build(ctx, buildOptions{feed: feed.Static{Candles: map[string][]feed.Candle{"AAPL": history}}})
	require.NoError(t, err)
	defer rt.close()
	require.ErrorIs(t, rt.journal.Err(), journal.ErrJournalUnavailable)

	fc, err := rt.engine.Forecast(ctx, engine.ForecastRequest{Ticker: "AAPL", Log: true})
	require.NoError(t, err)
	assert.False(t, fc.Logged)
	assert.Equal(t, []string{engine.DegradedJournal}, fc.Degraded)
	assert.Greater(t, fc.Value, 0.0)

	_, err = rt.engine.Stats("AAPL", 30)
	assert.ErrorIs(t, err, journal.ErrJournalUnavailable)

	// journal-only commands still refuse to run on a corrupt store
	_, _, err = a.openJournal(ctx)
	assert.ErrorIs(t, err, journal.ErrJournalUnavailable)
}
