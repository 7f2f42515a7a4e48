package engine

import (
	"context"
	"fmt"
	"time"

	"price-forecast/internal/feed"
	"price-forecast/internal/forecast"
	"price-forecast/internal/journal"
)

// ReplayReport counts what a replay did for one ticker.
type ReplayReport struct {
	Ticker    string   `json:"ticker"`
	Sessions  int      `json:"sessions"`
	Validated int      `json:"validated"`
	Skipped   int      `json:"skipped"`
	Accurate  int      `json:"accurate"`
	MeanAcc   *float64 `json:"mean_accuracy,omitempty"`
}

// Replay walks history for ticker as if the daily cycle had run on every
// session in [from, to]: each session's forecast targets the next session and
// is settled with that session's close. Sessions already in the journal are
// skipped. With dryRun nothing is written and accuracies are only reported.
func (e *Engine) Replay(ctx context.Context, ticker string, from, to time.Time, dryRun bool) (ReplayReport, error) {
	ticker = journal.NormalizeTicker(ticker)
	rep := ReplayReport{Ticker: ticker}
	if e.model.Current() == nil {
		return rep, fmt.Errorf("replay %s: %w", ticker, forecast.ErrModelNotTrained)
	}
	from, to = journal.Day(from), journal.Day(to)
	if to.Before(from) {
		return rep, fmt.Errorf("%w: replay range is empty", journal.ErrInvalidInput)
	}

	candles, err := e.feed.DailyCandles(ctx, ticker, e.opts.HistoryDays)
	if err != nil {
		return rep, err
	}

	var sum float64
	for i := e.opts.MinHistory - 1; i+1 < len(candles); i++ {
		target := candles[i+1]
		day := journal.Day(target.Date)
		if day.Before(from) || day.After(to) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Sessions++

		if _, err := e.journal.Get(ticker, day); err == nil {
			rep.Skipped++
			continue
		}

		window := windowEnding(candles, i, e.opts.FeatureDays)
		actual := closeDecimal(target.Close)
		if dryRun {
			fc, err := e.forecast(ctx, ForecastRequest{Ticker: ticker, Date: day}, window)
			if err != nil {
				return rep, err
			}
			acc := journal.Accuracy(closeDecimal(fc.Value), actual)
			e.tally(&rep, &sum, acc)
			continue
		}

		fc, err := e.forecast(ctx, ForecastRequest{Ticker: ticker, Date: day, Log: true}, window)
		if err != nil {
			return rep, err
		}
		if !fc.Logged {
			return rep, fmt.Errorf("replay %s %s: %w", ticker, day.Format(time.DateOnly), journal.ErrJournalUnavailable)
		}
		entry, err := e.journal.Get(ticker, day)
		if err != nil {
			return rep, err
		}
		res, err := e.validate(ctx, entry, actual, candles[:i+2])
		if err != nil {
			return rep, err
		}
		e.tally(&rep, &sum, *res.Entry.Accuracy)
	}

	if rep.Validated > 0 {
		mean := sum / float64(rep.Validated)
		rep.MeanAcc = &mean
	}
	e.logger.Info().Str("ticker", ticker).
		Int("sessions", rep.Sessions).
		Int("validated", rep.Validated).
		Int("skipped", rep.Skipped).
		Bool("dry_run", dryRun).
		Msg("replay finished")
	return rep, nil
}

func (e *Engine) tally(rep *ReplayReport, sum *float64, acc float64) {
	rep.Validated++
	*sum += acc
	if acc >= e.journal.Threshold() {
		rep.Accurate++
	}
}

// windowEnding returns at most n candles ending at index i.
func windowEnding(candles []feed.Candle, i, n int) []feed.Candle {
	start := i + 1 - n
	if start < 0 {
		start = 0
	}
	return candles[start : i+1]
}
