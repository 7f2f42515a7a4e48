package app

import (
	"context"
	"errors"
	"fmt"

	"price-forecast/internal/engine"
	"price-forecast/internal/journal"
)

// Backfill replays history into the journal so statistics and the retrain
// state have something to start from. Retrain triggers reached while
// replaying are not dispatched.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) ([]engine.ReplayReport, error) {
	if !opts.From.Before(opts.To) {
		return nil, errors.New("backfill range is empty; check --from/--to")
	}
	tickers := opts.Tickers
	if len(tickers) == 0 {
		tickers = a.Config.Scheduler.Tickers
	}
	if len(tickers) == 0 {
		return nil, errors.New("no tickers to backfill; pass --ticker or set scheduler.tickers")
	}

	bo := buildOptions{quiet: true}
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: nothing will be written to the journal")
		bo.store = journal.NewMemoryStore()
	}
	rt, err := a.build(ctx, bo)
	if err != nil {
		return nil, err
	}
	defer rt.close()

	var (
		reports []engine.ReplayReport
		failed  int
	)
	for _, ticker := range tickers {
		rep, err := rt.engine.Replay(ctx, ticker, opts.From, opts.To, opts.DryRun)
		if errors.Is(err, context.Canceled) {
			return reports, err
		}
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("ticker", ticker).Msg("backfill failed")
			continue
		}
		reports = append(reports, rep)
	}

	a.Logger.Info().Int("tickers", len(reports)).Int("failed", failed).Msg("backfill complete")
	if failed > 0 {
		return reports, fmt.Errorf("backfill failed for %d ticker(s); check the logs", failed)
	}
	return reports, nil
}
