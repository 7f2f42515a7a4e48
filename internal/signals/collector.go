package signals

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrSignalTimeout marks an external signal that did not answer in time.
var ErrSignalTimeout = errors.New("signal timeout")

const (
	InputHeadlines = "headlines"
	InputDrift     = "drift"
)

// RiskSignal is the external context attached to a validation.
type RiskSignal struct {
	Ticker        string             `json:"ticker"`
	Date          time.Time          `json:"date"`
	HeadlineScore float64            `json:"headline_score"`
	Headlines     int                `json:"headlines"`
	VolumeSpike   float64            `json:"volume_spike"`
	Earnings      bool               `json:"earnings"`
	Drift         map[string]float64 `json:"drift,omitempty"`
	Degraded      []string           `json:"degraded,omitempty"`
	Cached        bool               `json:"cached"`
}

// IsDegraded reports whether any input fell back to its default.
func (s RiskSignal) IsDegraded() bool { return len(s.Degraded) > 0 }

// DriftFunc computes importance drift for a ticker.
type DriftFunc func(ctx context.Context, ticker string) (map[string]float64, error)

// DegradedRecorder counts fallbacks.
type DegradedRecorder interface {
	Degraded(reason string)
}

// CollectorOptions configure signal collection.
type CollectorOptions struct {
	Timeout          time.Duration
	LookbackDays     int
	EarningsKeywords []string
}

// Collector gathers headline risk and model drift under a deadline.
type Collector struct {
	source  HeadlineSource
	scorer  HeadlineScorer
	cache   Cache
	metrics DegradedRecorder
	opts    CollectorOptions
	logger  zerolog.Logger
}

// NewCollector wires a collector. source, cache and metrics may be nil.
func NewCollector(source HeadlineSource, scorer HeadlineScorer, cache Cache, metrics DegradedRecorder, opts CollectorOptions, logger zerolog.Logger) *Collector {
	if scorer == nil {
		scorer = NewKeywordScorer(nil)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 2
	}
	return &Collector{
		source:  source,
		scorer:  scorer,
		cache:   cache,
		metrics: metrics,
		opts:    opts,
		logger:  logger.With().Str("component", "signals").Logger(),
	}
}

// Collect never fails: unavailable inputs fall back to zero and are listed in
// RiskSignal.Degraded.
func (c *Collector) Collect(ctx context.Context, ticker string, date time.Time, volumeSpike float64, drift DriftFunc) RiskSignal {
	sig := RiskSignal{Ticker: ticker, Date: date, VolumeSpike: volumeSpike}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var (
		wg       sync.WaitGroup
		summary  HeadlineSummary
		cached   bool
		newsErr  error
		driftMap map[string]float64
		driftErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		summary, cached, newsErr = c.headlines(ctx, ticker, date)
	}()
	if drift != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			driftMap, driftErr = drift(ctx, ticker)
		}()
	}
	wg.Wait()

	if newsErr != nil {
		c.degrade(&sig, InputHeadlines, newsErr)
	} else {
		sig.HeadlineScore = summary.Score
		sig.Headlines = summary.Headlines
		sig.Earnings = summary.Earnings
		sig.Cached = cached
	}
	if driftErr != nil {
		c.degrade(&sig, InputDrift, driftErr)
	} else {
		sig.Drift = driftMap
	}
	return sig
}

func (c *Collector) headlines(ctx context.Context, ticker string, date time.Time) (HeadlineSummary, bool, error) {
	if c.source == nil {
		return HeadlineSummary{}, false, nil
	}
	if c.cache != nil {
		s, ok, err := c.cache.Get(ctx, ticker, date)
		if err != nil {
			c.logger.Debug().Err(err).Str("ticker", ticker).Msg("headline cache read failed")
		} else if ok {
			return s, true, nil
		}
	}

	from := date.AddDate(0, 0, -c.opts.LookbackDays)
	items, err := c.source.Headlines(ctx, ticker, from, date)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return HeadlineSummary{}, false, fmt.Errorf("%w: %v", ErrSignalTimeout, err)
		}
		return HeadlineSummary{}, false, err
	}
	s := HeadlineSummary{
		Score:     c.scorer.Score(items),
		Headlines: len(items),
		Earnings:  MentionsEarnings(items, c.opts.EarningsKeywords),
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, ticker, date, s); err != nil {
			c.logger.Debug().Err(err).Str("ticker", ticker).Msg("headline cache write failed")
		}
	}
	return s, false, nil
}

func (c *Collector) degrade(sig *RiskSignal, input string, err error) {
	sig.Degraded = append(sig.Degraded, input)
	c.logger.Warn().Err(err).Str("ticker", sig.Ticker).Str("input", input).Msg("signal unavailable; using default")
	if c.metrics != nil {
		c.metrics.Degraded(input)
	}
}
