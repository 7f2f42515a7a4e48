package intelligence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"price-forecast/internal/indicators"
	"price-forecast/internal/journal"
	"price-forecast/internal/retrain"
	"price-forecast/internal/signals"
)

// Action is the recommendation attached to a score.
type Action string

const (
	ActionRetrain Action = "TRIGGER RETRAIN"
	ActionAlert   Action = "ALERT"
	ActionMonitor Action = "MONITOR"
)

// DefaultAlertBelow is the score under which ALERT is recommended.
const DefaultAlertBelow = 40.0

// neutralML is used when the journal has no recent validations.
const neutralML = 50.0

// Weights balance the three components. They are normalized before use.
type Weights struct {
	Geopolitical float64 `json:"geopolitical" mapstructure:"geopolitical"`
	Technical    float64 `json:"technical" mapstructure:"technical"`
	ML           float64 `json:"ml" mapstructure:"ml"`
}

// DefaultWeights favour the model's own track record.
func DefaultWeights() Weights {
	return Weights{Geopolitical: 0.3, Technical: 0.3, ML: 0.4}
}

// Normalized scales the weights to sum to one. Negative weights count as
// zero and an all-zero set falls back to the defaults.
func (w Weights) Normalized() Weights {
	g, t, m := math.Max(w.Geopolitical, 0), math.Max(w.Technical, 0), math.Max(w.ML, 0)
	sum := g + t + m
	if sum == 0 {
		return DefaultWeights().Normalized()
	}
	return Weights{Geopolitical: g / sum, Technical: t / sum, ML: m / sum}
}

// Factors are the component scores, each 0-100, plus the raw inputs.
type Factors struct {
	Geopolitical  float64  `json:"geopolitical"`
	Technical     float64  `json:"technical"`
	ML            float64  `json:"ml"`
	HeadlineScore float64  `json:"headline_score"`
	RSI           float64  `json:"rsi_14"`
	Accuracy7d    *float64 `json:"accuracy_7d"`
	Trend         string   `json:"trend"`
	Weights       Weights  `json:"weights"`
	Degraded      []string `json:"degraded,omitempty"`
}

// Decision is the recommendation.
type Decision struct {
	RetrainNeeded     bool          `json:"retrain_needed"`
	RecommendedAction Action        `json:"recommended_action"`
	RetrainState      retrain.State `json:"retrain_state"`
	Reason            string        `json:"reason"`
}

// AggregatedScore is the output of Score.
type AggregatedScore struct {
	Ticker            string    `json:"ticker"`
	IntelligenceScore float64   `json:"intelligence_score"`
	Factors           Factors   `json:"factors"`
	Decision          Decision  `json:"decision"`
	At                time.Time `json:"at"`
}

// Inputs is everything Compose needs.
type Inputs struct {
	Ticker   string
	Features indicators.FeatureVector
	Risk     signals.RiskSignal
	Stats    journal.RollingStats
	Retrain  retrain.Decision
}

// Compose is the pure scoring step.
func Compose(in Inputs, weights Weights, alertBelow float64) AggregatedScore {
	w := weights.Normalized()

	geo := clamp(100 - in.Risk.HeadlineScore)
	tech := Technical(in.Features)
	ml := neutralML
	if in.Stats.Avg7 != nil {
		ml = clamp(*in.Stats.Avg7)
	}
	score := round1(w.Geopolitical*geo + w.Technical*tech + w.ML*ml)

	d := Decision{
		RetrainNeeded: in.Retrain.Needed,
		RetrainState:  in.Retrain.State,
		Reason:        in.Retrain.Reason,
	}
	switch {
	case in.Retrain.Needed:
		d.RecommendedAction = ActionRetrain
	case score < alertBelow:
		d.RecommendedAction = ActionAlert
		d.Reason = fmt.Sprintf("intelligence score %.1f below %.0f", score, alertBelow)
	default:
		d.RecommendedAction = ActionMonitor
	}

	return AggregatedScore{
		Ticker:            in.Ticker,
		IntelligenceScore: score,
		Factors: Factors{
			Geopolitical:  round1(geo),
			Technical:     round1(tech),
			ML:            round1(ml),
			HeadlineScore: in.Risk.HeadlineScore,
			RSI:           in.Features.RSI,
			Accuracy7d:    in.Stats.Avg7,
			Trend:         string(in.Stats.Trend),
			Weights:       w,
			Degraded:      in.Risk.Degraded,
		},
		Decision: d,
	}
}

// Technical averages RSI neutrality with trend alignment. Neutrality is 100
// at RSI 50 and 0 at either extreme; alignment rewards MACD above its signal
// and a close inside the Bollinger bands.
func Technical(fv indicators.FeatureVector) float64 {
	neutrality := clamp(100 - 2*math.Abs(fv.RSI-50))

	momentum := 50.0
	switch {
	case fv.MACD > fv.MACDSignal:
		momentum = 100
	case fv.MACD < fv.MACDSignal:
		momentum = 0
	}

	bands := 0.0
	if price := fv.PriceNorm * fv.BBMiddle; price >= fv.BBLower && price <= fv.BBUpper {
		bands = 100
	}

	return 0.5*neutrality + 0.5*(momentum+bands)/2
}

// FeatureFunc supplies the latest indicator snapshot for a ticker.
type FeatureFunc func(ctx context.Context, ticker string) (indicators.FeatureVector, error)

// RiskFunc supplies the current external risk signal. It does not fail.
type RiskFunc func(ctx context.Context, ticker string) signals.RiskSignal

// StatsProvider is satisfied by *journal.Journal.
type StatsProvider interface {
	Stats(ticker string, windowDays int) (journal.RollingStats, error)
}

// RetrainPeeker is satisfied by *retrain.Engine.
type RetrainPeeker interface {
	Peek(ticker string) retrain.Decision
}

// ScoreRecorder receives every computed score.
type ScoreRecorder interface {
	RecordIntelligence(ticker string, score float64)
}

// Options configure the aggregator.
type Options struct {
	Weights    Weights
	AlertBelow float64
	Now        func() time.Time
}

// Aggregator gathers inputs and scores a ticker. It never changes retrain
// state; its only side effects are the log line and the metric.
type Aggregator struct {
	features FeatureFunc
	risk     RiskFunc
	stats    StatsProvider
	retrain  RetrainPeeker
	metrics  ScoreRecorder
	opts     Options
	logger   zerolog.Logger
}

// New wires an aggregator. metrics may be nil.
func New(features FeatureFunc, risk RiskFunc, stats StatsProvider, peeker RetrainPeeker, metrics ScoreRecorder, opts Options, logger zerolog.Logger) *Aggregator {
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}
	if opts.AlertBelow <= 0 {
		opts.AlertBelow = DefaultAlertBelow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		features: features,
		risk:     risk,
		stats:    stats,
		retrain:  peeker,
		metrics:  metrics,
		opts:     opts,
		logger:   logger.With().Str("component", "intelligence").Logger(),
	}
}

// Score computes the aggregated score for ticker.
func (a *Aggregator) Score(ctx context.Context, ticker string) (AggregatedScore, error) {
	ticker = journal.NormalizeTicker(ticker)
	if ticker == "" {
		return AggregatedScore{}, fmt.Errorf("%w: empty ticker", journal.ErrInvalidInput)
	}

	fv, err := a.features(ctx, ticker)
	if err != nil {
		return AggregatedScore{}, fmt.Errorf("load features: %w", err)
	}
	stats, err := a.stats.Stats(ticker, 7)
	journalDown := errors.Is(err, journal.ErrJournalUnavailable)
	switch {
	case journalDown:
		// without history the ML factor falls back to neutral
		a.logger.Warn().Err(err).Str("ticker", ticker).Msg("journal unavailable; scoring without accuracy history")
		stats = journal.RollingStats{Ticker: ticker}
	case err != nil:
		return AggregatedScore{}, fmt.Errorf("load stats: %w", err)
	}
	var risk signals.RiskSignal
	if a.risk != nil {
		risk = a.risk(ctx, ticker)
	}

	out := Compose(Inputs{
		Ticker:   ticker,
		Features: fv,
		Risk:     risk,
		Stats:    stats,
		Retrain:  a.retrain.Peek(ticker),
	}, a.opts.Weights, a.opts.AlertBelow)
	out.At = a.opts.Now().UTC()
	if journalDown {
		out.Factors.Degraded = append(out.Factors.Degraded, "journal")
	}

	a.logger.Info().Str("ticker", ticker).
		Float64("score", out.IntelligenceScore).
		Float64("geopolitical", out.Factors.Geopolitical).
		Float64("technical", out.Factors.Technical).
		Float64("ml", out.Factors.ML).
		Bool("retrain_needed", out.Decision.RetrainNeeded).
		Str("action", string(out.Decision.RecommendedAction)).
		Msg("intelligence snapshot")
	if a.metrics != nil {
		a.metrics.RecordIntelligence(ticker, out.IntelligenceScore)
	}
	return out, nil
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
