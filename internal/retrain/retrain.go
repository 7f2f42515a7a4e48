package retrain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"price-forecast/internal/journal"
	"price-forecast/internal/rootcause"
)

// State is the per-ticker retrain lifecycle.
type State string

const (
	StateMonitoring       State = "MONITORING"
	StateDegraded         State = "DEGRADED"
	StateRetrainTriggered State = "RETRAIN_TRIGGERED"
	StateCoolingDown      State = "COOLING_DOWN"
)

const (
	DefaultThreshold       = 85.0
	DefaultConsecutiveDays = 3

	ReasonExternalShock = "external shock: monitor"
)

// ErrNotCoolingDown is returned when completing a retrain that was never triggered.
var ErrNotCoolingDown = errors.New("retrain: ticker is not cooling down")

// Decision is the engine's verdict after an observation.
type Decision struct {
	Ticker             string     `json:"ticker"`
	Needed             bool       `json:"needed"`
	Reason             string     `json:"reason"`
	State              State      `json:"state"`
	ConsecutiveLowDays int        `json:"consecutive_low_days"`
	TriggeredAt        *time.Time `json:"triggered_at,omitempty"`
}

// Observation is one validated day for a ticker. Cause is set for low days
// when a root-cause report is available.
type Observation struct {
	Ticker   string
	Date     time.Time
	Accuracy float64
	Cause    *rootcause.Report
}

// Options configure the engine.
type Options struct {
	Threshold       float64
	ConsecutiveDays int
	Now             func() time.Time
}

type tickerState struct {
	state       State
	consecutive int
	lastDate    time.Time
	lastCause   *rootcause.Report
	triggeredAt *time.Time
	reason      string
}

// Engine tracks retrain state per ticker.
type Engine struct {
	threshold float64
	days      int
	now       func() time.Time

	mu     sync.Mutex
	states map[string]*tickerState
}

// New builds an Engine.
func New(opts Options) *Engine {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.ConsecutiveDays <= 0 {
		opts.ConsecutiveDays = DefaultConsecutiveDays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		threshold: opts.Threshold,
		days:      opts.ConsecutiveDays,
		now:       opts.Now,
		states:    make(map[string]*tickerState),
	}
}

// Observe feeds one validated day and returns the resulting decision.
// Re-observing the same date replaces that day's reading without counting it twice.
func (e *Engine) Observe(obs Observation) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observe(obs)
}

func (e *Engine) observe(obs Observation) Decision {
	ticker := journal.NormalizeTicker(obs.Ticker)
	st := e.state(ticker)
	date := journal.Day(obs.Date)
	repeat := !st.lastDate.IsZero() && date.Equal(st.lastDate)
	if !repeat && date.Before(st.lastDate) {
		return e.decision(ticker, st, false)
	}
	st.lastDate = date

	if obs.Accuracy >= e.threshold {
		st.state = StateMonitoring
		st.consecutive = 0
		st.lastCause = nil
		st.reason = fmt.Sprintf("accuracy %.2f%% meets %.0f%% threshold", obs.Accuracy, e.threshold)
		return e.decision(ticker, st, false)
	}

	if !repeat || st.consecutive == 0 {
		st.consecutive++
	}
	st.lastCause = obs.Cause

	switch st.state {
	case StateCoolingDown:
		st.reason = fmt.Sprintf("retrain in progress; accuracy %.2f%%", obs.Accuracy)
		return e.decision(ticker, st, false)
	case StateMonitoring, "":
		st.state = StateDegraded
	}

	if st.consecutive < e.days {
		st.reason = fmt.Sprintf("accuracy %.2f%% below %.0f%% for %d of %d days", obs.Accuracy, e.threshold, st.consecutive, e.days)
		return e.decision(ticker, st, false)
	}

	if obs.Cause != nil && obs.Cause.ExternalShockOnly() {
		st.reason = ReasonExternalShock
		return e.decision(ticker, st, false)
	}

	now := e.now().UTC()
	st.triggeredAt = &now
	st.reason = triggerReason(obs, st.consecutive, e.threshold)
	d := e.decision(ticker, st, true)
	d.State = StateRetrainTriggered
	st.state = StateCoolingDown
	return d
}

// Peek reports what the engine currently holds for ticker without changing it.
// Needed stays true from the trigger until Complete or a recovered day, so
// readers see an outstanding retrain; Peek itself never dispatches.
func (e *Engine) Peek(ticker string) Decision {
	ticker = journal.NormalizeTicker(ticker)
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[ticker]
	if !ok {
		return Decision{Ticker: ticker, State: StateMonitoring, Reason: "no validated history"}
	}
	needed := st.state == StateCoolingDown ||
		st.state == StateDegraded && st.consecutive >= e.days &&
			(st.lastCause == nil || !st.lastCause.ExternalShockOnly())
	return e.decision(ticker, st, needed)
}

// Complete signals that the external rebuild finished.
func (e *Engine) Complete(ticker string) (Decision, error) {
	ticker = journal.NormalizeTicker(ticker)
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[ticker]
	if !ok || st.state != StateCoolingDown {
		return Decision{}, fmt.Errorf("%w: %s", ErrNotCoolingDown, ticker)
	}
	st.state = StateMonitoring
	st.consecutive = 0
	st.lastCause = nil
	st.reason = "retrain complete"
	return e.decision(ticker, st, false), nil
}

// Restore rebuilds ticker state from journal history. Low days are classified
// again from the risk context stored on each entry, so an external shock
// suppresses a replayed trigger exactly as it did live. Importance drift is
// not stored and counts as absent.
//
// Triggers reached while replaying are not reported and leave the ticker
// DEGRADED rather than COOLING_DOWN: no rebuild is known to be running in this
// process, so the next low day triggers again.
func (e *Engine) Restore(entries []journal.Entry) int {
	sorted := append([]journal.Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, entry := range sorted {
		if entry.Status != journal.StatusValidated || entry.Accuracy == nil {
			continue
		}
		obs := Observation{Ticker: entry.Ticker, Date: entry.Date, Accuracy: *entry.Accuracy}
		if obs.Accuracy < e.threshold {
			report := rootcause.Classify(entry, rootcause.Signal{
				HeadlineScore: entry.GeoRisk,
				VolumeSpike:   entry.VolumeSpike,
				Earnings:      entry.Earnings,
			}, nil)
			obs.Cause = &report
		}
		if d := e.observe(obs); d.Needed {
			st := e.states[d.Ticker]
			st.state = StateDegraded
			st.triggeredAt = nil
			st.reason = "retrain was due before restart; " + d.Reason
		}
		n++
	}
	return n
}

// Snapshot returns the current decision for every known ticker.
func (e *Engine) Snapshot() []Decision {
	e.mu.Lock()
	tickers := make([]string, 0, len(e.states))
	for t := range e.states {
		tickers = append(tickers, t)
	}
	e.mu.Unlock()

	sort.Strings(tickers)
	out := make([]Decision, 0, len(tickers))
	for _, t := range tickers {
		out = append(out, e.Peek(t))
	}
	return out
}

func (e *Engine) state(ticker string) *tickerState {
	st, ok := e.states[ticker]
	if !ok {
		st = &tickerState{state: StateMonitoring}
		e.states[ticker] = st
	}
	return st
}

func (e *Engine) decision(ticker string, st *tickerState, needed bool) Decision {
	d := Decision{
		Ticker:             ticker,
		Needed:             needed,
		Reason:             st.reason,
		State:              st.state,
		ConsecutiveLowDays: st.consecutive,
	}
	if st.triggeredAt != nil {
		at := *st.triggeredAt
		d.TriggeredAt = &at
	}
	return d
}

func triggerReason(obs Observation, days int, threshold float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "accuracy below %.0f%% for %d consecutive days (latest %.2f%%)", threshold, days, obs.Accuracy)
	if obs.Cause != nil {
		b.WriteString("; ")
		b.WriteString(obs.Cause.Summary())
	}
	return b.String()
}
