package journal

import (
	"fmt"
	"time"
)

// Trend classifies how accuracy is moving inside a window.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// trendDeadBand is the half-window difference, in percentage points, below
// which the trend is stable.
const trendDeadBand = 2.0

// RollingStats are derived from the entry set on every call and never stored.
type RollingStats struct {
	Ticker             string    `json:"ticker"`
	WindowDays         int       `json:"window_days"`
	AsOf               time.Time `json:"as_of"`
	Avg7               *float64  `json:"avg_7d"`
	Avg30              *float64  `json:"avg_30d"`
	WindowAvg          *float64  `json:"window_avg"`
	Trend              Trend     `json:"trend"`
	ConsecutiveLowDays int       `json:"consecutive_low_days"`
	Count              int       `json:"count"`
	LastAccuracy       *float64  `json:"last_accuracy"`
	Pending            int       `json:"pending"`
}

// Stats computes rolling accuracy statistics for ticker. Windows are counted
// in calendar days back from the latest validated entry.
func (j *Journal) Stats(ticker string, windowDays int) (RollingStats, error) {
	ticker = NormalizeTicker(ticker)
	if ticker == "" {
		return RollingStats{}, fmt.Errorf("%w: empty ticker", ErrInvalidInput)
	}
	if windowDays < 1 {
		return RollingStats{}, fmt.Errorf("%w: window must be at least one day", ErrInvalidInput)
	}
	if err := j.Err(); err != nil {
		return RollingStats{}, err
	}

	stats := RollingStats{Ticker: ticker, WindowDays: windowDays, Trend: TrendStable}

	var validated []Entry
	for _, e := range j.Entries(ticker) {
		switch {
		case e.Status == StatusPending:
			stats.Pending++
		case e.Accuracy != nil:
			validated = append(validated, e)
		}
	}
	if len(validated) == 0 {
		return stats, nil
	}

	last := validated[len(validated)-1]
	stats.AsOf = last.Date
	stats.LastAccuracy = ptr(*last.Accuracy)
	stats.Avg7 = average(since(validated, last.Date, 7))
	stats.Avg30 = average(since(validated, last.Date, 30))

	window := since(validated, last.Date, windowDays)
	stats.Count = len(window)
	stats.WindowAvg = average(window)
	stats.Trend = trend(window)
	stats.ConsecutiveLowDays = ConsecutiveLow(validated, j.threshold)
	return stats, nil
}

// ConsecutiveLow counts validated entries below threshold, walking back from
// the newest until one meets it. Entries must be ordered by date.
func ConsecutiveLow(entries []Entry, threshold float64) int {
	n := 0
	for i := len(entries) - 1; i >= 0; i-- {
		acc := entries[i].Accuracy
		if acc == nil {
			continue
		}
		if *acc >= threshold {
			break
		}
		n++
	}
	return n
}

func since(entries []Entry, anchor time.Time, days int) []Entry {
	cutoff := anchor.AddDate(0, 0, -(days - 1))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.Date.Before(cutoff) && !e.Date.After(anchor) {
			out = append(out, e)
		}
	}
	return out
}

func average(entries []Entry) *float64 {
	if len(entries) == 0 {
		return nil
	}
	var sum float64
	for _, e := range entries {
		sum += *e.Accuracy
	}
	return ptr(sum / float64(len(entries)))
}

// trend compares the recent half of the window with the earlier half.
func trend(entries []Entry) Trend {
	if len(entries) < 2 {
		return TrendStable
	}
	mid := len(entries) / 2
	earlier := average(entries[:mid])
	recent := average(entries[len(entries)-mid:])
	diff := *recent - *earlier
	switch {
	case diff > trendDeadBand:
		return TrendImproving
	case diff < -trendDeadBand:
		return TrendDeclining
	}
	return TrendStable
}

func ptr(v float64) *float64 { return &v }
