package rootcause

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"price-forecast/internal/journal"
)

// Level grades geopolitical risk.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelModerate Level = "MODERATE"
	LevelHigh     Level = "HIGH"
)

const (
	geoHighAbove     = 50.0
	geoModerateFrom  = 20.0
	volumeSpikeAbove = 2.0
	earningsFloor    = 50.0
	driftAbove       = 20.0
	// spikeSeverityScale maps a spike ratio to severity: 2x -> 40, 5x -> 100.
	spikeSeverityScale = 20.0
)

// Signal is the external context at validation time.
type Signal struct {
	HeadlineScore float64
	VolumeSpike   float64
	Earnings      bool
}

// Category is one explanation axis.
type Category struct {
	Fired       bool    `json:"fired"`
	Severity    float64 `json:"severity"`
	Level       Level   `json:"level,omitempty"`
	Explanation string  `json:"explanation"`
}

// Report is the classification for one validated entry.
type Report struct {
	Ticker       string   `json:"ticker"`
	Accuracy     float64  `json:"accuracy_pct"`
	Geopolitical Category `json:"geopolitical"`
	Financial    Category `json:"financial"`
	Algorithmic  Category `json:"algorithmic"`
}

// Classify explains an entry using the external signal and the importance
// drift map (current minus baseline, percentage points).
func Classify(entry journal.Entry, sig Signal, drift map[string]float64) Report {
	r := Report{Ticker: entry.Ticker}
	if entry.Accuracy != nil {
		r.Accuracy = *entry.Accuracy
	}
	r.Geopolitical = geopolitical(sig.HeadlineScore)
	r.Financial = financial(sig.VolumeSpike, sig.Earnings)
	r.Algorithmic = algorithmic(drift)
	return r
}

// ExternalShockOnly reports a high geopolitical reading with no financial or
// algorithmic cause.
func (r Report) ExternalShockOnly() bool {
	return r.Geopolitical.Level == LevelHigh && !r.Financial.Fired && !r.Algorithmic.Fired
}

// Fired lists the names of the categories that fired.
func (r Report) Fired() []string {
	var out []string
	if r.Geopolitical.Fired {
		out = append(out, "geopolitical")
	}
	if r.Financial.Fired {
		out = append(out, "financial")
	}
	if r.Algorithmic.Fired {
		out = append(out, "algorithmic")
	}
	return out
}

// Summary is a one-line description for logs and notifications.
func (r Report) Summary() string {
	fired := r.Fired()
	if len(fired) == 0 {
		return "no external or model cause identified"
	}
	parts := make([]string, 0, len(fired))
	for _, c := range []Category{r.Geopolitical, r.Financial, r.Algorithmic} {
		if c.Fired {
			parts = append(parts, c.Explanation)
		}
	}
	return strings.Join(parts, "; ")
}

func geopolitical(score float64) Category {
	score = clamp(score)
	c := Category{Severity: score}
	switch {
	case score > geoHighAbove:
		c.Level = LevelHigh
	case score >= geoModerateFrom:
		c.Level = LevelModerate
	default:
		c.Level = LevelLow
	}
	c.Fired = score >= geoModerateFrom
	c.Explanation = fmt.Sprintf("geopolitical risk %s (headline score %.0f)", c.Level, score)
	return c
}

func financial(spike float64, earnings bool) Category {
	c := Category{}
	if spike > volumeSpikeAbove {
		c.Fired = true
		c.Severity = clamp(spike * spikeSeverityScale)
	}
	if earnings {
		c.Fired = true
		c.Severity = math.Max(c.Severity, earningsFloor)
	}
	switch {
	case !c.Fired:
		c.Explanation = fmt.Sprintf("volume %.1fx average, no earnings event", spike)
	case earnings && spike > volumeSpikeAbove:
		c.Explanation = fmt.Sprintf("earnings event with volume spike %.1fx", spike)
	case earnings:
		c.Explanation = "earnings event"
	default:
		c.Explanation = fmt.Sprintf("volume spike %.1fx average", spike)
	}
	return c
}

func algorithmic(drift map[string]float64) Category {
	var worst string
	var peak float64
	names := make([]string, 0, len(drift))
	for name := range drift {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if d := math.Abs(drift[name]); d > peak {
			peak, worst = d, name
		}
	}

	c := Category{Severity: clamp(peak)}
	if peak > driftAbove {
		c.Fired = true
		c.Explanation = fmt.Sprintf("feature importance drift: %s moved %.1f pp", worst, drift[worst])
	} else {
		c.Explanation = fmt.Sprintf("feature importance stable (max drift %.1f pp)", peak)
	}
	return c
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
