package signals

import (
	"strings"
	"time"
)

// Headline is one news item.
type Headline struct {
	Headline string    `json:"headline"`
	Summary  string    `json:"summary"`
	Datetime time.Time `json:"datetime"`
}

func (h Headline) text() string {
	return strings.ToLower(h.Headline + " " + h.Summary)
}

// HeadlineScorer turns headlines into a 0-100 risk score.
type HeadlineScorer interface {
	Score(headlines []Headline) float64
}

// DefaultRiskKeywords flag geopolitical or macro shocks.
var DefaultRiskKeywords = []string{
	"war", "sanction", "tariff", "conflict", "missile", "invasion", "embargo",
	"export ban", "export control", "military", "coup", "terror", "blockade",
	"trade restriction", "geopolitical",
}

// DefaultEarningsKeywords flag scheduled financial events.
var DefaultEarningsKeywords = []string{
	"earnings", "quarterly results", "revenue guidance", "eps", "q1 results",
	"q2 results", "q3 results", "q4 results",
}

// KeywordScorer scores the share of headlines mentioning any keyword.
type KeywordScorer struct {
	Keywords []string
}

// NewKeywordScorer lower-cases keywords; an empty list uses the defaults.
func NewKeywordScorer(keywords []string) KeywordScorer {
	if len(keywords) == 0 {
		keywords = DefaultRiskKeywords
	}
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out = append(out, k)
		}
	}
	return KeywordScorer{Keywords: out}
}

// Score is 100 * matching headlines / total headlines.
func (s KeywordScorer) Score(headlines []Headline) float64 {
	if len(headlines) == 0 {
		return 0
	}
	hits := 0
	for _, h := range headlines {
		if mentions(h.text(), s.Keywords) {
			hits++
		}
	}
	return 100 * float64(hits) / float64(len(headlines))
}

// MentionsEarnings reports whether any headline refers to an earnings event.
func MentionsEarnings(headlines []Headline, keywords []string) bool {
	if len(keywords) == 0 {
		keywords = DefaultEarningsKeywords
	}
	for _, h := range headlines {
		if mentions(h.text(), keywords) {
			return true
		}
	}
	return false
}

func mentions(text string, keywords []string) bool {
	for _, k := range keywords {
		if containsWord(text, k) {
			return true
		}
	}
	return false
}

// containsWord matches k (or its plural) at word boundaries so "war" does
// not hit "software".
func containsWord(text, k string) bool {
	for start := 0; ; {
		i := strings.Index(text[start:], k)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(k)
		if end < len(text) && text[end] == 's' {
			end++
		}
		if (i == 0 || !isWordByte(text[i-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		start = i + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

var _ HeadlineScorer = KeywordScorer{}
