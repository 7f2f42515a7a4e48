package rootcause

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"price-forecast/internal/journal"
)

func entry(acc float64) journal.Entry {
	return journal.Entry{Ticker: "INTC", Accuracy: &acc}
}

func TestClassifyFinancialAndGeopolitical(t *testing.T) {
	r := Classify(entry(79.9), Signal{HeadlineScore: 75, VolumeSpike: 2.5}, map[string]float64{"rsi_14": 3, "macd": -4})

	assert.True(t, r.Geopolitical.Fired)
	assert.Equal(t, LevelHigh, r.Geopolitical.Level)
	assert.Equal(t, 75.0, r.Geopolitical.Severity)

	assert.True(t, r.Financial.Fired)
	assert.Equal(t, 50.0, r.Financial.Severity)

	assert.False(t, r.Algorithmic.Fired)
	assert.Equal(t, 4.0, r.Algorithmic.Severity)

	assert.Equal(t, []string{"geopolitical", "financial"}, r.Fired())
	assert.False(t, r.ExternalShockOnly())
	assert.InDelta(t, 79.9, r.Accuracy, 1e-9)
}

func TestGeopoliticalLevels(t *testing.T) {
	cases := []struct {
		score float64
		level Level
		fired bool
	}{
		{0, LevelLow, false},
		{19.9, LevelLow, false},
		{20, LevelModerate, true},
		{50, LevelModerate, true},
		{50.1, LevelHigh, true},
		{140, LevelHigh, true},
	}
	for _, tc := range cases {
		c := geopolitical(tc.score)
		assert.Equal(t, tc.level, c.Level, "score %v", tc.score)
		assert.Equal(t, tc.fired, c.Fired, "score %v", tc.score)
		assert.LessOrEqual(t, c.Severity, 100.0)
	}
}

func TestFinancialRules(t *testing.T) {
	assert.False(t, financial(2.0, false).Fired)

	spike := financial(6, false)
	assert.True(t, spike.Fired)
	assert.Equal(t, 100.0, spike.Severity)

	earnings := financial(1.1, true)
	assert.True(t, earnings.Fired)
	assert.Equal(t, 50.0, earnings.Severity)
	assert.Equal(t, "earnings event", earnings.Explanation)
}

func TestAlgorithmicDrift(t *testing.T) {
	c := algorithmic(map[string]float64{"rsi_14": -25, "macd": 21})
	assert.True(t, c.Fired)
	assert.Equal(t, 25.0, c.Severity)
	assert.Contains(t, c.Explanation, "rsi_14")

	assert.False(t, algorithmic(nil).Fired)
	assert.False(t, algorithmic(map[string]float64{"macd": 20}).Fired)
}

func TestExternalShockOnly(t *testing.T) {
	r := Classify(entry(70), Signal{HeadlineScore: 80, VolumeSpike: 1.2}, nil)
	assert.True(t, r.ExternalShockOnly())
	assert.Contains(t, r.Summary(), "HIGH")

	moderate := Classify(entry(70), Signal{HeadlineScore: 40}, nil)
	assert.False(t, moderate.ExternalShockOnly())

	none := Classify(entry(70), Signal{}, nil)
	assert.Empty(t, none.Fired())
	assert.Equal(t, "no external or model cause identified", none.Summary())
}
