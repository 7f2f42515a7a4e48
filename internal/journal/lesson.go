package journal

import (
	"fmt"
	"strings"
)

// Risk thresholds used when wording lessons. They match the root-cause
// classifier's firing points.
const (
	geoRiskNotable   = 20.0
	volumeSpikeAlarm = 2.0
	severeMiss       = 50.0
	excellent        = 95.0
)

// Lesson derives the free-text lesson for a validated prediction from the
// accuracy bucket and whether any external risk signal was present.
func Lesson(accuracy, threshold float64, risk RiskContext) string {
	notes := riskNotes(risk)
	withRisk := len(notes) > 0

	var b strings.Builder
	switch {
	case accuracy >= excellent:
		b.WriteString("excellent: model tracked the move")
		if withRisk {
			b.WriteString(" despite ")
			b.WriteString(strings.Join(notes, ", "))
		}
	case accuracy >= threshold:
		b.WriteString("accurate within tolerance")
		if withRisk {
			b.WriteString("; watch ")
			b.WriteString(strings.Join(notes, ", "))
		}
	case withRisk:
		if accuracy < severeMiss {
			b.WriteString("severe miss ")
		} else {
			b.WriteString("miss ")
		}
		b.WriteString("coincided with ")
		b.WriteString(strings.Join(notes, ", "))
		b.WriteString("; root cause needed")
	default:
		if accuracy < severeMiss {
			b.WriteString("severe miss ")
		} else {
			b.WriteString("miss ")
		}
		b.WriteString("without external signal; check feature drift")
	}
	return b.String()
}

func riskNotes(risk RiskContext) []string {
	var notes []string
	if risk.GeoRisk >= geoRiskNotable {
		notes = append(notes, fmt.Sprintf("geopolitical risk %.0f", risk.GeoRisk))
	}
	if risk.VolumeSpike > volumeSpikeAlarm {
		notes = append(notes, fmt.Sprintf("volume spike %.1fx", risk.VolumeSpike))
	}
	if risk.Earnings {
		notes = append(notes, "earnings")
	}
	return notes
}
