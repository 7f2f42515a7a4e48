package forecast

import (
	"math"
	"math/rand"

	"price-forecast/internal/indicators"
)

const permutationSeed = 42

// PermutationImportance measures how much the model's mean absolute error
// grows when each feature column is shuffled over the given window. Results
// are percentages summing to 100. When no feature moves the error the model's
// split-gain importance is returned instead.
func PermutationImportance(m *Model, X []indicators.FeatureVector, y []float64) map[string]float64 {
	if m == nil || m.regressor == nil || len(X) == 0 || len(X) != len(y) {
		return map[string]float64{}
	}

	rows := make([][]float64, len(X))
	closes := make([]float64, len(X))
	for i, fv := range X {
		last, err := lastClose(fv)
		if err != nil {
			return map[string]float64{}
		}
		rows[i] = fv.Values()
		closes[i] = last
	}

	base := m.meanAbsError(rows, closes, y)
	rng := rand.New(rand.NewSource(permutationSeed))

	increases := make([]float64, indicators.Size)
	var total float64
	shuffled := make([][]float64, len(rows))
	for f := 0; f < indicators.Size; f++ {
		perm := rng.Perm(len(rows))
		for i, row := range rows {
			cp := append([]float64(nil), row...)
			cp[f] = rows[perm[i]][f]
			shuffled[i] = cp
		}
		inc := m.meanAbsError(shuffled, closes, y) - base
		if inc > 0 {
			increases[f] = inc
			total += inc
		}
	}

	if total == 0 {
		return m.Importance()
	}
	out := make(map[string]float64, indicators.Size)
	for f, inc := range increases {
		out[indicators.Names[f]] = inc / total * 100
	}
	return out
}

func (m *Model) meanAbsError(rows [][]float64, closes, y []float64) float64 {
	var sum float64
	for i, row := range rows {
		pred := closes[i] * (1 + m.regressor.Predict(row))
		sum += math.Abs(y[i] - pred)
	}
	return sum / float64(len(rows))
}

// Drift returns current minus baseline importance in percentage points for
// every feature present in either map.
func Drift(baseline, current map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(baseline))
	for name, b := range baseline {
		out[name] = current[name] - b
	}
	for name, c := range current {
		if _, ok := baseline[name]; !ok {
			out[name] = c
		}
	}
	return out
}
