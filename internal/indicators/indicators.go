package indicators

import (
	"errors"
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
)

const (
	RSIPeriod        = 14
	MACDFastPeriod   = 12
	MACDSlowPeriod   = 26
	MACDSignalPeriod = 9
	BollingerPeriod  = 20
	BollingerK       = 2.0
	VolatilityPeriod = 20
	NormPeriod       = 20

	// TradingDaysPerYear annualizes daily log-return volatility.
	TradingDaysPerYear = 252

	neutralRSI = 50.0
)

// ErrInvalidInput reports malformed price or volume data.
var ErrInvalidInput = errors.New("indicators: invalid input")

// Names lists the feature vector layout. The order is part of the model contract.
var Names = []string{
	"rsi_14",
	"macd",
	"macd_signal",
	"bb_upper",
	"bb_middle",
	"bb_lower",
	"volatility_20",
	"volume_norm",
	"price_norm",
}

// Size is the number of features in a FeatureVector.
const Size = 9

// FeatureVector holds the indicator snapshot for the last bar of a price window.
type FeatureVector struct {
	RSI        float64 `json:"rsi_14"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	BBUpper    float64 `json:"bb_upper"`
	BBMiddle   float64 `json:"bb_middle"`
	BBLower    float64 `json:"bb_lower"`
	Volatility float64 `json:"volatility_20"`
	VolumeNorm float64 `json:"volume_norm"`
	PriceNorm  float64 `json:"price_norm"`
}

// Values returns the features in the order given by Names.
func (f FeatureVector) Values() []float64 {
	return []float64{
		f.RSI,
		f.MACD,
		f.MACDSignal,
		f.BBUpper,
		f.BBMiddle,
		f.BBLower,
		f.Volatility,
		f.VolumeNorm,
		f.PriceNorm,
	}
}

// FromValues rebuilds a FeatureVector from an ordered slice.
func FromValues(values []float64) (FeatureVector, error) {
	if len(values) != Size {
		return FeatureVector{}, fmt.Errorf("%w: expected %d features, got %d", ErrInvalidInput, Size, len(values))
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return FeatureVector{}, fmt.Errorf("%w: feature %s is not finite", ErrInvalidInput, Names[i])
		}
	}
	return FeatureVector{
		RSI:        values[0],
		MACD:       values[1],
		MACDSignal: values[2],
		BBUpper:    values[3],
		BBMiddle:   values[4],
		BBLower:    values[5],
		Volatility: values[6],
		VolumeNorm: values[7],
		PriceNorm:  values[8],
	}, nil
}

// Compute derives the feature vector for the last bar of closes/volumes.
// Indicators that need more history than is available are computed on the
// available window, falling back to neutral values when nothing can be derived.
func Compute(closes, volumes []float64) (FeatureVector, error) {
	if err := validate(closes, volumes); err != nil {
		return FeatureVector{}, err
	}

	macd, signal := MACD(closes, MACDFastPeriod, MACDSlowPeriod, MACDSignalPeriod)
	upper, middle, lower := Bollinger(closes, BollingerPeriod, BollingerK)

	fv := FeatureVector{
		RSI:        RSI(closes, RSIPeriod),
		MACD:       macd,
		MACDSignal: signal,
		BBUpper:    upper,
		BBMiddle:   middle,
		BBLower:    lower,
		Volatility: Volatility(closes, VolatilityPeriod),
		VolumeNorm: ratioToMean(volumes, NormPeriod),
		PriceNorm:  ratioToMean(closes, NormPeriod),
	}
	return fv, nil
}

// Series computes one feature vector per bar, each using only the bars up to it.
// Bars before minHistory are skipped; the returned offset is the index of the
// bar that produced the first vector.
func Series(closes, volumes []float64, minHistory int) ([]FeatureVector, int, error) {
	if err := validate(closes, volumes); err != nil {
		return nil, 0, err
	}
	if minHistory < 1 {
		minHistory = 1
	}
	if len(closes) < minHistory {
		return nil, 0, fmt.Errorf("%w: need %d bars, got %d", ErrInvalidInput, minHistory, len(closes))
	}

	out := make([]FeatureVector, 0, len(closes)-minHistory+1)
	for end := minHistory; end <= len(closes); end++ {
		fv, err := Compute(closes[:end], volumes[:end])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, fv)
	}
	return out, minHistory - 1, nil
}

func validate(closes, volumes []float64) error {
	if len(closes) == 0 {
		return fmt.Errorf("%w: empty price series", ErrInvalidInput)
	}
	if len(volumes) != len(closes) {
		return fmt.Errorf("%w: %d closes but %d volumes", ErrInvalidInput, len(closes), len(volumes))
	}
	for i := range closes {
		if math.IsNaN(closes[i]) || math.IsInf(closes[i], 0) || closes[i] <= 0 {
			return fmt.Errorf("%w: close[%d]=%v", ErrInvalidInput, i, closes[i])
		}
		if math.IsNaN(volumes[i]) || math.IsInf(volumes[i], 0) || volumes[i] < 0 {
			return fmt.Errorf("%w: volume[%d]=%v", ErrInvalidInput, i, volumes[i])
		}
	}
	return nil
}

// RSI computes Wilder's relative strength index for the last bar.
func RSI(closes []float64, period int) float64 {
	if len(closes) < 2 || period < 1 {
		return neutralRSI
	}

	deltas := len(closes) - 1
	seed := period
	if deltas < seed {
		seed = deltas
	}

	var avgGain, avgLoss float64
	for i := 1; i <= seed; i++ {
		gain, loss := split(closes[i] - closes[i-1])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(seed)
	avgLoss /= float64(seed)

	n := float64(period)
	for i := seed + 1; i <= deltas; i++ {
		gain, loss := split(closes[i] - closes[i-1])
		avgGain = (avgGain*(n-1) + gain) / n
		avgLoss = (avgLoss*(n-1) + loss) / n
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return neutralRSI
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

// EMA returns the exponential moving average series. The first period values
// seed the average with their simple mean; shorter inputs yield the running mean.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || period < 1 {
		return out
	}

	var sum float64
	for i := 0; i < len(values) && i < period; i++ {
		sum += values[i]
		out[i] = sum / float64(i+1)
	}
	if len(values) <= period {
		return out
	}

	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// MACD returns the latest MACD line and its EMA signal line.
func MACD(closes []float64, fast, slow, signal int) (float64, float64) {
	if len(closes) == 0 {
		return 0, 0
	}
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)

	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig := EMA(line, signal)
	last := len(closes) - 1
	return line[last], sig[last]
}

// Bollinger returns upper, middle and lower bands for the last bar.
func Bollinger(closes []float64, period int, k float64) (upper, middle, lower float64) {
	window := tail(closes, period)
	if len(window) == 0 {
		return 0, 0, 0
	}
	middle = SMA(closes, period)

	var sumSquares float64
	for _, v := range window {
		d := v - middle
		sumSquares += d * d
	}
	std := math.Sqrt(sumSquares / float64(len(window)))
	return middle + k*std, middle, middle - k*std
}

// SMA returns the simple moving average of the last period values, or of the
// whole input when it is shorter than period.
func SMA(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if period >= 1 && len(values) >= period {
		sma := trend.NewSmaWithPeriod[float64](period)
		result := helper.ChanToSlice(sma.Compute(helper.SliceToChan(tail(values, period))))
		if len(result) > 0 {
			return result[len(result)-1]
		}
	}
	window := tail(values, period)
	var sum float64
	for _, v := range window {
		sum += v
	}
	return sum / float64(len(window))
}

// Volatility is the annualized standard deviation of daily log returns over
// the last period returns. Fewer than two returns yields zero.
func Volatility(closes []float64, period int) float64 {
	if len(closes) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	window := tail(returns, period)
	if len(window) < 2 {
		return 0
	}

	var mean float64
	for _, r := range window {
		mean += r
	}
	mean /= float64(len(window))

	var variance float64
	for _, r := range window {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(window) - 1)
	return math.Sqrt(variance * TradingDaysPerYear)
}

// VolumeSpikeRatio is the last volume relative to the average of the
// NormPeriod bars before it. The bar being measured is left out of its own
// baseline. A single bar or a zero baseline gives 1.
func VolumeSpikeRatio(volumes []float64) float64 {
	if len(volumes) < 2 {
		return 1
	}
	mean := SMA(volumes[:len(volumes)-1], NormPeriod)
	if mean == 0 {
		return 1
	}
	return volumes[len(volumes)-1] / mean
}

func ratioToMean(values []float64, period int) float64 {
	if len(values) == 0 {
		return 1
	}
	mean := SMA(values, period)
	if mean == 0 {
		return 1
	}
	return values[len(values)-1] / mean
}

func tail(values []float64, n int) []float64 {
	if n < 1 || len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}
