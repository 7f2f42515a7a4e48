package forecast

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"price-forecast/internal/indicators"
)

var (
	// ErrModelNotTrained is returned when predicting without an active model.
	ErrModelNotTrained = errors.New("forecast: model not trained")
	// ErrInvalidInput reports malformed training data or feature vectors.
	ErrInvalidInput = errors.New("forecast: invalid input")
)

// MinTrainingSamples is the smallest dataset Train accepts.
const MinTrainingSamples = 10

// Options configure training.
type Options struct {
	Tree TreeParams
	// HoldoutFraction is the chronologically last share of samples used for
	// out-of-sample metrics and confidence calibration.
	HoldoutFraction float64
	// ConfidenceBins splits the holdout by volatility.
	ConfidenceBins int
	// ConfidenceTolerance is the absolute percentage error (0.15 = 15%) at
	// which confidence reaches zero.
	ConfidenceTolerance float64
	// NewRegressor overrides the default gradient-boosted trees.
	NewRegressor func(TreeParams) Regressor
	Now          func() time.Time
}

// DefaultOptions returns the stock training configuration.
func DefaultOptions() Options {
	return Options{
		Tree:                DefaultTreeParams(),
		HoldoutFraction:     0.2,
		ConfidenceBins:      4,
		ConfidenceTolerance: 0.15,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Tree == (TreeParams{}) {
		o.Tree = d.Tree
	}
	if o.HoldoutFraction <= 0 || o.HoldoutFraction >= 1 {
		o.HoldoutFraction = d.HoldoutFraction
	}
	if o.ConfidenceBins <= 0 {
		o.ConfidenceBins = d.ConfidenceBins
	}
	if o.ConfidenceTolerance <= 0 {
		o.ConfidenceTolerance = d.ConfidenceTolerance
	}
	if o.NewRegressor == nil {
		o.NewRegressor = func(p TreeParams) Regressor { return NewGradientBoosting(p) }
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// TrainingReport summarises a training run. Metrics are measured on the
// holdout when one exists, otherwise in-sample.
type TrainingReport struct {
	R2      float64 `json:"r2"`
	RMSE    float64 `json:"rmse"`
	MAE     float64 `json:"mae"`
	Samples int     `json:"samples"`
	Holdout int     `json:"holdout"`
}

// Forecast is a single prediction.
type Forecast struct {
	Value        float64 `json:"value"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"model_version"`
}

// Model is an immutable trained forecaster.
type Model struct {
	Version    string
	TrainedAt  time.Time
	Params     TreeParams
	Report     TrainingReport
	Features   []string
	Baseline   map[string]float64
	regressor  Regressor
	confidence Calibration
}

// Train fits a new model. Samples must be in chronological order; y[i] is the
// close that followed the bar X[i] was computed on.
func Train(X []indicators.FeatureVector, y []float64, opts Options) (*Model, TrainingReport, error) {
	opts = opts.withDefaults()

	if len(X) != len(y) {
		return nil, TrainingReport{}, fmt.Errorf("%w: %d samples vs %d targets", ErrInvalidInput, len(X), len(y))
	}
	if len(X) < MinTrainingSamples {
		return nil, TrainingReport{}, fmt.Errorf("%w: need at least %d samples, got %d", ErrInvalidInput, MinTrainingSamples, len(X))
	}

	rows := make([][]float64, len(X))
	targets := make([]float64, len(y))
	for i, fv := range X {
		last, err := lastClose(fv)
		if err != nil {
			return nil, TrainingReport{}, fmt.Errorf("sample %d: %w", i, err)
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) || y[i] <= 0 {
			return nil, TrainingReport{}, fmt.Errorf("%w: target %d=%v", ErrInvalidInput, i, y[i])
		}
		rows[i] = fv.Values()
		targets[i] = y[i]/last - 1
	}

	holdout := int(math.Round(float64(len(X)) * opts.HoldoutFraction))
	if holdout < 2 {
		holdout = 2
	}
	split := len(X) - holdout

	// Fit on the head, measure the tail, then refit on everything.
	trial := opts.NewRegressor(opts.Tree)
	if err := trial.Fit(rows[:split], targets[:split]); err != nil {
		return nil, TrainingReport{}, fmt.Errorf("fit training split: %w", err)
	}

	actual := y[split:]
	predicted := make([]float64, holdout)
	points := make([]calibrationPoint, holdout)
	for i := 0; i < holdout; i++ {
		idx := split + i
		last, _ := lastClose(X[idx])
		predicted[i] = last * (1 + trial.Predict(rows[idx]))
		points[i] = calibrationPoint{
			Volatility: X[idx].Volatility,
			APE:        math.Abs(actual[i]-predicted[i]) / math.Abs(actual[i]),
		}
	}

	report := regressionReport(actual, predicted)
	report.Samples = len(X)
	report.Holdout = holdout

	final := opts.NewRegressor(opts.Tree)
	if err := final.Fit(rows, targets); err != nil {
		return nil, TrainingReport{}, fmt.Errorf("fit full dataset: %w", err)
	}

	m := &Model{
		Version:    newVersion(opts.Now()),
		TrainedAt:  opts.Now().UTC(),
		Params:     opts.Tree,
		Report:     report,
		Features:   append([]string(nil), indicators.Names...),
		regressor:  final,
		confidence: calibrate(points, opts.ConfidenceBins, opts.ConfidenceTolerance),
	}
	m.Baseline = PermutationImportance(m, X[split:], actual)
	return m, report, nil
}

// Predict forecasts the next close for the given feature vector.
func (m *Model) Predict(fv indicators.FeatureVector) (Forecast, error) {
	if m == nil || m.regressor == nil {
		return Forecast{}, ErrModelNotTrained
	}
	last, err := lastClose(fv)
	if err != nil {
		return Forecast{}, err
	}
	value := last * (1 + m.regressor.Predict(fv.Values()))
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Forecast{}, fmt.Errorf("%w: non-finite prediction", ErrInvalidInput)
	}
	return Forecast{
		Value:        value,
		Confidence:   m.confidence.At(fv.Volatility),
		ModelVersion: m.Version,
	}, nil
}

// Importance maps feature names to split-gain importance percentages.
func (m *Model) Importance() map[string]float64 {
	out := make(map[string]float64, len(m.Features))
	if m.regressor == nil {
		return out
	}
	for i, w := range m.regressor.Importance() {
		if i < len(m.Features) {
			out[m.Features[i]] = w * 100
		}
	}
	return out
}

// Calibration returns the volatility/confidence curve captured at training.
func (m *Model) Calibration() Calibration {
	return m.confidence
}

// lastClose recovers the bar's close, since price_norm = close / SMA20 and
// bb_middle = SMA20.
func lastClose(fv indicators.FeatureVector) (float64, error) {
	if _, err := indicators.FromValues(fv.Values()); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	price := fv.PriceNorm * fv.BBMiddle
	if price <= 0 {
		return 0, fmt.Errorf("%w: price_norm*bb_middle must be positive", ErrInvalidInput)
	}
	return price, nil
}

func regressionReport(actual, predicted []float64) TrainingReport {
	n := float64(len(actual))
	if n == 0 {
		return TrainingReport{}
	}
	var mean float64
	for _, a := range actual {
		mean += a
	}
	mean /= n

	var ssRes, ssTot, absSum float64
	for i := range actual {
		d := actual[i] - predicted[i]
		ssRes += d * d
		absSum += math.Abs(d)
		t := actual[i] - mean
		ssTot += t * t
	}
	r2 := 0.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	return TrainingReport{
		R2:   r2,
		RMSE: math.Sqrt(ssRes / n),
		MAE:  absSum / n,
	}
}

func newVersion(now time.Time) string {
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405"), uuid.NewString()[:8])
}

type calibrationPoint struct {
	Volatility float64
	APE        float64
}

// CalibrationBin is one point on the volatility/confidence curve.
type CalibrationBin struct {
	Volatility float64 `json:"volatility"`
	MeanAPE    float64 `json:"mean_ape"`
	Confidence float64 `json:"confidence"`
}

// Calibration maps input volatility to confidence by linear interpolation
// between bins ordered by volatility.
type Calibration struct {
	Bins []CalibrationBin `json:"bins"`
}

func calibrate(points []calibrationPoint, bins int, tolerance float64) Calibration {
	if len(points) == 0 {
		return Calibration{}
	}
	sorted := append([]calibrationPoint(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Volatility < sorted[j].Volatility })

	if bins > len(sorted) {
		bins = len(sorted)
	}
	out := Calibration{Bins: make([]CalibrationBin, 0, bins)}
	for b := 0; b < bins; b++ {
		lo := b * len(sorted) / bins
		hi := (b + 1) * len(sorted) / bins
		if hi <= lo {
			continue
		}
		var vol, ape float64
		for _, p := range sorted[lo:hi] {
			vol += p.Volatility
			ape += p.APE
		}
		n := float64(hi - lo)
		bin := CalibrationBin{Volatility: vol / n, MeanAPE: ape / n}
		bin.Confidence = clamp01(1 - bin.MeanAPE/tolerance)
		out.Bins = append(out.Bins, bin)
	}
	return out
}

// At returns the interpolated confidence for a volatility value.
func (c Calibration) At(volatility float64) float64 {
	if len(c.Bins) == 0 {
		return 0
	}
	first, last := c.Bins[0], c.Bins[len(c.Bins)-1]
	if volatility <= first.Volatility {
		return first.Confidence
	}
	if volatility >= last.Volatility {
		return last.Confidence
	}
	for i := 1; i < len(c.Bins); i++ {
		lo, hi := c.Bins[i-1], c.Bins[i]
		if volatility > hi.Volatility {
			continue
		}
		span := hi.Volatility - lo.Volatility
		if span <= 0 {
			return hi.Confidence
		}
		t := (volatility - lo.Volatility) / span
		return clamp01(lo.Confidence + t*(hi.Confidence-lo.Confidence))
	}
	return last.Confidence
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
