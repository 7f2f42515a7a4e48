package forecast

import (
	"sync/atomic"

	"price-forecast/internal/indicators"
)

// Handle holds the active model. Training builds a new model and swaps it in;
// predictions already running keep the model they loaded.
type Handle struct {
	current atomic.Pointer[Model]
	opts    Options
}

// NewHandle returns an empty handle that trains with opts.
func NewHandle(opts Options) *Handle {
	return &Handle{opts: opts}
}

// Current returns the active model or nil.
func (h *Handle) Current() *Model {
	return h.current.Load()
}

// Swap installs m and returns the previous model.
func (h *Handle) Swap(m *Model) *Model {
	return h.current.Swap(m)
}

// Train fits a new model and makes it active.
func (h *Handle) Train(X []indicators.FeatureVector, y []float64) (TrainingReport, error) {
	m, report, err := Train(X, y, h.opts)
	if err != nil {
		return TrainingReport{}, err
	}
	h.current.Store(m)
	return report, nil
}

// Predict uses the active model.
func (h *Handle) Predict(fv indicators.FeatureVector) (Forecast, error) {
	m := h.current.Load()
	if m == nil {
		return Forecast{}, ErrModelNotTrained
	}
	return m.Predict(fv)
}
