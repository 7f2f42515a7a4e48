package forecast

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrUnsupportedRegressor is returned when saving a model whose regressor
// cannot be serialised.
var ErrUnsupportedRegressor = errors.New("forecast: regressor cannot be persisted")

const snapshotFormat = 1

type snapshot struct {
	Format      int                `json:"format"`
	Version     string             `json:"version"`
	TrainedAt   time.Time          `json:"trained_at"`
	Params      TreeParams         `json:"hyperparameters"`
	Report      TrainingReport     `json:"metrics"`
	Features    []string           `json:"features"`
	Baseline    map[string]float64 `json:"baseline_importance"`
	Calibration Calibration        `json:"calibration"`
	Ensemble    *GradientBoosting  `json:"ensemble"`
}

// Info describes a model for operators.
type Info struct {
	Version     string             `json:"version"`
	TrainedAt   time.Time          `json:"trained_at"`
	Params      TreeParams         `json:"hyperparameters"`
	Metrics     TrainingReport     `json:"metrics"`
	Features    []string           `json:"features"`
	Importance  map[string]float64 `json:"importance"`
	Baseline    map[string]float64 `json:"baseline_importance"`
	Calibration []CalibrationBin   `json:"calibration"`
}

// Info returns the model metadata.
func (m *Model) Info() Info {
	return Info{
		Version:     m.Version,
		TrainedAt:   m.TrainedAt,
		Params:      m.Params,
		Metrics:     m.Report,
		Features:    m.Features,
		Importance:  m.Importance(),
		Baseline:    m.Baseline,
		Calibration: m.confidence.Bins,
	}
}

// Save writes the model to path atomically.
func Save(path string, m *Model) error {
	if m == nil || m.regressor == nil {
		return ErrModelNotTrained
	}
	gbt, ok := m.regressor.(*GradientBoosting)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedRegressor, m.regressor)
	}

	data, err := json.Marshal(snapshot{
		Format:      snapshotFormat,
		Version:     m.Version,
		TrainedAt:   m.TrainedAt,
		Params:      m.Params,
		Report:      m.Report,
		Features:    m.Features,
		Baseline:    m.Baseline,
		Calibration: m.confidence,
		Ensemble:    gbt,
	})
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create model dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename model: %w", err)
	}
	return nil
}

// Load reads a model written by Save. A missing file yields ErrModelNotTrained.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrModelNotTrained
		}
		return nil, fmt.Errorf("read model: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if snap.Format != snapshotFormat {
		return nil, fmt.Errorf("decode model: unsupported format %d", snap.Format)
	}
	if snap.Ensemble == nil || len(snap.Ensemble.Trees) == 0 {
		return nil, fmt.Errorf("decode model: empty ensemble")
	}

	return &Model{
		Version:    snap.Version,
		TrainedAt:  snap.TrainedAt,
		Params:     snap.Params,
		Report:     snap.Report,
		Features:   snap.Features,
		Baseline:   snap.Baseline,
		regressor:  snap.Ensemble,
		confidence: snap.Calibration,
	}, nil
}
