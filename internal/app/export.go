package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"price-forecast/internal/journal"
)

// Export renders journal history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	j, closeJournal, err := a.openJournal(ctx)
	if err != nil {
		return err
	}
	defer closeJournal()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	// one entry per session, so MaxPoints calendar days is a generous default
	from := to.AddDate(0, 0, -opts.MaxPoints)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	entries := j.Between(from, to)
	if opts.Ticker != "" {
		ticker := journal.NormalizeTicker(opts.Ticker)
		kept := entries[:0]
		for _, e := range entries {
			if e.Ticker == ticker {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if len(entries) == 0 {
		a.Logger.Info().Msg("no journal entries found for export window")
		return nil
	}

	downsampled := downsampleEntries(entries, opts.MaxPoints)
	a.Logger.Info().Int("total", len(entries)).Int("exported", len(downsampled)).Msg("exporting journal entries")

	if opts.CSVPath != "" {
		if err := writeEntriesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeEntriesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleEntries(entries []journal.Entry, limit int) []journal.Entry {
	if limit <= 1 || len(entries) <= limit {
		return entries
	}

	result := make([]journal.Entry, 0, limit)
	step := float64(len(entries)-1) / float64(limit-1)
	for i := 0; i < limit; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(entries) {
			idx = len(entries) - 1
		}
		result = append(result, entries[idx])
	}
	return result
}

func writeEntriesCSV(path string, entries []journal.Entry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date", "ticker", "predicted_price", "actual_price", "accuracy_pct", "status", "outcome", "geo_risk_score", "volume_spike_ratio", "earnings_flag", "confidence", "model_version", "lesson"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, e := range entries {
		actual, accuracy := "", ""
		if e.Actual != nil {
			actual = e.Actual.String()
		}
		if e.Accuracy != nil {
			accuracy = strconv.FormatFloat(*e.Accuracy, 'f', 4, 64)
		}
		record := []string{
			e.Date.Format(time.DateOnly),
			e.Ticker,
			e.Predicted.String(),
			actual,
			accuracy,
			string(e.Status),
			string(e.Outcome),
			strconv.FormatFloat(e.GeoRisk, 'f', 2, 64),
			strconv.FormatFloat(e.VolumeSpike, 'f', 3, 64),
			strconv.FormatBool(e.Earnings),
			strconv.FormatFloat(e.Confidence, 'f', 3, 64),
			e.ModelVersion,
			e.Lesson,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeEntriesPNG charts predicted against actual prices with accuracy on the
// secondary axis. Only validated entries of a single ticker are plotted.
func writeEntriesPNG(path string, entries []journal.Entry) error {
	var (
		ticker    string
		x         []time.Time
		predicted []float64
		actual    []float64
		accuracy  []float64
	)
	for _, e := range entries {
		if e.Actual == nil || e.Accuracy == nil {
			continue
		}
		if ticker == "" {
			ticker = e.Ticker
		} else if e.Ticker != ticker {
			return fmt.Errorf("png export needs a single ticker, found %s and %s; pass --ticker", ticker, e.Ticker)
		}
		x = append(x, e.Date)
		predicted = append(predicted, e.Predicted.InexactFloat64())
		actual = append(actual, e.Actual.InexactFloat64())
		accuracy = append(accuracy, *e.Accuracy)
	}
	if len(x) < 2 {
		return errors.New("png export needs at least two validated entries")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  ticker + " forecast vs actual",
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Accuracy (%)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Predicted",
				XValues: x,
				YValues: predicted,
			},
			chart.TimeSeries{
				Name:    "Actual",
				XValues: x,
				YValues: actual,
			},
			chart.TimeSeries{
				Name:    "Accuracy %",
				XValues: x,
				YValues: accuracy,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
