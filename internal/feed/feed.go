package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrDataUnavailable reports that the upstream could not supply candles.
var ErrDataUnavailable = errors.New("feed: data unavailable")

// Candle is one daily OHLCV bar.
type Candle struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Source retrieves daily candles, oldest first.
type Source interface {
	DailyCandles(ctx context.Context, ticker string, days int) ([]Candle, error)
}

// Split returns the close and volume columns.
func Split(candles []Candle) (closes, volumes []float64) {
	closes = make([]float64, len(candles))
	volumes = make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}
	return closes, volumes
}

// Static serves fixed candles per ticker. It backs simulations and tests.
type Static struct {
	Candles map[string][]Candle
	Err     error
}

// DailyCandles returns up to the last days candles for ticker.
func (s Static) DailyCandles(_ context.Context, ticker string, days int) ([]Candle, error) {
	if s.Err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, s.Err)
	}
	candles, ok := s.Candles[strings.ToUpper(ticker)]
	if !ok || len(candles) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s", ErrDataUnavailable, ticker)
	}
	out := append([]Candle(nil), candles...)
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	if days > 0 && len(out) > days {
		out = out[len(out)-days:]
	}
	return out, nil
}

var (
	_ Source = Static{}
	_ Source = (*Yahoo)(nil)
)
