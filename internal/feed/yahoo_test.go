package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func chartPayload() map[string]any {
	c1, c2 := 101.5, 102.25
	return map[string]any{
		"chart": map[string]any{
			"result": []any{
				map[string]any{
					"timestamp": []int64{1767619800, 1767706200, 1767792600},
					"indicators": map[string]any{
						"quote": []any{
							map[string]any{
								"open":   []any{100.0, 101.0, nil},
								"high":   []any{102.0, 103.0, nil},
								"low":    []any{99.0, 100.5, nil},
								"close":  []any{c1, c2, nil},
								"volume": []any{1_000_000, 1_250_000, nil},
							},
						},
					},
				},
			},
			"error": nil,
		},
	}
}

func TestYahooDailyCandles(t *testing.T) {
	var gotPath, gotInterval string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotInterval = r.URL.Query().Get("interval")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chartPayload())
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	candles, err := y.DailyCandles(context.Background(), "nvda", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/NVDA" || gotInterval != "1d" {
		t.Fatalf("unexpected request %s interval=%s", gotPath, gotInterval)
	}
	if len(candles) != 2 {
		t.Fatalf("null close should be skipped, got %d candles", len(candles))
	}
	if candles[1].Close != 102.25 || candles[1].Volume != 1_250_000 {
		t.Fatalf("unexpected candle %+v", candles[1])
	}
	if candles[0].Date.Hour() != 0 || !candles[0].Date.Before(candles[1].Date) {
		t.Fatalf("candles should be day-truncated and ordered: %+v", candles)
	}
}

func TestYahooTrimsToRequestedDays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chartPayload())
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL}, zerolog.Nop())
	candles, err := y.DailyCandles(context.Background(), "NVDA", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 1 || candles[0].Close != 102.25 {
		t.Fatalf("expected only the latest candle, got %+v", candles)
	}
}

func TestYahooErrorsAreDataUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/LIMIT") {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chart": map[string]any{
				"result": nil,
				"error":  map[string]string{"code": "Not Found", "description": "No data found, symbol may be delisted"},
			},
		})
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL}, zerolog.Nop())
	_, err := y.DailyCandles(context.Background(), "ZZZZ", 10)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "delisted") {
		t.Fatalf("error should carry the upstream description: %v", err)
	}

	_, err = y.DailyCandles(context.Background(), "LIMIT", 10)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable on 429, got %v", err)
	}
	if y.limiter.Backoff() == 0 {
		t.Fatal("429 should arm the limiter backoff")
	}
}

func TestStaticSource(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC) }
	s := Static{Candles: map[string][]Candle{
		"AAPL": {{Date: day(3), Close: 3}, {Date: day(1), Close: 1}, {Date: day(2), Close: 2}},
	}}

	candles, err := s.DailyCandles(context.Background(), "aapl", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	closes, _ := Split(candles)
	if len(closes) != 2 || closes[0] != 2 || closes[1] != 3 {
		t.Fatalf("expected last two closes in order, got %v", closes)
	}

	if _, err := s.DailyCandles(context.Background(), "MSFT", 2); !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("missing ticker should be ErrDataUnavailable, got %v", err)
	}
}
