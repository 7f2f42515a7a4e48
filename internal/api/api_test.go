package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-forecast/internal/engine"
	"price-forecast/internal/feed"
	"price-forecast/internal/forecast"
	"price-forecast/internal/intelligence"
	"price-forecast/internal/journal"
	"price-forecast/internal/retrain"
)

type stubService struct {
	forecastReq engine.ForecastRequest
	forecastErr error
	logged      []string
	logErr      error
	validateErr error
	statsWindow int
	modelErr    error
	completeErr error
}

func (s *stubService) Forecast(_ context.Context, req engine.ForecastRequest) (engine.ForecastResult, error) {
	s.forecastReq = req
	if s.forecastErr != nil {
		return engine.ForecastResult{}, s.forecastErr
	}
	return engine.ForecastResult{Ticker: journal.NormalizeTicker(req.Ticker), Value: 101.5, Confidence: 0.7, Logged: req.Log}, nil
}

func (s *stubService) LogPrediction(_ context.Context, ticker string, date time.Time, predicted decimal.Decimal, _ journal.RecordOptions) (journal.Entry, error) {
	if s.logErr != nil {
		return journal.Entry{}, s.logErr
	}
	s.logged = append(s.logged, fmt.Sprintf("%s %s %s", ticker, date.Format(time.DateOnly), predicted))
	return journal.Entry{Ticker: ticker, Date: date, Predicted: predicted, Status: journal.StatusPending}, nil
}

func (s *stubService) ValidatePrediction(_ context.Context, ticker string, date time.Time, actual decimal.Decimal) (engine.ValidationResult, error) {
	if s.validateErr != nil {
		return engine.ValidationResult{}, s.validateErr
	}
	acc := 99.76
	return engine.ValidationResult{Entry: journal.Entry{Ticker: ticker, Date: date, Actual: &actual, Accuracy: &acc, Status: journal.StatusValidated, Outcome: journal.OutcomeAccurate}}, nil
}

func (s *stubService) Stats(ticker string, window int) (journal.RollingStats, error) {
	s.statsWindow = window
	return journal.RollingStats{Ticker: ticker, WindowDays: window, Trend: journal.TrendStable}, nil
}

func (s *stubService) Intelligence(_ context.Context, ticker string) (intelligence.AggregatedScore, error) {
	return intelligence.AggregatedScore{Ticker: ticker, IntelligenceScore: 72.5}, nil
}

func (s *stubService) RetrainComplete(_ context.Context, ticker string) (engine.RetrainCompletion, error) {
	if s.completeErr != nil {
		return engine.RetrainCompletion{}, s.completeErr
	}
	return engine.RetrainCompletion{Decision: retrain.Decision{Ticker: ticker, State: retrain.StateMonitoring}}, nil
}

func (s *stubService) RetrainSnapshot() []retrain.Decision {
	return []retrain.Decision{{Ticker: "AAPL", State: retrain.StateMonitoring}}
}

func (s *stubService) ModelInfo() (forecast.Info, error) {
	if s.modelErr != nil {
		return forecast.Info{}, s.modelErr
	}
	return forecast.Info{Version: "20260302T210000-abcd1234"}, nil
}

type requestCounter struct{ calls []string }

func (r *requestCounter) RecordRequest(method, route, status string) {
	r.calls = append(r.calls, method+" "+route+" "+status)
}

func serve(t *testing.T, svc Service, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	srv := NewServer(svc, nil, Options{}, zerolog.Nop())
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealthReportsModel(t *testing.T) {
	rec := serve(t, &stubService{}, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["model_loaded"] != true || body["model_version"] != "20260302T210000-abcd1234" {
		t.Fatalf("unexpected body %v", body)
	}

	rec = serve(t, &stubService{modelErr: forecast.ErrModelNotTrained}, http.MethodGet, "/health", "")
	decode(t, rec, &body)
	if rec.Code != http.StatusOK || body["model_loaded"] != false {
		t.Fatalf("untrained health = %d %v", rec.Code, body)
	}
}

func TestForecastDefaultsToLogging(t *testing.T) {
	svc := &stubService{}
	rec := serve(t, svc, http.MethodPost, "/forecast", `{"ticker":"nvda"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if !svc.forecastReq.Log || svc.forecastReq.Features != nil {
		t.Fatalf("unexpected request %+v", svc.forecastReq)
	}

	rec = serve(t, svc, http.MethodPost, "/forecast", `{"ticker":"NVDA","log":false,"date":"2026-03-09","features":[55,1.2,1.0,110,100,90,0.02,1.1,1.01]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if svc.forecastReq.Log {
		t.Fatal("explicit log=false was overridden")
	}
	if svc.forecastReq.Features == nil || svc.forecastReq.Features.RSI != 55 {
		t.Fatalf("features not forwarded: %+v", svc.forecastReq.Features)
	}
	if !svc.forecastReq.Date.Equal(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date = %v", svc.forecastReq.Date)
	}
}

func TestForecastRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"missing ticker": `{}`,
		"short features": `{"ticker":"AAPL","features":[1,2,3]}`,
		"bad date":       `{"ticker":"AAPL","date":"09/03/2026"}`,
		"malformed json": `{"ticker":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := serve(t, &stubService{}, http.MethodPost, "/forecast", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
			}
			var eb errorBody
			decode(t, rec, &eb)
			if eb.Code != "ERR_VALIDATION" || len(eb.Errors) == 0 {
				t.Fatalf("unexpected error body %+v", eb)
			}
		})
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{forecast.ErrModelNotTrained, http.StatusConflict},
		{fmt.Errorf("%w: AAPL 2026-03-06", journal.ErrAlreadyValidated), http.StatusConflict},
		{fmt.Errorf("fetch: %w", feed.ErrDataUnavailable), http.StatusBadGateway},
		{fmt.Errorf("%w: feature rsi_14 is not finite", forecast.ErrInvalidInput), http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := serve(t, &stubService{forecastErr: tc.err}, http.MethodPost, "/forecast", `{"ticker":"AAPL"}`)
		if rec.Code != tc.status {
			t.Fatalf("%v: status = %d, want %d", tc.err, rec.Code, tc.status)
		}
	}
}

func TestLogPrediction(t *testing.T) {
	svc := &stubService{}
	rec := serve(t, svc, http.MethodPost, "/predictions", `{"ticker":"NVDA","date":"2026-03-09","predicted_price":194.27}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if len(svc.logged) != 1 || svc.logged[0] != "NVDA 2026-03-09 194.27" {
		t.Fatalf("logged = %v", svc.logged)
	}

	svc.logErr = fmt.Errorf("%w: NVDA 2026-03-09", journal.ErrDuplicateActiveEntry)
	rec = serve(t, svc, http.MethodPost, "/predictions", `{"ticker":"NVDA","date":"2026-03-09","predicted_price":194.27}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d", rec.Code)
	}

	svc.logErr = fmt.Errorf("%w: append recorded: disk full", journal.ErrJournalUnavailable)
	rec = serve(t, svc, http.MethodPost, "/predictions", `{"ticker":"NVDA","date":"2026-03-09","predicted_price":194.27}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unavailable status = %d", rec.Code)
	}

	rec = serve(t, svc, http.MethodPost, "/predictions", `{"ticker":"NVDA","date":"2026-03-09","predicted_price":-1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("negative price status = %d", rec.Code)
	}
}

func TestValidatePrediction(t *testing.T) {
	rec := serve(t, &stubService{}, http.MethodPost, "/predictions/validate", `{"ticker":"NVDA","date":"2026-03-09","actual_price":193.80}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var res engine.ValidationResult
	decode(t, rec, &res)
	if res.Entry.Outcome != journal.OutcomeAccurate {
		t.Fatalf("outcome = %s", res.Entry.Outcome)
	}

	rec = serve(t, &stubService{validateErr: journal.ErrEntryNotFound}, http.MethodPost, "/predictions/validate", `{"ticker":"NVDA","date":"2026-03-09","actual_price":193.80}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing entry status = %d", rec.Code)
	}
}

func TestStatsWindow(t *testing.T) {
	svc := &stubService{}
	rec := serve(t, svc, http.MethodGet, "/stats/AAPL", "")
	if rec.Code != http.StatusOK || svc.statsWindow != 30 {
		t.Fatalf("default window: status=%d window=%d", rec.Code, svc.statsWindow)
	}
	rec = serve(t, svc, http.MethodGet, "/stats/AAPL?window=7", "")
	if rec.Code != http.StatusOK || svc.statsWindow != 7 {
		t.Fatalf("explicit window: status=%d window=%d", rec.Code, svc.statsWindow)
	}
	rec = serve(t, svc, http.MethodGet, "/stats/AAPL?window=1000", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized window status = %d", rec.Code)
	}
}

func TestIntelligenceAndModelInfo(t *testing.T) {
	rec := serve(t, &stubService{}, http.MethodGet, "/intelligence/TSLA", "")
	var score intelligence.AggregatedScore
	decode(t, rec, &score)
	if rec.Code != http.StatusOK || score.Ticker != "TSLA" || score.IntelligenceScore != 72.5 {
		t.Fatalf("intelligence = %d %+v", rec.Code, score)
	}

	rec = serve(t, &stubService{modelErr: forecast.ErrModelNotTrained}, http.MethodGet, "/model/info", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("model info status = %d", rec.Code)
	}
}

func TestRetrainComplete(t *testing.T) {
	rec := serve(t, &stubService{}, http.MethodPost, "/retrain/AAPL/complete", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	rec = serve(t, &stubService{completeErr: retrain.ErrNotCoolingDown}, http.MethodPost, "/retrain/AAPL/complete", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("not cooling down status = %d", rec.Code)
	}
	rec = serve(t, &stubService{}, http.MethodGet, "/retrain", "")
	var snap []retrain.Decision
	decode(t, rec, &snap)
	if len(snap) != 1 || snap[0].Ticker != "AAPL" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestRequestMetricsAndRecovery(t *testing.T) {
	counter := &requestCounter{}
	srv := NewServer(&panicService{}, counter, Options{}, zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/model/info", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("panic status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/retrain", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("retrain status = %d", rec.Code)
	}

	want := []string{"GET /model/info 500", "GET /retrain 200"}
	if strings.Join(counter.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("recorded %v, want %v", counter.calls, want)
	}
}

type panicService struct{ stubService }

func (*panicService) ModelInfo() (forecast.Info, error) {
	panic("model corrupted")
}
