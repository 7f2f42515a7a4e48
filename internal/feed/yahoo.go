package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-forecast/internal/ratelimit"
)

const defaultYahooBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// YahooOptions parameterise the chart API client.
type YahooOptions struct {
	BaseURL           string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerMinute int
	Now               func() time.Time
}

// Yahoo fetches daily candles from the Yahoo Finance chart API.
type Yahoo struct {
	opts    YahooOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *ratelimit.Limiter
	baseURL string
}

// NewYahoo constructs a chart API client.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultYahooBaseURL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Yahoo{
		opts:    opts,
		logger:  logger.With().Str("component", "price_feed").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: ratelimit.NewLimiter("yahoo", opts.RequestsPerMinute),
		baseURL: baseURL,
	}
}

// DailyCandles requests enough calendar history to cover days trading
// sessions and returns the most recent days candles.
func (y *Yahoo) DailyCandles(ctx context.Context, ticker string, days int) ([]Candle, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, fmt.Errorf("%w: empty ticker", ErrDataUnavailable)
	}
	if days <= 0 {
		days = 252
	}

	if err := y.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", ErrDataUnavailable, err)
	}

	now := y.opts.Now().UTC()
	// weekends and holidays: ~1.5 calendar days per session plus slack
	start := now.AddDate(0, 0, -(days*3/2 + 10))

	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("period1", fmt.Sprintf("%d", start.Unix()))
	q.Set("period2", fmt.Sprintf("%d", now.Unix()))
	endpoint := fmt.Sprintf("%s/%s?%s", y.baseURL, url.PathEscape(ticker), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create chart request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(y.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "pricecast/1.0")
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDataUnavailable, ticker, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrDataUnavailable, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		y.limiter.SignalRateLimited()
		return nil, fmt.Errorf("%w: %s: rate limited", ErrDataUnavailable, ticker)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, parseChartError(resp.StatusCode, payload))
	}
	y.limiter.ResetBackoff()

	candles, err := decodeChart(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDataUnavailable, ticker, err)
	}
	if len(candles) > days {
		candles = candles[len(candles)-days:]
	}
	y.logger.Debug().Str("ticker", ticker).Int("candles", len(candles)).Msg("fetched daily candles")
	return candles, nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *chartError `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// decodeChart converts the chart payload, skipping sessions with no close.
func decodeChart(payload []byte) ([]Candle, error) {
	var res chartResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode chart: %w", err)
	}
	if res.Chart.Error != nil {
		return nil, fmt.Errorf("chart error %s: %s", res.Chart.Error.Code, res.Chart.Error.Description)
	}
	if len(res.Chart.Result) == 0 || len(res.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("chart returned no series")
	}

	r := res.Chart.Result[0]
	q := r.Indicators.Quote[0]
	candles := make([]Candle, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		closePx := at(q.Close, i)
		if closePx <= 0 {
			continue
		}
		y, m, d := time.Unix(ts, 0).UTC().Date()
		candles = append(candles, Candle{
			Date:   time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
			Open:   at(q.Open, i),
			High:   at(q.High, i),
			Low:    at(q.Low, i),
			Close:  closePx,
			Volume: at(q.Volume, i),
		})
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("chart returned no closes")
	}
	return candles, nil
}

func at(values []*float64, i int) float64 {
	if i >= len(values) || values[i] == nil {
		return 0
	}
	return *values[i]
}

func parseChartError(status int, payload []byte) error {
	var res chartResponse
	if err := json.Unmarshal(payload, &res); err == nil && res.Chart.Error != nil {
		return fmt.Errorf("chart api error (%d): %s", status, res.Chart.Error.Description)
	}
	if len(payload) > 0 {
		return fmt.Errorf("chart api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("chart api error (%d)", status)
}
