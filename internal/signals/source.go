package signals

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

// HeadlineSource lists headlines for a ticker between two dates.
type HeadlineSource interface {
	Headlines(ctx context.Context, ticker string, from, to time.Time) ([]Headline, error)
}

const defaultNewsBaseURL = "https://finnhub.io/api/v1"

// NewsOptions parameterise the company-news client.
type NewsOptions struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerMinute int
}

// NewsClient reads a Finnhub-style /company-news endpoint.
type NewsClient struct {
	opts    NewsOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *ratelimit.Limiter
	baseURL string
}

// NewNewsClient constructs a company-news client.
func NewNewsClient(opts NewsOptions, logger zerolog.Logger) *NewsClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultNewsBaseURL
	}
	return &NewsClient{
		opts:    opts,
		logger:  logger.With().Str("component", "news_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: ratelimit.NewLimiter("news", opts.RequestsPerMinute),
		baseURL: baseURL,
	}
}

type newsItem struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	Datetime int64  `json:"datetime"`
}

// Headlines fetches company news in [from, to].
func (c *NewsClient) Headlines(ctx context.Context, ticker string, from, to time.Time) ([]Headline, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("symbol", strings.ToUpper(ticker))
	q.Set("from", from.Format(time.DateOnly))
	q.Set("to", to.Format(time.DateOnly))
	if c.opts.APIKey != "" {
		q.Set("token", c.opts.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/company-news?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create news request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.SignalRateLimited()
		return nil, fmt.Errorf("news api rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("news api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	c.limiter.ResetBackoff()

	var items []newsItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode news: %w", err)
	}

	out := make([]Headline, 0, len(items))
	for _, it := range items {
		out = append(out, Headline{
			Headline: it.Headline,
			Summary:  it.Summary,
			Datetime: time.Unix(it.Datetime, 0).UTC(),
		})
	}
	c.logger.Debug().Str("ticker", ticker).Int("headlines", len(out)).Msg("fetched headlines")
	return out, nil
}

var _ HeadlineSource = (*NewsClient)(nil)
