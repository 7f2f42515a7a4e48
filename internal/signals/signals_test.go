package signals

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func TestKeywordScorer(t *testing.T) {
	s := NewKeywordScorer(nil)
	headlines := []Headline{
		{Headline: "New sanctions announced on chip exports"},
		{Headline: "Company launches software update"},
		{Headline: "Analysts upgrade the stock"},
		{Headline: "Border conflict escalates", Summary: "markets slide"},
	}
	assert.InDelta(t, 50.0, s.Score(headlines), 1e-9)
	assert.Zero(t, s.Score(nil))

	custom := NewKeywordScorer([]string{"  Upgrade ", ""})
	assert.Equal(t, []string{"upgrade"}, custom.Keywords)
	assert.InDelta(t, 25.0, custom.Score(headlines), 1e-9)
}

func TestContainsWordBoundaries(t *testing.T) {
	assert.True(t, containsWord("trade war fears", "war"))
	assert.True(t, containsWord("tariffs rise", "tariff"))
	assert.False(t, containsWord("software rally", "war"))
	assert.False(t, containsWord("warning issued", "war"))
	assert.True(t, containsWord("export ban widened", "export ban"))
}

func TestMentionsEarnings(t *testing.T) {
	assert.True(t, MentionsEarnings([]Headline{{Summary: "Q3 results beat estimates"}}, nil))
	assert.False(t, MentionsEarnings([]Headline{{Headline: "New product line"}}, nil))
	assert.True(t, MentionsEarnings([]Headline{{Headline: "guidance cut"}}, []string{"guidance"}))
}

func TestNewsClient(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		got = map[string]string{
			"path": r.URL.Path, "symbol": q.Get("symbol"),
			"from": q.Get("from"), "to": q.Get("to"), "token": q.Get("token"),
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"headline": "Sanctions widen", "summary": "", "datetime": day.Unix()},
			{"headline": "Earnings preview", "summary": "", "datetime": day.Unix()},
		})
	}))
	defer srv.Close()

	c := NewNewsClient(NewsOptions{BaseURL: srv.URL, APIKey: "k"}, zerolog.Nop())
	items, err := c.Headlines(context.Background(), "nvda", day.AddDate(0, 0, -2), day)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Sanctions widen", items[0].Headline)
	assert.Equal(t, day, items[0].Datetime)
	assert.Equal(t, map[string]string{
		"path": "/company-news", "symbol": "NVDA",
		"from": "2026-02-28", "to": "2026-03-02", "token": "k",
	}, got)
}

func TestNewsClientRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewNewsClient(NewsOptions{BaseURL: srv.URL}, zerolog.Nop())
	_, err := c.Headlines(context.Background(), "NVDA", day, day)
	require.Error(t, err)
	assert.Positive(t, c.limiter.Backoff())
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })

	cache := NewRedisCache(cli, time.Minute)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "NVDA", day)
	require.NoError(t, err)
	assert.False(t, ok)

	want := HeadlineSummary{Score: 40, Headlines: 5, Earnings: true}
	require.NoError(t, cache.Set(ctx, "NVDA", day, want))
	assert.True(t, mr.Exists("pricecast:headlines:NVDA:2026-03-02"))

	got, ok, err := cache.Get(ctx, "NVDA", day)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	mr.FastForward(2 * time.Minute)
	_, ok, err = cache.Get(ctx, "NVDA", day)
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire after the ttl")
}

type stubSource struct {
	mu    sync.Mutex
	calls int
	items []Headline
	err   error
	block bool
}

func (s *stubSource) Headlines(ctx context.Context, _ string, _, _ time.Time) ([]Headline, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.items, s.err
}

type countingRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (r *countingRecorder) Degraded(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func TestCollectorCombinesInputs(t *testing.T) {
	src := &stubSource{items: []Headline{
		{Headline: "War risk rises"},
		{Headline: "Quarterly results due"},
	}}
	drift := func(context.Context, string) (map[string]float64, error) {
		return map[string]float64{"rsi_14": 3}, nil
	}
	c := NewCollector(src, nil, nil, nil, CollectorOptions{}, zerolog.Nop())

	sig := c.Collect(context.Background(), "NVDA", day, 2.5, drift)
	assert.InDelta(t, 50.0, sig.HeadlineScore, 1e-9)
	assert.Equal(t, 2, sig.Headlines)
	assert.True(t, sig.Earnings)
	assert.Equal(t, 2.5, sig.VolumeSpike)
	assert.Equal(t, map[string]float64{"rsi_14": 3}, sig.Drift)
	assert.False(t, sig.IsDegraded())
}

func TestCollectorTimeoutFallsBack(t *testing.T) {
	src := &stubSource{block: true}
	rec := &countingRecorder{}
	drift := func(ctx context.Context, _ string) (map[string]float64, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c := NewCollector(src, nil, nil, rec, CollectorOptions{Timeout: 20 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	sig := c.Collect(context.Background(), "NVDA", day, 1.1, drift)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, sig.HeadlineScore)
	assert.Nil(t, sig.Drift)
	assert.ElementsMatch(t, []string{InputHeadlines, InputDrift}, sig.Degraded)
	assert.ElementsMatch(t, []string{InputHeadlines, InputDrift}, rec.reasons)
}

func TestCollectorTimeoutIsSignalTimeout(t *testing.T) {
	c := NewCollector(&stubSource{block: true}, nil, nil, nil, CollectorOptions{Timeout: 10 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := c.headlines(ctx, "NVDA", day)
	assert.True(t, errors.Is(err, ErrSignalTimeout), "got %v", err)
}

func TestCollectorUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })

	src := &stubSource{items: []Headline{{Headline: "Embargo talk"}}}
	c := NewCollector(src, nil, NewRedisCache(cli, time.Hour), nil, CollectorOptions{}, zerolog.Nop())

	first := c.Collect(context.Background(), "INTC", day, 1, nil)
	second := c.Collect(context.Background(), "INTC", day, 1, nil)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.HeadlineScore, second.HeadlineScore)
	assert.Equal(t, 1, src.calls)
}

func TestCollectorWithoutSource(t *testing.T) {
	c := NewCollector(nil, nil, nil, nil, CollectorOptions{}, zerolog.Nop())
	sig := c.Collect(context.Background(), "AAPL", day, 1.3, nil)
	assert.Zero(t, sig.HeadlineScore)
	assert.False(t, sig.IsDegraded())
}
