package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	loadErr   error
	appendErr error
}

func (s failingStore) Append(context.Context, Event) error  { return s.appendErr }
func (s failingStore) Load(context.Context) ([]Event, error) { return nil, s.loadErr }

func newJournal(t *testing.T, store EventStore) *Journal {
	t.Helper()
	var mu sync.Mutex
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	j, err := New(context.Background(), store, Options{
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	return j
}

func day(d int) time.Time {
	return time.Date(2026, 4, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAccuracyFormula(t *testing.T) {
	assert.Equal(t, 100.0, Accuracy(dec("100"), dec("100")))
	assert.Equal(t, 80.0, Accuracy(dec("120"), dec("100")))
	assert.Equal(t, 0.0, Accuracy(dec("500"), dec("100")))
	assert.InDelta(t, 99.7575, Accuracy(dec("194.27"), dec("193.80")), 1e-3)
	assert.InDelta(t, 89.6597, Accuracy(dec("42.15"), dec("38.20")), 1e-3)
}

func TestValidateScenarios(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t, NewMemoryStore())

	_, err := j.Record(ctx, "nvda", day(10), dec("194.27"), RecordOptions{Confidence: 0.8})
	require.NoError(t, err)
	nvda, err := j.Validate(ctx, "NVDA", day(10), dec("193.80"), RiskContext{})
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, nvda.Status)
	assert.Equal(t, OutcomeAccurate, nvda.Outcome)
	assert.InDelta(t, 99.76, *nvda.Accuracy, 0.01)
	assert.Equal(t, "excellent: model tracked the move", nvda.Lesson)

	_, err = j.Record(ctx, "INTC", day(10), dec("45.88"), RecordOptions{})
	require.NoError(t, err)
	intc, err := j.Validate(ctx, "INTC", day(10), dec("38.20"), RiskContext{GeoRisk: 75, VolumeSpike: 2.5})
	require.NoError(t, err)
	assert.InDelta(t, 79.9, *intc.Accuracy, 0.01)
	assert.Equal(t, OutcomeRootCauseNeeded, intc.Outcome)
	assert.Contains(t, intc.Lesson, "root cause needed")
	assert.Contains(t, intc.Lesson, "volume spike 2.5x")
}

func TestValidateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	j := newJournal(t, store)

	_, err := j.Record(ctx, "AAPL", day(3), dec("120"), RecordOptions{})
	require.NoError(t, err)
	first, err := j.Validate(ctx, "AAPL", day(3), dec("100"), RiskContext{})
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	again, err := j.Validate(ctx, "AAPL", day(3), dec("100.00"), RiskContext{})
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 2, store.Len())

	_, err = j.Validate(ctx, "AAPL", day(3), dec("110"), RiskContext{})
	assert.ErrorIs(t, err, ErrAlreadyValidated)
	assert.Equal(t, 2, store.Len())

	kept, err := j.Get("AAPL", day(3))
	require.NoError(t, err)
	assert.Equal(t, first, kept)
}

func TestRecordPolicy(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t, NewMemoryStore())

	_, err := j.Record(ctx, "MSFT", day(4), dec("400"), RecordOptions{})
	require.NoError(t, err)
	_, err = j.Record(ctx, "msft ", day(4), dec("401"), RecordOptions{})
	assert.ErrorIs(t, err, ErrDuplicateActiveEntry)

	_, err = j.Validate(ctx, "MSFT", day(4), dec("404"), RiskContext{})
	require.NoError(t, err)

	superseded, err := j.Record(ctx, "MSFT", day(4), dec("405"), RecordOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, superseded.Status)
	assert.Nil(t, superseded.Actual)

	got, err := j.Get("MSFT", day(4))
	require.NoError(t, err)
	assert.True(t, got.Predicted.Equal(dec("405")))
}

func TestInvalidInputAndNotFound(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t, NewMemoryStore())

	_, err := j.Record(ctx, " ", day(1), dec("10"), RecordOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = j.Record(ctx, "AMD", day(1), dec("0"), RecordOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = j.Validate(ctx, "AMD", day(1), dec("-3"), RiskContext{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = j.Validate(ctx, "AMD", day(1), dec("3"), RiskContext{})
	assert.ErrorIs(t, err, ErrEntryNotFound)
	_, err = j.Stats("AMD", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUnavailableStore(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, failingStore{loadErr: errors.New("corrupt")}, Options{Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, ErrJournalUnavailable)

	j := newJournal(t, failingStore{appendErr: errors.New("disk full")})
	_, err = j.Record(ctx, "TSLA", day(2), dec("250"), RecordOptions{})
	assert.ErrorIs(t, err, ErrJournalUnavailable)
	_, err = j.Get("TSLA", day(2))
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestUnavailableJournalRefusesReadsAndWrites(t *testing.T) {
	ctx := context.Background()
	j := NewUnavailable(errors.New("corrupt journal log: line 1"), Options{Logger: zerolog.Nop()})
	require.ErrorIs(t, j.Err(), ErrJournalUnavailable)
	assert.Contains(t, j.Err().Error(), "line 1")

	_, err := j.Record(ctx, "TSLA", day(2), dec("250"), RecordOptions{})
	assert.ErrorIs(t, err, ErrJournalUnavailable)
	_, err = j.Validate(ctx, "TSLA", day(2), dec("251"), RiskContext{})
	assert.ErrorIs(t, err, ErrJournalUnavailable)
	_, err = j.Get("TSLA", day(2))
	assert.ErrorIs(t, err, ErrJournalUnavailable)
	_, err = j.Stats("TSLA", 30)
	assert.ErrorIs(t, err, ErrJournalUnavailable)

	// bad input is still reported as such
	_, err = j.Record(ctx, "", day(2), dec("250"), RecordOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Empty(t, j.Pending(day(30)))
	assert.Empty(t, j.Tickers())
	assert.Nil(t, newJournal(t, NewMemoryStore()).Err())
}

func TestReplayCoalescesToLatest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	j := newJournal(t, store)

	_, err := j.Record(ctx, "AMZN", day(5), dec("180"), RecordOptions{})
	require.NoError(t, err)
	_, err = j.Validate(ctx, "AMZN", day(5), dec("200"), RiskContext{})
	require.NoError(t, err)
	_, err = j.Record(ctx, "AMZN", day(6), dec("201"), RecordOptions{})
	require.NoError(t, err)

	replayed := newJournal(t, store)
	entries := replayed.Entries("AMZN")
	require.Len(t, entries, 2)
	assert.Equal(t, StatusValidated, entries[0].Status)
	assert.Equal(t, StatusPending, entries[1].Status)
	assert.Len(t, replayed.Pending(day(30)), 1)
	assert.Empty(t, replayed.Pending(day(5)))
	assert.Len(t, replayed.Between(day(6), day(6)), 1)
	assert.Equal(t, []string{"AMZN"}, replayed.Tickers())
	assert.Equal(t, day(6), replayed.Recent(1)[0].Date)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t, NewMemoryStore())

	// predicted == accuracy when actual is 100
	for i, acc := range []string{"90", "92", "94", "80", "79", "78"} {
		_, err := j.Record(ctx, "GOOG", day(i+1), dec(acc), RecordOptions{})
		require.NoError(t, err)
		_, err = j.Validate(ctx, "GOOG", day(i+1), dec("100"), RiskContext{})
		require.NoError(t, err)
	}
	_, err := j.Record(ctx, "GOOG", day(7), dec("99"), RecordOptions{})
	require.NoError(t, err)

	stats, err := j.Stats("goog", 6)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Count)
	assert.Equal(t, 1, stats.Pending)
	assert.InDelta(t, 85.5, *stats.Avg7, 1e-9)
	assert.InDelta(t, 85.5, *stats.Avg30, 1e-9)
	assert.InDelta(t, 85.5, *stats.WindowAvg, 1e-9)
	assert.Equal(t, TrendDeclining, stats.Trend)
	assert.Equal(t, 3, stats.ConsecutiveLowDays)
	assert.InDelta(t, 78, *stats.LastAccuracy, 1e-9)
	assert.Equal(t, day(6), stats.AsOf)

	short, err := j.Stats("GOOG", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, short.Count)
	assert.InDelta(t, 78.5, *short.WindowAvg, 1e-9)
	assert.Equal(t, TrendStable, short.Trend)

	empty, err := j.Stats("NONE", 7)
	require.NoError(t, err)
	assert.Nil(t, empty.Avg7)
	assert.Equal(t, TrendStable, empty.Trend)
}

func TestLessonTable(t *testing.T) {
	assert.Equal(t, "accurate within tolerance", Lesson(90, 85, RiskContext{}))
	assert.Equal(t, "accurate within tolerance; watch earnings", Lesson(90, 85, RiskContext{Earnings: true}))
	assert.Equal(t, "miss without external signal; check feature drift", Lesson(70, 85, RiskContext{}))
	assert.Equal(t, "severe miss without external signal; check feature drift", Lesson(30, 85, RiskContext{}))
	assert.Equal(t, "miss coincided with geopolitical risk 60; root cause needed", Lesson(80, 85, RiskContext{GeoRisk: 60}))
	assert.Equal(t, "excellent: model tracked the move despite volume spike 3.0x", Lesson(99, 85, RiskContext{VolumeSpike: 3}))
}

func TestConcurrentWritesAcrossKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	j := newJournal(t, store)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ticker := fmt.Sprintf("T%02d", i)
			_, err := j.Record(ctx, ticker, day(1), dec("10"), RecordOptions{})
			assert.NoError(t, err)
			_, err = j.Validate(ctx, ticker, day(1), dec("11"), RiskContext{})
			assert.NoError(t, err)
		}(i)
	}

	var dupes sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		dupes.Add(1)
		go func() {
			defer dupes.Done()
			_, err := j.Record(ctx, "SAME", day(2), dec("5"), RecordOptions{})
			errs <- err
		}()
	}
	wg.Wait()
	dupes.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrDuplicateActiveEntry)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 41, store.Len())
	assert.Len(t, j.Tickers(), 21)
}
