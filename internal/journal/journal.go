package journal

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	ErrEntryNotFound        = errors.New("journal: entry not found")
	ErrDuplicateActiveEntry = errors.New("journal: pending entry already exists")
	ErrJournalUnavailable   = errors.New("journal: unavailable")
	ErrInvalidInput         = errors.New("journal: invalid input")
	ErrAlreadyValidated     = errors.New("journal: entry already validated")
)

// Status is the lifecycle state of an entry.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusValidated Status = "VALIDATED"
)

// Outcome labels a validated entry against the accuracy threshold.
type Outcome string

const (
	OutcomeAccurate        Outcome = "ACCURATE"
	OutcomeRootCauseNeeded Outcome = "ROOT_CAUSE_NEEDED"
)

// DefaultThreshold is the accuracy percentage separating accurate predictions
// from misses.
const DefaultThreshold = 85.0

// Entry is the latest state of one (ticker, date) prediction.
type Entry struct {
	Ticker       string           `json:"ticker"`
	Date         time.Time        `json:"date"`
	Predicted    decimal.Decimal  `json:"predicted_price"`
	Actual       *decimal.Decimal `json:"actual_price,omitempty"`
	Accuracy     *float64         `json:"accuracy_pct,omitempty"`
	GeoRisk      float64          `json:"geo_risk_score"`
	VolumeSpike  float64          `json:"volume_spike_ratio"`
	Earnings     bool             `json:"earnings_flag,omitempty"`
	Lesson       string           `json:"lesson,omitempty"`
	Status       Status           `json:"status"`
	Outcome      Outcome          `json:"outcome,omitempty"`
	Confidence   float64          `json:"confidence"`
	ModelVersion string           `json:"model_version,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// EventKind distinguishes log records.
type EventKind string

const (
	EventRecorded  EventKind = "recorded"
	EventValidated EventKind = "validated"
)

// Event is one append-only log record carrying the full entry state after
// the change.
type Event struct {
	ID    string    `json:"id"`
	Kind  EventKind `json:"kind"`
	At    time.Time `json:"at"`
	Entry Entry     `json:"entry"`
}

// EventStore persists journal events. Load returns events in append order.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
	Load(ctx context.Context) ([]Event, error)
}

// RecordOptions carry optional prediction metadata.
type RecordOptions struct {
	Confidence   float64
	ModelVersion string
}

// RiskContext is the external signal snapshot attached at validation.
type RiskContext struct {
	GeoRisk     float64
	VolumeSpike float64
	Earnings    bool
}

// Options configure a Journal.
type Options struct {
	Threshold float64
	Now       func() time.Time
	Logger    zerolog.Logger
}

const lockStripes = 64

// Journal is the prediction ledger. Writes to the same key are serialized;
// writes to different keys proceed concurrently.
type Journal struct {
	store     EventStore
	threshold float64
	now       func() time.Time
	logger    zerolog.Logger

	stripes [lockStripes]sync.Mutex

	// unavailable is set when the store could not be loaded; every read and
	// write then fails with ErrJournalUnavailable.
	unavailable error

	mu      sync.RWMutex
	entries map[string]Entry
}

// New replays the store into memory.
func New(ctx context.Context, store EventStore, opts Options) (*Journal, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil event store", ErrJournalUnavailable)
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	j := &Journal{
		store:     store,
		threshold: opts.Threshold,
		now:       opts.Now,
		logger:    opts.Logger.With().Str("component", "journal").Logger(),
		entries:   make(map[string]Entry),
	}

	events, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load events: %v", ErrJournalUnavailable, err)
	}
	for _, ev := range events {
		entry := ev.Entry
		entry.Date = Day(entry.Date)
		j.entries[key(entry.Ticker, entry.Date)] = entry
	}
	j.logger.Debug().Int("events", len(events)).Int("entries", len(j.entries)).Msg("journal replayed")
	return j, nil
}

// NewUnavailable returns a journal standing in for a store that could not be
// loaded. It holds no entries and refuses reads and writes, so callers that
// can carry on without the ledger (forecasting) keep serving.
func NewUnavailable(cause error, opts Options) *Journal {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if cause == nil {
		cause = ErrJournalUnavailable
	}
	return &Journal{
		threshold:   opts.Threshold,
		now:         opts.Now,
		logger:      opts.Logger.With().Str("component", "journal").Logger(),
		entries:     make(map[string]Entry),
		unavailable: cause,
	}
}

// Err reports why the journal is unavailable, or nil.
func (j *Journal) Err() error {
	if j.unavailable == nil {
		return nil
	}
	if errors.Is(j.unavailable, ErrJournalUnavailable) {
		return j.unavailable
	}
	return fmt.Errorf("%w: %v", ErrJournalUnavailable, j.unavailable)
}

// Threshold returns the accuracy threshold in percent.
func (j *Journal) Threshold() float64 {
	return j.threshold
}

// Record creates a PENDING entry. A pending entry for the same key is a
// conflict; a validated one is superseded.
func (j *Journal) Record(ctx context.Context, ticker string, date time.Time, predicted decimal.Decimal, opts RecordOptions) (Entry, error) {
	ticker = NormalizeTicker(ticker)
	if ticker == "" {
		return Entry{}, fmt.Errorf("%w: empty ticker", ErrInvalidInput)
	}
	if !predicted.IsPositive() {
		return Entry{}, fmt.Errorf("%w: predicted price must be positive", ErrInvalidInput)
	}
	if err := j.Err(); err != nil {
		return Entry{}, err
	}
	date = Day(date)
	k := key(ticker, date)

	unlock := j.lock(k)
	defer unlock()

	if current, ok := j.get(k); ok && current.Status == StatusPending {
		return Entry{}, fmt.Errorf("%w: %s %s", ErrDuplicateActiveEntry, ticker, date.Format(time.DateOnly))
	}

	entry := Entry{
		Ticker:       ticker,
		Date:         date,
		Predicted:    predicted,
		Status:       StatusPending,
		Confidence:   opts.Confidence,
		ModelVersion: opts.ModelVersion,
		Timestamp:    j.now().UTC(),
	}
	if err := j.append(ctx, EventRecorded, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Validate attaches the realized price to a recorded prediction. Repeating a
// validation with the same actual returns the stored entry unchanged; a
// validated entry is otherwise immutable until a new Record supersedes it.
func (j *Journal) Validate(ctx context.Context, ticker string, date time.Time, actual decimal.Decimal, risk RiskContext) (Entry, error) {
	ticker = NormalizeTicker(ticker)
	if ticker == "" {
		return Entry{}, fmt.Errorf("%w: empty ticker", ErrInvalidInput)
	}
	if !actual.IsPositive() {
		return Entry{}, fmt.Errorf("%w: actual price must be positive", ErrInvalidInput)
	}
	if err := j.Err(); err != nil {
		return Entry{}, err
	}
	date = Day(date)
	k := key(ticker, date)

	unlock := j.lock(k)
	defer unlock()

	current, ok := j.get(k)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s %s", ErrEntryNotFound, ticker, date.Format(time.DateOnly))
	}
	if current.Status == StatusValidated {
		if current.Actual != nil && current.Actual.Equal(actual) {
			return current, nil
		}
		return Entry{}, fmt.Errorf("%w: %s %s settled at %s", ErrAlreadyValidated, ticker, date.Format(time.DateOnly), current.Actual)
	}

	acc := Accuracy(current.Predicted, actual)
	a := actual
	entry := current
	entry.Actual = &a
	entry.Accuracy = &acc
	entry.GeoRisk = risk.GeoRisk
	entry.VolumeSpike = risk.VolumeSpike
	entry.Earnings = risk.Earnings
	entry.Status = StatusValidated
	entry.Outcome = j.outcome(acc)
	entry.Lesson = Lesson(acc, j.threshold, risk)
	entry.Timestamp = j.now().UTC()

	if err := j.append(ctx, EventValidated, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Get returns the latest entry for a key.
func (j *Journal) Get(ticker string, date time.Time) (Entry, error) {
	ticker = NormalizeTicker(ticker)
	if err := j.Err(); err != nil {
		return Entry{}, err
	}
	entry, ok := j.get(key(ticker, Day(date)))
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s %s", ErrEntryNotFound, ticker, Day(date).Format(time.DateOnly))
	}
	return entry, nil
}

// Entries returns every entry for ticker ordered by date.
func (j *Journal) Entries(ticker string) []Entry {
	ticker = NormalizeTicker(ticker)
	return j.filter(func(e Entry) bool { return e.Ticker == ticker })
}

// Between returns entries with from <= date <= to, all tickers, ordered by date.
func (j *Journal) Between(from, to time.Time) []Entry {
	from, to = Day(from), Day(to)
	return j.filter(func(e Entry) bool { return !e.Date.Before(from) && !e.Date.After(to) })
}

// Pending returns pending entries dated on or before date.
func (j *Journal) Pending(date time.Time) []Entry {
	date = Day(date)
	return j.filter(func(e Entry) bool { return e.Status == StatusPending && !e.Date.After(date) })
}

// Recent returns the latest limit entries across tickers, newest first.
func (j *Journal) Recent(limit int) []Entry {
	all := j.filter(func(Entry) bool { return true })
	sort.SliceStable(all, func(a, b int) bool { return all[a].Timestamp.After(all[b].Timestamp) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Tickers lists every ticker with at least one entry.
func (j *Journal) Tickers() []string {
	j.mu.RLock()
	seen := make(map[string]struct{})
	for _, e := range j.entries {
		seen[e.Ticker] = struct{}{}
	}
	j.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (j *Journal) filter(keep func(Entry) bool) []Entry {
	j.mu.RLock()
	out := make([]Entry, 0)
	for _, e := range j.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	j.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if !out[a].Date.Equal(out[b].Date) {
			return out[a].Date.Before(out[b].Date)
		}
		return out[a].Ticker < out[b].Ticker
	})
	return out
}

func (j *Journal) outcome(acc float64) Outcome {
	if acc >= j.threshold {
		return OutcomeAccurate
	}
	return OutcomeRootCauseNeeded
}

func (j *Journal) append(ctx context.Context, kind EventKind, entry Entry) error {
	ev := Event{ID: uuid.NewString(), Kind: kind, At: entry.Timestamp, Entry: entry}
	if err := j.store.Append(ctx, ev); err != nil {
		j.logger.Error().Err(err).Str("ticker", entry.Ticker).Str("kind", string(kind)).Msg("journal append failed")
		return fmt.Errorf("%w: append %s: %v", ErrJournalUnavailable, kind, err)
	}

	j.mu.Lock()
	j.entries[key(entry.Ticker, entry.Date)] = entry
	j.mu.Unlock()
	return nil
}

func (j *Journal) get(k string) (Entry, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	e, ok := j.entries[k]
	return e, ok
}

func (j *Journal) lock(k string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k))
	m := &j.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

// Accuracy is 100 * (1 - |actual-predicted| / |actual|), clamped to [0, 100].
func Accuracy(predicted, actual decimal.Decimal) float64 {
	if actual.IsZero() {
		return 0
	}
	miss := actual.Sub(predicted).Abs().Div(actual.Abs())
	acc := decimal.NewFromInt(1).Sub(miss).Mul(decimal.NewFromInt(100)).InexactFloat64()
	switch {
	case acc < 0:
		return 0
	case acc > 100:
		return 100
	}
	return acc
}

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// Day truncates t to its calendar date, expressed at UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func key(ticker string, date time.Time) string {
	return ticker + "|" + date.Format(time.DateOnly)
}
