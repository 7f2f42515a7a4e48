package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"price-forecast/internal/journal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

//go:embed migrations/001_journal_events.sql
var schemaSQL string

const (
	insertEventSQL = `INSERT INTO journal_events (
        id,
        kind,
        ticker,
        entry_date,
        predicted_price,
        actual_price,
        accuracy_pct,
        geo_risk_score,
        volume_spike_ratio,
        earnings_flag,
        lesson,
        status,
        outcome,
        confidence,
        model_version,
        event_at
    ) VALUES (
        $1,$2,$3,$4,$5::numeric,$6::numeric,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
    );`

	listEventsSQL = `SELECT
        id::text,
        kind,
        ticker,
        entry_date,
        predicted_price::text,
        actual_price::text,
        accuracy_pct,
        geo_risk_score,
        volume_spike_ratio,
        earnings_flag,
        lesson,
        status,
        outcome,
        confidence,
        model_version,
        event_at
    FROM journal_events
    ORDER BY seq;`

	countEventsSQL = `SELECT COUNT(*) FROM journal_events;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_xact_lock($1);`
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store persists journal events in PostgreSQL.
type Store struct {
	db DB
}

// NewStore wires a pgx pool (or compatible) into a Store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	if c, ok := s.db.(interface{ Close() }); ok {
		c.Close()
	}
}

func (s *Store) getDB() (DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// EnsureSchema creates the journal table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock takes a transaction-scoped advisory lock. The returned
// unlock ends the transaction, releasing the lock.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin lock transaction: %w", err)
	}

	var acquired bool
	if err := tx.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		_ = tx.Rollback(ctx)
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		_ = tx.Rollback(ctx)
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// rollback releases xact locks; nothing else happened in this tx
		_ = tx.Rollback(ctxUnlock)
	}
	return unlock, true, nil
}

// Append inserts one journal event.
func (s *Store) Append(ctx context.Context, ev journal.Event) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	e := ev.Entry
	var actual, accuracy, lesson, outcome, modelVersion interface{}
	if e.Actual != nil {
		actual = e.Actual.String()
	}
	if e.Accuracy != nil {
		accuracy = *e.Accuracy
	}
	if e.Lesson != "" {
		lesson = e.Lesson
	}
	if e.Outcome != "" {
		outcome = string(e.Outcome)
	}
	if e.ModelVersion != "" {
		modelVersion = e.ModelVersion
	}

	_, execErr := db.Exec(ctx, insertEventSQL,
		ev.ID,
		string(ev.Kind),
		e.Ticker,
		e.Date,
		e.Predicted.String(),
		actual,
		accuracy,
		e.GeoRisk,
		e.VolumeSpike,
		e.Earnings,
		lesson,
		string(e.Status),
		outcome,
		e.Confidence,
		modelVersion,
		ev.At,
	)
	if execErr != nil {
		return fmt.Errorf("insert journal event: %w", execErr)
	}
	return nil
}

// Load returns every event in append order.
func (s *Store) Load(ctx context.Context) ([]journal.Event, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, queryErr := db.Query(ctx, listEventsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list journal events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]journal.Event, 0)
	for rows.Next() {
		ev, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, ev)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// CountEvents counts stored events.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := db.QueryRow(ctx, countEventsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count journal events: %w", scanErr)
	}
	return count, nil
}

func scanEvent(rows pgx.Rows) (journal.Event, error) {
	var (
		id           string
		kind         string
		ticker       string
		entryDate    time.Time
		predictedStr string
		actualStr    sql.NullString
		accuracy     sql.NullFloat64
		geoRisk      float64
		volumeSpike  float64
		earnings     bool
		lesson       sql.NullString
		status       string
		outcome      sql.NullString
		confidence   float64
		modelVersion sql.NullString
		eventAt      time.Time
	)

	if err := rows.Scan(
		&id,
		&kind,
		&ticker,
		&entryDate,
		&predictedStr,
		&actualStr,
		&accuracy,
		&geoRisk,
		&volumeSpike,
		&earnings,
		&lesson,
		&status,
		&outcome,
		&confidence,
		&modelVersion,
		&eventAt,
	); err != nil {
		return journal.Event{}, fmt.Errorf("scan journal event: %w", err)
	}

	predicted, err := decimal.NewFromString(predictedStr)
	if err != nil {
		return journal.Event{}, fmt.Errorf("parse predicted price: %w", err)
	}

	entry := journal.Entry{
		Ticker:       ticker,
		Date:         journal.Day(entryDate),
		Predicted:    predicted,
		GeoRisk:      geoRisk,
		VolumeSpike:  volumeSpike,
		Earnings:     earnings,
		Lesson:       lesson.String,
		Status:       journal.Status(status),
		Outcome:      journal.Outcome(outcome.String),
		Confidence:   confidence,
		ModelVersion: modelVersion.String,
		Timestamp:    eventAt,
	}
	if actualStr.Valid {
		actual, err := decimal.NewFromString(actualStr.String)
		if err != nil {
			return journal.Event{}, fmt.Errorf("parse actual price: %w", err)
		}
		entry.Actual = &actual
	}
	if accuracy.Valid {
		value := accuracy.Float64
		entry.Accuracy = &value
	}

	return journal.Event{
		ID:    id,
		Kind:  journal.EventKind(kind),
		At:    eventAt,
		Entry: entry,
	}, nil
}

var (
	_ journal.EventStore = (*Store)(nil)
	_ AdvisoryLocker     = (*Store)(nil)
)
