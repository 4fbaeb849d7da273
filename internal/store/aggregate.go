package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/tracklet/tracklet/internal/errors"
)

const (
	countsSQL = `
		SELECT
			(SELECT COUNT(*) FROM Event) AS total_events,
			(SELECT COUNT(DISTINCT user_id) FROM "Session") AS unique_users`

	byTypeSQL = `SELECT event_type_id, COUNT(*) AS count FROM Event GROUP BY event_type_id`

	byDaySQL = `
		SELECT COALESCE(DATE(timestamp), '') AS day, COUNT(*) AS count
		FROM Event
		GROUP BY DATE(timestamp)
		ORDER BY DATE(timestamp) DESC`

	// Only page view URLs and click texts are shown; user_need messages are
	// not part of the listing.
	listEventsSQL = `
		SELECT
			e.event_id,
			COALESCE(s.user_id, '') AS user_id,
			e.event_type_id,
			COALESCE(pv.url, cl.text, '') AS display_text,
			CAST(e.timestamp AS TEXT) AS timestamp
		FROM Event e
		LEFT JOIN "Session" s ON e.session_id = s.session_id
		LEFT JOIN PageView pv ON e.event_id = pv.event_id
		LEFT JOIN Click cl ON e.event_id = cl.event_id
		ORDER BY e.timestamp DESC, e.event_id DESC`
)

// Counts holds the headline dashboard numbers.
type Counts struct {
	TotalEvents int64 `db:"total_events" json:"total_events"`
	UniqueUsers int64 `db:"unique_users" json:"unique_users"`
}

// DayCount is the number of events recorded on one calendar date. Date is
// empty for events whose timestamp is not a recognizable date.
type DayCount struct {
	Date  string `db:"day" json:"date"`
	Count int64  `db:"count" json:"count"`
}

// EventListing is one row of the dashboard event table.
type EventListing struct {
	EventID     int64  `db:"event_id" json:"event_id"`
	UserID      string `db:"user_id" json:"user_id"`
	EventType   string `db:"event_type_id" json:"event_type"`
	DisplayText string `db:"display_text" json:"data"`
	Timestamp   string `db:"timestamp" json:"timestamp"`
}

type typeCount struct {
	EventType string `db:"event_type_id"`
	Count     int64  `db:"count"`
}

// Reader runs aggregate queries against either the read pool or a read
// transaction.
type Reader struct {
	q sqlx.QueryerContext
}

// Reader returns a reader over the shared read pool.
func (s *Store) Reader() *Reader {
	return &Reader{q: s.readDB}
}

// WithReadSnapshot runs fn against a single read transaction so every query
// observes the same committed state.
func (s *Store) WithReadSnapshot(ctx context.Context, fn func(r *Reader) error) error {
	tx, err := s.readDB.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return classify("begin read snapshot", apperrors.CodeQueryFailed, err)
	}
	defer tx.Rollback()
	return fn(&Reader{q: tx})
}

func (s *Store) AggregateCounts(ctx context.Context) (Counts, error) {
	return s.Reader().AggregateCounts(ctx)
}

func (s *Store) AggregateByType(ctx context.Context) (map[string]int64, error) {
	return s.Reader().AggregateByType(ctx)
}

func (s *Store) AggregateByDay(ctx context.Context) ([]DayCount, error) {
	return s.Reader().AggregateByDay(ctx)
}

func (s *Store) ListEvents(ctx context.Context) ([]EventListing, error) {
	return s.Reader().ListEvents(ctx)
}

// AggregateCounts returns the total number of events and the number of
// distinct users that own at least one session.
func (r *Reader) AggregateCounts(ctx context.Context) (Counts, error) {
	var c Counts
	if err := sqlx.GetContext(ctx, r.q, &c, countsSQL); err != nil {
		return Counts{}, classify("aggregate counts", apperrors.CodeQueryFailed, err)
	}
	return c, nil
}

// AggregateByType returns the number of events per event_type_id.
func (r *Reader) AggregateByType(ctx context.Context) (map[string]int64, error) {
	var rows []typeCount
	if err := sqlx.SelectContext(ctx, r.q, &rows, byTypeSQL); err != nil {
		return nil, classify("aggregate by type", apperrors.CodeQueryFailed, err)
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.EventType] = row.Count
	}
	return out, nil
}

// AggregateByDay returns per-date event counts, most recent date first.
func (r *Reader) AggregateByDay(ctx context.Context) ([]DayCount, error) {
	days := []DayCount{}
	if err := sqlx.SelectContext(ctx, r.q, &days, byDaySQL); err != nil {
		return nil, classify("aggregate by day", apperrors.CodeQueryFailed, err)
	}
	return days, nil
}

// ListEvents returns every event, newest first.
func (r *Reader) ListEvents(ctx context.Context) ([]EventListing, error) {
	events := []EventListing{}
	if err := sqlx.SelectContext(ctx, r.q, &events, listEventsSQL); err != nil {
		return nil, classify("list events", apperrors.CodeQueryFailed, err)
	}
	return events, nil
}
