package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/tracklet/tracklet/internal/errors"
)

const (
	insertUserSQL    = `INSERT OR IGNORE INTO "User" (user_id, created_at) VALUES (?, ?)`
	insertSessionSQL = `INSERT OR IGNORE INTO "Session" (session_id, user_id, start_time) VALUES (?, ?, ?)`
	insertEventSQL   = `INSERT INTO Event (session_id, event_type_id, timestamp) VALUES (?, ?, ?)`

	insertPageViewSQL = `
		INSERT INTO PageView (event_id, url, title, referrer, viewport_width, viewport_height)
		VALUES (:event_id, :url, :title, :referrer, :viewport_width, :viewport_height)`

	insertClickSQL = `
		INSERT INTO Click (event_id, tag, element_id, class_list, text, href, x, y, scroll_position, time_on_page)
		VALUES (:event_id, :tag, :element_id, :class_list, :text, :href, :x, :y, :scroll_position, :time_on_page)`

	insertUserNeedSQL = `INSERT INTO UserNeed (event_id, message) VALUES (:event_id, :message)`
)

// PageView is the detail row of a page_view event. Viewport dimensions hold
// the value as the client sent it: int64, float64, string, bool or nil.
type PageView struct {
	EventID        int64          `db:"event_id"`
	URL            sql.NullString `db:"url"`
	Title          sql.NullString `db:"title"`
	Referrer       sql.NullString `db:"referrer"`
	ViewportWidth  any            `db:"viewport_width"`
	ViewportHeight any            `db:"viewport_height"`
}

// Click is the detail row of a click event. ClassList is the element's class
// names joined with ",", empty when the client sent none. Position, scroll
// and time fields are stored as sent, like PageView's viewport.
type Click struct {
	EventID        int64          `db:"event_id"`
	Tag            sql.NullString `db:"tag"`
	ElementID      sql.NullString `db:"element_id"`
	ClassList      string         `db:"class_list"`
	Text           sql.NullString `db:"text"`
	Href           sql.NullString `db:"href"`
	X              any            `db:"x"`
	Y              any            `db:"y"`
	ScrollPosition any            `db:"scroll_position"`
	TimeOnPage     any            `db:"time_on_page"`
}

// UserNeed is the detail row of a user_need event.
type UserNeed struct {
	EventID int64          `db:"event_id"`
	Message sql.NullString `db:"message"`
}

// Batch is a write handle scoped to one transaction. It is only valid inside
// the callback passed to WithBatch.
type Batch struct {
	tx *sqlx.Tx
}

// WithBatch runs fn inside a single write transaction. The transaction commits
// if fn returns nil and rolls back otherwise, including when fn panics.
func (s *Store) WithBatch(ctx context.Context, fn func(b *Batch) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin batch", apperrors.CodeWriteFailed, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.log.Warn("Batch rollback failed", "error", rbErr)
			}
		}
	}()

	if err = fn(&Batch{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return classify("commit batch", apperrors.CodeWriteFailed, err)
	}
	return nil
}

// EnsureUser inserts the user if absent.
func (b *Batch) EnsureUser(ctx context.Context, userID string, createdAt time.Time) error {
	if _, err := b.tx.ExecContext(ctx, insertUserSQL, userID, createdAt.UTC().Format(TimeLayout)); err != nil {
		return classify("ensure user", apperrors.CodeWriteFailed, err)
	}
	return nil
}

// EnsureSession inserts the session if absent. The owning user must already
// exist; otherwise the foreign key rejects the row.
func (b *Batch) EnsureSession(ctx context.Context, sessionID, userID string, startTime time.Time) error {
	if _, err := b.tx.ExecContext(ctx, insertSessionSQL, sessionID, userID, startTime.UTC().Format(TimeLayout)); err != nil {
		return classify("ensure session", apperrors.CodeWriteFailed, err)
	}
	return nil
}

// InsertEvent appends one Event row and returns its generated id.
func (b *Batch) InsertEvent(ctx context.Context, sessionID, eventTypeID, timestamp string) (int64, error) {
	res, err := b.tx.ExecContext(ctx, insertEventSQL, sessionID, eventTypeID, timestamp)
	if err != nil {
		return 0, classify("insert event", apperrors.CodeWriteFailed, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, classify("insert event id", apperrors.CodeWriteFailed, err)
	}
	return id, nil
}

func (b *Batch) InsertPageView(ctx context.Context, pv PageView) error {
	if _, err := b.tx.NamedExecContext(ctx, insertPageViewSQL, pv); err != nil {
		return classify("insert page view", apperrors.CodeWriteFailed, err)
	}
	return nil
}

func (b *Batch) InsertClick(ctx context.Context, c Click) error {
	if _, err := b.tx.NamedExecContext(ctx, insertClickSQL, c); err != nil {
		return classify("insert click", apperrors.CodeWriteFailed, err)
	}
	return nil
}

func (b *Batch) InsertUserNeed(ctx context.Context, un UserNeed) error {
	if _, err := b.tx.NamedExecContext(ctx, insertUserNeedSQL, un); err != nil {
		return classify("insert user need", apperrors.CodeWriteFailed, err)
	}
	return nil
}
