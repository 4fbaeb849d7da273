package ingest

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tracklet/tracklet/internal/errors"
	"github.com/tracklet/tracklet/internal/schema"
	"github.com/tracklet/tracklet/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{
		Path:         filepath.Join(t.TempDir(), "events.db"),
		BusyTimeout:  time.Second,
		ReadPoolSize: 1,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, schema.Initialize(ctx, st.DB()))

	svc := NewService(st, nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 8, 30, 0, 123456000, time.UTC) }
	return svc, st
}

func count(t *testing.T, st *store.Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, st.DB().Get(&n, `SELECT COUNT(*) FROM `+table))
	return n
}

func track(t *testing.T, svc *Service, body string) (*Result, error) {
	t.Helper()
	p, err := Decode([]byte(body))
	require.NoError(t, err)
	return svc.Track(context.Background(), p)
}

func TestTrack_PageView(t *testing.T) {
	svc, st := newTestService(t)

	res, err := track(t, svc, `{"user_id":"u1","session_id":"s1","events":[{"type":"page_view",
		"timestamp":"2024-01-15T10:00:00.000Z",
		"data":{"url":"https://a","title":"A","referrer":"","viewport":{"width":1024,"height":768}}}]}`)
	require.NoError(t, err)
	require.Len(t, res.EventIDs, 1)

	var row struct {
		URL      sql.NullString `db:"url"`
		Title    sql.NullString `db:"title"`
		Referrer sql.NullString `db:"referrer"`
		Width    sql.NullInt64  `db:"viewport_width"`
		Height   sql.NullInt64  `db:"viewport_height"`
	}
	require.NoError(t, st.DB().Get(&row,
		`SELECT url, title, referrer, viewport_width, viewport_height FROM PageView WHERE event_id = ?`, res.EventIDs[0]))
	assert.Equal(t, "https://a", row.URL.String)
	assert.Equal(t, "A", row.Title.String)
	assert.True(t, row.Referrer.Valid)
	assert.Equal(t, int64(1024), row.Width.Int64)
	assert.Equal(t, int64(768), row.Height.Int64)

	var eventType, ts string
	require.NoError(t, st.DB().QueryRow(
		`SELECT event_type_id, CAST(timestamp AS TEXT) FROM Event WHERE event_id = ?`, res.EventIDs[0]).Scan(&eventType, &ts))
	assert.Equal(t, "page_view", eventType)
	assert.Equal(t, "2024-01-15T10:00:00.000Z", ts)
}

// storedAs reports a column as "<sqlite type>:<text>" so tests can check the
// value kept its JSON type.
func storedAs(t *testing.T, st *store.Store, table, column string, eventID int64) string {
	t.Helper()
	var v string
	require.NoError(t, st.DB().Get(&v,
		`SELECT typeof(`+column+`) || ':' || COALESCE(CAST(`+column+` AS TEXT), '') FROM `+table+` WHERE event_id = ?`, eventID))
	return v
}

func TestTrack_DetailValuesStoredAsSent(t *testing.T) {
	svc, st := newTestService(t)

	res, err := track(t, svc, `{"user_id":"u1","session_id":"s1","events":[
		{"type":"click","data":{"class":"abc","position":{"x":10.5,"y":"abc"},"scroll_position":123.75,"time_on_page":"12.34"}},
		{"type":"page_view","data":{"url":"https://a","viewport":{"width":"wide","height":800.4}}},
		{"type":"page_view","data":{"url":"https://b","viewport":{"width":1280}}}]}`)
	require.NoError(t, err)
	require.Len(t, res.EventIDs, 3)
	click, wide, plain := res.EventIDs[0], res.EventIDs[1], res.EventIDs[2]

	assert.Equal(t, "real:10.5", storedAs(t, st, "Click", "x", click))
	assert.Equal(t, "text:abc", storedAs(t, st, "Click", "y", click))
	assert.Equal(t, "real:123.75", storedAs(t, st, "Click", "scroll_position", click))
	assert.Equal(t, "real:12.34", storedAs(t, st, "Click", "time_on_page", click))
	assert.Equal(t, "text:a,b,c", storedAs(t, st, "Click", "class_list", click))

	assert.Equal(t, "text:wide", storedAs(t, st, "PageView", "viewport_width", wide))
	assert.Equal(t, "real:800.4", storedAs(t, st, "PageView", "viewport_height", wide))
	assert.Equal(t, "integer:1280", storedAs(t, st, "PageView", "viewport_width", plain))
	assert.Equal(t, "null:", storedAs(t, st, "PageView", "viewport_height", plain))
}

func TestTrack_UnknownTypeHasNoDetail(t *testing.T) {
	svc, st := newTestService(t)

	res, err := track(t, svc, `{"user_id":"u1","session_id":"s1","events":[{"type":"scroll_depth","data":{"depth":50}}]}`)
	require.NoError(t, err)
	require.Len(t, res.EventIDs, 1)

	assert.Equal(t, 1, count(t, st, `Event`))
	for _, table := range []string{`PageView`, `Click`, `UserNeed`} {
		assert.Zero(t, count(t, st, table), table)
	}
}

func TestTrack_DefaultsTimestampToNow(t *testing.T) {
	svc, st := newTestService(t)

	_, err := track(t, svc, `{"user_id":"u1","session_id":"s1","events":[{"type":"user_need","data":{"message":"help"}}]}`)
	require.NoError(t, err)

	var ts, message string
	require.NoError(t, st.DB().Get(&ts, `SELECT CAST(timestamp AS TEXT) FROM Event`))
	assert.Equal(t, "2024-03-01T08:30:00.123456", ts)
	require.NoError(t, st.DB().Get(&message, `SELECT message FROM UserNeed`))
	assert.Equal(t, "help", message)
}

func TestTrack_BatchKeepsOrderAndReusesIdentity(t *testing.T) {
	svc, st := newTestService(t)

	body := `{"user_id":"u1","session_id":"s1","events":[
		{"type":"page_view","data":{"url":"https://a"}},
		{"type":"click","data":{"class":["btn","primary"],"text":"Buy"}},
		{"type":"user_need","data":{"message":"help"}}]}`

	first, err := track(t, svc, body)
	require.NoError(t, err)
	second, err := track(t, svc, body)
	require.NoError(t, err)

	ids := append(first.EventIDs, second.EventIDs...)
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1])
	}
	assert.Equal(t, 6, count(t, st, `Event`))
	assert.Equal(t, 1, count(t, st, `"User"`))
	assert.Equal(t, 1, count(t, st, `"Session"`))

	var classes string
	require.NoError(t, st.DB().Get(&classes, `SELECT class_list FROM Click WHERE event_id = ?`, first.EventIDs[1]))
	assert.Equal(t, "btn,primary", classes)
}

type failingWriter struct{ err error }

func (f failingWriter) WithBatch(ctx context.Context, fn func(b *store.Batch) error) error {
	return f.err
}

func TestTrack_PropagatesStorageErrors(t *testing.T) {
	storageErr := apperrors.NewStorageError(apperrors.CodeWriteFailed, "disk full", errors.New("io"))
	svc := NewService(failingWriter{err: storageErr}, nil)

	p, err := Decode([]byte(`{"user_id":"u","session_id":"s","events":[{"type":"click"}]}`))
	require.NoError(t, err)

	_, err = svc.Track(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCategoryStorage, apperrors.GetCategory(err))
}

func TestDecodeFailure_WritesNothing(t *testing.T) {
	_, st := newTestService(t)

	_, err := Decode([]byte(`{"user_id":"u1","session_id":"s1","events":[{"type":"click"},{"data":{}}]}`))
	require.Error(t, err)

	assert.Zero(t, count(t, st, `"User"`))
	assert.Zero(t, count(t, st, `Event`))
}
