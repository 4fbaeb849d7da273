// Package ingest turns tracker payloads into rows in the event store.
package ingest

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"

	apperrors "github.com/tracklet/tracklet/internal/errors"
	"github.com/tracklet/tracklet/pkg/types"
)

// Payload is a validated /track request body.
type Payload struct {
	UserID    string
	SessionID string
	Events    []Event
}

// Event is one entry of the payload's events list. Timestamp is empty when
// the client did not send one.
type Event struct {
	Type      string
	Kind      types.EventKind
	Timestamp string
	Data      map[string]any
}

// Decode parses and validates a /track body. The body is treated as JSON
// whatever its declared content type.
func Decode(body []byte) (*Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidJSON, "invalid json")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidJSON, "invalid json")
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidJSON, "invalid json")
	}

	userID := text(obj["user_id"])
	sessionID := text(obj["session_id"])
	entries, _ := obj["events"].([]any)
	if !userID.Valid || userID.String == "" || !sessionID.Valid || sessionID.String == "" || len(entries) == 0 {
		return nil, apperrors.NewValidationError(apperrors.CodeMissingFields, "missing required fields")
	}

	p := &Payload{
		UserID:    userID.String,
		SessionID: sessionID.String,
		Events:    make([]Event, 0, len(entries)),
	}
	for i, entry := range entries {
		ev, err := decodeEvent(entry)
		if err != nil {
			return nil, err.WithDetails(map[string]interface{}{"index": i})
		}
		p.Events = append(p.Events, ev)
	}
	return p, nil
}

func decodeEvent(entry any) (Event, *apperrors.TrackletError) {
	obj, ok := entry.(map[string]any)
	if !ok {
		return Event{}, apperrors.NewValidationError(apperrors.CodeInvalidEvent, "invalid event")
	}

	typ := text(obj["type"])
	if !typ.Valid || typ.String == "" {
		return Event{}, apperrors.NewValidationError(apperrors.CodeInvalidEvent, "missing event type")
	}

	data, ok := obj["data"].(map[string]any)
	if !ok {
		data = map[string]any{}
	}

	return Event{
		Type:      typ.String,
		Kind:      types.ParseEventKind(typ.String),
		Timestamp: text(obj["timestamp"]).String,
		Data:      data,
	}, nil
}

// text coerces scalar JSON values to text. Objects, arrays and null are NULL.
func text(v any) sql.NullString {
	switch x := v.(type) {
	case string:
		return sql.NullString{String: x, Valid: true}
	case json.Number:
		return sql.NullString{String: x.String(), Valid: true}
	case float64:
		return sql.NullString{String: strconv.FormatFloat(x, 'f', -1, 64), Valid: true}
	case bool:
		return sql.NullString{String: strconv.FormatBool(x), Valid: true}
	default:
		return sql.NullString{}
	}
}

// scalar returns a JSON scalar as the driver value it binds to: integral
// numbers as int64, other numbers as float64, strings and booleans unchanged.
// Objects, arrays and null are nil.
func scalar(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil && !math.IsInf(f, 0) {
			return f
		}
		return x.String()
	case float64:
		return x
	case int:
		return int64(x)
	case string, bool:
		return x
	default:
		return nil
	}
}

// seconds is scalar, except that numeric strings become REAL; the browser
// tracker sends time_on_page pre-formatted.
func seconds(v any) any {
	if s, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	}
	return scalar(v)
}

// classList joins the element's class names with ",". A bare string is a
// sequence of characters, so "ab" joins to "a,b". Anything else yields "".
func classList(v any) string {
	switch x := v.(type) {
	case string:
		return strings.Join(strings.Split(x, ""), ",")
	case []string:
		return strings.Join(x, ",")
	case []any:
		names := make([]string, 0, len(x))
		for _, item := range x {
			if s := text(item); s.Valid {
				names = append(names, s.String)
			}
		}
		return strings.Join(names, ",")
	default:
		return ""
	}
}

func object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
