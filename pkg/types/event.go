// Package types provides core data types shared by Tracklet packages.
package types

// EventKind is the closed set of event types the collector knows how to
// persist detail rows for. Anything else is KindUnknown and is stored as a
// bare Event row carrying the client's raw type string.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindPageView
	KindClick
	KindUserNeed
)

// Event type identifiers as stored in EventType.event_type_id.
const (
	EventTypePageView = "page_view"
	EventTypeClick    = "click"
	EventTypeUserNeed = "user_need"
)

// SeededEventTypes lists the rows the schema manager seeds into EventType.
var SeededEventTypes = []string{EventTypePageView, EventTypeClick, EventTypeUserNeed}

// ParseEventKind maps a client-supplied type string to its kind.
func ParseEventKind(s string) EventKind {
	switch s {
	case EventTypePageView:
		return KindPageView
	case EventTypeClick:
		return KindClick
	case EventTypeUserNeed:
		return KindUserNeed
	default:
		return KindUnknown
	}
}

// String returns the event_type_id for known kinds and "unknown" otherwise.
func (k EventKind) String() string {
	switch k {
	case KindPageView:
		return EventTypePageView
	case KindClick:
		return EventTypeClick
	case KindUserNeed:
		return EventTypeUserNeed
	default:
		return "unknown"
	}
}

// HasDetail reports whether events of this kind carry a detail row.
func (k EventKind) HasDetail() bool {
	return k != KindUnknown
}
