package ingest

import (
	"context"
	"time"

	"github.com/tracklet/tracklet/internal/platform/logger"
	"github.com/tracklet/tracklet/internal/store"
	"github.com/tracklet/tracklet/pkg/types"
)

// BatchWriter runs a function inside one write transaction.
type BatchWriter interface {
	WithBatch(ctx context.Context, fn func(b *store.Batch) error) error
}

// Result reports what a successful Track call wrote.
type Result struct {
	EventIDs []int64
}

// Service persists validated payloads.
type Service struct {
	writer BatchWriter
	log    *logger.Logger
	now    func() time.Time
}

// NewService creates an ingestion service writing through w.
func NewService(w BatchWriter, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{writer: w, log: log, now: time.Now}
}

// Track writes the payload's user, session and events in one transaction.
// Either every row is written or none is.
func (s *Service) Track(ctx context.Context, p *Payload) (*Result, error) {
	now := s.now().UTC()
	res := &Result{EventIDs: make([]int64, 0, len(p.Events))}

	err := s.writer.WithBatch(ctx, func(b *store.Batch) error {
		if err := b.EnsureUser(ctx, p.UserID, now); err != nil {
			return err
		}
		if err := b.EnsureSession(ctx, p.SessionID, p.UserID, now); err != nil {
			return err
		}

		for _, ev := range p.Events {
			ts := ev.Timestamp
			if ts == "" {
				ts = now.Format(store.TimeLayout)
			}
			id, err := b.InsertEvent(ctx, p.SessionID, ev.Type, ts)
			if err != nil {
				return err
			}
			if err := writeDetail(ctx, b, id, ev); err != nil {
				return err
			}
			res.EventIDs = append(res.EventIDs, id)
		}
		return nil
	})
	if err != nil {
		s.log.Error("Failed to store events",
			"user_id", p.UserID, "session_id", p.SessionID, "events", len(p.Events), "error", err)
		return nil, err
	}

	s.log.Debug("Stored events", "user_id", p.UserID, "session_id", p.SessionID, "events", len(res.EventIDs))
	return res, nil
}

func writeDetail(ctx context.Context, b *store.Batch, eventID int64, ev Event) error {
	switch ev.Kind {
	case types.KindPageView:
		return b.InsertPageView(ctx, pageViewRow(eventID, ev.Data))
	case types.KindClick:
		return b.InsertClick(ctx, clickRow(eventID, ev.Data))
	case types.KindUserNeed:
		return b.InsertUserNeed(ctx, store.UserNeed{EventID: eventID, Message: text(ev.Data["message"])})
	default:
		return nil
	}
}

func pageViewRow(eventID int64, data map[string]any) store.PageView {
	viewport := object(data["viewport"])
	return store.PageView{
		EventID:        eventID,
		URL:            text(data["url"]),
		Title:          text(data["title"]),
		Referrer:       text(data["referrer"]),
		ViewportWidth:  scalar(viewport["width"]),
		ViewportHeight: scalar(viewport["height"]),
	}
}

func clickRow(eventID int64, data map[string]any) store.Click {
	position := object(data["position"])
	return store.Click{
		EventID:        eventID,
		Tag:            text(data["tag"]),
		ElementID:      text(data["id"]),
		ClassList:      classList(data["class"]),
		Text:           text(data["text"]),
		Href:           text(data["href"]),
		X:              scalar(position["x"]),
		Y:              scalar(position["y"]),
		ScrollPosition: scalar(data["scroll_position"]),
		TimeOnPage:     seconds(data["time_on_page"]),
	}
}
