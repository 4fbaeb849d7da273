// Package dashboard assembles the aggregate view rendered at /.
package dashboard

import (
	"context"

	"github.com/tracklet/tracklet/internal/store"
)

// Snapshotter provides a consistent read view over the event store.
type Snapshotter interface {
	WithReadSnapshot(ctx context.Context, fn func(r *store.Reader) error) error
}

// View is the dashboard view model.
type View struct {
	TotalEvents int64                `json:"total_events"`
	UniqueUsers int64                `json:"unique_users"`
	EventTypes  map[string]int64     `json:"event_types"`
	EventsByDay []store.DayCount     `json:"events_by_day"`
	Events      []store.EventListing `json:"events"`
}

// Service builds dashboard views.
type Service struct {
	store Snapshotter
}

func NewService(s Snapshotter) *Service {
	return &Service{store: s}
}

// Build runs the four aggregate queries against one read snapshot.
func (s *Service) Build(ctx context.Context) (*View, error) {
	view := &View{}
	err := s.store.WithReadSnapshot(ctx, func(r *store.Reader) error {
		counts, err := r.AggregateCounts(ctx)
		if err != nil {
			return err
		}
		view.TotalEvents = counts.TotalEvents
		view.UniqueUsers = counts.UniqueUsers

		if view.EventTypes, err = r.AggregateByType(ctx); err != nil {
			return err
		}
		if view.EventsByDay, err = r.AggregateByDay(ctx); err != nil {
			return err
		}
		view.Events, err = r.ListEvents(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}
