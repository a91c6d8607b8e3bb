package services

import (
	"context"
	"fmt"

	"github.com/sovd/cmdexec/ent"
	"github.com/sovd/cmdexec/ent/event"
)

// EventService reads the durable events table backing WebSocket catch-up.
// Writes happen directly through events.EventPublisher (which needs the
// raw *sql.DB to share a transaction with pg_notify); this service only
// ever reads.
type EventService struct {
	client *ent.Client
}

// NewEventService creates a new EventService.
func NewEventService(client *ent.Client) *EventService {
	return &EventService{client: client}
}

// GetEventsSince returns channel's events with id > sinceID, ordered by id
// ascending, capped at limit. Implements the query half of pkg/events'
// CatchupQuerier contract (via EventServiceAdapter).
func (s *EventService) GetEventsSince(ctx context.Context, channel string, sinceID, limit int) ([]*ent.Event, error) {
	query := s.client.Event.Query().
		Where(event.ChannelEQ(channel))

	if sinceID > 0 {
		query = query.Where(event.IDGT(sinceID))
	}

	events, err := query.
		Order(ent.Asc(event.FieldID)).
		Limit(limit).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("get events since %d on channel %s: %w", sinceID, channel, err)
	}
	return events, nil
}
