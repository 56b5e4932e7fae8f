package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

const (
	defaultReplayCount = 100
	maxReplayCount     = 1000
)

// ErrReplayUnavailable is returned when no event stream is configured.
var ErrReplayUnavailable = fmt.Errorf("event replay is not configured: %w", domain.ErrUnavailable)

// EventService replays settlement events from the stream history.
type EventService struct {
	bus domain.SignalBus
}

// NewEventService creates an EventService. bus may be nil, in which case
// Replay fails with ErrReplayUnavailable.
func NewEventService(bus domain.SignalBus) *EventService {
	return &EventService{bus: bus}
}

// Replay returns up to count events recorded after the stream ID after. An
// empty after starts from the oldest retained event.
func (s *EventService) Replay(ctx context.Context, after string, count int) ([]domain.StreamMessage, error) {
	if s.bus == nil {
		return nil, fmt.Errorf("event_service: %w", ErrReplayUnavailable)
	}
	switch {
	case count <= 0:
		count = defaultReplayCount
	case count > maxReplayCount:
		count = maxReplayCount
	}
	if after == "" {
		after = "0"
	}
	msgs, err := s.bus.StreamRead(ctx, domain.StreamSettlement, after, count)
	if err != nil {
		return nil, fmt.Errorf("event_service: replay after %s: %w", after, err)
	}
	return msgs, nil
}
