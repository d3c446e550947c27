package engine

import (
	"context"
	"fmt"

	"starbridge/internal/domain"
	"starbridge/internal/repo"
)

// EventQuery selects a page of a ship's event log.
type EventQuery struct {
	AfterID     int64
	Limit       int
	Type        string
	Transmitted *bool
}

const maxEventPage = 500

func (e Engine) ListEvents(ctx context.Context, shipID string, q EventQuery) ([]domain.Event, error) {
	if err := e.ensureShip(ctx, nil, shipID); err != nil {
		return nil, err
	}
	if q.Limit <= 0 || q.Limit > maxEventPage {
		q.Limit = maxEventPage
	}
	return e.Repo.ListEvents(ctx, nil, repo.EventFilters{
		ShipID:      shipID,
		Type:        q.Type,
		AfterID:     q.AfterID,
		Transmitted: q.Transmitted,
		Limit:       q.Limit,
	})
}

// SetEventTransmitted toggles GM visibility of an event for players.
func (e Engine) SetEventTransmitted(ctx context.Context, shipID string, id int64, transmitted bool) (domain.Event, error) {
	evt, err := e.Repo.GetEvent(ctx, nil, id)
	if err != nil {
		return evt, err
	}
	if evt.ShipID != shipID {
		return domain.Event{}, fmt.Errorf("event %d: %w", id, repo.ErrNotFound)
	}
	if err := e.Repo.SetEventTransmitted(ctx, nil, id, transmitted); err != nil {
		return domain.Event{}, err
	}
	evt.Transmitted = transmitted
	return evt, nil
}
