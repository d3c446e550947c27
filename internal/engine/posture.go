package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"starbridge/internal/domain"
	"starbridge/internal/events"
	"starbridge/internal/repo"
)

const EventPostureChange = "posture_change"

// SetPosture switches the ship posture and replaces its ROE with the
// configured preset.
func (e Engine) SetPosture(ctx context.Context, shipID, posture string) (domain.PostureState, error) {
	unlock := e.lockShip(shipID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PostureState{}, err
	}
	defer tx.Rollback()
	if err := e.ensureShip(ctx, tx, shipID); err != nil {
		return domain.PostureState{}, err
	}
	p, _, err := e.setPostureTx(ctx, tx, shipID, posture)
	if err != nil {
		return domain.PostureState{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PostureState{}, err
	}
	return p, nil
}

func (e Engine) GetPosture(ctx context.Context, shipID string) (domain.PostureState, error) {
	return e.Repo.GetPosture(ctx, nil, shipID)
}

// Postures lists the configured posture names.
func (e Engine) Postures() []string {
	if e.Config == nil {
		return []string{}
	}
	return e.Config.PostureNames()
}

func (e Engine) postureROE(posture string) (map[string]any, error) {
	if e.Config == nil {
		return nil, invalid("no posture presets configured")
	}
	roe, ok := e.Config.PresetFor(posture)
	if !ok {
		return nil, invalid("unknown posture %q (known: %s)", posture, strings.Join(e.Config.PostureNames(), ", "))
	}
	return roe, nil
}

func (e Engine) setPostureTx(ctx context.Context, tx repo.Querier, shipID, posture string) (domain.PostureState, int64, error) {
	posture = strings.TrimSpace(posture)
	roe, err := e.postureROE(posture)
	if err != nil {
		return domain.PostureState{}, 0, err
	}
	now := e.stamp()
	prev, err := e.Repo.GetPosture(ctx, tx, shipID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.PostureState{}, 0, err
	}
	p := domain.PostureState{ShipID: shipID, Posture: posture, ROE: roe, CreatedAt: now, UpdatedAt: now}
	if prev.CreatedAt != "" {
		p.CreatedAt = prev.CreatedAt
	}
	if err := e.Repo.UpsertPosture(ctx, tx, p); err != nil {
		return domain.PostureState{}, 0, err
	}
	msg := fmt.Sprintf("Posture set to %s", posture)
	if prev.Posture != "" {
		msg = fmt.Sprintf("Posture changed from %s to %s", prev.Posture, posture)
	}
	id, err := e.emit(ctx, tx, events.Event{
		ShipID:   shipID,
		Type:     EventPostureChange,
		Severity: domain.SeverityWarning,
		Message:  msg,
		Data: events.EventPayload{
			"old_posture": prev.Posture,
			"new_posture": posture,
			"roe":         roe,
		},
	})
	if err != nil {
		return domain.PostureState{}, 0, err
	}
	return p, id, nil
}
