package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"starbridge/internal/domain"
)

func (r Repo) GetPosture(ctx context.Context, q Querier, shipID string) (domain.PostureState, error) {
	var p domain.PostureState
	var raw string
	err := r.q(q).QueryRowContext(ctx, `SELECT ship_id,posture,roe_json,created_at,updated_at FROM posture_states WHERE ship_id=?`, shipID).
		Scan(&p.ShipID, &p.Posture, &raw, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, fmt.Errorf("posture for ship %s: %w", shipID, ErrNotFound)
	}
	if err != nil {
		return p, err
	}
	p.ROE = map[string]any{}
	if err := json.Unmarshal([]byte(raw), &p.ROE); err != nil {
		return p, fmt.Errorf("posture roe: %w", err)
	}
	return p, nil
}

// UpsertPosture replaces the ship's posture row. The stored ROE is exactly
// p.ROE; nothing from the previous row is merged in.
func (r Repo) UpsertPosture(ctx context.Context, q Querier, p domain.PostureState) error {
	roe := p.ROE
	if roe == nil {
		roe = map[string]any{}
	}
	raw, err := json.Marshal(roe)
	if err != nil {
		return fmt.Errorf("marshal roe: %w", err)
	}
	_, err = r.q(q).ExecContext(ctx, `INSERT INTO posture_states(ship_id,posture,roe_json,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(ship_id) DO UPDATE SET posture=excluded.posture, roe_json=excluded.roe_json, updated_at=excluded.updated_at`,
		p.ShipID, p.Posture, string(raw), p.CreatedAt, p.UpdatedAt)
	return err
}
