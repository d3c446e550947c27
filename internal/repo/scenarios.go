package repo

import (
	"context"
	"database/sql"
	"fmt"

	"starbridge/internal/action"
	"starbridge/internal/domain"
)

const scenarioColumns = `id,ship_id,name,description,actions_json,position,created_at,updated_at`

func scanScenario(row rowScanner) (domain.Scenario, error) {
	var s domain.Scenario
	var desc sql.NullString
	var raw string
	if err := row.Scan(&s.ID, &s.ShipID, &s.Name, &desc, &raw, &s.Position, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return s, err
	}
	if desc.Valid {
		s.Description = desc.String
	}
	actions, err := action.Unmarshal(raw)
	if err != nil {
		return s, fmt.Errorf("scenario %s: %w", s.ID, err)
	}
	s.Actions = actions
	return s, nil
}

func (r Repo) InsertScenario(ctx context.Context, q Querier, s domain.Scenario) error {
	raw, err := action.Marshal(s.Actions)
	if err != nil {
		return err
	}
	_, err = r.q(q).ExecContext(ctx, `INSERT INTO scenarios(`+scenarioColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.ShipID, s.Name, nullable(s.Description), raw, s.Position, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) UpdateScenario(ctx context.Context, q Querier, s domain.Scenario) error {
	raw, err := action.Marshal(s.Actions)
	if err != nil {
		return err
	}
	res, err := r.q(q).ExecContext(ctx, `UPDATE scenarios SET name=?, description=?, actions_json=?, position=?, updated_at=? WHERE id=?`,
		s.Name, nullable(s.Description), raw, s.Position, s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("scenario %s: %w", s.ID, ErrNotFound)
	}
	return nil
}

func (r Repo) GetScenario(ctx context.Context, q Querier, id string) (domain.Scenario, error) {
	s, err := scanScenario(r.q(q).QueryRowContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return s, fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	return s, err
}

func (r Repo) ListScenarios(ctx context.Context, q Querier, shipID string) ([]domain.Scenario, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE ship_id=? ORDER BY position, created_at, id`, shipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Scenario{}
	for rows.Next() {
		s, err := scanScenario(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) DeleteScenario(ctx context.Context, q Querier, id string) error {
	res, err := r.q(q).ExecContext(ctx, `DELETE FROM scenarios WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	return nil
}

// NextScenarioPosition returns the position after the ship's last scenario.
func (r Repo) NextScenarioPosition(ctx context.Context, q Querier, shipID string) (int, error) {
	var pos sql.NullInt64
	if err := r.q(q).QueryRowContext(ctx, `SELECT MAX(position) FROM scenarios WHERE ship_id=?`, shipID).Scan(&pos); err != nil {
		return 0, err
	}
	if !pos.Valid {
		return 0, nil
	}
	return int(pos.Int64) + 1, nil
}
