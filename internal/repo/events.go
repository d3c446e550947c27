package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"starbridge/internal/domain"
)

const eventColumns = `id,ship_id,type,severity,message,data_json,transmitted,created_at`

func scanEvent(row rowScanner) (domain.Event, error) {
	var e domain.Event
	var raw string
	var transmitted int
	if err := row.Scan(&e.ID, &e.ShipID, &e.Type, &e.Severity, &e.Message, &raw, &transmitted, &e.CreatedAt); err != nil {
		return e, err
	}
	e.Transmitted = transmitted != 0
	e.Data = map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Data); err != nil {
			return e, fmt.Errorf("event %d data: %w", e.ID, err)
		}
	}
	return e, nil
}

type EventFilters struct {
	ShipID      string
	Type        string
	AfterID     int64
	Transmitted *bool
	Limit       int
}

// ListEvents returns events in id order, oldest first, so a poller can pass
// the last id it saw as AfterID.
func (r Repo) ListEvents(ctx context.Context, q Querier, f EventFilters) ([]domain.Event, error) {
	var clauses []string
	var args []any
	if f.ShipID != "" {
		clauses = append(clauses, "ship_id=?")
		args = append(args, f.ShipID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.AfterID > 0 {
		clauses = append(clauses, "id > ?")
		args = append(args, f.AfterID)
	}
	if f.Transmitted != nil {
		clauses = append(clauses, "transmitted=?")
		args = append(args, boolInt(*f.Transmitted))
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) GetEvent(ctx context.Context, q Querier, id int64) (domain.Event, error) {
	e, err := scanEvent(r.q(q).QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return e, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	return e, err
}

// SetEventTransmitted flips the only mutable column of the log.
func (r Repo) SetEventTransmitted(ctx context.Context, q Querier, id int64, transmitted bool) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE events SET transmitted=? WHERE id=?`, boolInt(transmitted), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
