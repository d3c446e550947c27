package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"starbridge/internal/action"
	"starbridge/internal/domain"
)

const taskColumns = `id,ship_id,title,description,station,status,on_success_json,on_failure_json,on_expire_json,claimed_by,expires_at,completed_at,created_at,updated_at`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var desc, station, claimedBy, expiresAt, completedAt sql.NullString
	var onSuccess, onFailure, onExpire string
	if err := row.Scan(&t.ID, &t.ShipID, &t.Title, &desc, &station, &t.Status, &onSuccess, &onFailure, &onExpire,
		&claimedBy, &expiresAt, &completedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	if desc.Valid {
		t.Description = desc.String
	}
	t.Station = optionalString(station)
	t.ClaimedBy = optionalString(claimedBy)
	t.ExpiresAt = optionalString(expiresAt)
	t.CompletedAt = optionalString(completedAt)
	var err error
	if t.OnSuccess, err = action.Unmarshal(onSuccess); err != nil {
		return t, fmt.Errorf("task %s on_success: %w", t.ID, err)
	}
	if t.OnFailure, err = action.Unmarshal(onFailure); err != nil {
		return t, fmt.Errorf("task %s on_failure: %w", t.ID, err)
	}
	if t.OnExpire, err = action.Unmarshal(onExpire); err != nil {
		return t, fmt.Errorf("task %s on_expire: %w", t.ID, err)
	}
	return t, nil
}

func marshalOutcomes(t domain.Task) (string, string, string, error) {
	s, err := action.Marshal(t.OnSuccess)
	if err != nil {
		return "", "", "", err
	}
	f, err := action.Marshal(t.OnFailure)
	if err != nil {
		return "", "", "", err
	}
	e, err := action.Marshal(t.OnExpire)
	if err != nil {
		return "", "", "", err
	}
	return s, f, e, nil
}

func (r Repo) InsertTask(ctx context.Context, q Querier, t domain.Task) error {
	onSuccess, onFailure, onExpire, err := marshalOutcomes(t)
	if err != nil {
		return err
	}
	_, err = r.q(q).ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ShipID, t.Title, nullable(t.Description), nullableStringPtr(t.Station), t.Status, onSuccess, onFailure, onExpire,
		nullableStringPtr(t.ClaimedBy), nullableStringPtr(t.ExpiresAt), nullableStringPtr(t.CompletedAt), t.CreatedAt, t.UpdatedAt)
	return err
}

// UpdateTask writes the mutable lifecycle columns.
func (r Repo) UpdateTask(ctx context.Context, q Querier, t domain.Task) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE tasks SET status=?, claimed_by=?, completed_at=?, updated_at=? WHERE id=?`,
		t.Status, nullableStringPtr(t.ClaimedBy), nullableStringPtr(t.CompletedAt), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, q Querier, id string) (domain.Task, error) {
	t, err := scanTask(r.q(q).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return t, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

type TaskFilters struct {
	ShipID  string
	Status  string
	Station string
	// ExpiredBefore selects pending or active tasks whose expires_at is
	// before the given RFC3339 timestamp.
	ExpiredBefore string
}

func (r Repo) ListTasks(ctx context.Context, q Querier, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ShipID != "" {
		clauses = append(clauses, "ship_id=?")
		args = append(args, f.ShipID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Station != "" {
		clauses = append(clauses, "station=?")
		args = append(args, f.Station)
	}
	if f.ExpiredBefore != "" {
		clauses = append(clauses, "status IN (?,?)", "expires_at IS NOT NULL", "expires_at < ?")
		args = append(args, domain.TaskPending, domain.TaskActive, f.ExpiredBefore)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"
	rows, err := r.q(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
