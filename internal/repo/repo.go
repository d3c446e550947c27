package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"starbridge/internal/domain"
	"starbridge/internal/status"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// Querier is satisfied by *sql.DB and *sql.Tx. Every read or write made
// while a transaction is open must go through that transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(q Querier) Querier {
	if q == nil {
		return r.DB
	}
	return q
}

// --- ships ---

func (r Repo) InsertShip(ctx context.Context, q Querier, s domain.Ship) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO ships(id,name,created_at) VALUES (?,?,?)`, s.ID, s.Name, s.CreatedAt)
	return err
}

func (r Repo) GetShip(ctx context.Context, q Querier, id string) (domain.Ship, error) {
	var s domain.Ship
	err := r.q(q).QueryRowContext(ctx, `SELECT id,name,created_at FROM ships WHERE id=?`, id).Scan(&s.ID, &s.Name, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, fmt.Errorf("ship %s: %w", id, ErrNotFound)
	}
	return s, err
}

func (r Repo) ListShips(ctx context.Context, q Querier) ([]domain.Ship, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT id,name,created_at FROM ships ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Ship{}
	for rows.Next() {
		var s domain.Ship
		if err := rows.Scan(&s.ID, &s.Name, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// --- entities ---

func entityTable(kind string) (string, error) {
	switch kind {
	case domain.KindSystem:
		return "system_states", nil
	case domain.KindAsset:
		return "assets", nil
	}
	return "", fmt.Errorf("invalid entity kind %q", kind)
}

const entityColumns = `id,ship_id,kind,name,COALESCE(category,''),status,value,max_value,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (domain.Entity, error) {
	var e domain.Entity
	var st string
	err := row.Scan(&e.ID, &e.ShipID, &e.Kind, &e.Name, &e.Category, &st, &e.Value, &e.MaxValue, &e.CreatedAt, &e.UpdatedAt)
	e.Status = status.Status(st)
	return e, err
}

func (r Repo) InsertEntity(ctx context.Context, q Querier, e domain.Entity) error {
	table, err := entityTable(e.Kind)
	if err != nil {
		return err
	}
	if _, err := r.q(q).ExecContext(ctx, `INSERT INTO `+table+`(id,ship_id,name,category,status,value,max_value,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ShipID, e.Name, nullable(e.Category), string(e.Status), e.Value, e.MaxValue, e.CreatedAt, e.UpdatedAt); err != nil {
		return fmt.Errorf("insert %s: %w", e.Kind, err)
	}
	return r.SetDependencies(ctx, q, e.ID, e.DependsOn)
}

func (r Repo) UpdateEntity(ctx context.Context, q Querier, e domain.Entity) error {
	table, err := entityTable(e.Kind)
	if err != nil {
		return err
	}
	res, err := r.q(q).ExecContext(ctx, `UPDATE `+table+` SET name=?, category=?, status=?, value=?, max_value=?, updated_at=? WHERE id=?`,
		e.Name, nullable(e.Category), string(e.Status), e.Value, e.MaxValue, e.UpdatedAt, e.ID)
	if err != nil {
		return fmt.Errorf("update %s: %w", e.Kind, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", e.Kind, e.ID, ErrNotFound)
	}
	return nil
}

func (r Repo) GetEntity(ctx context.Context, q Querier, id string) (domain.Entity, error) {
	e, err := scanEntity(r.q(q).QueryRowContext(ctx, `SELECT `+entityColumns+` FROM stateful_entities WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return e, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return e, err
	}
	e.DependsOn, err = r.ListDependencies(ctx, q, id)
	return e, err
}

// FindEntity is GetEntity with absence reported as ok=false.
func (r Repo) FindEntity(ctx context.Context, q Querier, id string) (domain.Entity, bool, error) {
	e, err := r.GetEntity(ctx, q, id)
	if errors.Is(err, ErrNotFound) {
		return e, false, nil
	}
	return e, err == nil, err
}

// ListEntities lists a ship's entities; kind "" lists both kinds,
// systems first.
func (r Repo) ListEntities(ctx context.Context, q Querier, shipID, kind string) ([]domain.Entity, error) {
	clauses := []string{"ship_id=?"}
	args := []any{shipID}
	if kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, kind)
	}
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+entityColumns+` FROM stateful_entities WHERE `+strings.Join(clauses, " AND ")+` ORDER BY kind DESC, created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	res := []domain.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, e)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	deps, err := r.shipDependencies(ctx, q, shipID)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].DependsOn = nonNil(deps[res[i].ID])
	}
	return res, nil
}

func (r Repo) DeleteEntity(ctx context.Context, q Querier, kind, id string) error {
	table, err := entityTable(kind)
	if err != nil {
		return err
	}
	res, err := r.q(q).ExecContext(ctx, `DELETE FROM `+table+` WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	_, err = r.q(q).ExecContext(ctx, `DELETE FROM entity_dependencies WHERE entity_id=?`, id)
	return err
}

// SetDependencies replaces the ordered parent list of id.
func (r Repo) SetDependencies(ctx context.Context, q Querier, id string, parents []string) error {
	if _, err := r.q(q).ExecContext(ctx, `DELETE FROM entity_dependencies WHERE entity_id=?`, id); err != nil {
		return err
	}
	for i, p := range parents {
		if _, err := r.q(q).ExecContext(ctx, `INSERT INTO entity_dependencies(entity_id,parent_id,position) VALUES (?,?,?)`, id, p, i); err != nil {
			return fmt.Errorf("add dependency %s -> %s: %w", id, p, err)
		}
	}
	return nil
}

func (r Repo) ListDependencies(ctx context.Context, q Querier, id string) ([]string, error) {
	return r.listIDs(ctx, q, `SELECT parent_id FROM entity_dependencies WHERE entity_id=? ORDER BY position`, id)
}

// ListChildren is the reverse index: ids that directly depend on parentID.
func (r Repo) ListChildren(ctx context.Context, q Querier, parentID string) ([]string, error) {
	return r.listIDs(ctx, q, `SELECT entity_id FROM entity_dependencies WHERE parent_id=? ORDER BY entity_id`, parentID)
}

func (r Repo) listIDs(ctx context.Context, q Querier, query string, arg string) ([]string, error) {
	rows, err := r.q(q).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r Repo) shipDependencies(ctx context.Context, q Querier, shipID string) (map[string][]string, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT d.entity_id, d.parent_id FROM entity_dependencies d
JOIN stateful_entities e ON e.id = d.entity_id
WHERE e.ship_id=? ORDER BY d.entity_id, d.position`, shipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string][]string{}
	for rows.Next() {
		var id, parent string
		if err := rows.Scan(&id, &parent); err != nil {
			return nil, err
		}
		out[id] = append(out[id], parent)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func optionalString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
