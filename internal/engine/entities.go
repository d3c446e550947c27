package engine

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"starbridge/internal/depgraph"
	"starbridge/internal/domain"
	"starbridge/internal/events"
	"starbridge/internal/metrics"
	"starbridge/internal/repo"
	"starbridge/internal/status"
)

// Event types emitted by state mutation.
const (
	EventStatusChange   = "status_change"
	EventCascadeFailure = "cascade_failure"
	EventSystemsReset   = "systems_reset"
)

func validKind(kind string) bool {
	return kind == domain.KindSystem || kind == domain.KindAsset
}

func notFound(kind, id string) error {
	if kind == "" {
		kind = "entity"
	}
	return fmt.Errorf("%s %s: %w", kind, id, repo.ErrNotFound)
}

func (e Engine) lookup(ctx context.Context, q repo.Querier) depgraph.Lookup {
	return func(id string) (depgraph.Node, bool, error) {
		ent, ok, err := e.Repo.FindEntity(ctx, q, id)
		if err != nil || !ok {
			return depgraph.Node{}, false, err
		}
		return ent.Node(), true, nil
	}
}

func (e Engine) children(ctx context.Context, q repo.Querier) depgraph.Children {
	return func(id string) ([]string, error) {
		return e.Repo.ListChildren(ctx, q, id)
	}
}

func (e Engine) state(r *depgraph.Resolver, ent domain.Entity) (domain.EntityState, error) {
	res, err := r.Resolve(ent.Node())
	if err != nil {
		return domain.EntityState{}, err
	}
	if res.Cycle != nil {
		metrics.DependencyCycles.Inc()
		e.log().Warn("dependency cycle skipped", "entity", ent.ID, "cycle", strings.Join(res.Cycle, " -> "))
	}
	return domain.EntityState{Entity: ent, EffectiveStatus: res.Status, LimitingParent: res.LimitingParent}, nil
}

// statusValue applies the bidirectional status/value rule for a write.
// st and val are the caller-supplied halves; nil means not supplied.
func statusValue(curStatus status.Status, curValue, maxValue float64, st *string, val *float64) (status.Status, float64, error) {
	var s status.Status
	if st != nil {
		parsed, err := status.Parse(*st)
		if err != nil {
			return "", 0, invalid("%v", err)
		}
		s = parsed
	}
	if val != nil {
		v := *val
		if math.IsNaN(v) || v < 0 || v > maxValue {
			return "", 0, invalid("value %g outside [0, %g]", v, maxValue)
		}
	}
	var v float64
	switch {
	case st != nil && val != nil:
		v = *val
	case st != nil:
		v = status.ValueFor(s, maxValue)
	case val != nil:
		v = *val
		s = status.FromValue(v, maxValue)
	default:
		s, v = curStatus, curValue
		if v > maxValue {
			v = maxValue
			s = status.FromValue(v, maxValue)
		}
	}
	if s == status.Offline {
		v = 0
	}
	return s, v, nil
}

// validateDeps normalizes a depends_on list for ent and rejects unknown,
// foreign, self or cycle-closing parents.
func (e Engine) validateDeps(ctx context.Context, q repo.Querier, ent domain.Entity, deps []string) ([]string, error) {
	out := make([]string, 0, len(deps))
	for _, d := range deps {
		d = strings.TrimSpace(d)
		if d == "" {
			return nil, invalid("depends_on contains an empty id")
		}
		if d == ent.ID {
			return nil, invalid("%s cannot depend on itself", ent.ID)
		}
		if slices.Contains(out, d) {
			continue
		}
		parent, ok, err := e.Repo.FindEntity(ctx, q, d)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, invalid("depends_on references unknown entity %s", d)
		}
		if parent.ShipID != ent.ShipID {
			return nil, invalid("depends_on references %s on another ship", d)
		}
		out = append(out, d)
	}
	cyclic, err := depgraph.WouldCycle(ent.ID, out, e.lookup(ctx, q))
	if err != nil {
		return nil, err
	}
	if cyclic {
		return nil, invalid("depends_on for %s would form a cycle", ent.ID)
	}
	return out, nil
}

// EntityCreateOptions are parameters for creating a system or asset.
type EntityCreateOptions struct {
	ShipID    string
	Kind      string
	ID        string
	Name      string
	Category  string
	Status    *string
	Value     *float64
	MaxValue  float64
	DependsOn []string
}

func (e Engine) CreateEntity(ctx context.Context, opts EntityCreateOptions) (domain.EntityState, error) {
	if !validKind(opts.Kind) {
		return domain.EntityState{}, invalid("kind must be system or asset")
	}
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		return domain.EntityState{}, invalid("name is required")
	}
	if !(opts.MaxValue > 0) {
		return domain.EntityState{}, invalid("max_value must be positive")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	unlock := e.lockShip(opts.ShipID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.EntityState{}, err
	}
	defer tx.Rollback()
	if err := e.ensureShip(ctx, tx, opts.ShipID); err != nil {
		return domain.EntityState{}, err
	}
	if _, exists, err := e.Repo.FindEntity(ctx, tx, opts.ID); err != nil {
		return domain.EntityState{}, err
	} else if exists {
		return domain.EntityState{}, conflict("entity %s already exists", opts.ID)
	}
	st, v, err := statusValue(status.Optimal, opts.MaxValue, opts.MaxValue, opts.Status, opts.Value)
	if err != nil {
		return domain.EntityState{}, err
	}
	now := e.stamp()
	ent := domain.Entity{
		ID: opts.ID, ShipID: opts.ShipID, Kind: opts.Kind, Name: opts.Name,
		Category: strings.TrimSpace(opts.Category), Status: st, Value: v, MaxValue: opts.MaxValue,
		CreatedAt: now, UpdatedAt: now,
	}
	if ent.DependsOn, err = e.validateDeps(ctx, tx, ent, opts.DependsOn); err != nil {
		return domain.EntityState{}, err
	}
	if err := e.Repo.InsertEntity(ctx, tx, ent); err != nil {
		return domain.EntityState{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EntityState{}, err
	}
	return e.state(depgraph.New(e.lookup(ctx, nil)), ent)
}

// GetEntityState reads one entity with its derived effective status. An
// empty kind matches both systems and assets.
func (e Engine) GetEntityState(ctx context.Context, shipID, kind, id string) (domain.EntityState, error) {
	ent, ok, err := e.Repo.FindEntity(ctx, nil, id)
	if err != nil {
		return domain.EntityState{}, err
	}
	if !ok || ent.ShipID != shipID || (kind != "" && ent.Kind != kind) {
		return domain.EntityState{}, notFound(kind, id)
	}
	return e.state(depgraph.New(e.lookup(ctx, nil)), ent)
}

// ListEntityStates resolves every entity of a ship against one snapshot.
func (e Engine) ListEntityStates(ctx context.Context, shipID, kind string) ([]domain.EntityState, error) {
	if err := e.ensureShip(ctx, nil, shipID); err != nil {
		return nil, err
	}
	all, err := e.Repo.ListEntities(ctx, nil, shipID, "")
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Entity, len(all))
	for _, ent := range all {
		byID[ent.ID] = ent
	}
	r := depgraph.New(func(id string) (depgraph.Node, bool, error) {
		ent, ok := byID[id]
		return ent.Node(), ok, nil
	})
	out := []domain.EntityState{}
	for _, ent := range all {
		if kind != "" && ent.Kind != kind {
			continue
		}
		st, err := e.state(r, ent)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// DeleteEntity removes the entity and its own dependency rows. Children
// keep their reference, which resolution then ignores.
func (e Engine) DeleteEntity(ctx context.Context, shipID, kind, id string) error {
	unlock := e.lockShip(shipID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ent, ok, err := e.Repo.FindEntity(ctx, tx, id)
	if err != nil {
		return err
	}
	if !ok || ent.ShipID != shipID || (kind != "" && ent.Kind != kind) {
		return notFound(kind, id)
	}
	if err := e.Repo.DeleteEntity(ctx, tx, ent.Kind, id); err != nil {
		return err
	}
	return tx.Commit()
}

// EntityPatch is a partial update. Nil fields are left alone.
type EntityPatch struct {
	Name      *string
	Category  *string
	Status    *string
	Value     *float64
	MaxValue  *float64
	DependsOn *[]string
	// Quiet suppresses status_change and cascade events.
	Quiet bool
}

// UpdateEntity applies patch to one entity in a single transaction.
func (e Engine) UpdateEntity(ctx context.Context, shipID, kind, id string, patch EntityPatch) (domain.EntityState, error) {
	unlock := e.lockShip(shipID)
	defer unlock()
	start := time.Now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.EntityState{}, err
	}
	defer tx.Rollback()
	m, err := e.mutate(ctx, tx, shipID, kind, id, patch)
	if err != nil {
		return domain.EntityState{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EntityState{}, err
	}
	metrics.ObserveMutation(m.entity.Kind, start)
	return e.state(depgraph.New(e.lookup(ctx, nil)), m.entity)
}

type mutation struct {
	entity domain.Entity
	events []int64
}

// mutate is the state mutator. The caller holds the ship lock and owns tx.
func (e Engine) mutate(ctx context.Context, tx repo.Querier, shipID, kind, id string, p EntityPatch) (mutation, error) {
	cur, ok, err := e.Repo.FindEntity(ctx, tx, id)
	if err != nil {
		return mutation{}, err
	}
	if !ok || cur.ShipID != shipID || (kind != "" && cur.Kind != kind) {
		return mutation{}, notFound(kind, id)
	}
	next := cur
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return mutation{}, invalid("name cannot be empty")
		}
		next.Name = name
	}
	if p.Category != nil {
		next.Category = strings.TrimSpace(*p.Category)
	}
	if p.MaxValue != nil {
		if !(*p.MaxValue > 0) {
			return mutation{}, invalid("max_value must be positive")
		}
		next.MaxValue = *p.MaxValue
	}
	if next.Status, next.Value, err = statusValue(cur.Status, cur.Value, next.MaxValue, p.Status, p.Value); err != nil {
		return mutation{}, err
	}
	depsChanged := false
	if p.DependsOn != nil {
		if next.DependsOn, err = e.validateDeps(ctx, tx, next, *p.DependsOn); err != nil {
			return mutation{}, err
		}
		depsChanged = !slices.Equal(next.DependsOn, cur.DependsOn)
	}
	statusChanged := next.Status != cur.Status
	cascade := !p.Quiet && (statusChanged || depsChanged)

	var dependents []string
	var before map[string]domain.EntityState
	if cascade {
		if dependents, err = depgraph.Dependents(id, e.children(ctx, tx)); err != nil {
			return mutation{}, err
		}
		if before, err = e.resolveAll(ctx, tx, dependents); err != nil {
			return mutation{}, err
		}
	}

	next.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateEntity(ctx, tx, next); err != nil {
		return mutation{}, err
	}
	if depsChanged {
		if err := e.Repo.SetDependencies(ctx, tx, id, next.DependsOn); err != nil {
			return mutation{}, err
		}
	}
	m := mutation{entity: next}
	if p.Quiet {
		return m, nil
	}
	if statusChanged {
		evtID, err := e.emit(ctx, tx, events.Event{
			ShipID:   shipID,
			Type:     EventStatusChange,
			Severity: status.Severity(next.Status),
			Message:  fmt.Sprintf("%s status changed from %s to %s", next.Name, cur.Status, next.Status),
			Data: events.EventPayload{
				"entity_id":  next.ID,
				"name":       next.Name,
				"kind":       next.Kind,
				"old_status": cur.Status,
				"new_status": next.Status,
				"old_value":  cur.Value,
				"new_value":  next.Value,
			},
		})
		if err != nil {
			return mutation{}, err
		}
		m.events = append(m.events, evtID)
	}
	if !cascade {
		return m, nil
	}
	after, err := e.resolveAll(ctx, tx, dependents)
	if err != nil {
		return mutation{}, err
	}
	for _, childID := range dependents {
		b, a := before[childID], after[childID]
		if a.ID == "" || b.EffectiveStatus == a.EffectiveStatus {
			continue
		}
		sev := cascadeSeverity(b.EffectiveStatus, a.EffectiveStatus)
		msg := fmt.Sprintf("%s restored to %s", a.Name, a.EffectiveStatus)
		if a.LimitingParent != nil {
			msg = fmt.Sprintf("%s capped at %s by %s", a.Name, a.EffectiveStatus, a.LimitingParent.Name)
		}
		evtID, err := e.emit(ctx, tx, events.Event{
			ShipID:   shipID,
			Type:     EventCascadeFailure,
			Severity: sev,
			Message:  msg,
			Data: events.EventPayload{
				"entity_id":            a.ID,
				"name":                 a.Name,
				"kind":                 a.Kind,
				"source_id":            next.ID,
				"old_effective_status": b.EffectiveStatus,
				"new_effective_status": a.EffectiveStatus,
				"limiting_parent":      a.LimitingParent,
			},
		})
		if err != nil {
			return mutation{}, err
		}
		metrics.CascadeEvents.WithLabelValues(sev).Inc()
		m.events = append(m.events, evtID)
	}
	return m, nil
}

func cascadeSeverity(before, after status.Status) string {
	switch {
	case after == status.Critical || after == status.Destroyed || after == status.Offline:
		return domain.SeverityCritical
	case status.Worse(after, before):
		return domain.SeverityWarning
	}
	return domain.SeverityInfo
}

// resolveAll resolves ids against the current contents of q.
func (e Engine) resolveAll(ctx context.Context, q repo.Querier, ids []string) (map[string]domain.EntityState, error) {
	r := depgraph.New(e.lookup(ctx, q))
	out := make(map[string]domain.EntityState, len(ids))
	for _, id := range ids {
		ent, ok, err := e.Repo.FindEntity(ctx, q, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		st, err := e.state(r, ent)
		if err != nil {
			return nil, err
		}
		out[id] = st
	}
	return out, nil
}

// ResetResult reports a bulk reset.
type ResetResult struct {
	Reset   int                  `json:"reset"`
	EventID int64                `json:"event_id"`
	Systems []domain.EntityState `json:"systems"`
}

// ResetSystems restores every system of a ship to optimal at full value.
// Per-entity events are suppressed in favour of one systems_reset event.
func (e Engine) ResetSystems(ctx context.Context, shipID string) (ResetResult, error) {
	unlock := e.lockShip(shipID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ResetResult{}, err
	}
	defer tx.Rollback()
	if err := e.ensureShip(ctx, tx, shipID); err != nil {
		return ResetResult{}, err
	}
	systems, err := e.Repo.ListEntities(ctx, tx, shipID, domain.KindSystem)
	if err != nil {
		return ResetResult{}, err
	}
	optimal := string(status.Optimal)
	for _, sys := range systems {
		full := sys.MaxValue
		if _, err := e.mutate(ctx, tx, shipID, domain.KindSystem, sys.ID, EntityPatch{Status: &optimal, Value: &full, Quiet: true}); err != nil {
			return ResetResult{}, err
		}
	}
	evtID, err := e.emit(ctx, tx, events.Event{
		ShipID:   shipID,
		Type:     EventSystemsReset,
		Severity: domain.SeverityInfo,
		Message:  fmt.Sprintf("%d systems reset to optimal", len(systems)),
		Data:     events.EventPayload{"count": len(systems)},
	})
	if err != nil {
		return ResetResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ResetResult{}, err
	}
	states, err := e.ListEntityStates(ctx, shipID, domain.KindSystem)
	if err != nil {
		return ResetResult{}, err
	}
	return ResetResult{Reset: len(systems), EventID: evtID, Systems: states}, nil
}
