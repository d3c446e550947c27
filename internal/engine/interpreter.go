package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"starbridge/internal/action"
	"starbridge/internal/events"
	"starbridge/internal/metrics"
	"starbridge/internal/status"
)

// errSkipped marks an action that was silently skipped: it records no
// error and does not count as executed.
var errSkipped = errors.New("skipped")

// ExecutionResult is the outcome of running an action list.
type ExecutionResult struct {
	Success         bool     `json:"success"`
	ActionsExecuted int      `json:"actions_executed"`
	Events          []int64  `json:"events"`
	Errors          []string `json:"errors"`
}

// runActions interprets list in order against the ship, one transaction
// per action. Failures are recorded and never stop later actions. The
// caller holds the ship lock.
func (e Engine) runActions(ctx context.Context, shipID, mode string, list []action.Wire) ExecutionResult {
	res := ExecutionResult{Events: []int64{}, Errors: []string{}}
	for i, w := range list {
		ids, err := e.runAction(ctx, shipID, w)
		switch {
		case err == nil:
			res.ActionsExecuted++
			res.Events = append(res.Events, ids...)
		case errors.Is(err, errSkipped):
			e.log().Debug("action skipped", "ship", shipID, "index", i, "type", w.Type)
		default:
			metrics.ActionErrors.WithLabelValues(mode, w.Type).Inc()
			res.Errors = append(res.Errors, fmt.Sprintf("Action %d: %v", i+1, err))
			e.log().Warn("action failed", "ship", shipID, "index", i, "type", w.Type, "err", err)
		}
	}
	res.Success = len(res.Errors) == 0
	return res
}

// runAction runs one action in its own transaction, converting panics
// into errors.
func (e Engine) runAction(ctx context.Context, shipID string, w action.Wire) (ids []int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			ids, err = nil, fmt.Errorf("%s panicked: %v", w.Type, r)
		}
	}()
	a, err := action.Decode(w)
	if err != nil {
		return nil, err
	}
	if u, ok := a.(action.Unknown); ok {
		return nil, fmt.Errorf("Unknown action type: %s", u.Name)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	ids, err = e.apply(ctx, tx, shipID, a)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (e Engine) apply(ctx context.Context, tx *sql.Tx, shipID string, a action.Action) ([]int64, error) {
	switch v := a.(type) {
	case action.SetStatus:
		if v.Target == "" {
			return nil, fmt.Errorf("set_status requires a target")
		}
		ent, ok, err := e.Repo.FindEntity(ctx, tx, v.Target)
		if err != nil {
			return nil, err
		}
		if !ok || ent.ShipID != shipID {
			return nil, fmt.Errorf("set_status target %s not found", v.Target)
		}
		st, err := status.Parse(v.Status)
		if err != nil {
			return nil, fmt.Errorf("set_status: %v", err)
		}
		s, val := string(st), status.ValueFor(st, ent.MaxValue)
		m, err := e.mutate(ctx, tx, shipID, "", ent.ID, EntityPatch{Status: &s, Value: &val})
		return m.events, err

	case action.SetValue, action.AdjustValue:
		target := action.Target(v)
		if target == "" {
			return nil, errSkipped
		}
		ent, ok, err := e.Repo.FindEntity(ctx, tx, target)
		if err != nil {
			return nil, err
		}
		if !ok || ent.ShipID != shipID {
			return nil, errSkipped
		}
		var val float64
		if sv, isSet := v.(action.SetValue); isSet {
			val = status.Clamp(sv.Value, ent.MaxValue)
		} else {
			val = status.Clamp(ent.Value+v.(action.AdjustValue).Delta, ent.MaxValue)
		}
		s := string(status.FromValue(val, ent.MaxValue))
		m, err := e.mutate(ctx, tx, shipID, "", ent.ID, EntityPatch{Status: &s, Value: &val})
		return m.events, err

	case action.EmitEvent:
		id, err := e.emit(ctx, tx, events.Event{
			ShipID:   shipID,
			Type:     v.EventType,
			Severity: v.Severity,
			Message:  v.Message,
			Data:     v.Data,
		})
		if err != nil {
			return nil, err
		}
		return []int64{id}, nil

	case action.SetPosture:
		_, id, err := e.setPostureTx(ctx, tx, shipID, v.Posture)
		if err != nil {
			return nil, err
		}
		return []int64{id}, nil
	}
	return nil, fmt.Errorf("Unknown action type: %s", a.Type())
}
