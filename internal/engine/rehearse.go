package engine

import (
	"context"
	"errors"
	"fmt"

	"starbridge/internal/action"
	"starbridge/internal/metrics"
	"starbridge/internal/repo"
	"starbridge/internal/status"
)

// EntityPreview is the simulated effect of one action on one entity.
type EntityPreview struct {
	Index        int           `json:"index"`
	Action       string        `json:"action"`
	Target       string        `json:"target"`
	TargetName   string        `json:"target_name"`
	Kind         string        `json:"kind"`
	BeforeStatus status.Status `json:"before_status"`
	AfterStatus  status.Status `json:"after_status"`
	BeforeValue  float64       `json:"before_value"`
	AfterValue   float64       `json:"after_value"`
	MaxValue     float64       `json:"max_value"`
}

// EventPreview is an event an emit_event action would append.
type EventPreview struct {
	Index    int            `json:"index"`
	Type     string         `json:"type"`
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
}

// PosturePreview compares the stored posture with the last one set.
type PosturePreview struct {
	Before string         `json:"before,omitempty"`
	After  string         `json:"after"`
	ROE    map[string]any `json:"roe"`
}

// Rehearsal is the dry-run report of an action list.
type Rehearsal struct {
	CanExecute  bool            `json:"can_execute"`
	ActionCount int             `json:"action_count"`
	Changes     []EntityPreview `json:"changes"`
	Events      []EventPreview  `json:"events"`
	Posture     *PosturePreview `json:"posture,omitempty"`
	Warnings    []string        `json:"warnings"`
	Errors      []string        `json:"errors"`
}

type simEntity struct {
	name   string
	kind   string
	value  float64
	max    float64
	status status.Status
}

// simulation is the working copy of a rehearsal. Entities are read from
// the store on first reference and only from the copy afterwards.
type simulation struct {
	ctx      context.Context
	e        Engine
	shipID   string
	entities map[string]*simEntity

	postureLoaded bool
	posture       string
	hasPosture    bool
}

func (s *simulation) entity(id string) (*simEntity, bool, error) {
	if ent, ok := s.entities[id]; ok {
		return ent, true, nil
	}
	ent, ok, err := s.e.Repo.FindEntity(s.ctx, nil, id)
	if err != nil || !ok || ent.ShipID != s.shipID {
		return nil, false, err
	}
	sim := &simEntity{name: ent.Name, kind: ent.Kind, value: ent.Value, max: ent.MaxValue, status: ent.Status}
	s.entities[id] = sim
	return sim, true, nil
}

func (s *simulation) storedPosture() (string, bool, error) {
	if !s.postureLoaded {
		p, err := s.e.Repo.GetPosture(s.ctx, nil, s.shipID)
		switch {
		case err == nil:
			s.posture, s.hasPosture = p.Posture, true
		case !errors.Is(err, repo.ErrNotFound):
			return "", false, err
		}
		s.postureLoaded = true
	}
	return s.posture, s.hasPosture, nil
}

// RehearseScenario simulates a stored scenario without writing anything.
func (e Engine) RehearseScenario(ctx context.Context, shipID, id string) (Rehearsal, error) {
	sc, err := e.GetScenario(ctx, shipID, id)
	if err != nil {
		return Rehearsal{}, err
	}
	return e.rehearse(ctx, shipID, sc.Actions)
}

// RehearseActions simulates an unsaved action list.
func (e Engine) RehearseActions(ctx context.Context, shipID string, list []action.Wire) (Rehearsal, error) {
	if err := e.ensureShip(ctx, nil, shipID); err != nil {
		return Rehearsal{}, err
	}
	return e.rehearse(ctx, shipID, list)
}

func (e Engine) rehearse(ctx context.Context, shipID string, list []action.Wire) (Rehearsal, error) {
	sim := &simulation{ctx: ctx, e: e, shipID: shipID, entities: map[string]*simEntity{}}
	out := Rehearsal{
		ActionCount: len(list),
		Changes:     []EntityPreview{},
		Events:      []EventPreview{},
		Warnings:    []string{},
		Errors:      []string{},
	}
	for i, w := range list {
		warning, err := e.rehearseAction(sim, &out, i, w)
		if err != nil {
			if ctx.Err() != nil {
				return Rehearsal{}, ctx.Err()
			}
			metrics.ActionErrors.WithLabelValues("rehearse", w.Type).Inc()
			out.Errors = append(out.Errors, fmt.Sprintf("Action %d: %v", i+1, err))
		}
		if warning != "" {
			out.Warnings = append(out.Warnings, fmt.Sprintf("Action %d: %s", i+1, warning))
		}
	}
	out.CanExecute = len(out.Errors) == 0
	metrics.ScenarioRuns.WithLabelValues("rehearse", metrics.Result(len(out.Errors))).Inc()
	return out, nil
}

func (e Engine) rehearseAction(sim *simulation, out *Rehearsal, i int, w action.Wire) (string, error) {
	a, err := action.Decode(w)
	if err != nil {
		return "", err
	}
	switch v := a.(type) {
	case action.Unknown:
		return fmt.Sprintf("Unknown action type: %s", v.Name), nil

	case action.EmitEvent:
		out.Events = append(out.Events, EventPreview{Index: i, Type: v.EventType, Severity: v.Severity, Message: v.Message, Data: v.Data})
		return "", nil

	case action.SetPosture:
		roe, err := e.postureROE(v.Posture)
		if err != nil {
			return "", err
		}
		before, ok, err := sim.storedPosture()
		if err != nil {
			return "", err
		}
		out.Posture = &PosturePreview{Before: before, After: v.Posture, ROE: roe}
		if !ok {
			return "No posture state for this ship yet; one will be created", nil
		}
		return "", nil
	}

	target := action.Target(a)
	if target == "" {
		return "", fmt.Errorf("%s requires a target", a.Type())
	}
	ent, ok, err := sim.entity(target)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%s target %s not found", a.Type(), target)
	}
	var val float64
	var st string
	switch v := a.(type) {
	case action.SetStatus:
		parsed, err := status.Parse(v.Status)
		if err != nil {
			return "", fmt.Errorf("set_status: %v", err)
		}
		st, val = string(parsed), status.ValueFor(parsed, ent.max)
	case action.SetValue:
		val = status.Clamp(v.Value, ent.max)
		st = string(status.FromValue(val, ent.max))
	case action.AdjustValue:
		val = status.Clamp(ent.value+v.Delta, ent.max)
		st = string(status.FromValue(val, ent.max))
	}
	nextStatus, nextValue, err := statusValue(ent.status, ent.value, ent.max, &st, &val)
	if err != nil {
		return "", err
	}
	out.Changes = append(out.Changes, EntityPreview{
		Index: i, Action: a.Type(), Target: target, TargetName: ent.name, Kind: ent.kind,
		BeforeStatus: ent.status, AfterStatus: nextStatus,
		BeforeValue: ent.value, AfterValue: nextValue, MaxValue: ent.max,
	})
	ent.status, ent.value = nextStatus, nextValue
	return "", nil
}
