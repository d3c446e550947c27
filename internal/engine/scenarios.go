package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"starbridge/internal/action"
	"starbridge/internal/domain"
	"starbridge/internal/events"
	"starbridge/internal/metrics"
)

const EventScenarioExecuted = "scenario_executed"

// ScenarioOptions carries the editable scenario fields. Update replaces
// all of them.
type ScenarioOptions struct {
	ID          string
	ShipID      string
	Name        string
	Description string
	Actions     []action.Wire
	// Position defaults to the end of the list on create.
	Position *int
}

func validateActions(list []action.Wire) error {
	for i, w := range list {
		if strings.TrimSpace(w.Type) == "" {
			return invalid("action %d has no type", i+1)
		}
	}
	return nil
}

func (e Engine) CreateScenario(ctx context.Context, opts ScenarioOptions) (domain.Scenario, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		return domain.Scenario{}, invalid("name is required")
	}
	if err := validateActions(opts.Actions); err != nil {
		return domain.Scenario{}, err
	}
	if err := e.ensureShip(ctx, nil, opts.ShipID); err != nil {
		return domain.Scenario{}, err
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	pos := 0
	if opts.Position != nil {
		pos = *opts.Position
	} else {
		next, err := e.Repo.NextScenarioPosition(ctx, nil, opts.ShipID)
		if err != nil {
			return domain.Scenario{}, err
		}
		pos = next
	}
	if opts.Actions == nil {
		opts.Actions = []action.Wire{}
	}
	now := e.stamp()
	s := domain.Scenario{
		ID: opts.ID, ShipID: opts.ShipID, Name: opts.Name, Description: opts.Description,
		Actions: opts.Actions, Position: pos, CreatedAt: now, UpdatedAt: now,
	}
	if _, err := e.Repo.GetScenario(ctx, nil, s.ID); err == nil {
		return domain.Scenario{}, conflict("scenario %s already exists", s.ID)
	}
	if err := e.Repo.InsertScenario(ctx, nil, s); err != nil {
		return domain.Scenario{}, fmt.Errorf("insert scenario: %w", err)
	}
	return s, nil
}

func (e Engine) GetScenario(ctx context.Context, shipID, id string) (domain.Scenario, error) {
	s, err := e.Repo.GetScenario(ctx, nil, id)
	if err != nil {
		return s, err
	}
	if s.ShipID != shipID {
		return domain.Scenario{}, notFound("scenario", id)
	}
	return s, nil
}

func (e Engine) ListScenarios(ctx context.Context, shipID string) ([]domain.Scenario, error) {
	if err := e.ensureShip(ctx, nil, shipID); err != nil {
		return nil, err
	}
	return e.Repo.ListScenarios(ctx, nil, shipID)
}

// UpdateScenario replaces name, description, actions and position.
func (e Engine) UpdateScenario(ctx context.Context, opts ScenarioOptions) (domain.Scenario, error) {
	s, err := e.GetScenario(ctx, opts.ShipID, opts.ID)
	if err != nil {
		return s, err
	}
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		return domain.Scenario{}, invalid("name is required")
	}
	if err := validateActions(opts.Actions); err != nil {
		return domain.Scenario{}, err
	}
	s.Name = opts.Name
	s.Description = opts.Description
	s.Actions = opts.Actions
	if s.Actions == nil {
		s.Actions = []action.Wire{}
	}
	if opts.Position != nil {
		s.Position = *opts.Position
	}
	s.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateScenario(ctx, nil, s); err != nil {
		return domain.Scenario{}, err
	}
	return s, nil
}

func (e Engine) DeleteScenario(ctx context.Context, shipID, id string) error {
	if _, err := e.GetScenario(ctx, shipID, id); err != nil {
		return err
	}
	return e.Repo.DeleteScenario(ctx, nil, id)
}

// ExecuteScenario runs a stored scenario and appends a scenario_executed
// summary event whatever the outcome.
func (e Engine) ExecuteScenario(ctx context.Context, shipID, id string) (ExecutionResult, error) {
	s, err := e.GetScenario(ctx, shipID, id)
	if err != nil {
		return ExecutionResult{}, err
	}
	return e.execute(ctx, shipID, s.Actions, events.EventPayload{"scenario_id": s.ID, "name": s.Name}, s.Name)
}

// ExecuteActions runs an unsaved action list the same way.
func (e Engine) ExecuteActions(ctx context.Context, shipID string, list []action.Wire) (ExecutionResult, error) {
	if err := e.ensureShip(ctx, nil, shipID); err != nil {
		return ExecutionResult{}, err
	}
	return e.execute(ctx, shipID, list, events.EventPayload{}, "ad-hoc actions")
}

func (e Engine) execute(ctx context.Context, shipID string, list []action.Wire, data events.EventPayload, label string) (ExecutionResult, error) {
	unlock := e.lockShip(shipID)
	defer unlock()
	res := e.runActions(ctx, shipID, "execute", list)
	metrics.ScenarioRuns.WithLabelValues("execute", metrics.Result(len(res.Errors))).Inc()

	data["actions_executed"] = res.ActionsExecuted
	data["errors"] = res.Errors
	data["success"] = res.Success
	sev := domain.SeverityInfo
	if !res.Success {
		sev = domain.SeverityWarning
	}
	id, err := e.emit(ctx, e.DB, events.Event{
		ShipID:   shipID,
		Type:     EventScenarioExecuted,
		Severity: sev,
		Message:  fmt.Sprintf("Scenario %s executed: %d of %d actions", label, res.ActionsExecuted, len(list)),
		Data:     data,
	})
	if err != nil {
		return res, err
	}
	res.Events = append(res.Events, id)
	e.log().Info("scenario executed", "ship", shipID, "scenario", label, "executed", res.ActionsExecuted, "errors", len(res.Errors))
	return res, nil
}
