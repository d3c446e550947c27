package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"starbridge/internal/action"
	"starbridge/internal/domain"
	"starbridge/internal/events"
	"starbridge/internal/metrics"
	"starbridge/internal/repo"
)

const (
	EventTaskCreated = "task_created"
	EventTaskClaimed = "task_claimed"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	ShipID      string
	Title       string
	Description string
	Station     string
	// ExpiresAt is an RFC3339 timestamp; empty means the task never expires.
	ExpiresAt string
	OnSuccess []action.Wire
	OnFailure []action.Wire
	OnExpire  []action.Wire
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func orEmpty(list []action.Wire) []action.Wire {
	if list == nil {
		return []action.Wire{}
	}
	return list
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return domain.Task{}, invalid("title is required")
	}
	for _, list := range [][]action.Wire{opts.OnSuccess, opts.OnFailure, opts.OnExpire} {
		if err := validateActions(list); err != nil {
			return domain.Task{}, err
		}
	}
	var expires *string
	if opts.ExpiresAt != "" {
		ts, err := time.Parse(time.RFC3339, opts.ExpiresAt)
		if err != nil {
			return domain.Task{}, invalid("expires_at must be RFC3339: %v", err)
		}
		s := ts.UTC().Format(time.RFC3339)
		expires = &s
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	now := e.stamp()
	t := domain.Task{
		ID: opts.ID, ShipID: opts.ShipID, Title: opts.Title, Description: opts.Description,
		Station: optionalString(opts.Station), Status: domain.TaskPending,
		OnSuccess: orEmpty(opts.OnSuccess), OnFailure: orEmpty(opts.OnFailure), OnExpire: orEmpty(opts.OnExpire),
		ExpiresAt: expires, CreatedAt: now, UpdatedAt: now,
	}

	unlock := e.lockShip(opts.ShipID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.ensureShip(ctx, tx, opts.ShipID); err != nil {
		return domain.Task{}, err
	}
	if _, err := e.Repo.GetTask(ctx, tx, t.ID); err == nil {
		return domain.Task{}, conflict("task %s already exists", t.ID)
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if _, err := e.emit(ctx, tx, events.Event{
		ShipID: t.ShipID, Type: EventTaskCreated, Severity: domain.SeverityInfo,
		Message: fmt.Sprintf("New task: %s", t.Title),
		Data:    events.EventPayload{"task_id": t.ID, "title": t.Title, "station": t.Station},
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) getTask(ctx context.Context, q repo.Querier, shipID, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, q, id)
	if err != nil {
		return t, err
	}
	if t.ShipID != shipID {
		return domain.Task{}, notFound("task", id)
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, shipID, id string) (domain.Task, error) {
	return e.getTask(ctx, nil, shipID, id)
}

// ListTasks expires overdue tasks first so callers never see a stale
// pending task past its deadline.
func (e Engine) ListTasks(ctx context.Context, shipID, statusFilter string) ([]domain.Task, error) {
	if _, err := e.ExpireOverdue(ctx, shipID); err != nil {
		return nil, err
	}
	return e.Repo.ListTasks(ctx, nil, repo.TaskFilters{ShipID: shipID, Status: statusFilter})
}

// ClaimTask moves a pending task to active for actor.
func (e Engine) ClaimTask(ctx context.Context, shipID, id, actor string) (domain.Task, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return domain.Task{}, invalid("actor is required to claim a task")
	}
	unlock := e.lockShip(shipID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.getTask(ctx, tx, shipID, id)
	if err != nil {
		return t, err
	}
	if t.Terminal() {
		return domain.Task{}, invalid("task %s is already %s", id, t.Status)
	}
	if t.Status == domain.TaskActive {
		if t.ClaimedBy != nil && *t.ClaimedBy == actor {
			return t, nil
		}
		return domain.Task{}, conflict("task %s already claimed", id)
	}
	t.Status = domain.TaskActive
	t.ClaimedBy = &actor
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if _, err := e.emit(ctx, tx, events.Event{
		ShipID: shipID, Type: EventTaskClaimed, Severity: domain.SeverityInfo,
		Message: fmt.Sprintf("%s claimed %s", actor, t.Title),
		Data:    events.EventPayload{"task_id": t.ID, "claimed_by": actor},
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskCompletion is a finished task and the run of its outcome list.
type TaskCompletion struct {
	Task   domain.Task     `json:"task"`
	Result ExecutionResult `json:"result"`
}

// CompleteTask moves a task to a terminal status and runs the matching
// outcome list through the action interpreter.
func (e Engine) CompleteTask(ctx context.Context, shipID, id, outcome string) (TaskCompletion, error) {
	switch outcome {
	case domain.TaskSucceeded, domain.TaskFailed, domain.TaskExpired:
	default:
		return TaskCompletion{}, invalid("outcome must be succeeded, failed or expired")
	}
	unlock := e.lockShip(shipID)
	defer unlock()
	return e.finishTask(ctx, shipID, id, outcome)
}

// ExpireOverdue expires every pending or active task past its deadline.
func (e Engine) ExpireOverdue(ctx context.Context, shipID string) ([]TaskCompletion, error) {
	unlock := e.lockShip(shipID)
	defer unlock()
	overdue, err := e.Repo.ListTasks(ctx, nil, repo.TaskFilters{ShipID: shipID, ExpiredBefore: e.stamp()})
	if err != nil {
		return nil, err
	}
	out := make([]TaskCompletion, 0, len(overdue))
	for _, t := range overdue {
		c, err := e.finishTask(ctx, shipID, t.ID, domain.TaskExpired)
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	if len(out) > 0 {
		e.log().Info("tasks expired", "ship", shipID, "count", len(out))
	}
	return out, nil
}

// finishTask commits the status change, then runs the outcome. The caller
// holds the ship lock.
func (e Engine) finishTask(ctx context.Context, shipID, id, outcome string) (TaskCompletion, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TaskCompletion{}, err
	}
	defer tx.Rollback()
	t, err := e.getTask(ctx, tx, shipID, id)
	if err != nil {
		return TaskCompletion{}, err
	}
	if t.Terminal() {
		return TaskCompletion{}, invalid("task %s is already %s", id, t.Status)
	}
	now := e.stamp()
	t.Status = outcome
	t.CompletedAt = &now
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return TaskCompletion{}, err
	}
	if err := tx.Commit(); err != nil {
		return TaskCompletion{}, err
	}

	res := e.runActions(ctx, shipID, "task", t.Outcome(outcome))
	metrics.ScenarioRuns.WithLabelValues("task", metrics.Result(len(res.Errors))).Inc()
	sev := domain.SeverityInfo
	if outcome != domain.TaskSucceeded || !res.Success {
		sev = domain.SeverityWarning
	}
	evtID, err := e.emit(ctx, e.DB, events.Event{
		ShipID:   shipID,
		Type:     "task_" + outcome,
		Severity: sev,
		Message:  fmt.Sprintf("Task %s %s", t.Title, outcome),
		Data: events.EventPayload{
			"task_id":          t.ID,
			"title":            t.Title,
			"actions_executed": res.ActionsExecuted,
			"errors":           res.Errors,
			"success":          res.Success,
		},
	})
	if err != nil {
		return TaskCompletion{}, err
	}
	res.Events = append(res.Events, evtID)
	return TaskCompletion{Task: t, Result: res}, nil
}
