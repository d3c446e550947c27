package server

import (
	"starbridge/internal/action"
	"starbridge/internal/domain"
	"starbridge/internal/engine"
)

// Request payloads

type CreateShipRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	// Seed defaults to true.
	Seed *bool `json:"seed,omitempty"`
}

type CreateEntityRequest struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name"`
	Category  string   `json:"category,omitempty" example:"power"`
	Status    *string  `json:"status,omitempty" example:"optimal"`
	Value     *float64 `json:"value,omitempty"`
	MaxValue  float64  `json:"max_value" example:"100"`
	DependsOn []string `json:"depends_on,omitempty"`
}

type UpdateEntityRequest struct {
	Name      *string   `json:"name,omitempty"`
	Category  *string   `json:"category,omitempty"`
	Status    *string   `json:"status,omitempty" example:"degraded"`
	Value     *float64  `json:"value,omitempty"`
	MaxValue  *float64  `json:"max_value,omitempty"`
	DependsOn *[]string `json:"depends_on,omitempty"`
	Quiet     bool      `json:"quiet,omitempty" doc:"Skip status and cascade events. Game master only; ignored for players."`
}

type ScenarioRequest struct {
	ID          string        `json:"id,omitempty"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Actions     []action.Wire `json:"actions,omitempty"`
	Position    *int          `json:"position,omitempty"`
}

// ActionListRequest carries an unsaved action list for ad-hoc rehearsal
// or execution.
type ActionListRequest struct {
	Actions []action.Wire `json:"actions"`
}

type CreateTaskRequest struct {
	ID          string        `json:"id,omitempty"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Station     string        `json:"station,omitempty" example:"engineering"`
	ExpiresAt   string        `json:"expires_at,omitempty" format:"date-time"`
	OnSuccess   []action.Wire `json:"on_success,omitempty"`
	OnFailure   []action.Wire `json:"on_failure,omitempty"`
	OnExpire    []action.Wire `json:"on_expire,omitempty"`
}

type ClaimTaskRequest struct {
	// Actor defaults to the token subject.
	Actor string `json:"actor,omitempty"`
}

type CompleteTaskRequest struct {
	Outcome string `json:"outcome" enum:"succeeded,failed,expired"`
}

type SetPostureRequest struct {
	Posture string `json:"posture" example:"red"`
}

type UpdateEventRequest struct {
	Transmitted bool `json:"transmitted"`
}

// Response payloads

type ShipListResponse struct {
	Items []domain.Ship `json:"items"`
}

type EntityListResponse struct {
	Items []domain.EntityState `json:"items"`
}

type ScenarioListResponse struct {
	Items []domain.Scenario `json:"items"`
}

type TaskListResponse struct {
	Items []domain.Task `json:"items"`
}

type PostureListResponse struct {
	Items []string `json:"items"`
}

type EventListResponse struct {
	Items []domain.Event `json:"items"`
	// LastID is the cursor for the next poll.
	LastID int64 `json:"last_id"`
}

func (r CreateEntityRequest) options(shipID, kind string) engine.EntityCreateOptions {
	return engine.EntityCreateOptions{
		ShipID:    shipID,
		Kind:      kind,
		ID:        r.ID,
		Name:      r.Name,
		Category:  r.Category,
		Status:    r.Status,
		Value:     r.Value,
		MaxValue:  r.MaxValue,
		DependsOn: r.DependsOn,
	}
}

func (r UpdateEntityRequest) patch() engine.EntityPatch {
	return engine.EntityPatch{
		Name:      r.Name,
		Category:  r.Category,
		Status:    r.Status,
		Value:     r.Value,
		MaxValue:  r.MaxValue,
		DependsOn: r.DependsOn,
		Quiet:     r.Quiet,
	}
}

func (r ScenarioRequest) options(shipID string) engine.ScenarioOptions {
	return engine.ScenarioOptions{
		ID:          r.ID,
		ShipID:      shipID,
		Name:        r.Name,
		Description: r.Description,
		Actions:     r.Actions,
		Position:    r.Position,
	}
}

func (r CreateTaskRequest) options(shipID string) engine.TaskCreateOptions {
	return engine.TaskCreateOptions{
		ID:          r.ID,
		ShipID:      shipID,
		Title:       r.Title,
		Description: r.Description,
		Station:     r.Station,
		ExpiresAt:   r.ExpiresAt,
		OnSuccess:   r.OnSuccess,
		OnFailure:   r.OnFailure,
		OnExpire:    r.OnExpire,
	}
}
