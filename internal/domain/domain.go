package domain

import (
	"starbridge/internal/action"
	"starbridge/internal/depgraph"
	"starbridge/internal/status"
)

// Entity kinds. Systems and assets live in separate tables but share the
// stateful-entity behaviour.
const (
	KindSystem = "system"
	KindAsset  = "asset"
)

// Task statuses.
const (
	TaskPending   = "pending"
	TaskActive    = "active"
	TaskSucceeded = "succeeded"
	TaskFailed    = "failed"
	TaskExpired   = "expired"
)

// Event severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

type Ship struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Entity is a system state or asset with a health status.
type Entity struct {
	ID        string        `json:"id"`
	ShipID    string        `json:"ship_id"`
	Kind      string        `json:"kind" enum:"system,asset"`
	Name      string        `json:"name"`
	Category  string        `json:"category,omitempty"`
	Status    status.Status `json:"status" enum:"optimal,operational,degraded,compromised,critical,destroyed,offline"`
	Value     float64       `json:"value"`
	MaxValue  float64       `json:"max_value"`
	DependsOn []string      `json:"depends_on"`
	CreatedAt string        `json:"created_at" format:"date-time"`
	UpdatedAt string        `json:"updated_at" format:"date-time"`
}

// Node adapts the entity for dependency resolution.
func (e Entity) Node() depgraph.Node {
	return depgraph.Node{ID: e.ID, Name: e.Name, Status: e.Status, DependsOn: e.DependsOn}
}

// EntityState is an entity plus its derived effective status.
type EntityState struct {
	Entity
	EffectiveStatus status.Status    `json:"effective_status"`
	LimitingParent  *depgraph.Parent `json:"limiting_parent,omitempty"`
}

type Scenario struct {
	ID          string        `json:"id"`
	ShipID      string        `json:"ship_id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Actions     []action.Wire `json:"actions"`
	Position    int           `json:"position"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	UpdatedAt   string        `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID          string        `json:"id"`
	ShipID      string        `json:"ship_id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Station     *string       `json:"station,omitempty"`
	Status      string        `json:"status" enum:"pending,active,succeeded,failed,expired"`
	OnSuccess   []action.Wire `json:"on_success"`
	OnFailure   []action.Wire `json:"on_failure"`
	OnExpire    []action.Wire `json:"on_expire"`
	ClaimedBy   *string       `json:"claimed_by,omitempty"`
	ExpiresAt   *string       `json:"expires_at,omitempty" format:"date-time"`
	CompletedAt *string       `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	UpdatedAt   string        `json:"updated_at" format:"date-time"`
}

// Terminal reports whether the task can no longer change status.
func (t Task) Terminal() bool {
	return t.Status == TaskSucceeded || t.Status == TaskFailed || t.Status == TaskExpired
}

// Outcome returns the action list for a terminal status.
func (t Task) Outcome(status string) []action.Wire {
	switch status {
	case TaskSucceeded:
		return t.OnSuccess
	case TaskFailed:
		return t.OnFailure
	case TaskExpired:
		return t.OnExpire
	}
	return nil
}

type PostureState struct {
	ShipID    string         `json:"ship_id"`
	Posture   string         `json:"posture"`
	ROE       map[string]any `json:"roe"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID          int64          `json:"id"`
	ShipID      string         `json:"ship_id"`
	Type        string         `json:"type"`
	Severity    string         `json:"severity" enum:"info,warning,critical"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data"`
	Transmitted bool           `json:"transmitted"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
}
