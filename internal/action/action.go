// Package action defines the scenario/task action vocabulary.
//
// Actions are persisted in their wire form and decoded into a closed set
// of variants right before they run, so callers switch over concrete
// types instead of inspecting loose maps.
package action

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Wire type names.
const (
	TypeSetStatus   = "set_status"
	TypeSetValue    = "set_value"
	TypeAdjustValue = "adjust_value"
	TypeEmitEvent   = "emit_event"
	TypeSetPosture  = "set_posture"
)

// Known lists every recognised wire type.
var Known = []string{TypeSetStatus, TypeSetValue, TypeAdjustValue, TypeEmitEvent, TypeSetPosture}

// Wire is the stored and transported form of an action. All four keys are
// always written so a stored list reads back with the shape it was given.
type Wire struct {
	Type   string         `json:"type" example:"set_status"`
	Target *string        `json:"target" required:"false" example:"reactor"`
	Value  any            `json:"value" required:"false"`
	Data   map[string]any `json:"data" required:"false"`
}

// Action is one decoded action.
type Action interface {
	Type() string
	isAction()
}

// SetStatus assigns a status; the value follows from it.
type SetStatus struct {
	Target string
	Status string
}

// SetValue assigns a value; the status follows from it.
type SetValue struct {
	Target string
	Value  float64
}

// AdjustValue adds Delta to the current value.
type AdjustValue struct {
	Target string
	Delta  float64
}

// EmitEvent appends an event to the ship log.
type EmitEvent struct {
	EventType string
	Severity  string
	Message   string
	Data      map[string]any
}

// SetPosture switches the ship posture and its ROE preset.
type SetPosture struct {
	Posture string
}

// Unknown carries an unrecognised type name.
type Unknown struct {
	Name string
}

func (SetStatus) Type() string   { return TypeSetStatus }
func (SetValue) Type() string    { return TypeSetValue }
func (AdjustValue) Type() string { return TypeAdjustValue }
func (EmitEvent) Type() string   { return TypeEmitEvent }
func (SetPosture) Type() string  { return TypeSetPosture }
func (u Unknown) Type() string   { return u.Name }

func (SetStatus) isAction()   {}
func (SetValue) isAction()    {}
func (AdjustValue) isAction() {}
func (EmitEvent) isAction()   {}
func (SetPosture) isAction()  {}
func (Unknown) isAction()     {}

// Target returns the entity an action addresses, or "" when it has none.
func Target(a Action) string {
	switch v := a.(type) {
	case SetStatus:
		return v.Target
	case SetValue:
		return v.Target
	case AdjustValue:
		return v.Target
	}
	return ""
}

// Event defaults for emit_event.
const (
	DefaultEventType     = "scenario_event"
	DefaultEventSeverity = "info"
	DefaultEventMessage  = "Scenario event"
)

// Decode turns a wire action into its variant. Unrecognised types decode
// to Unknown without error; malformed values of known types return an
// error describing the problem.
func Decode(w Wire) (Action, error) {
	target := ""
	if w.Target != nil {
		target = strings.TrimSpace(*w.Target)
	}
	switch w.Type {
	case TypeSetStatus:
		s, ok := w.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%s requires a status string value", w.Type)
		}
		return SetStatus{Target: target, Status: strings.TrimSpace(s)}, nil
	case TypeSetValue:
		v, err := number(w.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", w.Type, err)
		}
		return SetValue{Target: target, Value: v}, nil
	case TypeAdjustValue:
		v, err := number(w.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", w.Type, err)
		}
		return AdjustValue{Target: target, Delta: v}, nil
	case TypeEmitEvent:
		return decodeEmit(w.Data), nil
	case TypeSetPosture:
		p, _ := w.Value.(string)
		if p == "" {
			p = target
		}
		return SetPosture{Posture: strings.TrimSpace(p)}, nil
	}
	return Unknown{Name: w.Type}, nil
}

func decodeEmit(data map[string]any) EmitEvent {
	e := EmitEvent{
		EventType: DefaultEventType,
		Severity:  DefaultEventSeverity,
		Message:   DefaultEventMessage,
	}
	rest := map[string]any{}
	for k, v := range data {
		s, isString := v.(string)
		switch {
		case k == "type" && isString && s != "":
			e.EventType = s
		case k == "severity" && isString && s != "":
			e.Severity = s
		case k == "message" && isString && s != "":
			e.Message = s
		case k == "type" || k == "severity" || k == "message":
		default:
			rest[k] = v
		}
	}
	if len(rest) > 0 {
		e.Data = rest
	}
	return e
}

func number(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not a number", n)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("value is required")
	}
	return 0, fmt.Errorf("value %v is not a number", v)
}

// Marshal encodes a list for storage.
func Marshal(list []Wire) (string, error) {
	if list == nil {
		list = []Wire{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("marshal actions: %w", err)
	}
	return string(b), nil
}

// Unmarshal decodes a stored list. Empty input yields an empty list.
func Unmarshal(raw string) ([]Wire, error) {
	if strings.TrimSpace(raw) == "" {
		return []Wire{}, nil
	}
	var list []Wire
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	if list == nil {
		list = []Wire{}
	}
	return list, nil
}
