package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Event is one entry to append.
type Event struct {
	ShipID   string
	Type     string
	Severity string
	Message  string
	Data     EventPayload
}

// Append writes the event through q and returns its id.
func (w Writer) Append(ctx context.Context, q Execer, evt Event) (int64, error) {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if evt.Data == nil {
		evt.Data = EventPayload{}
	}
	if evt.Severity == "" {
		evt.Severity = "info"
	}
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := q.ExecContext(ctx, `INSERT INTO events(ship_id,type,severity,message,data_json,created_at) VALUES (?,?,?,?,?,?)`,
		evt.ShipID, evt.Type, evt.Severity, evt.Message, string(data), ts)
	if err != nil {
		return 0, fmt.Errorf("append event %s: %w", evt.Type, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append event %s: %w", evt.Type, err)
	}
	return id, nil
}
