package events

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendReturnsInsertedID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w := Writer{Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events(ship_id,type,severity,message,data_json,created_at)")).
		WithArgs("ship-1", "status_change", "warning", "Shields degraded", `{"new_status":"degraded"}`, "2024-01-01T00:00:00Z").
		WillReturnResult(sqlmock.NewResult(42, 1))

	id, err := w.Append(context.Background(), db, Event{
		ShipID:   "ship-1",
		Type:     "status_change",
		Severity: "warning",
		Message:  "Shields degraded",
		Data:     EventPayload{"new_status": "degraded"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendDefaultsSeverityAndData(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events")).
		WithArgs("ship-1", "note", "info", "hello", "{}", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err = Writer{}.Append(context.Background(), db, Event{ShipID: "ship-1", Type: "note", Message: "hello"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendWrapsExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("disk full")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events")).WillReturnError(boom)

	_, err = Writer{}.Append(context.Background(), db, Event{ShipID: "s", Type: "t", Message: "m"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
