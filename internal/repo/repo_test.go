package repo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starbridge/internal/action"
	"starbridge/internal/db"
	"starbridge/internal/domain"
	"starbridge/internal/migrate"
	"starbridge/internal/repo"
	"starbridge/internal/status"
)

const ts = "2024-01-01T00:00:00Z"

func newRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.MigrateContext(context.Background(), conn))
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	require.NoError(t, r.InsertShip(ctx, nil, domain.Ship{ID: "ship-1", Name: "Meridian", CreatedAt: ts}))
	return r, ctx
}

func target(id string) *string { return &id }

func entity(id, kind string, deps ...string) domain.Entity {
	return domain.Entity{
		ID: id, ShipID: "ship-1", Kind: kind, Name: id,
		Status: status.Optimal, Value: 100, MaxValue: 100,
		DependsOn: deps, CreatedAt: ts, UpdatedAt: ts,
	}
}

func TestEntitiesAcrossKinds(t *testing.T) {
	r, ctx := newRepo(t)
	require.NoError(t, r.InsertEntity(ctx, nil, entity("reactor", domain.KindSystem)))
	require.NoError(t, r.InsertEntity(ctx, nil, entity("power", domain.KindSystem, "reactor")))
	require.NoError(t, r.InsertEntity(ctx, nil, entity("phaser", domain.KindAsset, "power", "reactor")))

	got, err := r.GetEntity(ctx, nil, "phaser")
	require.NoError(t, err)
	assert.Equal(t, domain.KindAsset, got.Kind)
	assert.Equal(t, []string{"power", "reactor"}, got.DependsOn)

	all, err := r.ListEntities(ctx, nil, "ship-1", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	ids := []string{all[0].ID, all[1].ID, all[2].ID}
	assert.Equal(t, []string{"power", "reactor", "phaser"}, ids)
	assert.Equal(t, domain.KindAsset, all[2].Kind)
	byID := map[string]domain.Entity{}
	for _, e := range all {
		byID[e.ID] = e
	}
	assert.Equal(t, []string{}, byID["reactor"].DependsOn)
	assert.Equal(t, []string{"reactor"}, byID["power"].DependsOn)

	systems, err := r.ListEntities(ctx, nil, "ship-1", domain.KindSystem)
	require.NoError(t, err)
	assert.Len(t, systems, 2)

	kids, err := r.ListChildren(ctx, nil, "reactor")
	require.NoError(t, err)
	assert.Equal(t, []string{"phaser", "power"}, kids)
}

func TestDeleteLeavesDanglingReferences(t *testing.T) {
	r, ctx := newRepo(t)
	require.NoError(t, r.InsertEntity(ctx, nil, entity("reactor", domain.KindSystem)))
	require.NoError(t, r.InsertEntity(ctx, nil, entity("power", domain.KindSystem, "reactor")))

	require.NoError(t, r.DeleteEntity(ctx, nil, domain.KindSystem, "reactor"))
	_, err := r.GetEntity(ctx, nil, "reactor")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	power, err := r.GetEntity(ctx, nil, "power")
	require.NoError(t, err)
	assert.Equal(t, []string{"reactor"}, power.DependsOn)

	_, ok, err := r.FindEntity(ctx, nil, "reactor")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, r.DeleteEntity(ctx, nil, domain.KindSystem, "reactor"), repo.ErrNotFound)
}

func TestValueRangeEnforcedByStore(t *testing.T) {
	r, ctx := newRepo(t)
	e := entity("hull", domain.KindSystem)
	e.Value = 150
	assert.Error(t, r.InsertEntity(ctx, nil, e))
}

func TestScenarioActionsRoundTrip(t *testing.T) {
	r, ctx := newRepo(t)
	actions := []action.Wire{
		{Type: action.TypeSetStatus, Target: target("hull"), Value: "critical"},
		{Type: action.TypeAdjustValue, Target: target("hull"), Value: -12.5},
		{Type: action.TypeEmitEvent, Data: map[string]any{"message": "Brace", "deck": float64(4)}},
		{Type: "warp_drive_engage"},
	}
	pos, err := r.NextScenarioPosition(ctx, nil, "ship-1")
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
	require.NoError(t, r.InsertScenario(ctx, nil, domain.Scenario{
		ID: "sc-1", ShipID: "ship-1", Name: "Ambush", Actions: actions, Position: pos, CreatedAt: ts, UpdatedAt: ts,
	}))

	got, err := r.GetScenario(ctx, nil, "sc-1")
	require.NoError(t, err)
	assert.Equal(t, actions, got.Actions)

	pos, err = r.NextScenarioPosition(ctx, nil, "ship-1")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	require.NoError(t, r.DeleteScenario(ctx, nil, "sc-1"))
	_, err = r.GetScenario(ctx, nil, "sc-1")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestTasksFilterOverdue(t *testing.T) {
	r, ctx := newRepo(t)
	past, future := "2023-12-31T00:00:00Z", "2024-02-01T00:00:00Z"
	for _, tk := range []domain.Task{
		{ID: "t1", ShipID: "ship-1", Title: "a", Status: domain.TaskPending, ExpiresAt: &past, CreatedAt: ts, UpdatedAt: ts},
		{ID: "t2", ShipID: "ship-1", Title: "b", Status: domain.TaskActive, ExpiresAt: &future, CreatedAt: ts, UpdatedAt: ts},
		{ID: "t3", ShipID: "ship-1", Title: "c", Status: domain.TaskSucceeded, ExpiresAt: &past, CreatedAt: ts, UpdatedAt: ts},
		{ID: "t4", ShipID: "ship-1", Title: "d", Status: domain.TaskPending, CreatedAt: ts, UpdatedAt: ts},
	} {
		require.NoError(t, r.InsertTask(ctx, nil, tk))
	}
	overdue, err := r.ListTasks(ctx, nil, repo.TaskFilters{ShipID: "ship-1", ExpiredBefore: ts})
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "t1", overdue[0].ID)
	assert.Equal(t, []action.Wire{}, overdue[0].OnExpire)
}

func TestPostureUpsertReplacesROE(t *testing.T) {
	r, ctx := newRepo(t)
	_, err := r.GetPosture(ctx, nil, "ship-1")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	require.NoError(t, r.UpsertPosture(ctx, nil, domain.PostureState{
		ShipID: "ship-1", Posture: "red", ROE: map[string]any{"weapons": "armed", "extra": "x"}, CreatedAt: ts, UpdatedAt: ts,
	}))
	require.NoError(t, r.UpsertPosture(ctx, nil, domain.PostureState{
		ShipID: "ship-1", Posture: "green", ROE: map[string]any{"weapons": "safe"}, CreatedAt: ts, UpdatedAt: ts,
	}))
	p, err := r.GetPosture(ctx, nil, "ship-1")
	require.NoError(t, err)
	assert.Equal(t, "green", p.Posture)
	assert.Equal(t, map[string]any{"weapons": "safe"}, p.ROE)
}

func TestEventsPollingAndTransmit(t *testing.T) {
	r, ctx := newRepo(t)
	for i := 0; i < 3; i++ {
		_, err := r.DB.ExecContext(ctx, `INSERT INTO events(ship_id,type,severity,message,data_json,created_at) VALUES ('ship-1','note','info','m','{"n":1}',?)`, ts)
		require.NoError(t, err)
	}
	evts, err := r.ListEvents(ctx, nil, repo.EventFilters{ShipID: "ship-1", AfterID: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, int64(2), evts[0].ID)
	assert.Equal(t, map[string]any{"n": float64(1)}, evts[0].Data)

	require.NoError(t, r.SetEventTransmitted(ctx, nil, 3, true))
	yes := true
	sent, err := r.ListEvents(ctx, nil, repo.EventFilters{ShipID: "ship-1", Transmitted: &yes})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.True(t, sent[0].Transmitted)

	assert.ErrorIs(t, r.SetEventTransmitted(ctx, nil, 99, true), repo.ErrNotFound)
}

func TestUpdateEntityReportsMissingRow(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec("UPDATE system_states").WillReturnResult(sqlmock.NewResult(0, 0))
	r := repo.Repo{DB: conn}
	err = r.UpdateEntity(context.Background(), nil, entity("hull", domain.KindSystem))
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateEntityWrapsDriverError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	boom := errors.New("disk I/O error")
	mock.ExpectExec("UPDATE assets").WillReturnError(boom)
	r := repo.Repo{DB: conn}
	err = r.UpdateEntity(context.Background(), nil, entity("torpedo_bay", domain.KindAsset))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, repo.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
