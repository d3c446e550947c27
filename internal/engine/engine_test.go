package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starbridge/internal/action"
	"starbridge/internal/config"
	"starbridge/internal/db"
	"starbridge/internal/domain"
	"starbridge/internal/engine"
	"starbridge/internal/migrate"
	"starbridge/internal/status"
)

const shipID = "ship-1"

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.MigrateContext(context.Background(), conn))

	eng := engine.New(conn, config.Default(shipID), nil)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	_, err = eng.CreateShip(ctx, engine.ShipCreateOptions{ID: shipID, Name: "Meridian", Seed: true})
	require.NoError(t, err)
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) state(t *testing.T, id string) domain.EntityState {
	t.Helper()
	st, err := env.Engine.GetEntityState(env.Ctx, shipID, "", id)
	require.NoError(t, err)
	return st
}

func (env testEnv) patch(t *testing.T, id string, p engine.EntityPatch) domain.EntityState {
	t.Helper()
	st, err := env.Engine.UpdateEntity(env.Ctx, shipID, "", id, p)
	require.NoError(t, err)
	return st
}

func (env testEnv) events(t *testing.T, typ string) []domain.Event {
	t.Helper()
	evts, err := env.Engine.ListEvents(env.Ctx, shipID, engine.EventQuery{Type: typ})
	require.NoError(t, err)
	return evts
}

func (env testEnv) run(t *testing.T, actions ...action.Wire) engine.ExecutionResult {
	t.Helper()
	res, err := env.Engine.ExecuteActions(env.Ctx, shipID, actions)
	require.NoError(t, err)
	return res
}

func ptr[T any](v T) *T { return &v }

func target(id string) *string { return &id }

func TestSeededShip(t *testing.T) {
	env := newTestEnv(t)
	ov, err := env.Engine.Overview(env.Ctx, shipID)
	require.NoError(t, err)
	assert.Len(t, ov.Systems, 7)
	assert.Len(t, ov.Assets, 2)
	require.NotNil(t, ov.Posture)
	assert.Equal(t, "green", ov.Posture.Posture)

	torpedoes := env.state(t, "torpedo_bay")
	assert.Equal(t, 12.0, torpedoes.Value)
	assert.Equal(t, []string{"power"}, torpedoes.DependsOn)
}

func TestBidirectionalUpdate(t *testing.T) {
	env := newTestEnv(t)

	st := env.patch(t, "hull", engine.EntityPatch{Status: ptr("degraded")})
	assert.Equal(t, status.Degraded, st.Status)
	assert.Equal(t, 69.5, st.Value)

	st = env.patch(t, "hull", engine.EntityPatch{Value: ptr(50.0)})
	assert.Equal(t, status.Compromised, st.Status)
	assert.Equal(t, 50.0, st.Value)

	st = env.patch(t, "hull", engine.EntityPatch{Status: ptr("optimal"), Value: ptr(10.0)})
	assert.Equal(t, status.Optimal, st.Status)
	assert.Equal(t, 10.0, st.Value)

	st = env.patch(t, "torpedo_bay", engine.EntityPatch{Status: ptr("critical"), MaxValue: ptr(20.0)})
	assert.Equal(t, 5.9, st.Value)
	assert.Equal(t, 20.0, st.MaxValue)
}

func TestOfflineForcesZero(t *testing.T) {
	env := newTestEnv(t)
	st := env.patch(t, "sensors", engine.EntityPatch{Status: ptr("offline")})
	assert.Equal(t, status.Offline, st.Status)
	assert.Zero(t, st.Value)

	st = env.patch(t, "engines", engine.EntityPatch{Status: ptr("offline"), Value: ptr(80.0)})
	assert.Zero(t, st.Value)
}

func TestLoweringMaxClampsValue(t *testing.T) {
	env := newTestEnv(t)
	st := env.patch(t, "hull", engine.EntityPatch{MaxValue: ptr(50.0)})
	assert.Equal(t, 50.0, st.Value)
	assert.Equal(t, status.Optimal, st.Status)
}

func TestUpdateValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]engine.EntityPatch{
		"bad status":      {Status: ptr("super_duper")},
		"value too high":  {Value: ptr(101.0)},
		"negative value":  {Value: ptr(-1.0)},
		"zero max":        {MaxValue: ptr(0.0)},
		"unknown parent":  {Name: ptr("Renamed"), DependsOn: &[]string{"nope"}},
		"self dependency": {DependsOn: &[]string{"hull"}},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.Engine.UpdateEntity(env.Ctx, shipID, "", "hull", p)
			assert.ErrorIs(t, err, engine.ErrValidation)
		})
	}
	hull := env.state(t, "hull")
	assert.Equal(t, "Hull Integrity", hull.Name)
	assert.Equal(t, 100.0, hull.Value)

	_, err := env.Engine.UpdateEntity(env.Ctx, shipID, "", "ghost", engine.EntityPatch{Value: ptr(1.0)})
	assert.ErrorIs(t, err, engine.ErrNotFound)

	_, err = env.Engine.UpdateEntity(env.Ctx, shipID, domain.KindAsset, "hull", engine.EntityPatch{Value: ptr(1.0)})
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestDependsOnRejectsCycle(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.UpdateEntity(env.Ctx, shipID, "", "reactor", engine.EntityPatch{DependsOn: &[]string{"shields"}})
	assert.ErrorIs(t, err, engine.ErrValidation)
	assert.Empty(t, env.state(t, "reactor").DependsOn)
}

func TestCascadeSingleParent(t *testing.T) {
	env := newTestEnv(t)
	power := env.state(t, "power")
	assert.Equal(t, status.Optimal, power.EffectiveStatus)
	assert.Nil(t, power.LimitingParent)

	env.patch(t, "reactor", engine.EntityPatch{Status: ptr("degraded")})
	power = env.state(t, "power")
	assert.Equal(t, status.Degraded, power.EffectiveStatus)
	require.NotNil(t, power.LimitingParent)
	assert.Equal(t, "reactor", power.LimitingParent.ID)
	assert.Equal(t, status.Optimal, power.Status)
}

func TestCascadeChain(t *testing.T) {
	env := newTestEnv(t)
	env.patch(t, "reactor", engine.EntityPatch{Status: ptr("critical")})
	assert.Equal(t, status.Critical, env.state(t, "power").EffectiveStatus)
	shields := env.state(t, "shields")
	assert.Equal(t, status.Critical, shields.EffectiveStatus)
	require.NotNil(t, shields.LimitingParent)
	assert.Equal(t, "power", shields.LimitingParent.ID)
	assert.Equal(t, status.Critical, shields.LimitingParent.Status)
}

func TestWorstParentWins(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateEntity(env.Ctx, engine.EntityCreateOptions{
		ShipID: shipID, Kind: domain.KindSystem, ID: "bridge", Name: "Bridge", MaxValue: 100,
		DependsOn: []string{"hull", "engines"},
	})
	require.NoError(t, err)

	env.patch(t, "hull", engine.EntityPatch{Status: ptr("operational")})
	env.patch(t, "engines", engine.EntityPatch{Status: ptr("critical")})
	bridge := env.state(t, "bridge")
	assert.Equal(t, status.Critical, bridge.EffectiveStatus)
	assert.Equal(t, "engines", bridge.LimitingParent.ID)

	env.patch(t, "engines", engine.EntityPatch{Status: ptr("operational")})
	bridge = env.state(t, "bridge")
	assert.Equal(t, "hull", bridge.LimitingParent.ID, "first parent wins a tie")

	env.patch(t, "hull", engine.EntityPatch{Status: ptr("destroyed")})
	env.patch(t, "engines", engine.EntityPatch{Status: ptr("offline")})
	bridge = env.state(t, "bridge")
	assert.Equal(t, status.Offline, bridge.EffectiveStatus)
	assert.Equal(t, "engines", bridge.LimitingParent.ID)
}

func TestDeletedParentIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.patch(t, "reactor", engine.EntityPatch{Status: ptr("critical")})
	require.NoError(t, env.Engine.DeleteEntity(env.Ctx, shipID, domain.KindSystem, "reactor"))

	power := env.state(t, "power")
	assert.Equal(t, []string{"reactor"}, power.DependsOn)
	assert.Equal(t, status.Optimal, power.EffectiveStatus)
	assert.Nil(t, power.LimitingParent)
}

func TestCascadeEvents(t *testing.T) {
	env := newTestEnv(t)
	env.patch(t, "reactor", engine.EntityPatch{Status: ptr("critical")})

	changes := env.events(t, engine.EventStatusChange)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.SeverityCritical, changes[0].Severity)
	assert.Equal(t, "optimal", changes[0].Data["old_status"])
	assert.Equal(t, "critical", changes[0].Data["new_status"])

	// power plus the six entities that depend on it
	cascades := env.events(t, engine.EventCascadeFailure)
	require.Len(t, cascades, 7)
	assert.Equal(t, "power", cascades[0].Data["entity_id"])
	assert.Equal(t, domain.SeverityCritical, cascades[0].Severity)
	parent := cascades[0].Data["limiting_parent"].(map[string]any)
	assert.Equal(t, "reactor", parent["id"])

	env.patch(t, "reactor", engine.EntityPatch{Status: ptr("optimal")})
	cascades = env.events(t, engine.EventCascadeFailure)
	require.Len(t, cascades, 14)
	assert.Equal(t, domain.SeverityInfo, cascades[7].Severity)
	assert.Nil(t, cascades[7].Data["limiting_parent"])
}

func TestQuietUpdateEmitsNothing(t *testing.T) {
	env := newTestEnv(t)
	env.patch(t, "reactor", engine.EntityPatch{Status: ptr("critical"), Quiet: true})
	assert.Empty(t, env.events(t, engine.EventStatusChange))
	assert.Empty(t, env.events(t, engine.EventCascadeFailure))
	assert.Equal(t, status.Critical, env.state(t, "power").EffectiveStatus)
}

func TestResetSystemsEmitsOneEvent(t *testing.T) {
	env := newTestEnv(t)
	env.patch(t, "hull", engine.EntityPatch{Status: ptr("destroyed")})
	env.patch(t, "reactor", engine.EntityPatch{Status: ptr("offline")})
	before := len(env.events(t, ""))

	res, err := env.Engine.ResetSystems(env.Ctx, shipID)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Reset)
	for _, s := range res.Systems {
		assert.Equal(t, status.Optimal, s.Status, s.ID)
		assert.Equal(t, s.MaxValue, s.Value, s.ID)
	}
	all := env.events(t, "")
	require.Len(t, all, before+1)
	assert.Equal(t, engine.EventSystemsReset, all[len(all)-1].Type)
}

func TestExecuteAdjustValueClamps(t *testing.T) {
	env := newTestEnv(t)
	env.patch(t, "hull", engine.EntityPatch{Value: ptr(10.0)})

	res := env.run(t, action.Wire{Type: action.TypeAdjustValue, Target: target("hull"), Value: -50.0})
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.ActionsExecuted)
	hull := env.state(t, "hull")
	assert.Zero(t, hull.Value)
	assert.Equal(t, status.Destroyed, hull.Status)

	env.run(t, action.Wire{Type: action.TypeSetValue, Target: target("hull"), Value: 250.0})
	hull = env.state(t, "hull")
	assert.Equal(t, 100.0, hull.Value)
	assert.Equal(t, status.Optimal, hull.Status)
}

func TestExecuteUnknownAction(t *testing.T) {
	env := newTestEnv(t)
	res := env.run(t, action.Wire{Type: "warp_drive_engage"})
	assert.False(t, res.Success)
	assert.Zero(t, res.ActionsExecuted)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Unknown action type")
}

func TestExecuteInvalidStatus(t *testing.T) {
	env := newTestEnv(t)
	res := env.run(t, action.Wire{Type: action.TypeSetStatus, Target: target("hull"), Value: "super_duper"})
	assert.False(t, res.Success)
	assert.Zero(t, res.ActionsExecuted)
	require.Len(t, res.Errors, 1)
	hull := env.state(t, "hull")
	assert.Equal(t, status.Optimal, hull.Status)
	assert.Equal(t, 100.0, hull.Value)
}

func TestExecuteMissingTargetAsymmetry(t *testing.T) {
	env := newTestEnv(t)
	res := env.run(t,
		action.Wire{Type: action.TypeSetValue, Target: target("ghost"), Value: 10.0},
		action.Wire{Type: action.TypeAdjustValue, Target: target("ghost"), Value: -10.0},
	)
	assert.True(t, res.Success)
	assert.Zero(t, res.ActionsExecuted)
	assert.Empty(t, res.Errors)

	res = env.run(t, action.Wire{Type: action.TypeSetStatus, Target: target("ghost"), Value: "critical"})
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "not found")
}

func TestExecuteContinuesAfterError(t *testing.T) {
	env := newTestEnv(t)
	res := env.run(t,
		action.Wire{Type: action.TypeSetStatus, Target: target("hull"), Value: "critical"},
		action.Wire{Type: "warp_drive_engage"},
		action.Wire{Type: action.TypeEmitEvent, Data: map[string]any{"message": "Brace for impact", "severity": "critical"}},
	)
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.ActionsExecuted)
	// status_change, emitted event, summary
	require.Len(t, res.Events, 3)
	assert.Equal(t, status.Critical, env.state(t, "hull").Status)

	emitted := env.events(t, action.DefaultEventType)
	require.Len(t, emitted, 1)
	assert.Equal(t, "Brace for impact", emitted[0].Message)
	assert.Equal(t, "critical", emitted[0].Severity)

	summary := env.events(t, engine.EventScenarioExecuted)
	require.Len(t, summary, 1)
	assert.Equal(t, res.Events[2], summary[0].ID)
	assert.Equal(t, domain.SeverityWarning, summary[0].Severity)
}

func TestExecutePosture(t *testing.T) {
	env := newTestEnv(t)
	res := env.run(t, action.Wire{Type: action.TypeSetPosture, Value: "red"})
	assert.True(t, res.Success)
	p, err := env.Engine.GetPosture(env.Ctx, shipID)
	require.NoError(t, err)
	assert.Equal(t, "red", p.Posture)
	preset, _ := config.Default(shipID).PresetFor("red")
	assert.Equal(t, map[string]any(preset), p.ROE)

	res = env.run(t, action.Wire{Type: action.TypeSetPosture, Value: "plaid"})
	assert.False(t, res.Success)
	p, err = env.Engine.GetPosture(env.Ctx, shipID)
	require.NoError(t, err)
	assert.Equal(t, "red", p.Posture)
}

func TestExecuteStoredScenario(t *testing.T) {
	env := newTestEnv(t)
	sc, err := env.Engine.CreateScenario(env.Ctx, engine.ScenarioOptions{
		ShipID: shipID, Name: "Reactor breach",
		Actions: []action.Wire{{Type: action.TypeSetStatus, Target: target("reactor"), Value: "critical"}},
	})
	require.NoError(t, err)
	res, err := env.Engine.ExecuteScenario(env.Ctx, shipID, sc.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, status.Critical, env.state(t, "shields").EffectiveStatus)

	summary := env.events(t, engine.EventScenarioExecuted)
	require.Len(t, summary, 1)
	assert.Equal(t, sc.ID, summary[0].Data["scenario_id"])

	_, err = env.Engine.ExecuteScenario(env.Ctx, "other-ship", sc.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestRehearsalIsReadOnly(t *testing.T) {
	env := newTestEnv(t)
	sc, err := env.Engine.CreateScenario(env.Ctx, engine.ScenarioOptions{
		ShipID: shipID, Name: "Hull breach",
		Actions: []action.Wire{
			{Type: action.TypeSetStatus, Target: target("hull"), Value: "destroyed"},
			{Type: action.TypeEmitEvent, Data: map[string]any{"message": "Hull breach"}},
			{Type: action.TypeSetPosture, Value: "red"},
		},
	})
	require.NoError(t, err)
	before := len(env.events(t, ""))

	r, err := env.Engine.RehearseScenario(env.Ctx, shipID, sc.ID)
	require.NoError(t, err)
	assert.True(t, r.CanExecute)
	require.Len(t, r.Changes, 1)
	assert.Equal(t, status.Optimal, r.Changes[0].BeforeStatus)
	assert.Equal(t, status.Destroyed, r.Changes[0].AfterStatus)
	assert.Equal(t, 9.5, r.Changes[0].AfterValue)
	require.Len(t, r.Events, 1)
	require.NotNil(t, r.Posture)
	assert.Equal(t, "green", r.Posture.Before)
	assert.Equal(t, "red", r.Posture.After)

	hull := env.state(t, "hull")
	assert.Equal(t, status.Optimal, hull.Status)
	assert.Equal(t, 100.0, hull.Value)
	assert.Len(t, env.events(t, ""), before)
	p, err := env.Engine.GetPosture(env.Ctx, shipID)
	require.NoError(t, err)
	assert.Equal(t, "green", p.Posture)
}

func TestRehearsalChaining(t *testing.T) {
	env := newTestEnv(t)
	r, err := env.Engine.RehearseActions(env.Ctx, shipID, []action.Wire{
		{Type: action.TypeAdjustValue, Target: target("hull"), Value: -20.0},
		{Type: action.TypeAdjustValue, Target: target("hull"), Value: -30.0},
	})
	require.NoError(t, err)
	require.Len(t, r.Changes, 2)
	assert.Equal(t, 80.0, r.Changes[0].AfterValue)
	assert.Equal(t, r.Changes[0].AfterValue, r.Changes[1].BeforeValue)
	assert.Equal(t, r.Changes[0].AfterStatus, r.Changes[1].BeforeStatus)
	assert.Equal(t, 50.0, r.Changes[1].AfterValue)
	assert.Equal(t, status.Compromised, r.Changes[1].AfterStatus)
}

func TestRehearsalMatchesExecution(t *testing.T) {
	env := newTestEnv(t)
	actions := []action.Wire{
		{Type: action.TypeSetStatus, Target: target("engines"), Value: "degraded"},
		{Type: action.TypeAdjustValue, Target: target("engines"), Value: -15.0},
		{Type: action.TypeSetStatus, Target: target("sensors"), Value: "offline"},
	}
	r, err := env.Engine.RehearseActions(env.Ctx, shipID, actions)
	require.NoError(t, err)
	env.run(t, actions...)
	engines, sensors := env.state(t, "engines"), env.state(t, "sensors")
	assert.Equal(t, r.Changes[1].AfterValue, engines.Value)
	assert.Equal(t, r.Changes[1].AfterStatus, engines.Status)
	assert.Equal(t, r.Changes[2].AfterValue, sensors.Value)
	assert.Equal(t, r.Changes[2].AfterStatus, sensors.Status)
}

func TestRehearsalWarningsAndErrors(t *testing.T) {
	env := newTestEnv(t)
	r, err := env.Engine.RehearseActions(env.Ctx, shipID, []action.Wire{{Type: "warp_drive_engage"}})
	require.NoError(t, err)
	assert.True(t, r.CanExecute)
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "Unknown action type")
	assert.Empty(t, r.Errors)

	for name, w := range map[string]action.Wire{
		"missing set_status target": {Type: action.TypeSetStatus, Target: target("ghost"), Value: "critical"},
		"missing set_value target":  {Type: action.TypeSetValue, Target: target("ghost"), Value: 1.0},
		"invalid status":            {Type: action.TypeSetStatus, Target: target("hull"), Value: "super_duper"},
		"unknown posture":           {Type: action.TypeSetPosture, Value: "plaid"},
	} {
		t.Run(name, func(t *testing.T) {
			r, err := env.Engine.RehearseActions(env.Ctx, shipID, []action.Wire{w})
			require.NoError(t, err)
			assert.False(t, r.CanExecute)
			assert.Len(t, r.Errors, 1)
		})
	}
}

func TestRehearsalWithoutPostureRow(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateShip(env.Ctx, engine.ShipCreateOptions{ID: "scout", Name: "Scout"})
	require.NoError(t, err)
	r, err := env.Engine.RehearseActions(env.Ctx, "scout", []action.Wire{{Type: action.TypeSetPosture, Value: "yellow"}})
	require.NoError(t, err)
	assert.True(t, r.CanExecute)
	require.Len(t, r.Warnings, 1)
	require.NotNil(t, r.Posture)
	assert.Empty(t, r.Posture.Before)
	assert.Equal(t, "yellow", r.Posture.After)

	_, err = env.Engine.GetPosture(env.Ctx, "scout")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestSeedingAnotherShipPrefixesIDs(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateShip(env.Ctx, engine.ShipCreateOptions{ID: "escort", Name: "Escort", Seed: true})
	require.NoError(t, err)
	power, err := env.Engine.GetEntityState(env.Ctx, "escort", domain.KindSystem, "escort-power")
	require.NoError(t, err)
	assert.Equal(t, []string{"escort-reactor"}, power.DependsOn)

	_, err = env.Engine.CreateShip(env.Ctx, engine.ShipCreateOptions{ID: "escort", Name: "Again"})
	assert.ErrorIs(t, err, engine.ErrConflict)
}

func TestTaskOutcomes(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ShipID: shipID, Title: "Reroute power", Station: "engineering",
		OnSuccess: []action.Wire{{Type: action.TypeSetStatus, Target: target("power"), Value: "operational"}},
		OnFailure: []action.Wire{{Type: action.TypeSetStatus, Target: target("power"), Value: "critical"}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, task.Status)

	task, err = env.Engine.ClaimTask(env.Ctx, shipID, task.ID, "ensign")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskActive, task.Status)
	_, err = env.Engine.ClaimTask(env.Ctx, shipID, task.ID, "lieutenant")
	assert.ErrorIs(t, err, engine.ErrConflict)

	done, err := env.Engine.CompleteTask(env.Ctx, shipID, task.ID, domain.TaskSucceeded)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskSucceeded, done.Task.Status)
	assert.NotNil(t, done.Task.CompletedAt)
	assert.True(t, done.Result.Success)
	assert.Equal(t, 1, done.Result.ActionsExecuted)
	assert.Equal(t, status.Operational, env.state(t, "power").Status)
	assert.Len(t, env.events(t, "task_succeeded"), 1)

	_, err = env.Engine.CompleteTask(env.Ctx, shipID, task.ID, domain.TaskFailed)
	assert.ErrorIs(t, err, engine.ErrValidation)
	assert.Equal(t, status.Operational, env.state(t, "power").Status)

	_, err = env.Engine.CompleteTask(env.Ctx, shipID, task.ID, "abandoned")
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestTaskOutcomeUsesExecuteSemantics(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ShipID: shipID, Title: "Hold the line",
		OnFailure: []action.Wire{
			{Type: action.TypeSetValue, Target: target("ghost"), Value: 5.0},
			{Type: "warp_drive_engage"},
			{Type: action.TypeAdjustValue, Target: target("shields"), Value: -60.0},
		},
	})
	require.NoError(t, err)
	done, err := env.Engine.CompleteTask(env.Ctx, shipID, task.ID, domain.TaskFailed)
	require.NoError(t, err)
	assert.False(t, done.Result.Success)
	assert.Equal(t, 1, done.Result.ActionsExecuted)
	require.Len(t, done.Result.Errors, 1)
	assert.Contains(t, done.Result.Errors[0], "Unknown action type")
	assert.Equal(t, status.Compromised, env.state(t, "shields").Status)
}

func TestOverdueTasksExpire(t *testing.T) {
	env := newTestEnv(t)
	overdue, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ShipID: shipID, Title: "Seal bulkhead", ExpiresAt: "2023-12-31T23:00:00Z",
		OnExpire: []action.Wire{{Type: action.TypeEmitEvent, Data: map[string]any{"type": "hull_breach", "severity": "critical", "message": "Deck 4 vented"}}},
	})
	require.NoError(t, err)
	fresh, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ShipID: shipID, Title: "Calibrate sensors", ExpiresAt: "2024-01-02T00:00:00Z",
	})
	require.NoError(t, err)

	tasks, err := env.Engine.ListTasks(env.Ctx, shipID, "")
	require.NoError(t, err)
	byID := map[string]domain.Task{}
	for _, tk := range tasks {
		byID[tk.ID] = tk
	}
	assert.Equal(t, domain.TaskExpired, byID[overdue.ID].Status)
	assert.Equal(t, domain.TaskPending, byID[fresh.ID].Status)
	assert.Len(t, env.events(t, "hull_breach"), 1)
	assert.Len(t, env.events(t, "task_expired"), 1)

	again, err := env.Engine.ExpireOverdue(env.Ctx, shipID)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ShipID: shipID})
	assert.ErrorIs(t, err, engine.ErrValidation)
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ShipID: shipID, Title: "x", ExpiresAt: "tomorrow"})
	assert.ErrorIs(t, err, engine.ErrValidation)
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ShipID: "nowhere", Title: "x"})
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestSetPostureReplacesROE(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.SetPosture(env.Ctx, shipID, "silent_running")
	require.NoError(t, err)
	assert.Equal(t, "dark", p.ROE["transponder"])

	p, err = env.Engine.SetPosture(env.Ctx, shipID, "red")
	require.NoError(t, err)
	assert.Equal(t, "masked", p.ROE["transponder"])
	assert.Equal(t, "weapons_free", p.ROE["engagement"])

	_, err = env.Engine.SetPosture(env.Ctx, shipID, "plaid")
	assert.ErrorIs(t, err, engine.ErrValidation)

	changes := env.events(t, engine.EventPostureChange)
	require.Len(t, changes, 3)
	assert.Equal(t, "silent_running", changes[2].Data["old_posture"])
}

func TestEventTransmitToggle(t *testing.T) {
	env := newTestEnv(t)
	res := env.run(t, action.Wire{Type: action.TypeEmitEvent, Data: map[string]any{"message": "Incoming hail"}})
	evt, err := env.Engine.SetEventTransmitted(env.Ctx, shipID, res.Events[0], true)
	require.NoError(t, err)
	assert.True(t, evt.Transmitted)

	yes := true
	sent, err := env.Engine.ListEvents(env.Ctx, shipID, engine.EventQuery{Transmitted: &yes})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "Incoming hail", sent[0].Message)

	_, err = env.Engine.SetEventTransmitted(env.Ctx, "other", res.Events[0], true)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestConcurrentAdjustmentsAreSerialized(t *testing.T) {
	env := newTestEnv(t)
	env.patch(t, "hull", engine.EntityPatch{Value: ptr(0.0)})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.ExecuteActions(env.Ctx, shipID, []action.Wire{
				{Type: action.TypeAdjustValue, Target: target("hull"), Value: 1.0},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20.0, env.state(t, "hull").Value)
}
