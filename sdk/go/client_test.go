package starbridgesdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starbridge/internal/config"
	"starbridge/internal/db"
	"starbridge/internal/engine"
	"starbridge/internal/migrate"
	"starbridge/internal/server"
	starbridgesdk "starbridge/sdk/go"
)

func newClient(t *testing.T) *starbridgesdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.MigrateContext(context.Background(), conn))
	e := engine.New(conn, config.Default("ship-1"), nil)
	_, err = e.CreateShip(context.Background(), engine.ShipCreateOptions{ID: "ship-1", Name: "Meridian", Seed: true})
	require.NoError(t, err)
	handler, err := server.New(server.Config{Engine: e})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return starbridgesdk.New(srv.URL, "ship-1")
}

func TestClientRoundTrip(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	sys, err := c.SetSystemStatus(ctx, "power", "compromised")
	require.NoError(t, err)
	assert.Equal(t, "compromised", sys.Status)
	assert.InDelta(t, 49.5, sys.Value, 1e-9)

	all, err := c.Systems(ctx)
	require.NoError(t, err)
	for _, s := range all {
		if s.ID == "engines" {
			assert.Equal(t, "compromised", s.EffectiveStatus)
			require.NotNil(t, s.LimitingParent)
			assert.Equal(t, "power", s.LimitingParent.ID)
		}
	}

	r, err := c.Rehearse(ctx, []starbridgesdk.Action{{Type: "set_value", Target: "hull", Value: 10}})
	require.NoError(t, err)
	assert.True(t, r.CanExecute)
	assert.Len(t, r.Changes, 1)

	ex, err := c.ExecuteActions(ctx, []starbridgesdk.Action{{Type: "adjust_value", Target: "hull", Value: -30}})
	require.NoError(t, err)
	assert.True(t, ex.Success)
	assert.Equal(t, 1, ex.ActionsExecuted)

	p, err := c.SetPosture(ctx, "yellow")
	require.NoError(t, err)
	assert.Equal(t, "return_fire", p.ROE["engagement"])

	page, err := c.Events(ctx, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, page.Items)
	next, err := c.Events(ctx, page.LastID, 10)
	require.NoError(t, err)
	assert.Empty(t, next.Items)
	assert.Equal(t, page.LastID, next.LastID)
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	c := newClient(t)
	_, err := c.ExecuteScenario(context.Background(), "missing")
	var apiErr *starbridgesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "not_found")
}
