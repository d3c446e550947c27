package app

import (
	"context"
	"errors"
	"fmt"

	"starbridge/internal/domain"
	"starbridge/internal/engine"
	"starbridge/internal/repo"
)

// Bootstrap ensures the configured ship exists, creating it with the seed
// systems, assets and default posture on first run.
func Bootstrap(ctx context.Context, eng engine.Engine) (domain.Ship, error) {
	cfg := eng.Config
	if cfg == nil {
		return domain.Ship{}, errors.New("config not loaded")
	}
	ship, err := eng.GetShip(ctx, cfg.Ship.ID)
	if err == nil {
		return ship, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Ship{}, err
	}
	name := cfg.Ship.Name
	if name == "" {
		name = cfg.Ship.ID
	}
	ship, err = eng.CreateShip(ctx, engine.ShipCreateOptions{ID: cfg.Ship.ID, Name: name, Seed: true})
	if err != nil {
		return domain.Ship{}, fmt.Errorf("seed ship %s: %w", cfg.Ship.ID, err)
	}
	if eng.Logger != nil {
		eng.Logger.Info("seeded ship from config", "ship", ship.ID)
	}
	return ship, nil
}

// ResolveShip picks the ship a command works on: the override when given,
// else the configured ship.
func ResolveShip(ctx context.Context, eng engine.Engine, override string) (string, error) {
	shipID := override
	if shipID == "" {
		if eng.Config == nil || eng.Config.Ship.ID == "" {
			return "", fmt.Errorf("ship not specified; use --ship")
		}
		shipID = eng.Config.Ship.ID
	}
	if _, err := eng.GetShip(ctx, shipID); err != nil {
		return "", err
	}
	return shipID, nil
}
