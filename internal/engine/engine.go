package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"starbridge/internal/config"
	"starbridge/internal/depgraph"
	"starbridge/internal/domain"
	"starbridge/internal/events"
	"starbridge/internal/repo"
	"starbridge/internal/status"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	// ErrNotFound is the store's sentinel, re-exported for callers that
	// only import the engine.
	ErrNotFound = repo.ErrNotFound
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time
	locks  *shipLocks
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Config: cfg,
		Logger: logger,
		Now:    time.Now,
		locks:  newShipLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}

// emit appends an event stamped with the engine clock.
func (e Engine) emit(ctx context.Context, q repo.Querier, evt events.Event) (int64, error) {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, q, evt)
}

// lockShip serializes mutations of one ship. The returned func unlocks.
func (e Engine) lockShip(shipID string) func() {
	if e.locks == nil {
		return func() {}
	}
	return e.locks.lock(shipID)
}

// ShipCreateOptions are parameters for creating a ship.
type ShipCreateOptions struct {
	ID   string
	Name string
	// Seed creates the configured systems and assets and sets the default
	// posture.
	Seed bool
}

func (e Engine) CreateShip(ctx context.Context, opts ShipCreateOptions) (domain.Ship, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		return domain.Ship{}, invalid("name is required")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if _, err := e.Repo.GetShip(ctx, nil, opts.ID); err == nil {
		return domain.Ship{}, conflict("ship %s already exists", opts.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Ship{}, err
	}
	ship := domain.Ship{ID: opts.ID, Name: opts.Name, CreatedAt: e.stamp()}

	unlock := e.lockShip(ship.ID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Ship{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertShip(ctx, tx, ship); err != nil {
		return domain.Ship{}, fmt.Errorf("insert ship: %w", err)
	}
	if opts.Seed && e.Config != nil {
		if err := e.seedShip(ctx, tx, ship.ID); err != nil {
			return domain.Ship{}, err
		}
		if _, _, err := e.setPostureTx(ctx, tx, ship.ID, e.Config.Postures.Default); err != nil {
			return domain.Ship{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Ship{}, err
	}
	e.log().Info("ship created", "ship", ship.ID, "seeded", opts.Seed)
	return ship, nil
}

// seedShip inserts the configured seed entities. The configured ship keeps
// the bare seed ids; any other ship gets them prefixed with its own id so
// ids stay unique across ships.
func (e Engine) seedShip(ctx context.Context, tx *sql.Tx, shipID string) error {
	prefix := ""
	if shipID != e.Config.Ship.ID {
		prefix = shipID + "-"
	}
	now := e.stamp()
	type seeded struct {
		id   string
		deps []string
	}
	var all []seeded
	insert := func(kind string, list []config.SeedEntity) error {
		for _, s := range list {
			ent := domain.Entity{
				ID: prefix + s.ID, ShipID: shipID, Kind: kind, Name: s.Name, Category: s.Category,
				Status: status.Optimal, Value: s.MaxValue, MaxValue: s.MaxValue,
				CreatedAt: now, UpdatedAt: now,
			}
			if ent.Name == "" {
				ent.Name = s.ID
			}
			if err := e.Repo.InsertEntity(ctx, tx, ent); err != nil {
				return fmt.Errorf("seed %s: %w", ent.ID, err)
			}
			deps := make([]string, 0, len(s.DependsOn))
			for _, d := range s.DependsOn {
				deps = append(deps, prefix+d)
			}
			all = append(all, seeded{id: ent.ID, deps: deps})
		}
		return nil
	}
	if err := insert(domain.KindSystem, e.Config.Seed.Systems); err != nil {
		return err
	}
	if err := insert(domain.KindAsset, e.Config.Seed.Assets); err != nil {
		return err
	}
	lookup := e.lookup(ctx, tx)
	for _, s := range all {
		cyclic, err := depgraph.WouldCycle(s.id, s.deps, lookup)
		if err != nil {
			return err
		}
		if cyclic {
			return invalid("seed entity %s: depends_on forms a cycle", s.id)
		}
		if err := e.Repo.SetDependencies(ctx, tx, s.id, s.deps); err != nil {
			return err
		}
	}
	return nil
}

func (e Engine) ListShips(ctx context.Context) ([]domain.Ship, error) {
	return e.Repo.ListShips(ctx, nil)
}

func (e Engine) GetShip(ctx context.Context, id string) (domain.Ship, error) {
	return e.Repo.GetShip(ctx, nil, id)
}

// ShipOverview is the bridge dashboard for one ship.
type ShipOverview struct {
	Ship    domain.Ship          `json:"ship"`
	Systems []domain.EntityState `json:"systems"`
	Assets  []domain.EntityState `json:"assets"`
	Posture *domain.PostureState `json:"posture,omitempty"`
}

func (e Engine) Overview(ctx context.Context, shipID string) (ShipOverview, error) {
	ship, err := e.Repo.GetShip(ctx, nil, shipID)
	if err != nil {
		return ShipOverview{}, err
	}
	states, err := e.ListEntityStates(ctx, shipID, "")
	if err != nil {
		return ShipOverview{}, err
	}
	ov := ShipOverview{Ship: ship, Systems: []domain.EntityState{}, Assets: []domain.EntityState{}}
	for _, st := range states {
		if st.Kind == domain.KindAsset {
			ov.Assets = append(ov.Assets, st)
		} else {
			ov.Systems = append(ov.Systems, st)
		}
	}
	p, err := e.Repo.GetPosture(ctx, nil, shipID)
	switch {
	case err == nil:
		ov.Posture = &p
	case !errors.Is(err, repo.ErrNotFound):
		return ShipOverview{}, err
	}
	return ov, nil
}

// ensureShip returns NotFound for unknown ships.
func (e Engine) ensureShip(ctx context.Context, q repo.Querier, shipID string) error {
	_, err := e.Repo.GetShip(ctx, q, shipID)
	return err
}
