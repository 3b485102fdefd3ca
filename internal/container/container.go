package container

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"utilpanel/adapters/sqlstore"
	"utilpanel/internal/config"
	"utilpanel/internal/logging"
	"utilpanel/internal/pipeline"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Log    *logging.Logger

	// Infrastructure
	DB *sqlx.DB

	// Repositories (data access layer)
	Store *sqlstore.Store

	Pipeline *pipeline.Service
}

// New creates a container without database access. Commands that only read
// files and write tables never touch DATABASE_URL.
func New(cfg *config.Config, log *logging.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if log == nil {
		log = logging.NewDefaultLogger()
	}

	return &Container{
		Config:   cfg,
		Log:      log,
		Pipeline: pipeline.NewService(log),
	}, nil
}

// InitWithDatabase opens the configured database, applies migrations and
// builds the run store. Calling it twice is a no-op.
func (c *Container) InitWithDatabase(ctx context.Context) error {
	if c.Store != nil {
		return nil
	}

	db, err := sqlstore.Open(ctx, c.Config.Database.Driver, c.Config.Database.URL)
	if err != nil {
		return err
	}

	store := sqlstore.New(db, c.Log)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize repositories: %w", err)
	}

	c.DB = db
	c.Store = store
	c.Log.Debug("container initialized with %s database", c.Config.Database.Driver)
	return nil
}

// Shutdown releases the database connection, if any.
func (c *Container) Shutdown(ctx context.Context) error {
	defer c.Log.Sync()
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
