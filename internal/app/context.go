package app

import (
	"database/sql"
	"fmt"

	"appraise/internal/config"
	"appraise/internal/db"
	"appraise/internal/engine"
	"appraise/internal/events"
	"appraise/internal/migrate"
)

// Context bundles the open database, resolved config and engine for one
// workspace. Close releases the database and any broker connection.
type Context struct {
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
	publisher events.Publisher
}

// Open prepares a workspace for use: it ensures the workspace directory,
// opens and migrates the database, loads appraise.yml (falling back to
// defaults when the file is absent) and connects the event publisher when
// the config names a broker.
func Open(workspace string) (*Context, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("local")
	}
	e := engine.New(conn, cfg)
	appCtx := &Context{DB: conn, Config: cfg, Engine: e}
	if cfg.Events.NATSURL != "" {
		pub, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectBase)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("connect event broker: %w", err)
		}
		appCtx.publisher = pub
		appCtx.Engine.Publisher = pub
	}
	return appCtx, nil
}

// Close releases the database and event broker connections.
func (c *Context) Close() {
	if c.publisher != nil {
		c.publisher.Close()
	}
	if c.DB != nil {
		c.DB.Close()
	}
}
