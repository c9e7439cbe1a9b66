package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Repository implements store.Store over a single SQLite connection.
type Repository struct {
	db     *sqlx.DB
	ownsDB bool
}

// New opens dbPath and initializes the schema, owning the connection.
func New(dbPath string) (*Repository, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	return newRepository(db, true)
}

// NewWithDB wraps an existing connection (shared ownership); Close is a no-op.
func NewWithDB(db *sqlx.DB) (*Repository, error) {
	return newRepository(db, false)
}

func newRepository(db *sqlx.DB, ownsDB bool) (*Repository, error) {
	r := &Repository{db: db, ownsDB: ownsDB}
	if err := r.initSchema(); err != nil {
		if ownsDB {
			_ = db.Close()
		}
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return r, nil
}

func (r *Repository) Close() error {
	if !r.ownsDB {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS terminals (
			id TEXT PRIMARY KEY,
			mux_session TEXT NOT NULL,
			mux_window TEXT NOT NULL,
			provider TEXT NOT NULL,
			agent_profile TEXT DEFAULT '',
			delegating_agent_id TEXT DEFAULT '',
			initial_message TEXT DEFAULT '',
			last_active TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_terminals_delegating_agent_id ON terminals(delegating_agent_id)`,

		`CREATE TABLE IF NOT EXISTS inbox_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			message TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_inbox_receiver_status_created ON inbox_messages(receiver_id, status, created_at)`,

		`CREATE TABLE IF NOT EXISTS flows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			cron TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			next_run TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_flows_enabled_next_run ON flows(enabled, next_run)`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}
