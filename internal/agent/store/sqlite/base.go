// Package sqlite provides the SQL-backed store implementation. Queries are
// written with `?` placeholders and passed through sqlx.Rebind, so the same
// repository serves both the sqlite3 and pgx drivers.
package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/agentmux/agentmux/internal/agent/store"
	"github.com/agentmux/agentmux/internal/db"
)

// Repository provides SQL-backed agent and message storage.
type Repository struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader (read-only pool)
}

// Ensure Repository implements the store interface.
var _ store.Store = (*Repository)(nil)

// New creates a repository on top of an existing connection pool and
// initializes the schema. The pool stays owned by the caller.
func New(pool *db.Pool) (*Repository, error) {
	repo := &Repository{db: pool.Writer(), ro: pool.Reader()}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// Close is a no-op; the connection pool is owned by the caller.
func (r *Repository) Close() error {
	return nil
}

// initSchema creates the database tables if they don't exist.
func (r *Repository) initSchema() error {
	if _, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			prompt TEXT NOT NULL DEFAULT '',
			configuration TEXT NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		)
	`); err != nil {
		return err
	}

	// UNIQUE (agent_id, sequence_number) both guarantees gapless ordered
	// streams and serves as the index for per-agent range scans.
	if _, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS agent_messages (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			sequence_number INTEGER NOT NULL,
			type TEXT NOT NULL CHECK (type IN ('user', 'assistant', 'system', 'error')),
			role TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			UNIQUE (agent_id, sequence_number)
		)
	`); err != nil {
		return err
	}

	if _, err := r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status)`); err != nil {
		return err
	}
	return nil
}
