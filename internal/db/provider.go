package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/agentmux/agentmux/internal/db/dialect"
)

// OpenSQLitePool opens the paired writer/reader connections for a SQLite
// database file and wraps them in a Pool.
func OpenSQLitePool(dbPath string, busyTimeoutMs int) (*Pool, error) {
	writer, err := OpenSQLite(dbPath, busyTimeoutMs)
	if err != nil {
		return nil, err
	}
	reader, err := OpenSQLiteReader(dbPath, busyTimeoutMs)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to open reader pool: %w", err)
	}
	return NewPool(sqlx.NewDb(writer, dialect.SQLite3), sqlx.NewDb(reader, dialect.SQLite3)), nil
}

// OpenPostgresPool opens a PostgreSQL connection pool. pgx multiplexes
// readers and writers internally, so both sides share one *sqlx.DB.
func OpenPostgresPool(dsn string, maxConns int) (*Pool, error) {
	conn, err := OpenPostgres(dsn, maxConns)
	if err != nil {
		return nil, err
	}
	sdb := sqlx.NewDb(conn, dialect.PGX)
	return NewPool(sdb, sdb), nil
}
