// Package sqlite provides the SQLite dialect of the relational store.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/openfooddiary/openfooddiary/server/internal/store"
	"github.com/openfooddiary/openfooddiary/server/internal/store/sqlstore"
)

// NewWithDB constructs a SQLite-backed store.Store over an open connection.
func NewWithDB(db *sql.DB, opts store.Options) *sqlstore.Store {
	return sqlstore.New(db, Dialect{}, opts)
}

// Dialect is the SQLite flavour of sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite3" }

func (Dialect) Placeholder(int) string { return "?" }

// Schema creates the tables if they do not exist.
func (Dialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS user_foodlogentry (
            user_id TEXT NOT NULL,
            id TEXT NOT NULL,
            name TEXT NOT NULL,
            labels TEXT NOT NULL,
            metrics TEXT NOT NULL,
            time_start REAL NOT NULL,
            time_end REAL NOT NULL,
            PRIMARY KEY(user_id, id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_user_foodlogentry_time ON user_foodlogentry(user_id, time_start, time_end);`,
		`CREATE TABLE IF NOT EXISTS user_config (
            user_id TEXT NOT NULL,
            id TEXT NOT NULL,
            serialised_value TEXT NOT NULL,
            PRIMARY KEY(user_id, id)
        );`,
	}
}

// UpsertConfig deletes then inserts inside one transaction.
func (Dialect) UpsertConfig(ctx context.Context, db *sql.DB, userID, id, value string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_config WHERE user_id=? AND id=?`, userID, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO user_config (user_id, id, serialised_value) VALUES (?,?,?)`, userID, id, value); err != nil {
		return err
	}
	return tx.Commit()
}
