package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/openfooddiary/openfooddiary/server/internal/store"
	"github.com/openfooddiary/openfooddiary/server/internal/store/sqlstore"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a Postgres-backed store directly over database/sql.
func NewWithDB(db *sql.DB, opts store.Options) *sqlstore.Store {
	return sqlstore.New(db, Dialect{}, opts)
}

// Dialect is the PostgreSQL flavour of sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Placeholder(n int) string { return sqlstore.DollarPlaceholder(n) }

func (Dialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS user_foodlogentry (
            user_id TEXT NOT NULL,
            id TEXT NOT NULL,
            name TEXT NOT NULL,
            labels TEXT NOT NULL,
            metrics TEXT NOT NULL,
            time_start DOUBLE PRECISION NOT NULL,
            time_end DOUBLE PRECISION NOT NULL,
            PRIMARY KEY (user_id, id)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_user_foodlogentry_time ON user_foodlogentry (user_id, time_start, time_end)`,
		`CREATE TABLE IF NOT EXISTS user_config (
            user_id TEXT NOT NULL,
            id TEXT NOT NULL,
            serialised_value TEXT NOT NULL,
            PRIMARY KEY (user_id, id)
        )`,
	}
}

// UpsertConfig uses native ON CONFLICT so concurrent upserts cannot duplicate rows.
func (Dialect) UpsertConfig(ctx context.Context, db *sql.DB, userID, id, value string) error {
	_, err := db.ExecContext(ctx, `
        INSERT INTO user_config (user_id, id, serialised_value)
        VALUES ($1,$2,$3)
        ON CONFLICT (user_id, id) DO UPDATE SET serialised_value = EXCLUDED.serialised_value
    `, userID, id, value)
	return err
}
