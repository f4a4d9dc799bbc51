package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/openfooddiary/openfooddiary/server/internal/store"
	"github.com/openfooddiary/openfooddiary/server/internal/store/storetest"
)

// postgresDSN prefers an externally provided database, else starts a container.
func postgresDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("OPENFOODDIARY_POSTGRES_DSN"); dsn != "" {
		return dsn
	}
	storetest.RequireIntegration(t)
	addr := storetest.StartContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "openfooddiary",
			"POSTGRES_PASSWORD": "openfooddiary",
			"POSTGRES_DB":       "openfooddiary",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432/tcp")
	return fmt.Sprintf("postgres://openfooddiary:openfooddiary@%s/openfooddiary?sslmode=disable", addr)
}

func makePGStore(t *testing.T) store.Store {
	t.Helper()
	dsn := postgresDSN(t)
	db, err := Open(dsn)
	if err != nil {
		t.Fatalf("postgres open: %v", err)
	}
	s := NewWithDB(db, storetest.Options(t))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestPostgresStore_Compliance(t *testing.T) {
	storetest.Run(t, makePGStore)
}

func TestOpen_EmptyDSN(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestDialect_Placeholders(t *testing.T) {
	d := Dialect{}
	if got := d.Placeholder(3); got != "$3" {
		t.Fatalf("Placeholder(3) = %q", got)
	}
}
