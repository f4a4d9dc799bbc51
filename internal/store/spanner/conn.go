package spanner

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/spanner"
	database "cloud.google.com/go/spanner/admin/database/apiv1"
	"google.golang.org/api/option"
)

// Config holds generic Spanner connection configuration
type Config struct {
	ProjectID  string
	InstanceID string
	DatabaseID string
}

// DatabasePath returns the fully qualified database name.
func (c Config) DatabasePath() string {
	return fmt.Sprintf("projects/%s/instances/%s/databases/%s", c.ProjectID, c.InstanceID, c.DatabaseID)
}

// clientOptions disables authentication when talking to the emulator.
func clientOptions() []option.ClientOption {
	if os.Getenv("SPANNER_EMULATOR_HOST") != "" {
		return []option.ClientOption{option.WithoutAuthentication()}
	}
	return nil
}

// Open creates the data client and the database admin client used for DDL.
func Open(ctx context.Context, cfg Config) (*spanner.Client, *database.DatabaseAdminClient, error) {
	if cfg.ProjectID == "" || cfg.InstanceID == "" || cfg.DatabaseID == "" {
		return nil, nil, fmt.Errorf("all Spanner config fields are required")
	}
	opts := clientOptions()

	client, err := spanner.NewClient(ctx, cfg.DatabasePath(), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Spanner client: %w", err)
	}
	admin, err := database.NewDatabaseAdminClient(ctx, opts...)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to create database admin client: %w", err)
	}
	return client, admin, nil
}
