package store

import (
	"context"
	"time"

	"github.com/openfooddiary/openfooddiary/server/internal/model"
)

// Store exposes persistence operations required by the storage facade.
// Implementations live under internal/store/<driver>/ (e.g., sqlite, cassandra, neo4j).
// Every non-nil error returned by an implementation is a *model.Error.
type Store interface {
	Name() string
	FoodLogs() FoodLogs
	Configurations() Configurations
	// Setup creates schema, keyspace or tables. Safe to call repeatedly.
	Setup(ctx context.Context) error
	// Close releases the underlying connection.
	Close(ctx context.Context) error
	HealthPing(ctx context.Context) error
}

type FoodLogs interface {
	Store(ctx context.Context, userID string, in model.CreateFoodLogEntry) (string, error)
	Retrieve(ctx context.Context, userID, id string) (*model.FoodLogEntry, error)
	Edit(ctx context.Context, userID string, in model.EditFoodLogEntry) (*model.FoodLogEntry, error)
	// Delete reports true whether or not the entry existed.
	Delete(ctx context.Context, userID, id string) (bool, error)
	// Query returns entries whose interval overlaps [start, end].
	Query(ctx context.Context, userID string, start, end time.Time) ([]*model.FoodLogEntry, error)
	Purge(ctx context.Context, userID string) (bool, error)
	// BulkExport writes every entry of the user to a CSV file and returns its path.
	BulkExport(ctx context.Context, userID string) (string, error)
}

type Configurations interface {
	Store(ctx context.Context, userID string, c model.Configuration) (model.ConfigurationID, error)
	Retrieve(ctx context.Context, userID string, id model.ConfigurationID) (*model.Configuration, error)
	Query(ctx context.Context, userID string) ([]*model.Configuration, error)
	Delete(ctx context.Context, userID string, id model.ConfigurationID) (bool, error)
}

// Options carries settings shared by every adapter.
type Options struct {
	MetricMax      float64
	ExportDir      string
	ExportPageSize int
}

// DefaultExportPageSize is the number of rows fetched per export page.
const DefaultExportPageSize = 250

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.MetricMax <= 0 {
		o.MetricMax = 1_000_000
	}
	if o.ExportDir == "" {
		o.ExportDir = "/tmp"
	}
	if o.ExportPageSize <= 0 {
		o.ExportPageSize = DefaultExportPageSize
	}
	return o
}
