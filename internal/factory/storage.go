package factory

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfooddiary/openfooddiary/server/internal/config"
	"github.com/openfooddiary/openfooddiary/server/internal/health"
	"github.com/openfooddiary/openfooddiary/server/internal/store"
	"github.com/openfooddiary/openfooddiary/server/internal/store/cassandra"
	"github.com/openfooddiary/openfooddiary/server/internal/store/dynamo"
	"github.com/openfooddiary/openfooddiary/server/internal/store/memory"
	storeneo4j "github.com/openfooddiary/openfooddiary/server/internal/store/neo4j"
	storepg "github.com/openfooddiary/openfooddiary/server/internal/store/postgres"
	storespanner "github.com/openfooddiary/openfooddiary/server/internal/store/spanner"
	"github.com/openfooddiary/openfooddiary/server/internal/store/sqlite"
)

const cassandraTimeout = 10 * time.Second

// StoreOptions derives adapter options from cfg.
func StoreOptions(cfg *config.Config) store.Options {
	return store.Options{
		MetricMax:      cfg.MetricMax,
		ExportDir:      cfg.TempDirectory,
		ExportPageSize: cfg.ExportPageSize,
	}.WithDefaults()
}

// NewStore returns the store.Store selected by cfg.StorageProvider.
// Unknown providers fall back to SQLite. Launches an async readiness check
// that stops when ctx is done or the returned store is closed.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	st, err := open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	probeCtx, stop := context.WithCancel(ctx)
	bootstrapTimeout := time.Duration(cfg.BootstrapTimeoutSeconds) * time.Second
	go probeReady(probeCtx, st, bootstrapTimeout, log)

	return &readyStore{Store: st, probe: probeCtx, stop: stop}, nil
}

// readyStore cancels the readiness probe before closing the adapter.
type readyStore struct {
	store.Store
	probe context.Context
	stop  context.CancelFunc
}

func (s *readyStore) Close(ctx context.Context) error {
	s.stop()
	return s.Store.Close(ctx)
}

func probeReady(ctx context.Context, st store.Store, timeout time.Duration, log zerolog.Logger) {
	err := health.WaitUntilReady(ctx, st, timeout, log)
	switch {
	case ctx.Err() != nil:
		// cancelled by Close or by the caller; the result says nothing about the backend
	case err != nil:
		log.Warn().Err(err).Str("backend", st.Name()).Msg("store bootstrap check failed")
	default:
		log.Debug().Str("backend", st.Name()).Msg("store bootstrap check completed")
	}
}

func open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	opts := StoreOptions(cfg)

	switch cfg.StorageProvider {
	case config.ProviderMemory:
		return memory.New(opts), nil

	case config.ProviderPostgres:
		db, err := storepg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return storepg.NewWithDB(db, opts), nil

	case config.ProviderSpanner:
		client, admin, err := storespanner.Open(ctx, storespanner.Config{
			ProjectID:  cfg.SpannerProjectID,
			InstanceID: cfg.SpannerInstanceID,
			DatabaseID: cfg.SpannerDatabaseID,
		})
		if err != nil {
			return nil, err
		}
		return storespanner.New(client, admin, opts), nil

	case config.ProviderCassandra:
		session, err := cassandra.NewSession(cassandra.Config{
			ContactPoints:     cfg.CassandraHosts(),
			LocalDC:           cfg.CassandraLocalDC,
			Username:          cfg.CassandraUser,
			Password:          cfg.CassandraPassword,
			Keyspace:          cfg.CassandraKeyspace,
			ReplicationFactor: cfg.CassandraReplicationFactor,
			Timeout:           cassandraTimeout,
		})
		if err != nil {
			return nil, err
		}
		return cassandra.New(session, cfg.CassandraKeyspace, cfg.CassandraReplicationFactor, opts), nil

	case config.ProviderDynamoDB:
		client, err := dynamo.NewClient(ctx, dynamo.Config{
			Endpoint:        cfg.DynamoDBEndpoint,
			Region:          cfg.DynamoDBRegion,
			AccessKeyID:     cfg.DynamoDBAccessKeyID,
			SecretAccessKey: cfg.DynamoDBSecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return dynamo.New(client, cfg.DynamoDBTablePrefix, opts), nil

	case config.ProviderNeo4j:
		driver, err := storeneo4j.NewDriver(storeneo4j.Config{
			URI:      cfg.Neo4jURI,
			User:     cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
		if err != nil {
			return nil, err
		}
		return storeneo4j.New(driver, cfg.Neo4jDatabase, opts), nil

	case config.ProviderSQLite:
	default:
		log.Warn().Str("provider", cfg.StorageProvider).Msg("unknown storage provider; using sqlite3")
	}

	db, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	return sqlite.NewWithDB(db, opts), nil
}
