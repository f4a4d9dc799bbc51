package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Prefix is the environment variable prefix, e.g. OPENFOODDIARY_STORAGE_PROVIDER.
const Prefix = "OPENFOODDIARY"

// Storage providers.
const (
	ProviderSQLite    = "sqlite3"
	ProviderPostgres  = "postgres"
	ProviderSpanner   = "spanner"
	ProviderCassandra = "cassandra"
	ProviderDynamoDB  = "dynamodb"
	ProviderNeo4j     = "neo4j"
	ProviderMemory    = "memory"

	DefaultProvider = ProviderSQLite
)

const (
	defaultMetricMax      = 1_000_000
	defaultExportPageSize = 250
)

var providers = map[string]bool{
	ProviderSQLite:    true,
	ProviderPostgres:  true,
	ProviderSpanner:   true,
	ProviderCassandra: true,
	ProviderDynamoDB:  true,
	ProviderNeo4j:     true,
	ProviderMemory:    true,
}

// Config holds the process configuration, parsed from OPENFOODDIARY_ prefixed variables.
type Config struct {
	StorageProvider string `envconfig:"STORAGE_PROVIDER" default:"sqlite3"`

	// SQLite
	SQLitePath string `envconfig:"SQLITE3_FILENAME" default:".sqlite/openfooddiary.sqlite"`

	// Postgres
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Spanner
	SpannerProjectID  string `envconfig:"SPANNER_PROJECT" default:"local-project"`
	SpannerInstanceID string `envconfig:"SPANNER_INSTANCE" default:"local-instance"`
	SpannerDatabaseID string `envconfig:"SPANNER_DATABASE" default:"openfooddiary"`

	// Cassandra; contact points are separated by ';'
	CassandraContactPoints     string `envconfig:"CASSANDRA_CONTACT_POINTS" default:"localhost:9042"`
	CassandraLocalDC           string `envconfig:"CASSANDRA_LOCALDATACENTER" default:"datacenter1"`
	CassandraUser              string `envconfig:"CASSANDRA_USER" default:"cassandra"`
	CassandraPassword          string `envconfig:"CASSANDRA_PASSWORD" default:"cassandra"`
	CassandraKeyspace          string `envconfig:"CASSANDRA_KEYSPACE" default:"openfooddiary"`
	CassandraReplicationFactor int    `envconfig:"CASSANDRA_REPLICATION_FACTOR" default:"1"`

	// DynamoDB
	DynamoDBEndpoint        string `envconfig:"DYNAMODB_ENDPOINT" default:""`
	DynamoDBRegion          string `envconfig:"DYNAMODB_REGION" default:"us-east-1"`
	DynamoDBTablePrefix     string `envconfig:"DYNAMODB_TABLE_PREFIX" default:"openfooddiary_"`
	DynamoDBAccessKeyID     string `envconfig:"DYNAMODB_ACCESS_KEY_ID" default:""`
	DynamoDBSecretAccessKey string `envconfig:"DYNAMODB_SECRET_ACCESS_KEY" default:""`

	// Neo4j
	Neo4jURI      string `envconfig:"NEO4J_URI" default:"neo4j://localhost:7687"`
	Neo4jUser     string `envconfig:"NEO4J_USER" default:"neo4j"`
	Neo4jPassword string `envconfig:"NEO4J_PASSWORD" default:"s3cr3tly"`
	Neo4jDatabase string `envconfig:"NEO4J_DATABASE" default:""`

	// Export and validation
	TempDirectory  string  `envconfig:"TEMP_DIRECTORY" default:"/tmp"`
	MetricMax      float64 `envconfig:"METRIC_MAX" default:"1000000"`
	ExportPageSize int     `envconfig:"EXPORT_PAGE_SIZE" default:"250"`

	// Bootstrap timeout for backend readiness (seconds)
	BootstrapTimeoutSeconds int `envconfig:"BOOTSTRAP_TIMEOUT_SECONDS" default:"30"`

	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	PromPrefix string `envconfig:"PROM_PREFIX" default:"openfooddiary_"`

	// UserID is a trusted single-user override used when no user is given.
	UserID string `envconfig:"USERID" default:""`
}

// ResolveDefaults normalises the storage provider and numeric limits.
// An unknown or empty provider falls back to DefaultProvider.
func (c *Config) ResolveDefaults() error {
	c.StorageProvider = strings.ToLower(strings.TrimSpace(c.StorageProvider))
	if !providers[c.StorageProvider] {
		log.Warn().
			Str("storage_provider", c.StorageProvider).
			Str("fallback", DefaultProvider).
			Msg("Unknown storage provider, using default")
		c.StorageProvider = DefaultProvider
	}
	if c.ExportPageSize <= 0 {
		c.ExportPageSize = defaultExportPageSize
	}
	if c.MetricMax <= 0 {
		c.MetricMax = defaultMetricMax
	}
	if c.CassandraReplicationFactor < 1 {
		c.CassandraReplicationFactor = 1
	}
	if c.BootstrapTimeoutSeconds < 0 {
		return fmt.Errorf("BOOTSTRAP_TIMEOUT_SECONDS must not be negative: %d", c.BootstrapTimeoutSeconds)
	}
	return nil
}

// CassandraHosts splits the ';' separated contact points.
func (c *Config) CassandraHosts() []string {
	var out []string
	for _, h := range strings.Split(c.CassandraContactPoints, ";") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

// New creates a new Config by parsing environment variables
// prefixed with OPENFOODDIARY_, e.g. OPENFOODDIARY_STORAGE_PROVIDER.
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("storage_provider", cfg.StorageProvider).
		Str("sqlite_path", cfg.SQLitePath).
		Bool("postgres_dsn_present", cfg.PostgresDSN != "").
		Str("spanner_database", cfg.SpannerDatabaseID).
		Strs("cassandra_contact_points", cfg.CassandraHosts()).
		Bool("cassandra_password_present", cfg.CassandraPassword != "").
		Str("dynamodb_region", cfg.DynamoDBRegion).
		Str("neo4j_uri", cfg.Neo4jURI).
		Str("temp_directory", cfg.TempDirectory).
		Float64("metric_max", cfg.MetricMax).
		Int("export_page_size", cfg.ExportPageSize).
		Int("bootstrap_timeout_seconds", cfg.BootstrapTimeoutSeconds).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config backed by the in-memory store.
func NewForTesting() *Config {
	tmp := os.TempDir()
	return &Config{
		StorageProvider:            ProviderMemory,
		SQLitePath:                 filepath.Join(tmp, "openfooddiary-test.sqlite"),
		SpannerProjectID:           "test-project",
		SpannerInstanceID:          "test-instance",
		SpannerDatabaseID:          "openfooddiary",
		CassandraContactPoints:     "localhost:9042",
		CassandraLocalDC:           "datacenter1",
		CassandraKeyspace:          "openfooddiary_test",
		CassandraReplicationFactor: 1,
		DynamoDBRegion:             "us-east-1",
		DynamoDBTablePrefix:        "openfooddiary_test_",
		Neo4jURI:                   "bolt://localhost:7687",
		TempDirectory:              tmp,
		MetricMax:                  defaultMetricMax,
		ExportPageSize:             defaultExportPageSize,
		BootstrapTimeoutSeconds:    5,
		LogLevel:                   "debug",
		PromPrefix:                 "openfooddiary_test_",
	}
}
