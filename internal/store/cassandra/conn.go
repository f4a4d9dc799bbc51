package cassandra

import (
	"fmt"
	"regexp"
	"time"

	"github.com/gocql/gocql"
)

// Config holds the cluster connection settings.
type Config struct {
	ContactPoints     []string
	LocalDC           string
	Username          string
	Password          string
	Keyspace          string
	ReplicationFactor int
	Timeout           time.Duration
	// DisableHostLookup connects only to ContactPoints; needed behind port mapping.
	DisableHostLookup bool
}

var keyspaceRx = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,47}$`)

func (c Config) validate() error {
	if len(c.ContactPoints) == 0 {
		return fmt.Errorf("cassandra: at least one contact point is required")
	}
	if !keyspaceRx.MatchString(c.Keyspace) {
		return fmt.Errorf("cassandra: invalid keyspace name %q", c.Keyspace)
	}
	if c.ReplicationFactor < 1 {
		return fmt.Errorf("cassandra: replication factor must be positive")
	}
	return nil
}

// NewSession opens a session without a default keyspace; statements are fully qualified
// so the keyspace can be created by Setup.
func NewSession(cfg Config) (*gocql.Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cluster := gocql.NewCluster(cfg.ContactPoints...)
	cluster.Consistency = gocql.LocalQuorum
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
		cluster.ConnectTimeout = cfg.Timeout
	}
	if cfg.LocalDC != "" {
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.DCAwareRoundRobinPolicy(cfg.LocalDC))
	}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{Username: cfg.Username, Password: cfg.Password}
	}
	cluster.DisableInitialHostLookup = cfg.DisableHostLookup
	return cluster.CreateSession()
}
