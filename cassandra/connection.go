package cassandra

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	"github.com/gocql/gocql"
	"github.com/sethvargo/go-retry"

	"github.com/sharedcode/ogm"
)

// Config contains configuration for connecting to a Cassandra cluster and the dialect's keyspace.
type Config struct {
	// ClusterHosts lists contact points for the Cassandra cluster.
	ClusterHosts []string
	// Keyspace qualifies every table the dialect generates statements for.
	Keyspace string
	// Consistency is the default consistency level for queries.
	Consistency gocql.Consistency
	// ConnectionTimeout is the session connection timeout.
	ConnectionTimeout time.Duration
	// Authenticator is used when the cluster requires authentication.
	Authenticator gocql.Authenticator
	// ReplicationClause defines the keyspace replication (e.g., SimpleStrategy).
	ReplicationClause string
	// CreateSchema creates the keyspace and the sequence table when missing.
	CreateSchema bool

	// StatementCacheSize bounds the prepared statement cache.
	StatementCacheSize int
	// SequenceTable stores the counters of sequence id sources. Defaults to "sequences".
	SequenceTable string
	// ScanPageSize is the page size of full table scans.
	ScanPageSize int
	// Tables declares primary key layouts up front; others are read from the cluster schema.
	Tables []TableMetadata

	// ConsistencyBook allows overriding per-API consistency levels.
	ConsistencyBook ConsistencyBook
}

// ConsistencyBook enumerates per-API consistency levels used by this package.
// A zero (Any) level means the session default.
type ConsistencyBook struct {
	TupleGet          gocql.Consistency
	TupleUpsert       gocql.Consistency
	TupleRemove       gocql.Consistency
	AssociationGet    gocql.Consistency
	AssociationUpsert gocql.Consistency
	AssociationRemove gocql.Consistency
	// Sequence applies to the lightweight transactions allocating ids.
	Sequence gocql.Consistency
	Scan     gocql.Consistency
}

const (
	defaultKeyspace      = "ogm"
	defaultSequenceTable = "sequences"
	defaultScanPageSize  = 500
)

func (c Config) withDefaults() Config {
	if c.Keyspace == "" {
		c.Keyspace = defaultKeyspace
	}
	if c.Consistency == gocql.Any {
		// Defaults to LocalQuorum consistency. You should set it to an appropriate level.
		c.Consistency = gocql.LocalQuorum
	}
	if c.ReplicationClause == "" {
		c.ReplicationClause = "{'class':'SimpleStrategy', 'replication_factor':1}"
	}
	if c.SequenceTable == "" {
		c.SequenceTable = defaultSequenceTable
	}
	if c.ScanPageSize <= 0 {
		c.ScanPageSize = defaultScanPageSize
	}
	return c
}

// Connection wraps a Cassandra session and its configuration.
type Connection struct {
	Session Session
	Config
	raw *gocql.Session
}

// OpenConnection opens a session on the cluster, retrying transient failures, and creates
// the keyspace and sequence table when config.CreateSchema is set.
func OpenConnection(ctx context.Context, config Config) (*Connection, error) {
	config = config.withDefaults()
	cluster := gocql.NewCluster(config.ClusterHosts...)
	cluster.Consistency = config.Consistency
	if config.ConnectionTimeout > 0 {
		cluster.ConnectTimeout = config.ConnectionTimeout
	}
	if config.Authenticator != nil {
		cluster.Authenticator = config.Authenticator
		// Clear the authenticator just to be safer, we don't need to keep it hanging around.
		config.Authenticator = nil
	}

	var s *gocql.Session
	err := ogm.Retry(ctx, func(ctx context.Context) error {
		var err error
		if s, err = cluster.CreateSession(); err != nil {
			log.Warn("cassandra session creation failed", "hosts", config.ClusterHosts, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	}, nil)
	if err != nil {
		return nil, ogm.BackendError("connect", fmt.Errorf("cassandra session creation failed: %w", err))
	}

	if config.CreateSchema {
		if err := createSchema(ctx, s, config); err != nil {
			s.Close()
			return nil, err
		}
	}
	log.Info("cassandra connection opened", "hosts", config.ClusterHosts, "keyspace", config.Keyspace)
	return &Connection{
		Session: NewSession(s),
		Config:  config,
		raw:     s,
	}, nil
}

func createSchema(ctx context.Context, s *gocql.Session, config Config) error {
	statements := []string{
		fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = %s", Quote(config.Keyspace), config.ReplicationClause),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.%s (sequence_name text PRIMARY KEY, next_val bigint)",
			Quote(config.Keyspace), Quote(config.SequenceTable)),
	}
	for _, stmt := range statements {
		if err := s.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return ogm.BackendError(stmt, fmt.Errorf("cassandra schema creation failed: %w", err))
		}
	}
	return nil
}

// Dialect returns the dialect bound to this connection.
func (c *Connection) Dialect() *Dialect {
	return NewDialect(c.Session, c.Config)
}

// Close closes the underlying session.
func (c *Connection) Close() {
	if c == nil || c.raw == nil {
		return
	}
	c.raw.Close()
	c.raw = nil
	log.Info("cassandra connection closed", "keyspace", c.Keyspace)
}
