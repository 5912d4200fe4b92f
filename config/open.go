package config

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"

	"github.com/gocql/gocql"

	"github.com/sharedcode/ogm"
	"github.com/sharedcode/ogm/bolt"
	"github.com/sharedcode/ogm/cassandra"
	"github.com/sharedcode/ogm/dynamodb"
	"github.com/sharedcode/ogm/redis"
)

// Store is an opened dialect, decorated with the shared behaviors, and the resources behind it.
type Store struct {
	ogm.Dialect
	Backend Backend
	close   func() error
}

// Close releases the backend connection.
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Unwrap returns the decorated dialect, so capability lookups such as ogm.InsertTuple reach the backend.
func (s *Store) Unwrap() ogm.Dialect {
	return s.Dialect
}

// ExecuteBackendQuery runs a native query when the backend supports them.
func (s *Store) ExecuteBackendQuery(ctx context.Context, query string, params []any, consumer func(*ogm.Tuple) error) error {
	q, ok := s.Dialect.(ogm.QueryableDialect)
	if !ok {
		return ogm.UnsupportedOperationError("ExecuteBackendQuery")
	}
	return q.ExecuteBackendQuery(ctx, query, params, consumer)
}

var _ ogm.QueryableDialect = (*Store)(nil)

// Open connects to the configured backend and returns its dialect.
func Open(ctx context.Context, c *Config) (*Store, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		var level log.Level
		if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
			return nil, fmt.Errorf("log_level: %w", err)
		}
		ogm.SetLogLevel(level)
	}

	switch c.Backend {
	case Cassandra:
		cfg, err := c.Cassandra.toConfig()
		if err != nil {
			return nil, err
		}
		conn, err := cassandra.OpenConnection(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return newStore(c.Backend, conn.Dialect(), func() error { conn.Close(); return nil }), nil

	case Redis:
		options := redis.Options{
			Address:   c.Redis.Address,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			KeyPrefix: c.Redis.KeyPrefix,
			ScanCount: c.Redis.ScanCount,
			LockTTL:   c.Redis.LockTTL,
		}
		var conn *redis.Connection
		if c.Redis.URL != "" {
			var err error
			if conn, err = redis.OpenConnectionWithURL(c.Redis.URL, options); err != nil {
				return nil, err
			}
		} else {
			conn = redis.OpenConnection(options)
		}
		if err := conn.Ping(ctx); err != nil {
			conn.Close()
			return nil, ogm.BackendError("PING", fmt.Errorf("redis ping failed: %w", err))
		}
		return newStore(c.Backend, conn.Dialect(), conn.Close), nil

	case Bolt:
		d, err := bolt.Open(c.Bolt.Path, bolt.Options{Timeout: c.Bolt.Timeout, ScanBatch: c.Bolt.ScanBatch})
		if err != nil {
			return nil, err
		}
		return newStore(c.Backend, d, d.Close), nil

	case DynamoDB:
		options := dynamodb.Options{
			Region:          c.DynamoDB.Region,
			Endpoint:        c.DynamoDB.Endpoint,
			AccessKeyID:     c.DynamoDB.AccessKeyID,
			SecretAccessKey: c.DynamoDB.SecretAccessKey,
			ConsistentRead:  c.DynamoDB.ConsistentRead,
			SequenceTable:   c.DynamoDB.SequenceTable,
			ScanPageSize:    c.DynamoDB.ScanPageSize,
		}
		client, err := dynamodb.OpenClient(ctx, options)
		if err != nil {
			return nil, err
		}
		return newStore(c.Backend, dynamodb.NewDialect(client, options), nil), nil
	}
	return nil, fmt.Errorf("unknown backend %q", c.Backend)
}

func newStore(backend Backend, d ogm.Dialect, closer func() error) *Store {
	return &Store{Dialect: ogm.Decorate(d), Backend: backend, close: closer}
}

func (c CassandraConfig) toConfig() (cassandra.Config, error) {
	cfg := cassandra.Config{
		ClusterHosts:       c.Hosts,
		Keyspace:           c.Keyspace,
		ConnectionTimeout:  c.ConnectionTimeout,
		ReplicationClause:  c.ReplicationClause,
		CreateSchema:       c.CreateSchema,
		SequenceTable:      c.SequenceTable,
		ScanPageSize:       c.ScanPageSize,
		StatementCacheSize: c.StatementCacheSize,
	}
	if c.Consistency != "" {
		consistency, err := gocql.ParseConsistencyWrapper(c.Consistency)
		if err != nil {
			return cassandra.Config{}, fmt.Errorf("cassandra.consistency: %w", err)
		}
		cfg.Consistency = consistency
	}
	if c.Username != "" {
		cfg.Authenticator = gocql.PasswordAuthenticator{Username: c.Username, Password: c.Password}
	}
	return cfg, nil
}
