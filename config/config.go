// Package config reads the YAML configuration selecting one backend and opens its dialect.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sharedcode/ogm"
)

// Backend names a dialect implementation.
type Backend string

const (
	Cassandra Backend = "cassandra"
	Redis     Backend = "redis"
	Bolt      Backend = "bolt"
	DynamoDB  Backend = "dynamodb"
)

// Config represents the root configuration.
type Config struct {
	// Backend selects the dialect: cassandra, redis, bolt or dynamodb.
	Backend Backend `yaml:"backend" json:"backend"`
	// LogLevel is DEBUG, INFO, WARN or ERROR; empty keeps OGM_LOG_LEVEL.
	LogLevel string `yaml:"log_level,omitempty" json:"log_level,omitempty"`

	Cassandra CassandraConfig `yaml:"cassandra,omitempty" json:"cassandra,omitempty"`
	Redis     RedisConfig     `yaml:"redis,omitempty" json:"redis,omitempty"`
	Bolt      BoltConfig      `yaml:"bolt,omitempty" json:"bolt,omitempty"`
	DynamoDB  DynamoDBConfig  `yaml:"dynamodb,omitempty" json:"dynamodb,omitempty"`

	// Tables declares the entity tables tools may scan or look up.
	Tables []TableConfig `yaml:"tables,omitempty" json:"tables,omitempty"`
}

// CassandraConfig contains configuration for the Cassandra cluster.
type CassandraConfig struct {
	Hosts    []string `yaml:"hosts" json:"hosts"`
	Keyspace string   `yaml:"keyspace,omitempty" json:"keyspace,omitempty"`
	// Consistency is a gocql consistency name, e.g. LOCAL_QUORUM.
	Consistency       string        `yaml:"consistency,omitempty" json:"consistency,omitempty"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout,omitempty" json:"connection_timeout,omitempty"`
	Username          string        `yaml:"username,omitempty" json:"username,omitempty"`
	Password          string        `yaml:"password,omitempty" json:"password,omitempty"`
	// CreateSchema creates the keyspace and the sequence table when missing.
	CreateSchema       bool   `yaml:"create_schema,omitempty" json:"create_schema,omitempty"`
	ReplicationClause  string `yaml:"replication_clause,omitempty" json:"replication_clause,omitempty"`
	SequenceTable      string `yaml:"sequence_table,omitempty" json:"sequence_table,omitempty"`
	ScanPageSize       int    `yaml:"scan_page_size,omitempty" json:"scan_page_size,omitempty"`
	StatementCacheSize int    `yaml:"statement_cache_size,omitempty" json:"statement_cache_size,omitempty"`
}

// RedisConfig contains configuration for the Redis server.
type RedisConfig struct {
	Address  string `yaml:"address,omitempty" json:"address,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
	// URL is a redis:// connection string; it overrides Address, Password and DB.
	URL       string        `yaml:"url,omitempty" json:"url,omitempty"`
	KeyPrefix string        `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty"`
	ScanCount int64         `yaml:"scan_count,omitempty" json:"scan_count,omitempty"`
	LockTTL   time.Duration `yaml:"lock_ttl,omitempty" json:"lock_ttl,omitempty"`
}

// BoltConfig contains configuration for the embedded database file.
type BoltConfig struct {
	Path      string        `yaml:"path" json:"path"`
	Timeout   time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	ScanBatch int           `yaml:"scan_batch,omitempty" json:"scan_batch,omitempty"`
}

// DynamoDBConfig contains configuration for DynamoDB.
type DynamoDBConfig struct {
	Region string `yaml:"region" json:"region"`
	// Endpoint is set for DynamoDB Local or LocalStack.
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
	ConsistentRead  bool   `yaml:"consistent_read,omitempty" json:"consistent_read,omitempty"`
	SequenceTable   string `yaml:"sequence_table,omitempty" json:"sequence_table,omitempty"`
	ScanPageSize    int32  `yaml:"scan_page_size,omitempty" json:"scan_page_size,omitempty"`
}

// TableConfig declares one entity table and its key columns.
type TableConfig struct {
	Name       string   `yaml:"name" json:"name"`
	KeyColumns []string `yaml:"key_columns" json:"key_columns"`
}

// Metadata returns the table's entity key metadata.
func (t TableConfig) Metadata() ogm.EntityKeyMetadata {
	return ogm.EntityKeyMetadata{Table: t.Name, ColumnNames: t.KeyColumns}
}

// Table returns the declared table named name.
func (c *Config) Table(name string) (TableConfig, bool) {
	for _, t := range c.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableConfig{}, false
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML document. ${VAR} references are expanded from the
// environment first, so secrets need not be written in the file. Unknown fields are errors.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	var c Config
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the settings the selected backend requires.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case Cassandra:
		if len(c.Cassandra.Hosts) == 0 {
			errs = append(errs, errors.New("cassandra.hosts is required"))
		}
	case Redis:
		if c.Redis.Address == "" && c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.address or redis.url is required"))
		}
	case Bolt:
		if c.Bolt.Path == "" {
			errs = append(errs, errors.New("bolt.path is required"))
		}
	case DynamoDB:
		if c.DynamoDB.Region == "" {
			errs = append(errs, errors.New("dynamodb.region is required"))
		}
	case "":
		errs = append(errs, errors.New("backend is required"))
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	for i, t := range c.Tables {
		if t.Name == "" || len(t.KeyColumns) == 0 {
			errs = append(errs, fmt.Errorf("tables[%d] needs a name and key_columns", i))
		}
	}
	return errors.Join(errs...)
}
