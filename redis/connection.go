package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	log "log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options holds configuration for connecting to a Redis server and laying out the dialect's keys.
type Options struct {
	// Address is the host:port of the Redis server.
	Address string
	// Password is the password used to authenticate.
	Password string
	// DB is the database index to select.
	DB int
	// TLSConfig contains TLS configuration for secure connections.
	TLSConfig *tls.Config

	// KeyPrefix namespaces every key the dialect writes, e.g. per application.
	KeyPrefix string
	// ScanCount is the COUNT hint of full table scans.
	ScanCount int64
	// LockTTL bounds how long a pessimistic lock survives a crashed owner.
	LockTTL time.Duration
}

// DefaultOptions returns an Options with localhost defaults (no password, DB 0).
func DefaultOptions() Options {
	return Options{
		Address:  "localhost:6379",
		Password: "", // no password set
		DB:       0,  // use default DB
	}
}

func (o Options) withDefaults() Options {
	if o.ScanCount <= 0 {
		o.ScanCount = 100
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 30 * time.Second
	}
	return o
}

// Connection wraps a redis.Client and the Options used to create it.
type Connection struct {
	Client  *redis.Client
	Options Options
	// restarted is set when the server's run_id changed between two connects.
	restarted atomic.Bool
	runID     atomic.Value
}

// OpenConnection creates a client for options. The client connects lazily.
func OpenConnection(options Options) *Connection {
	log.Info("Opening Redis connection", "address", options.Address, "db", options.DB)
	return openConnectionFromRedisOptions(&redis.Options{
		TLSConfig: options.TLSConfig,
		Addr:      options.Address,
		Password:  options.Password,
		DB:        options.DB,
	}, options)
}

// OpenConnectionWithURL creates a client from a redis:// URI.
func OpenConnectionWithURL(url string, options Options) (*Connection, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	options.Address, options.Password, options.DB, options.TLSConfig = opts.Addr, opts.Password, opts.DB, opts.TLSConfig
	log.Info("Opening Redis connection with URL", "address", opts.Addr, "db", opts.DB)
	return openConnectionFromRedisOptions(opts, options), nil
}

func openConnectionFromRedisOptions(opts *redis.Options, options Options) *Connection {
	c := &Connection{Options: options}
	opts.OnConnect = func(ctx context.Context, cn *redis.Conn) error {
		// INFO server carries run_id, which changes on restart; locks held before it are gone.
		info, err := cn.Info(ctx, "server").Result()
		if err != nil {
			log.Debug("Redis INFO unavailable", "error", err)
			return nil
		}
		runID := ""
		for _, line := range strings.Split(strings.ReplaceAll(info, "\r\n", "\n"), "\n") {
			if strings.HasPrefix(line, "run_id:") {
				runID = strings.TrimPrefix(line, "run_id:")
				break
			}
		}
		if runID == "" {
			return nil
		}
		if last, _ := c.runID.Load().(string); last != "" && last != runID {
			log.Warn("Redis server restarted", "old_run_id", last, "new_run_id", runID)
			c.restarted.Store(true)
		}
		c.runID.Store(runID)
		return nil
	}
	c.Client = redis.NewClient(opts)
	return c
}

// Restarted reports whether the server restarted since the connection was opened.
func (c *Connection) Restarted() bool {
	return c.restarted.Load()
}

// Ping tests connectivity to Redis.
func (c *Connection) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

// Dialect returns the dialect bound to this connection.
func (c *Connection) Dialect() *Dialect {
	return NewDialect(c.Client, c.Options)
}

// Close closes the client, if not already closed.
func (c *Connection) Close() error {
	if c == nil || c.Client == nil {
		return nil
	}
	log.Info("Closing Redis connection")
	err := c.Client.Close()
	c.Client = nil
	return err
}
