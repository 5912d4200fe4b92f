package bolt

import (
	"fmt"
	log "log/slog"
	"time"

	"go.etcd.io/bbolt"
)

// Options configures the database file.
type Options struct {
	// Timeout bounds the wait for the file lock held by another process.
	Timeout time.Duration
	// IsTesting trades durability for speed: no fsync, small initial mmap.
	IsTesting bool
	MmapSize  int
	// ScanBatch is the number of records read per transaction during full scans.
	ScanBatch int
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.ScanBatch <= 0 {
		o.ScanBatch = 256
	}
	return o
}

// Open opens (creating if needed) the database file at path and returns its dialect.
func Open(path string, options Options) (*Dialect, error) {
	options = options.withDefaults()
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = options.Timeout
	if options.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 64
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if options.MmapSize != 0 {
		bopt.InitialMmapSize = options.MmapSize
	}

	log.Info("Opening bolt database", "path", path)
	db, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("bolt open %s failed: %w", path, err)
	}
	return NewDialect(db, options), nil
}

// Close closes the database file.
func (d *Dialect) Close() error {
	log.Info("Closing bolt database", "path", d.db.Path())
	return d.db.Close()
}
