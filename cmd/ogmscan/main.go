// Command ogmscan streams the rows of one or more tables of a configured backend as JSON lines.
//
//	ogmscan -config ogm.yaml -table users -filter 'row.age > 30' -rate 500
//	ogmscan -config ogm.yaml -next order_ids -increment 50
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	log "log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/sharedcode/ogm"
	"github.com/sharedcode/ogm/config"
	"github.com/sharedcode/ogm/scan"
)

var errLimit = errors.New("row limit reached")

type options struct {
	configPath string
	tables     string
	filter     string
	rate       float64
	limit      int
	next       string
	increment  int
	initial    int
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("ogmscan", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "ogm.yaml", "Path to the YAML configuration")
	fs.StringVar(&o.tables, "table", "", "Comma separated tables to scan; empty scans every declared table")
	fs.StringVar(&o.filter, "filter", "", "CEL expression over row and table selecting the rows to print")
	fs.Float64Var(&o.rate, "rate", 0, "Maximum rows per second; 0 is unlimited")
	fs.IntVar(&o.limit, "limit", 0, "Stop after printing this many rows; 0 is unlimited")
	fs.StringVar(&o.next, "next", "", "Allocate the next value of this sequence instead of scanning")
	fs.IntVar(&o.increment, "increment", 1, "Sequence increment used with -next")
	fs.IntVar(&o.initial, "initial", 1, "Sequence initial value used with -next")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

func main() {
	ogm.ConfigureLoggingTo(os.Stderr)
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c, err := config.Load(o.configPath)
	if err != nil {
		log.Error("load configuration failed", "error", err)
		os.Exit(1)
	}
	store, err := config.Open(ctx, c)
	if err != nil {
		log.Error("open backend failed", "backend", c.Backend, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := run(ctx, o, c, store, os.Stdout); err != nil {
		log.Error("ogmscan failed", "error", err)
		store.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, c *config.Config, d ogm.Dialect, out io.Writer) error {
	if o.next != "" {
		v, err := d.NextValue(ctx, ogm.NextValueRequest{
			Key:          ogm.NewSequenceKey(o.next),
			Increment:    o.increment,
			InitialValue: o.initial,
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, v)
		return err
	}

	metadata, err := selectTables(c, o.tables)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	printed := 0
	emit := func(ctx context.Context, m ogm.EntityKeyMetadata, t *ogm.Tuple) error {
		if err := enc.Encode(map[string]any{"table": m.Table, "row": t.Map()}); err != nil {
			return err
		}
		printed++
		if o.limit > 0 && printed >= o.limit {
			return errLimit
		}
		return nil
	}

	var middlewares []scan.Middleware
	if o.filter != "" {
		f, err := scan.NewFilter(o.filter)
		if err != nil {
			return err
		}
		middlewares = append(middlewares, f.Wrap)
	}
	if o.rate > 0 {
		middlewares = append(middlewares, scan.NewThrottle(o.rate, 1).Wrap)
	}

	err = d.ForEachTuple(ctx, scan.Chain(emit, middlewares...), metadata...)
	if errors.Is(err, errLimit) {
		err = nil
	}
	log.Debug("scan finished", "rows", printed)
	return err
}

func selectTables(c *config.Config, tables string) ([]ogm.EntityKeyMetadata, error) {
	if tables == "" {
		if len(c.Tables) == 0 {
			return nil, errors.New("no tables declared in the configuration and no -table given")
		}
		metadata := make([]ogm.EntityKeyMetadata, 0, len(c.Tables))
		for _, t := range c.Tables {
			metadata = append(metadata, t.Metadata())
		}
		return metadata, nil
	}
	var metadata []ogm.EntityKeyMetadata
	for _, name := range strings.Split(tables, ",") {
		t, ok := c.Table(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("table %q is not declared in the configuration", name)
		}
		metadata = append(metadata, t.Metadata())
	}
	return metadata, nil
}
