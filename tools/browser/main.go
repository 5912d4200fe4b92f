// Command browser serves a small read-mostly HTTP API over the backend selected by an OGM
// configuration file: record lookup, table scans and sequence allocation.
package main

import (
	"context"
	"flag"
	"fmt"
	log "log/slog"
	"os"

	"github.com/sharedcode/ogm"
	"github.com/sharedcode/ogm/config"
)

func main() {
	port := flag.Int("port", 8080, "Port to run the server on")
	configPath := flag.String("config", "ogm.yaml", "Path to the OGM YAML configuration")
	flag.Parse()

	ogm.ConfigureLogging()
	ctx := context.Background()

	c, err := config.Load(*configPath)
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

	addr := fmt.Sprintf(":%d", *port)
	log.Info("OGM browser running", "address", "http://localhost"+addr, "backend", c.Backend, "tables", len(c.Tables))
	if err := newRouter(c, store).Run(addr); err != nil {
		log.Error("server stopped", "error", err)
	}
}
