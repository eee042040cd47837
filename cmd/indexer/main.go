// Command indexer consumes article events from NATS and keeps the Qdrant
// vector index and the Neo4j mention graph in step with the article store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paynews/paynews/engine/app"
	"github.com/paynews/paynews/engine/index"
	"github.com/paynews/paynews/pkg/config"
	"github.com/paynews/paynews/pkg/logx"
	"github.com/paynews/paynews/pkg/metrics"
)

var (
	errNoNATS     = errors.New("indexer: nats is not reachable")
	errNoSemantic = errors.New("indexer: qdrant and ollama must be configured")
)

func main() {
	configFile := flag.String("config", "", "config file (default: paynews.yaml in . or the XDG config dir)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, sync, err := logx.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer sync()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("indexer exited with error", "err", err)
		sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	go metrics.CollectRuntime(ctx, reg, 15*time.Second)
	go func() {
		if err := reg.Serve(ctx, cfg.Metrics.Addr); err != nil {
			logger.Error("metrics server", "addr", cfg.Metrics.Addr, "err", err)
		}
	}()

	a, err := app.New(ctx, cfg, logger, app.Options{Name: "paynews-indexer", Metrics: reg})
	if err != nil {
		return err
	}
	defer a.Close()

	ix, err := newIndexer(a)
	if err != nil {
		return err
	}
	logger.Info("indexer ready",
		"nats", cfg.NATS.URL,
		"qdrant", cfg.Qdrant.Addr,
		"collection", cfg.Qdrant.Collection,
		"graph", a.Graph != nil,
		"metrics", cfg.Metrics.Addr,
	)
	return ix.Run(ctx)
}

// newIndexer fails fast when a backend the indexer cannot run without is missing.
func newIndexer(a *app.App) (*index.Indexer, error) {
	if a.NATS == nil {
		return nil, errNoNATS
	}
	deps, ok := a.IndexDeps()
	if !ok {
		return nil, errNoSemantic
	}
	return index.New(a.NATS, deps), nil
}
