// Package app wires PayNews components from configuration. The API server,
// the indexer and the CLI all start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/paynews/paynews/engine/catalog"
	"github.com/paynews/paynews/engine/chat"
	"github.com/paynews/paynews/engine/graph"
	"github.com/paynews/paynews/engine/index"
	"github.com/paynews/paynews/engine/llm"
	"github.com/paynews/paynews/engine/news"
	"github.com/paynews/paynews/engine/semantic"
	"github.com/paynews/paynews/engine/store"
	"github.com/paynews/paynews/pkg/config"
	"github.com/paynews/paynews/pkg/metrics"
	"github.com/paynews/paynews/pkg/natsutil"
	"github.com/paynews/paynews/pkg/ollama"
)

// App holds the wired components. Optional backends are nil when they are
// not configured or could not be reached at startup.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Registry

	Catalog *catalog.Catalog
	Matcher *catalog.Matcher
	LLM     *llm.Client
	Store   *store.Store
	News    *news.Service
	Chat    *chat.Service

	NATS      *nats.Conn
	Embedder  *ollama.EmbedClient
	Vectors   *semantic.VectorStore
	Graph     *graph.GraphStore
	Retriever *index.Retriever

	closers []func() error
}

// Options selects what New connects.
type Options struct {
	// Name identifies the process on NATS.
	Name string
	// Metrics is shared with the caller; nil creates a registry.
	Metrics *metrics.Registry
	// SkipSemantic leaves Qdrant, Ollama and Neo4j unconnected.
	SkipSemantic bool
}

// New builds an App from cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Name == "" {
		opts.Name = "paynews"
	}
	a := &App{Config: cfg, Logger: logger, Metrics: opts.Metrics}
	a.Catalog = catalog.Default()
	a.Matcher = catalog.NewMatcher(a.Catalog)

	a.LLM = llm.New(cfg.Perplexity.APIKey, a.llmOptions(), logger.With("component", "llm"))
	if !a.LLM.Configured() {
		logger.Warn("perplexity api key not set; LLM calls will fail", "env", "PERPLEXITY_API_KEY")
	} else {
		logger.Info("perplexity api key loaded", "length", len(cfg.Perplexity.APIKey))
	}

	a.connectNATS(opts.Name)
	if err := a.buildStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if !opts.SkipSemantic {
		a.connectSemantic(ctx)
		a.connectGraph(ctx)
	}

	a.News = news.New(a.LLM, a.Store, a.Matcher, news.Options{
		Count:   cfg.Perplexity.NewsSize,
		Metrics: a.Metrics,
		Logger:  logger.With("component", "news"),
	})

	var chatLLM llm.Completer = a.LLM
	if cache := a.connectRedis(ctx); cache != nil {
		chatLLM = llm.NewCachedCompleter(a.LLM, cache, cfg.Perplexity.ChatTTL, logger.With("component", "llm-cache"))
	}
	var retriever chat.Retriever
	if a.Retriever != nil {
		retriever = a.Retriever
	}
	a.Chat = chat.New(chatLLM, retriever, chat.DefaultOptions(), logger.With("component", "chat"))
	return a, nil
}

func (a *App) llmOptions() llm.Options {
	p := a.Config.Perplexity
	opts := llm.DefaultOptions()
	opts.BaseURL = p.BaseURL
	opts.Model = p.Model
	opts.Timeout = p.Timeout
	opts.RPS = p.RPS
	if p.Retries > 0 {
		opts.Retry.MaxAttempts = p.Retries
	}
	opts.Metrics = a.Metrics
	return opts
}

func (a *App) buildStore(ctx context.Context) error {
	log := a.Logger.With("component", "store")

	cache, err := store.OpenSQLiteCache(ctx, a.Config.Cache.Path)
	if err != nil {
		return fmt.Errorf("app: open article cache: %w", err)
	}
	a.closers = append(a.closers, cache.Close)

	var remote store.Remote
	if dsn := a.Config.Database.URL; dsn != "" {
		pg, db, err := store.OpenPostgres(ctx, dsn, store.PostgresOptions{
			Migrate:  a.Config.Database.Migrate,
			Trace:    a.Config.Database.Trace,
			MaxConns: 5,
			Logger:   log,
		})
		if err != nil {
			log.Error("remote store unavailable, running from local cache", "err", err)
		} else {
			remote = pg
			if sqlDB, err := db.DB(); err == nil {
				a.closers = append(a.closers, sqlDB.Close)
			}
		}
	} else {
		log.Info("no database configured, running from local cache", "path", a.Config.Cache.Path)
	}

	sopts := store.Options{Metrics: a.Metrics, Logger: log}
	if a.NATS != nil {
		sopts.Publisher = store.NewNATSPublisher(a.NATS)
	}
	a.Store = store.New(ctx, remote, cache, sopts)
	if remote != nil {
		if err := a.Store.Refresh(ctx); err != nil {
			log.Warn("initial refresh failed, serving cached articles", "err", err)
		}
	}
	return nil
}

func (a *App) connectNATS(name string) {
	url := a.Config.NATS.URL
	if url == "" {
		return
	}
	nc, err := natsutil.Connect(url, name, a.Logger)
	if err != nil {
		a.Logger.Warn("nats unavailable, store events disabled", "err", err)
		return
	}
	a.NATS = nc
	a.closers = append(a.closers, func() error { nc.Close(); return nil })
}

func (a *App) connectRedis(ctx context.Context) llm.ReplyCache {
	url := a.Config.Redis.URL
	if url == "" {
		return nil
	}
	cache, err := llm.NewRedisReplyCache(ctx, url)
	if err != nil {
		a.Logger.Warn("redis unavailable, chat replies not cached", "err", err)
		return nil
	}
	a.closers = append(a.closers, cache.Close)
	return cache
}

func (a *App) connectSemantic(ctx context.Context) {
	q := a.Config.Qdrant
	if q.Addr == "" {
		return
	}
	vs, err := semantic.New(q.Addr, q.Collection)
	if err != nil {
		a.Logger.Warn("qdrant unavailable, semantic search disabled", "err", err)
		return
	}
	if err := vs.EnsureCollection(ctx, q.VectorSize); err != nil {
		a.Logger.Warn("qdrant collection unavailable, semantic search disabled", "err", err)
		vs.Close()
		return
	}
	a.closers = append(a.closers, vs.Close)
	a.Vectors = vs
	a.Embedder = ollama.NewEmbedClient(a.Config.Ollama.URL, a.Config.Ollama.Model)
	a.Retriever = index.NewRetriever(a.Embedder, vs, 0.3)
	a.Logger.Info("semantic search enabled", "collection", q.Collection, "model", a.Config.Ollama.Model)
}

func (a *App) connectGraph(ctx context.Context) {
	n := a.Config.Neo4j
	if n.URL == "" {
		return
	}
	driver, err := graph.Connect(ctx, n.URL, n.User, n.Pass)
	if err != nil {
		a.Logger.Warn("neo4j unavailable, mentions graph disabled", "err", err)
		return
	}
	a.closers = append(a.closers, func() error { return driver.Close(context.Background()) })
	g := graph.New(driver, a.Catalog)
	if err := g.EnsureSchema(ctx); err != nil {
		a.Logger.Warn("neo4j schema", "err", err)
	}
	a.Graph = g
}

// ErrNoVectors is returned by ResetVectors when Qdrant is not connected.
var ErrNoVectors = errors.New("app: vector store not connected")

// ResetVectors drops the article collection and recreates it empty, so a
// following backfill leaves no points for articles that no longer exist.
func (a *App) ResetVectors(ctx context.Context) error {
	if a.Vectors == nil {
		return ErrNoVectors
	}
	if err := a.Vectors.DeleteCollection(ctx); err != nil {
		return fmt.Errorf("app: reset vectors: %w", err)
	}
	if err := a.Vectors.EnsureCollection(ctx, a.Config.Qdrant.VectorSize); err != nil {
		return fmt.Errorf("app: reset vectors: %w", err)
	}
	a.Logger.Info("vector collection reset", "collection", a.Vectors.Collection())
	return nil
}

// IndexDeps returns the indexer dependencies, or false when semantic
// search is not available.
func (a *App) IndexDeps() (index.Deps, bool) {
	if a.Vectors == nil || a.Embedder == nil {
		return index.Deps{}, false
	}
	deps := index.Deps{
		Embedder: a.Embedder,
		Vectors:  a.Vectors,
		Metrics:  a.Metrics,
		Logger:   a.Logger.With("component", "indexer"),
	}
	if a.Graph != nil {
		deps.Graph = a.Graph
	}
	return deps, true
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
