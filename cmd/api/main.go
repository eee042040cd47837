// Package main implements the PayNews API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paynews/paynews/engine/app"
	"github.com/paynews/paynews/engine/domain"
	"github.com/paynews/paynews/pkg/config"
	"github.com/paynews/paynews/pkg/logx"
	"github.com/paynews/paynews/pkg/metrics"
	"github.com/paynews/paynews/pkg/mid"
	"github.com/paynews/paynews/pkg/resilience"
)

var timeNow = time.Now

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
		logger.Error("server exited with error", "err", err)
		sync()
		os.Exit(1)
	}
}

// deps are the services the HTTP layer talks to. similar and graph are
// nil when those backends are not configured.
type deps struct {
	store   articleStore
	news    newsService
	chat    chatService
	llm     llmStatus
	matcher domain.MentionMatcher
	similar similarFinder
	graph   mentionsGraph
	metrics *metrics.Registry
}

func depsFromApp(a *app.App) deps {
	d := deps{
		store:   a.Store,
		news:    a.News,
		chat:    a.Chat,
		llm:     a.LLM,
		matcher: a.Matcher,
		metrics: a.Metrics,
	}
	if a.Retriever != nil {
		d.similar = a.Retriever
	}
	if a.Graph != nil {
		d.graph = a.Graph
	}
	return d
}

func routes(d deps, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth(d.store, d.llm))
	mux.HandleFunc("GET /api/test", handleTest(d.llm))
	mux.HandleFunc("POST /api/chat", handleChat(d.chat, logger))
	mux.HandleFunc("POST /api/chat/articles", handleChatArticles(d.chat, logger))
	mux.HandleFunc("POST /api/news/fetch", handleFetchNews(d.news, logger))
	mux.HandleFunc("POST /api/search-articles", handleSearchArticles(d.news, logger))
	mux.HandleFunc("GET /api/articles", handleListArticles(d.store, d.matcher))
	mux.HandleFunc("POST /api/articles", handleCreateArticle(d.store, logger))
	mux.HandleFunc("DELETE /api/articles/{id}", handleDeleteArticle(d.store, logger))
	mux.HandleFunc("POST /api/articles/refresh", handleRefreshArticles(d.store, logger))
	if d.similar != nil {
		mux.HandleFunc("GET /api/articles/similar", handleSimilar(d.similar, logger))
	}
	if d.graph != nil {
		mux.HandleFunc("GET /api/companies", handleTopCompanies(d.graph, logger))
		mux.HandleFunc("GET /api/companies/{name}/articles", handleCompanyArticles(d.graph, logger))
	}
	if d.metrics != nil {
		mux.Handle("GET /metrics", d.metrics.Handler())
	}
	return mux
}

func newHandler(cfg *config.Config, d deps, logger *slog.Logger) http.Handler {
	mw := []mid.Middleware{
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.CORS(cfg.HTTP.CORSOrigin),
		mid.OTel("paynews-api"),
	}
	if d.metrics != nil {
		mw = append(mw, mid.Metrics(d.metrics))
	}
	if cfg.HTTP.RateLimit > 0 {
		mw = append(mw, mid.RateLimit(resilience.NewKeyedLimiter(resilience.LimiterOpts{
			Rate:  cfg.HTTP.RateLimit,
			Burst: cfg.HTTP.RateBurst,
		})))
	}
	return mid.Chain(routes(d, logger), mw...)
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	go metrics.CollectRuntime(ctx, reg, 15*time.Second)

	a, err := app.New(ctx, cfg, logger, app.Options{Name: "paynews-api", Metrics: reg})
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           newHandler(cfg, depsFromApp(a), logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// LLM calls retry with backoff, so writes get more room than reads.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.HTTP.Port, "remote_store", a.Store.Status().Remote)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
