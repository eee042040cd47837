package main

import (
	"context"
	"fmt"

	"github.com/paynews/paynews/engine/app"
	"github.com/paynews/paynews/engine/chat"
	"github.com/paynews/paynews/engine/domain"
	"github.com/paynews/paynews/engine/index"
	"github.com/paynews/paynews/engine/news"
	"github.com/paynews/paynews/engine/store"
	"github.com/paynews/paynews/pkg/config"
	"github.com/paynews/paynews/pkg/logx"
)

type articleStore interface {
	Articles() []domain.Article
	Status() store.Status
	Refresh(ctx context.Context) error
	Delete(ctx context.Context, id string) error
}

type newsService interface {
	FetchAndStore(ctx context.Context, c news.Criteria) (news.Report, error)
	Search(ctx context.Context, o domain.FilterOptions) (news.Report, error)
}

type chatService interface {
	Ask(ctx context.Context, prompt string) (*chat.Reply, error)
}

// session is what a subcommand works with. indexDeps and resetVectors are
// nil when the session was opened without semantic backends.
type session struct {
	store        articleStore
	news         newsService
	chat         chatService
	matcher      domain.MentionMatcher
	indexDeps    func() (index.Deps, bool)
	resetVectors func(ctx context.Context) error
	close        func() error
}

// openSession loads config and wires the app. Tests replace it.
var openSession = func(ctx context.Context, opts *rootOptions, semantic bool) (*session, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	// stdout belongs to command output.
	if cfg.Log.Output == "" || cfg.Log.Output == "stdout" {
		cfg.Log.Output = "stderr"
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	} else if cfg.Log.Level == "" || cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}
	logger, sync, err := logx.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	a, err := app.New(ctx, cfg, logger, app.Options{Name: "paynews-cli", SkipSemantic: !semantic})
	if err != nil {
		sync()
		return nil, err
	}
	return &session{
		store:        a.Store,
		news:         a.News,
		chat:         a.Chat,
		matcher:      a.Matcher,
		indexDeps:    a.IndexDeps,
		resetVectors: a.ResetVectors,
		close: func() error {
			err := a.Close()
			sync()
			return err
		},
	}, nil
}

// withSession opens a session, runs f and closes the session.
func withSession(ctx context.Context, opts *rootOptions, semantic bool, f func(*session) error) error {
	s, err := openSession(ctx, opts, semantic)
	if err != nil {
		return err
	}
	defer s.close()
	return f(s)
}
