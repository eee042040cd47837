// Package store keeps the current article list, newest first, backed by a
// remote database with a local cache as fallback. Remote failures never lose
// a write: the row is created locally and the error is surfaced in Status.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paynews/paynews/engine/domain"
	"github.com/paynews/paynews/pkg/metrics"
)

var (
	ErrDuplicate = errors.New("store: article with this title already exists")
	ErrNotFound  = errors.New("store: article not found")
)

// Remote is the authoritative record store.
type Remote interface {
	// List returns every article ordered by created_at descending.
	List(ctx context.Context) ([]domain.Article, error)
	Insert(ctx context.Context, d domain.Draft) (domain.Article, error)
	Delete(ctx context.Context, id string) error
}

// Cache persists a snapshot of the list between runs.
type Cache interface {
	Load(ctx context.Context) ([]domain.Article, error)
	Save(ctx context.Context, articles []domain.Article) error
}

// Publisher is notified after the list changes.
type Publisher interface {
	ArticleAdded(ctx context.Context, a domain.Article) error
	ArticleDeleted(ctx context.Context, id string) error
}

// Options configures a Store. Every field is optional.
type Options struct {
	Publisher Publisher
	Metrics   *metrics.Registry
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

// Added reports the outcome of Add.
type Added struct {
	Article domain.Article `json:"article"`
	// Fallback is set when the remote insert failed and the row exists only locally.
	Fallback bool `json:"fallback"`
}

// Status describes the store for health checks and the UI.
type Status struct {
	Loading     bool      `json:"loading"`
	Error       string    `json:"error,omitempty"`
	Count       int       `json:"count"`
	Remote      bool      `json:"remote"`
	LastRefresh time.Time `json:"last_refresh,omitzero"`
}

// Store is safe for concurrent use. Mutations are serialized.
type Store struct {
	remote Remote
	cache  Cache
	opts   Options
	log    *slog.Logger

	writeMu sync.Mutex

	mu          sync.RWMutex
	articles    []domain.Article
	loading     bool
	lastErr     string
	lastRefresh time.Time
}

// New builds a store seeded from the cache. A nil remote runs local-only;
// a nil cache keeps the list in memory. A cache read failure is recorded,
// not returned.
func New(ctx context.Context, remote Remote, cache Cache, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	s := &Store{remote: remote, cache: cache, opts: opts, log: opts.Logger}
	if cache != nil {
		cached, err := cache.Load(ctx)
		if err != nil {
			s.log.Warn("article cache unreadable", "err", err)
			s.lastErr = err.Error()
		}
		s.articles = cached
	}
	s.gauge()
	return s
}

// Articles returns a copy of the current list, newest first.
func (s *Store) Articles() []domain.Article {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.articles)
}

// Get returns the article with id.
func (s *Store) Get(id string) (domain.Article, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return domain.Article{}, false
	}
	return s.articles[i], true
}

// Status reports the current state.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Loading:     s.loading,
		Error:       s.lastErr,
		Count:       len(s.articles),
		Remote:      s.remote != nil,
		LastRefresh: s.lastRefresh,
	}
}

// Refresh reloads the list from the remote store. On failure the cached
// list is kept and the error is both recorded and returned.
func (s *Store) Refresh(ctx context.Context) error {
	if s.remote == nil {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.setLoading(true)
	defer s.setLoading(false)

	list, err := s.remote.List(ctx)
	if err != nil {
		s.count("refresh", "fallback")
		s.log.Warn("remote refresh failed, serving cached articles", "err", err)
		if s.cache != nil {
			if cached, cerr := s.cache.Load(ctx); cerr == nil {
				s.mu.Lock()
				s.articles = cached
				s.mu.Unlock()
			}
		}
		s.fail(err)
		s.gauge()
		return fmt.Errorf("store: refresh: %w", err)
	}

	s.mu.Lock()
	s.articles = list
	s.lastErr = ""
	s.lastRefresh = s.opts.Now()
	s.mu.Unlock()
	s.count("refresh", "ok")
	s.gauge()
	s.save(ctx)
	return nil
}

// Add stores d unless an article with the same title exists.
func (s *Store) Add(ctx context.Context, d domain.Draft) (Added, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	dup := domain.ContainsTitle(s.articles, d.Title)
	s.mu.RUnlock()
	if dup {
		s.count("add", "duplicate")
		return Added{}, ErrDuplicate
	}

	var out Added
	if s.remote != nil {
		a, err := s.remote.Insert(ctx, d)
		if err == nil {
			out.Article = a
			s.clearErr()
		} else {
			s.log.Warn("remote insert failed, storing locally", "title", d.Title, "err", err)
			s.fail(err)
			out.Fallback = true
		}
	} else {
		out.Fallback = true
	}
	if out.Fallback {
		out.Article = d.Article(s.opts.NewID(), s.opts.Now().UTC())
	}

	s.mu.Lock()
	s.articles = slices.Insert(s.articles, 0, out.Article)
	s.mu.Unlock()
	s.gauge()
	s.save(ctx)

	if out.Fallback && s.remote != nil {
		s.count("add", "fallback")
	} else {
		s.count("add", "ok")
	}
	s.publish(ctx, func(p Publisher) error { return p.ArticleAdded(ctx, out.Article) })
	return out, nil
}

// Delete removes the article remotely and locally. A remote failure is
// recorded and the local delete still happens.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	known := s.indexOf(id) >= 0
	s.mu.RUnlock()

	remoteGone := false
	if s.remote != nil {
		switch err := s.remote.Delete(ctx, id); {
		case err == nil:
			remoteGone = true
			s.clearErr()
		case errors.Is(err, ErrNotFound):
		default:
			s.log.Warn("remote delete failed, removing locally", "id", id, "err", err)
			s.fail(err)
		}
	}
	if !known && !remoteGone {
		s.count("delete", "not_found")
		return ErrNotFound
	}

	s.mu.Lock()
	if i := s.indexOf(id); i >= 0 {
		s.articles = slices.Delete(s.articles, i, i+1)
	}
	s.mu.Unlock()
	s.gauge()
	s.save(ctx)
	s.count("delete", "ok")
	s.publish(ctx, func(p Publisher) error { return p.ArticleDeleted(ctx, id) })
	return nil
}

// indexOf must be called with mu held.
func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.articles, func(a domain.Article) bool { return a.ID == id })
}

func (s *Store) save(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Save(ctx, s.Articles()); err != nil {
		s.log.Warn("article cache write failed", "err", err)
	}
}

func (s *Store) publish(ctx context.Context, f func(Publisher) error) {
	if s.opts.Publisher == nil {
		return
	}
	if err := f(s.opts.Publisher); err != nil {
		s.log.Warn("article event publish failed", "err", err)
	}
}

func (s *Store) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

func (s *Store) fail(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

func (s *Store) clearErr() {
	s.mu.Lock()
	s.lastErr = ""
	s.mu.Unlock()
}

func (s *Store) count(op, outcome string) {
	if s.opts.Metrics == nil {
		return
	}
	s.opts.Metrics.Counter(metrics.WithLabels("paynews_store_operations_total", "op", op, "outcome", outcome),
		"Article store operations by outcome.").Inc()
}

func (s *Store) gauge() {
	if s.opts.Metrics == nil {
		return
	}
	s.mu.RLock()
	n := len(s.articles)
	s.mu.RUnlock()
	s.opts.Metrics.Gauge("paynews_store_articles", "Articles currently held.").Set(float64(n))
}
