// Package news fetches fintech articles from the LLM, extracts them from the
// reply and hands them to the article store.
package news

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paynews/paynews/engine/domain"
	"github.com/paynews/paynews/engine/extract"
	"github.com/paynews/paynews/engine/llm"
	"github.com/paynews/paynews/engine/store"
	"github.com/paynews/paynews/pkg/fn"
	"github.com/paynews/paynews/pkg/metrics"
)

// Store receives fetched drafts. *store.Store implements it.
type Store interface {
	Add(ctx context.Context, d domain.Draft) (store.Added, error)
}

// Options configures a Service.
type Options struct {
	// Model overrides the completer's default model.
	Model string
	// Count is the article count used by Search.
	Count   int
	Metrics *metrics.Registry
	Logger  *slog.Logger
	Now     func() time.Time
}

// Service runs news fetches.
type Service struct {
	llm     llm.Completer
	store   Store
	matcher domain.MentionMatcher
	opts    Options
	log     *slog.Logger
}

// New creates a Service. store may be nil when results are not persisted.
func New(c llm.Completer, s Store, m domain.MentionMatcher, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Count <= 0 {
		opts.Count = DefaultCount
	}
	return &Service{llm: c, store: s, matcher: m, opts: opts, log: opts.Logger}
}

// Batch is the extracted result of one fetch.
type Batch struct {
	Articles  []domain.Draft `json:"articles"`
	Stage     extract.Stage  `json:"stage"`
	Found     int            `json:"found"`
	Rejected  int            `json:"rejected"`
	Citations []string       `json:"citations,omitempty"`
}

// Report is a Batch after storing.
type Report struct {
	Batch
	Stored   []domain.Article `json:"stored"`
	Skipped  int              `json:"skipped"`
	Fallback int              `json:"fallback"`
	Failed   int              `json:"failed"`
}

// Fetch asks the LLM for articles matching c and extracts them.
func (s *Service) Fetch(ctx context.Context, c Criteria) (Batch, error) {
	start := s.opts.Now()
	comp, err := s.llm.Complete(ctx, llm.Request{
		Model:  s.opts.Model,
		System: llm.ArticlesSystemPrompt,
		Prompt: BuildPrompt(c),
	})
	if err != nil {
		s.observe("error", "")
		return Batch{}, fmt.Errorf("news: complete: %w", err)
	}

	res, err := extract.Articles(comp.Content, extract.Options{RequireScore: c.Scored})
	s.log.Info("news reply extracted",
		"stage", res.Stage,
		"found", res.Found,
		"valid", len(res.Articles),
		"rejected", len(res.Rejected),
		"duration", s.opts.Now().Sub(start),
	)
	for _, r := range res.Rejected {
		s.log.Debug("article rejected", "index", r.Index, "err", r.Err)
	}
	if err != nil {
		s.observe("no_articles", res.Stage)
		return Batch{Stage: res.Stage, Found: res.Found, Rejected: len(res.Rejected)}, fmt.Errorf("news: extract: %w", err)
	}

	now := s.opts.Now().UTC()
	drafts := fn.UniqueBy(res.Articles, func(d domain.Draft) string { return domain.DedupeKey(d.Title) })
	for i := range drafts {
		if drafts[i].FetchedAt.IsZero() {
			drafts[i].FetchedAt = now
		}
	}
	s.observe("ok", res.Stage)
	return Batch{
		Articles:  drafts,
		Stage:     res.Stage,
		Found:     res.Found,
		Rejected:  len(res.Rejected),
		Citations: comp.Citations,
	}, nil
}

// FetchAndStore fetches and adds every draft to the store in reply order.
// Per-draft failures are counted, not returned.
func (s *Service) FetchAndStore(ctx context.Context, c Criteria) (Report, error) {
	batch, err := s.Fetch(ctx, c)
	if err != nil {
		return Report{Batch: batch}, err
	}
	return s.save(ctx, batch), nil
}

// Search fetches scored articles for the filters, keeps those the filters
// select and stores them.
func (s *Service) Search(ctx context.Context, o domain.FilterOptions) (Report, error) {
	if err := domain.ValidateFilters(o); err != nil {
		return Report{}, fmt.Errorf("news: search: %w", err)
	}
	batch, err := s.Fetch(ctx, CriteriaFromFilters(o, s.opts.Count))
	if err != nil {
		return Report{Batch: batch}, err
	}

	now := s.opts.Now()
	candidates := make([]domain.Article, len(batch.Articles))
	for i, d := range batch.Articles {
		candidates[i] = d.Article("", time.Time{})
	}
	kept := domain.Filter(candidates, o, s.matcher, now)
	keep := make(map[string]bool, len(kept))
	for _, a := range kept {
		keep[domain.DedupeKey(a.Title)] = true
	}
	batch.Articles = fn.Filter(batch.Articles, func(d domain.Draft) bool { return keep[domain.DedupeKey(d.Title)] })
	s.log.Info("search filtered", "candidates", len(candidates), "kept", len(batch.Articles))

	return s.save(ctx, batch), nil
}

func (s *Service) save(ctx context.Context, batch Batch) Report {
	rep := Report{Batch: batch, Stored: []domain.Article{}}
	if s.store == nil {
		return rep
	}
	for _, d := range batch.Articles {
		out, err := s.store.Add(ctx, d)
		switch {
		case errors.Is(err, store.ErrDuplicate):
			rep.Skipped++
		case err != nil:
			rep.Failed++
			s.log.Warn("store article failed", "title", d.Title, "err", err)
		default:
			rep.Stored = append(rep.Stored, out.Article)
			if out.Fallback {
				rep.Fallback++
			}
		}
	}
	s.log.Info("news stored",
		"stored", len(rep.Stored),
		"skipped", rep.Skipped,
		"fallback", rep.Fallback,
		"failed", rep.Failed,
	)
	return rep
}

func (s *Service) observe(outcome string, stage extract.Stage) {
	if s.opts.Metrics == nil {
		return
	}
	s.opts.Metrics.Counter(metrics.WithLabels("paynews_news_fetch_total", "outcome", outcome),
		"News fetches by outcome.").Inc()
	if stage != "" && stage != extract.StageNone {
		s.opts.Metrics.Counter(metrics.WithLabels("paynews_extract_stage_total", "stage", string(stage)),
			"Extraction stage that produced the article list.").Inc()
	}
}
