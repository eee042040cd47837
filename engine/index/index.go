// Package index keeps the vector and graph indexes in step with the article
// store by consuming its NATS events.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/paynews/paynews/engine/catalog"
	"github.com/paynews/paynews/engine/domain"
	"github.com/paynews/paynews/engine/store"
	"github.com/paynews/paynews/pkg/fn"
	"github.com/paynews/paynews/pkg/metrics"
	"github.com/paynews/paynews/pkg/natsutil"
)

const (
	// QueueGroup load-balances events across indexer replicas.
	QueueGroup = "paynews-indexer"
	// MaxRetries before a message goes to the dead letter subject.
	MaxRetries = 3
	// DLQSuffix is appended to the source subject to name its dead letter subject.
	DLQSuffix = ".dlq"
)

// ErrMissingID is returned for articles without an id.
var ErrMissingID = errors.New("index: article has no id")

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Vectors stores article embeddings.
type Vectors interface {
	UpsertArticle(ctx context.Context, a domain.Article, embedding []float32) error
	DeleteByArticleID(ctx context.Context, articleID string) error
}

// Graph records article mentions.
type Graph interface {
	LinkArticle(ctx context.Context, a domain.Article) (catalog.Mentions, error)
	DeleteArticle(ctx context.Context, id string) error
}

// Deps holds the external dependencies of the indexer. Graph is optional.
type Deps struct {
	Embedder Embedder
	Vectors  Vectors
	Graph    Graph
	Metrics  *metrics.Registry
	Logger   *slog.Logger
	// Timeout bounds the handling of a single event.
	Timeout time.Duration
}

// Embedded is an article with its embedding.
type Embedded struct {
	Article   domain.Article
	Embedding []float32
}

// Indexed is the outcome of a successful pipeline run.
type Indexed struct {
	ArticleID string
	Dims      int
	Mentions  catalog.Mentions
}

// EmbedText is the text embedded for an article.
func EmbedText(a domain.Article) string {
	return strings.TrimSpace(a.Title + "\n\n" + a.Summary)
}

// --- Pipeline Stages ---

// Validate rejects articles that cannot be indexed.
var Validate fn.Stage[domain.Article, domain.Article] = func(_ context.Context, a domain.Article) fn.Result[domain.Article] {
	if strings.TrimSpace(a.ID) == "" {
		return fn.Err[domain.Article](ErrMissingID)
	}
	d := domain.Draft{Title: a.Title, URL: a.URL, Summary: a.Summary, RelevanceScore: a.RelevanceScore}
	if err := domain.ValidateDraft(d, false); err != nil {
		return fn.Err[domain.Article](fmt.Errorf("index: validate %s: %w", a.ID, err))
	}
	return fn.Ok(a)
}

// NewEmbed creates a stage that embeds title and summary.
func NewEmbed(e Embedder) fn.Stage[domain.Article, Embedded] {
	return func(ctx context.Context, a domain.Article) fn.Result[Embedded] {
		vec, err := e.Embed(ctx, EmbedText(a))
		if err != nil {
			return fn.Err[Embedded](fmt.Errorf("index: embed %s: %w", a.ID, err))
		}
		return fn.Ok(Embedded{Article: a, Embedding: vec})
	}
}

// NewVectors creates a stage that upserts the embedding.
func NewVectors(v Vectors) fn.Stage[Embedded, Embedded] {
	return func(ctx context.Context, e Embedded) fn.Result[Embedded] {
		if err := v.UpsertArticle(ctx, e.Article, e.Embedding); err != nil {
			return fn.Err[Embedded](fmt.Errorf("index: vector upsert: %w", err))
		}
		return fn.Ok(e)
	}
}

// NewGraph creates a stage that links the article to its mentions. A nil
// graph passes through.
func NewGraph(g Graph) fn.Stage[Embedded, Indexed] {
	return func(ctx context.Context, e Embedded) fn.Result[Indexed] {
		out := Indexed{ArticleID: e.Article.ID, Dims: len(e.Embedding)}
		if g == nil {
			return fn.Ok(out)
		}
		m, err := g.LinkArticle(ctx, e.Article)
		if err != nil {
			return fn.Err[Indexed](fmt.Errorf("index: graph link: %w", err))
		}
		out.Mentions = m
		return fn.Ok(out)
	}
}

// LoggedTap returns a stage that logs the article entering the pipeline.
func LoggedTap(log *slog.Logger) fn.Stage[domain.Article, domain.Article] {
	return fn.TapStage(func(_ context.Context, a domain.Article) {
		log.Debug("index: stage.enter", "article_id", a.ID)
	})
}

// timed wraps a stage in a span and records its duration.
func timed[In, Out any](name string, reg *metrics.Registry, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	traced := fn.TracedStage("index."+name, stage)
	h := reg.Histogram(metrics.WithLabels("paynews_index_stage_seconds", "stage", name), "Indexer stage latency.", nil)
	return func(ctx context.Context, in In) fn.Result[Out] {
		defer h.Since(time.Now())
		return traced(ctx, in)
	}
}

// NewPipeline composes Validate → Embed → Vectors → Graph.
func NewPipeline(deps Deps) fn.Stage[domain.Article, Indexed] {
	deps = deps.withDefaults()
	reg := deps.Metrics

	validated := fn.Then(LoggedTap(deps.Logger), timed("validate", reg, Validate))
	embedded := fn.Then(validated, timed("embed", reg, NewEmbed(deps.Embedder)))
	stored := fn.Then(embedded, timed("vectors", reg, NewVectors(deps.Vectors)))
	return fn.Then(stored, timed("graph", reg, NewGraph(deps.Graph)))
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}
	return d
}

// DLQMessage is published to the dead letter subject on repeated failure.
type DLQMessage struct {
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Retries int             `json:"retries"`
}

// Indexer consumes store events.
type Indexer struct {
	nc       *nats.Conn
	deps     Deps
	pipeline fn.Stage[domain.Article, Indexed]
	log      *slog.Logger
	met      *metrics.Registry
}

// New creates an Indexer on nc.
func New(nc *nats.Conn, deps Deps) *Indexer {
	deps = deps.withDefaults()
	return &Indexer{
		nc:       nc,
		deps:     deps,
		pipeline: NewPipeline(deps),
		log:      deps.Logger.With("component", "indexer"),
		met:      deps.Metrics,
	}
}

// Start subscribes to the added and deleted subjects.
func (ix *Indexer) Start() ([]*nats.Subscription, error) {
	added, err := natsutil.Subscribe(ix.nc, store.SubjectAdded, QueueGroup, ix.HandleAdded, ix.drop)
	if err != nil {
		return nil, err
	}
	deleted, err := natsutil.Subscribe(ix.nc, store.SubjectDeleted, QueueGroup, ix.HandleDeleted, ix.drop)
	if err != nil {
		_ = added.Unsubscribe()
		return nil, err
	}
	return []*nats.Subscription{added, deleted}, nil
}

// Run starts the subscriptions and drains them when ctx ends.
func (ix *Indexer) Run(ctx context.Context) error {
	subs, err := ix.Start()
	if err != nil {
		return err
	}
	ix.log.Info("indexer started", "added", store.SubjectAdded, "deleted", store.SubjectDeleted)
	<-ctx.Done()
	for _, s := range subs {
		if err := s.Drain(); err != nil {
			ix.log.Warn("indexer: drain", "err", err)
		}
	}
	return nil
}

// HandleAdded indexes a newly stored article.
func (ix *Indexer) HandleAdded(ctx context.Context, d natsutil.Delivery[store.ArticleAdded]) {
	ctx, cancel := context.WithTimeout(ctx, ix.deps.Timeout)
	defer cancel()

	start := time.Now()
	res := ix.pipeline(ctx, d.Value.Article)
	ix.met.Histogram("paynews_index_pipeline_seconds", "Per-article indexing time.", nil).Since(start)

	out, err := res.Unwrap()
	if err != nil {
		ix.fail(ctx, d.Msg, d.Retries, err, "added")
		return
	}
	ix.met.Counter(metrics.WithLabels("paynews_index_events_total", "event", "added", "outcome", "ok"), "Indexer events by outcome.").Inc()
	ix.log.Info("index: article indexed",
		"article_id", out.ArticleID,
		"dims", out.Dims,
		"companies", out.Mentions.Companies,
		"topics", out.Mentions.Topics,
	)
}

// HandleDeleted removes an article from the vector and graph indexes.
func (ix *Indexer) HandleDeleted(ctx context.Context, d natsutil.Delivery[store.ArticleDeleted]) {
	ctx, cancel := context.WithTimeout(ctx, ix.deps.Timeout)
	defer cancel()

	id := d.Value.ID
	if strings.TrimSpace(id) == "" {
		ix.drop(d.Msg, ErrMissingID)
		return
	}
	var errs []error
	if err := ix.deps.Vectors.DeleteByArticleID(ctx, id); err != nil {
		errs = append(errs, err)
	}
	if ix.deps.Graph != nil {
		if err := ix.deps.Graph.DeleteArticle(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		ix.fail(ctx, d.Msg, d.Retries, err, "deleted")
		return
	}
	ix.met.Counter(metrics.WithLabels("paynews_index_events_total", "event", "deleted", "outcome", "ok"), "Indexer events by outcome.").Inc()
	ix.log.Info("index: article removed", "article_id", id)
}

// fail redelivers msg with an incremented retry count, or dead-letters it
// once MaxRetries is reached.
func (ix *Indexer) fail(ctx context.Context, msg *nats.Msg, retries int, cause error, event string) {
	retries++
	ix.log.Error("index: pipeline failed", "err", cause, "subject", msg.Subject, "retry", retries)

	if retries >= MaxRetries {
		ix.met.Counter(metrics.WithLabels("paynews_index_events_total", "event", event, "outcome", "dlq"), "Indexer events by outcome.").Inc()
		dlq := DLQMessage{Subject: msg.Subject, Data: json.RawMessage(msg.Data), Error: cause.Error(), Retries: retries}
		if err := natsutil.Publish(context.WithoutCancel(ctx), ix.nc, msg.Subject+DLQSuffix, dlq); err != nil {
			ix.log.Error("index: DLQ publish failed", "err", err)
		}
		return
	}
	ix.met.Counter(metrics.WithLabels("paynews_index_events_total", "event", event, "outcome", "retry"), "Indexer events by outcome.").Inc()
	if err := natsutil.Redeliver(context.WithoutCancel(ctx), ix.nc, msg, retries); err != nil {
		ix.log.Error("index: retry publish failed", "err", err)
	}
}

func (ix *Indexer) drop(msg *nats.Msg, err error) {
	ix.met.Counter(metrics.WithLabels("paynews_index_events_total", "event", "malformed", "outcome", "dropped"), "Indexer events by outcome.").Inc()
	ix.log.Error("index: dropping message", "subject", msg.Subject, "err", err)
}
