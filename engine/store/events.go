package store

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/paynews/paynews/engine/domain"
	"github.com/paynews/paynews/pkg/natsutil"
)

// Subjects carrying article change events.
const (
	SubjectAdded   = "paynews.articles.added"
	SubjectDeleted = "paynews.articles.deleted"
)

// ArticleAdded is published after an article is stored.
type ArticleAdded struct {
	Article  domain.Article `json:"article"`
	Occurred time.Time      `json:"occurred_at"`
}

// ArticleDeleted is published after an article is removed.
type ArticleDeleted struct {
	ID       string    `json:"id"`
	Occurred time.Time `json:"occurred_at"`
}

// NATSPublisher publishes store events to NATS.
type NATSPublisher struct {
	nc  *nats.Conn
	now func() time.Time
}

// NewNATSPublisher publishes on nc.
func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc, now: time.Now}
}

func (p *NATSPublisher) ArticleAdded(ctx context.Context, a domain.Article) error {
	return natsutil.Publish(ctx, p.nc, SubjectAdded, ArticleAdded{Article: a, Occurred: p.now().UTC()})
}

func (p *NATSPublisher) ArticleDeleted(ctx context.Context, id string) error {
	return natsutil.Publish(ctx, p.nc, SubjectDeleted, ArticleDeleted{ID: id, Occurred: p.now().UTC()})
}
