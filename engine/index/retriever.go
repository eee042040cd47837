package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/paynews/paynews/engine/domain"
	"github.com/paynews/paynews/engine/semantic"
)

// Searcher finds the nearest stored embeddings.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]semantic.Hit, error)
}

// Retriever answers similarity queries over indexed articles.
type Retriever struct {
	embedder Embedder
	search   Searcher
	minScore float32
}

// NewRetriever builds a Retriever. Hits scoring below minScore are dropped.
func NewRetriever(e Embedder, s Searcher, minScore float32) *Retriever {
	return &Retriever{embedder: e, search: s, minScore: minScore}
}

// Similar returns up to limit articles close to query.
func (r *Retriever) Similar(ctx context.Context, query string, limit int) ([]domain.Article, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("index: embed query: %w", err)
	}
	hits, err := r.search.Search(ctx, vec, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Article, 0, len(hits))
	for _, h := range hits {
		if h.Score < r.minScore {
			continue
		}
		out = append(out, domain.Article{ID: h.ArticleID, Title: h.Title, URL: h.URL, Summary: h.Summary})
	}
	return out, nil
}
