package index

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paynews/paynews/engine/semantic"
)

type fakeSearcher struct {
	hits []semantic.Hit
	err  error
	topK int
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, topK int) ([]semantic.Hit, error) {
	f.topK = topK
	return f.hits, f.err
}

func TestRetrieverSimilar(t *testing.T) {
	s := &fakeSearcher{hits: []semantic.Hit{
		{ArticleID: "a1", Title: "Plaid", URL: "https://p.example", Summary: "s", Score: 0.8},
		{ArticleID: "a2", Title: "Noise", Score: 0.1},
	}}
	r := NewRetriever(&fakeEmbedder{}, s, 0.3)

	got, err := r.Similar(context.Background(), " open banking ", 4)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "Plaid", got[0].Title)
	assert.Equal(t, 4, s.topK)
}

func TestRetrieverEmptyQuery(t *testing.T) {
	emb := &fakeEmbedder{}
	got, err := NewRetriever(emb, &fakeSearcher{}, 0).Similar(context.Background(), "  ", 3)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, emb.calls())
}

func TestRetrieverErrors(t *testing.T) {
	_, err := NewRetriever(&fakeEmbedder{err: errors.New("down")}, &fakeSearcher{}, 0).Similar(context.Background(), "q", 3)
	assert.Error(t, err)

	_, err = NewRetriever(&fakeEmbedder{}, &fakeSearcher{err: errors.New("qdrant")}, 0).Similar(context.Background(), "q", 3)
	assert.Error(t, err)
}
