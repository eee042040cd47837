package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paynews/paynews/engine/catalog"
	"github.com/paynews/paynews/engine/chat"
	"github.com/paynews/paynews/engine/domain"
	"github.com/paynews/paynews/engine/extract"
	"github.com/paynews/paynews/engine/index"
	"github.com/paynews/paynews/engine/news"
	"github.com/paynews/paynews/engine/store"
)

type fakeStore struct {
	articles   []domain.Article
	deleted    []string
	deleteErr  error
	refreshErr error
	refreshed  bool
}

func (f *fakeStore) Articles() []domain.Article { return f.articles }
func (f *fakeStore) Status() store.Status {
	return store.Status{Count: len(f.articles), Remote: true}
}

func (f *fakeStore) Refresh(context.Context) error {
	f.refreshed = true
	return f.refreshErr
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

type fakeNews struct {
	criteria news.Criteria
	filters  domain.FilterOptions
	report   news.Report
	err      error
}

func (f *fakeNews) FetchAndStore(_ context.Context, c news.Criteria) (news.Report, error) {
	f.criteria = c
	return f.report, f.err
}

func (f *fakeNews) Search(_ context.Context, o domain.FilterOptions) (news.Report, error) {
	f.filters = o
	return f.report, f.err
}

type fakeChat struct {
	prompt string
	reply  *chat.Reply
	err    error
}

func (f *fakeChat) Ask(_ context.Context, p string) (*chat.Reply, error) {
	f.prompt = p
	return f.reply, f.err
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }

// fakeVectors records calls in order, so a reset can be checked to come
// before any upsert.
type fakeVectors struct {
	calls    []string
	upserts  []string
	resetErr error
}

func (f *fakeVectors) UpsertArticle(_ context.Context, a domain.Article, _ []float32) error {
	f.calls = append(f.calls, "upsert:"+a.ID)
	f.upserts = append(f.upserts, a.ID)
	return nil
}

func (f *fakeVectors) reset(context.Context) error {
	f.calls = append(f.calls, "reset")
	return f.resetErr
}

func (f *fakeVectors) DeleteByArticleID(context.Context, string) error { return nil }

type harness struct {
	store    *fakeStore
	news     *fakeNews
	chat     *fakeChat
	vectors  *fakeVectors
	semantic bool
	opened   bool
	closed   bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: &fakeStore{}, news: &fakeNews{}, chat: &fakeChat{}, vectors: &fakeVectors{}}
	orig := openSession
	openSession = func(_ context.Context, _ *rootOptions, semantic bool) (*session, error) {
		h.opened, h.semantic = true, semantic
		return &session{
			store:   h.store,
			news:    h.news,
			chat:    h.chat,
			matcher: catalog.NewMatcher(catalog.Default()),
			indexDeps: func() (index.Deps, bool) {
				return index.Deps{Embedder: fakeEmbedder{}, Vectors: h.vectors}, true
			},
			resetVectors: h.vectors.reset,
			close: func() error { h.closed = true; return nil },
		}, nil
	}
	t.Cleanup(func() { openSession = orig })
	return h
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFetchDefaults(t *testing.T) {
	h := newHarness(t)
	h.news.report = news.Report{
		Batch:  news.Batch{Articles: []domain.Draft{{Title: "Plaid raises", URL: "https://x.test/p"}}, Stage: extract.StageFenced, Found: 1},
		Stored: []domain.Article{{ID: "a1"}},
	}

	out, err := execute("fetch")
	require.NoError(t, err)
	assert.Equal(t, news.DefaultCount, h.news.criteria.Count)
	assert.False(t, h.news.criteria.Scored)
	assert.False(t, h.semantic)
	assert.True(t, h.closed)
	assert.Contains(t, out, "Found 1 articles (fenced parse")
	assert.Contains(t, out, "Plaid raises")
}

func TestFetchScoredWithFilters(t *testing.T) {
	h := newHarness(t)
	_, err := execute("fetch", "-n", "8", "--company", "Stripe,Visa", "--topic", "Fraud", "--min-score", "6", "--range", "week")
	require.NoError(t, err)
	c := h.news.criteria
	assert.Equal(t, 8, c.Count)
	assert.Equal(t, []string{"Stripe", "Visa"}, c.Companies)
	assert.Equal(t, []string{"Fraud"}, c.Topics)
	assert.Equal(t, domain.RangeWeek, c.DateRange)
	assert.True(t, c.Scored)
}

func TestFetchRejectsBadCountBeforeOpening(t *testing.T) {
	h := newHarness(t)
	_, err := execute("fetch", "--count", "50")
	require.Error(t, err)
	assert.False(t, h.opened)
}

func TestFetchJSON(t *testing.T) {
	h := newHarness(t)
	h.news.report = news.Report{Skipped: 2}
	out, err := execute("fetch", "--json")
	require.NoError(t, err)
	var rep map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.EqualValues(t, 2, rep["skipped"])
}

func TestFetchError(t *testing.T) {
	h := newHarness(t)
	h.news.err = extract.ErrNoArticles
	_, err := execute("fetch")
	require.ErrorIs(t, err, extract.ErrNoArticles)
	assert.True(t, h.closed)
}

func TestSearchDefaultsToSearchScore(t *testing.T) {
	h := newHarness(t)
	_, err := execute("search", "--company", "Plaid")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSearchScore, h.news.filters.MinRelevanceScore)
	assert.Equal(t, domain.RangeAll, h.news.filters.DateRange)
	assert.Equal(t, []string{"Plaid"}, h.news.filters.Companies)
}

func TestSearchInvalidRange(t *testing.T) {
	h := newHarness(t)
	_, err := execute("search", "--range", "year")
	require.ErrorIs(t, err, domain.ErrInvalidFilter)
	assert.False(t, h.opened)
}

func TestChatJoinsArgs(t *testing.T) {
	h := newHarness(t)
	h.chat.reply = &chat.Reply{Reply: "Visa tokenizes cards.", Citations: []string{"https://visa.test"}}
	out, err := execute("chat", "how", "is", "Visa", "doing")
	require.NoError(t, err)
	assert.Equal(t, "how is Visa doing", h.chat.prompt)
	assert.Contains(t, out, "Visa tokenizes cards.")
	assert.Contains(t, out, "[1] https://visa.test")
}

func TestChatRequiresPrompt(t *testing.T) {
	newHarness(t)
	_, err := execute("chat")
	require.Error(t, err)
}

func TestArticlesListFilters(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	h.store.articles = []domain.Article{
		{ID: "1", Title: "Stripe launches stablecoin accounts", RelevanceScore: 8, FetchedAt: now},
		{ID: "2", Title: "Mastercard agentic payments", RelevanceScore: 6, FetchedAt: now},
	}

	out, err := execute("articles", "list", "--company", "stripe")
	require.NoError(t, err)
	assert.Contains(t, out, "Stripe launches")
	assert.NotContains(t, out, "Mastercard")

	out, err = execute("articles", "ls", "--json")
	require.NoError(t, err)
	var got []domain.Article
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Len(t, got, 2)
}

func TestArticlesListEmptyJSON(t *testing.T) {
	newHarness(t)
	out, err := execute("articles", "list", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestArticlesDelete(t *testing.T) {
	h := newHarness(t)
	out, err := execute("articles", "delete", "abc")
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, h.store.deleted)
	assert.Contains(t, out, "Deleted abc")

	h.store.deleteErr = store.ErrNotFound
	_, err = execute("articles", "delete", "zzz")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestArticlesRefreshWarns(t *testing.T) {
	h := newHarness(t)
	h.store.refreshErr = errors.New("postgres down")
	out, err := execute("articles", "refresh")
	require.NoError(t, err)
	assert.True(t, h.store.refreshed)
	assert.Contains(t, out, "warning: postgres down")
	assert.Contains(t, out, "0 articles (remote: true)")
}

func TestBackfillUsesSemanticSession(t *testing.T) {
	h := newHarness(t)
	h.store.articles = []domain.Article{{ID: "a1", Title: "Sardine", URL: "https://s.test", Summary: "Fraud."}}
	out, err := execute("backfill")
	require.NoError(t, err)
	assert.True(t, h.semantic)
	assert.Equal(t, []string{"a1"}, h.vectors.upserts)
	assert.Contains(t, out, "Indexed 1 of 1 articles")
}

func TestBackfillKeepsCollectionByDefault(t *testing.T) {
	h := newHarness(t)
	h.store.articles = []domain.Article{{ID: "a1", Title: "Sardine", URL: "https://s.test", Summary: "Fraud."}}
	_, err := execute("backfill")
	require.NoError(t, err)
	assert.Equal(t, []string{"upsert:a1"}, h.vectors.calls)
}

func TestBackfillResetRecreatesCollectionFirst(t *testing.T) {
	h := newHarness(t)
	h.store.articles = []domain.Article{
		{ID: "a1", Title: "Sardine", URL: "https://s.test", Summary: "Fraud."},
		{ID: "a2", Title: "Plaid", URL: "https://p.test", Summary: "Open banking."},
	}
	_, err := execute("backfill", "--reset")
	require.NoError(t, err)
	assert.Equal(t, []string{"reset", "upsert:a1", "upsert:a2"}, h.vectors.calls)
}

func TestBackfillResetFailureStopsBeforeIndexing(t *testing.T) {
	h := newHarness(t)
	h.vectors.resetErr = errors.New("qdrant down")
	h.store.articles = []domain.Article{{ID: "a1", Title: "Sardine", URL: "https://s.test", Summary: "Fraud."}}
	_, err := execute("backfill", "--reset")
	require.ErrorContains(t, err, "qdrant down")
	assert.Empty(t, h.vectors.upserts)
	assert.True(t, h.closed)
}
