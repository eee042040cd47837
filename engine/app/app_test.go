package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paynews/paynews/engine/domain"
	"github.com/paynews/paynews/pkg/config"
	"github.com/paynews/paynews/pkg/logx"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		HTTP: config.HTTPConfig{Port: "0"},
		Perplexity: config.PerplexityConfig{
			BaseURL:  "http://127.0.0.1:1",
			Model:    "sonar",
			Timeout:  time.Second,
			Retries:  1,
			ChatTTL:  time.Minute,
			NewsSize: 5,
		},
		Cache:  config.CacheConfig{Path: filepath.Join(t.TempDir(), "articles.db")},
		Ollama: config.OllamaConfig{URL: "http://127.0.0.1:1", Model: "nomic-embed-text"},
		Log:    logx.Config{Format: "json"},
	}
}

func TestNewLocalOnly(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), logx.Discard(), Options{})
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Store)
	assert.NotNil(t, a.News)
	assert.NotNil(t, a.Chat)
	assert.False(t, a.LLM.Configured())
	assert.False(t, a.Store.Status().Remote)
	assert.Nil(t, a.NATS)
	assert.Nil(t, a.Vectors)
	assert.Nil(t, a.Graph)

	_, ok := a.IndexDeps()
	assert.False(t, ok)
	assert.ErrorIs(t, a.ResetVectors(context.Background()), ErrNoVectors)
}

func TestLocalStorePersistsAcrossRestarts(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, logx.Discard(), Options{})
	require.NoError(t, err)

	added, err := a.Store.Add(context.Background(), domain.Draft{
		Title:   "Visa tests agentic checkout",
		URL:     "https://example.com/visa",
		Summary: "Pilot with issuers.",
	})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := New(context.Background(), cfg, logx.Discard(), Options{})
	require.NoError(t, err)
	defer b.Close()
	got, ok := b.Store.Get(added.Article.ID)
	require.True(t, ok)
	assert.Equal(t, "Visa tests agentic checkout", got.Title)
}

func TestUnreachableOptionalBackendsDegrade(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.URL = "not-a-redis-url"
	cfg.NATS.URL = "nats://127.0.0.1:1"

	a, err := New(context.Background(), cfg, logx.Discard(), Options{SkipSemantic: true})
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.NATS)
	assert.NotNil(t, a.Chat)
}

func TestNATSPublisherWired(t *testing.T) {
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	require.NoError(t, err)
	srv.Start()
	defer srv.Shutdown()
	require.True(t, srv.ReadyForConnections(3*time.Second))

	cfg := testConfig(t)
	cfg.NATS.URL = srv.ClientURL()
	a, err := New(context.Background(), cfg, logx.Discard(), Options{Name: "app-test"})
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.NATS)
	assert.True(t, a.NATS.IsConnected())
}

func TestBadCachePathFails(t *testing.T) {
	cfg := testConfig(t)
	// A directory cannot be opened as a database file.
	cfg.Cache.Path = t.TempDir()
	_, err := New(context.Background(), cfg, logx.Discard(), Options{})
	assert.Error(t, err)
}
