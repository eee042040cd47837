package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paynews/paynews/pkg/fn"
	"github.com/paynews/paynews/pkg/logx"
	"github.com/paynews/paynews/pkg/metrics"
	"github.com/paynews/paynews/pkg/resilience"
)

func testOptions(url string) Options {
	return Options{
		BaseURL: url,
		Timeout: 5 * time.Second,
		Retry:   fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond},
		Breaker: resilience.BreakerOpts{FailThreshold: 10, Timeout: time.Minute},
	}
}

const okBody = `{
  "model": "sonar",
  "choices": [{"message": {"role": "assistant", "content": "Stripe raised prices."}}],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
  "citations": ["https://example.com/a"]
}`

func TestCompleteSendsChatRequest(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c := New(" secret ", testOptions(srv.URL), logx.Discard())
	out, err := c.Complete(context.Background(), Request{System: ChatSystemPrompt, Prompt: "  what's new?  "})
	require.NoError(t, err)

	assert.Equal(t, "Stripe raised prices.", out.Content)
	assert.Equal(t, "sonar", out.Model)
	assert.Equal(t, []string{"https://example.com/a"}, out.Citations)
	assert.Equal(t, 15, out.Usage.TotalTokens)

	assert.Equal(t, DefaultModel, got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, ChatSystemPrompt, got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "what's new?", got.Messages[1].Content)
	assert.Nil(t, got.Temperature)
}

func TestCompleteWithoutKey(t *testing.T) {
	c := New("", testOptions("http://127.0.0.1:1"), logx.Discard())
	assert.False(t, c.Configured())
	_, err := c.Complete(context.Background(), Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestCompleteClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Invalid API key","type":"auth"}}`))
	}))
	defer srv.Close()

	c := New("bad", testOptions(srv.URL), logx.Discard())
	_, err := c.Complete(context.Background(), Request{Prompt: "hi"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Invalid API key", apiErr.Message)
	assert.False(t, apiErr.Temporary())
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, resilience.StateClosed, c.BreakerState())
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "upstream busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c := New("k", testOptions(srv.URL), logx.Discard())
	out, err := c.Complete(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Stripe raised prices.", out.Content)
	assert.Equal(t, int32(3), hits.Load())
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"sonar","choices":[]}`))
	}))
	defer srv.Close()

	c := New("k", testOptions(srv.URL), logx.Discard())
	_, err := c.Complete(context.Background(), Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestCompleteOpensBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	opts := testOptions(srv.URL)
	opts.Retry.MaxAttempts = 1
	opts.Breaker.FailThreshold = 2
	c := New("k", opts, logx.Discard())

	for range 2 {
		_, err := c.Complete(context.Background(), Request{Prompt: "hi"})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "502 Bad Gateway", apiErr.Message)
	}
	_, err := c.Complete(context.Background(), Request{Prompt: "hi"})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, resilience.StateOpen, c.BreakerState())
}

func TestCompleteRecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	reg := metrics.New()
	opts := testOptions(srv.URL)
	opts.Metrics = reg
	c := New("k", opts, logx.Discard())
	_, err := c.Complete(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)

	out := reg.Render()
	assert.Contains(t, out, `paynews_llm_requests_total{outcome="ok"} 1`)
	assert.Contains(t, out, "paynews_llm_request_duration_seconds_count 1")
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"error":{"message":"quota exceeded"}}`, "quota exceeded"},
		{`{"error":"bad model"}`, "bad model"},
		{`{"detail":"not found"}`, "not found"},
		{`plain text failure`, "plain text failure"},
		{``, "500 Internal Server Error"},
		{strings.Repeat("x", 300), "500 Internal Server Error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorMessage([]byte(tt.raw), "500 Internal Server Error"))
	}
}

type memCache struct {
	entries map[string]*Completion
	getErr  error
	sets    int
}

func (m *memCache) Get(_ context.Context, key string) (*Completion, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return c, nil
}

func (m *memCache) Set(_ context.Context, key string, c *Completion, _ time.Duration) error {
	m.entries[key] = c
	m.sets++
	return nil
}

type countingCompleter struct {
	calls int
	err   error
}

func (c *countingCompleter) Complete(_ context.Context, req Request) (*Completion, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &Completion{Content: "reply to " + req.Prompt, Model: "sonar"}, nil
}

func TestCachedCompleterServesRepeats(t *testing.T) {
	next := &countingCompleter{}
	cache := &memCache{entries: map[string]*Completion{}}
	c := NewCachedCompleter(next, cache, time.Minute, logx.Discard())

	for range 3 {
		out, err := c.Complete(context.Background(), Request{Prompt: "hello"})
		require.NoError(t, err)
		assert.Equal(t, "reply to hello", out.Content)
	}
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, 1, cache.sets)

	_, err := c.Complete(context.Background(), Request{Prompt: "other"})
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCachedCompleterIgnoresCacheFailures(t *testing.T) {
	next := &countingCompleter{}
	cache := &memCache{entries: map[string]*Completion{}, getErr: errors.New("connection refused")}
	c := NewCachedCompleter(next, cache, time.Minute, logx.Discard())

	out, err := c.Complete(context.Background(), Request{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "reply to hello", out.Content)
	assert.Equal(t, 1, next.calls)
}

func TestCachedCompleterDoesNotCacheErrors(t *testing.T) {
	next := &countingCompleter{err: ErrEmptyCompletion}
	cache := &memCache{entries: map[string]*Completion{}}
	c := NewCachedCompleter(next, cache, time.Minute, logx.Discard())

	_, err := c.Complete(context.Background(), Request{Prompt: "hello"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
	assert.Equal(t, 0, cache.sets)
}

func TestCachedCompleterDisabled(t *testing.T) {
	next := &countingCompleter{}
	c := NewCachedCompleter(next, nil, time.Minute, logx.Discard())
	for range 2 {
		_, err := c.Complete(context.Background(), Request{Prompt: "hello"})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, next.calls)
}

func TestCacheKey(t *testing.T) {
	temp := 0.2
	a := CacheKey(Request{Model: "sonar", Prompt: "hi"})
	assert.Equal(t, a, CacheKey(Request{Model: "sonar", Prompt: " hi "}))
	assert.NotEqual(t, a, CacheKey(Request{Model: "sonar", Prompt: "hi", System: ChatSystemPrompt}))
	assert.NotEqual(t, a, CacheKey(Request{Model: "sonar", Prompt: "hi", Temperature: &temp}))
	assert.True(t, strings.HasPrefix(a, "paynews:llm:"))
}

func TestRedisReplyCacheBadURL(t *testing.T) {
	_, err := NewRedisReplyCache(context.Background(), "not-a-url")
	assert.Error(t, err)
}
