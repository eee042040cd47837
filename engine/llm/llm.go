// Package llm is the chat-completion client for the Perplexity API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/paynews/paynews/pkg/fn"
	"github.com/paynews/paynews/pkg/metrics"
	"github.com/paynews/paynews/pkg/resilience"
)

const (
	DefaultBaseURL = "https://api.perplexity.ai"
	DefaultModel   = "sonar"
)

// System prompts sent ahead of the user's message.
const (
	ChatSystemPrompt = "You are a helpful AI assistant focused on providing accurate and concise " +
		"information about finance and technology news."
	ArticlesSystemPrompt = "You are a helpful assistant that provides news articles in a specific JSON format. " +
		"Always respond with a JSON array of articles, each containing title, url, summary, and relevance_score fields. " +
		"Wrap the JSON array in ```json``` code blocks."
)

var (
	ErrNotConfigured   = errors.New("llm: perplexity API key is not configured")
	ErrEmptyCompletion = errors.New("llm: invalid response format from perplexity API")
)

// APIError is a non-2xx reply from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: perplexity API error: %d %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Request is a single-turn completion request.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature *float64
	MaxTokens   int
}

// Usage is the token accounting returned by the API.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the assistant reply.
type Completion struct {
	Content   string   `json:"content"`
	Model     string   `json:"model"`
	Citations []string `json:"citations,omitempty"`
	Usage     Usage    `json:"usage"`
}

// Completer produces completions. *Client and *CachedCompleter implement it.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Options configures the client.
type Options struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	// RPS and Burst bound outbound requests; RPS <= 0 disables the limiter.
	RPS     float64
	Burst   int
	Retry   fn.RetryOpts
	Breaker resilience.BreakerOpts
	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
	Metrics    *metrics.Registry
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		BaseURL: DefaultBaseURL,
		Model:   DefaultModel,
		Timeout: 60 * time.Second,
		RPS:     1,
		Burst:   3,
		Retry:   fn.DefaultRetry,
		Breaker: resilience.DefaultBreakerOpts,
	}
}

// Client talks to the Perplexity chat completions endpoint.
type Client struct {
	apiKey  string
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	logger  *slog.Logger
}

// New creates a client. An empty apiKey yields a client whose calls fail with ErrNotConfigured.
func New(apiKey string, opts Options, logger *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst)
	}

	c := &Client{
		apiKey:  strings.TrimSpace(apiKey),
		opts:    opts,
		http:    hc,
		limiter: lim,
		logger:  logger,
	}
	bo := opts.Breaker
	bo.IsFailure = countsAgainstBreaker
	bo.OnStateChange = func(from, to resilience.State) {
		logger.Warn("perplexity circuit breaker", "from", from.String(), "to", to.String())
	}
	c.breaker = resilience.NewBreaker(bo)
	return c
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.apiKey != "" }

// Model returns the default model.
func (c *Client) Model() string { return c.opts.Model }

// BreakerState exposes the circuit state for health reporting.
func (c *Client) BreakerState() resilience.State { return c.breaker.State() }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage     Usage    `json:"usage"`
	Citations []string `json:"citations"`
}

// Complete sends req and returns the first choice.
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if req.Model == "" {
		req.Model = c.opts.Model
	}

	body := chatRequest{Model: req.Model, Temperature: req.Temperature, MaxTokens: req.MaxTokens}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: strings.TrimSpace(req.Prompt)})
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}

	start := time.Now()
	retry := c.opts.Retry
	retry.Retryable = retryable
	retry.OnRetry = func(attempt int, err error) {
		c.logger.Warn("perplexity request failed, retrying", "attempt", attempt, "err", err)
	}
	res := fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[*Completion] {
		if err := c.limiter.Wait(ctx); err != nil {
			return fn.Err[*Completion](err)
		}
		return resilience.CallResult(c.breaker, ctx, func(ctx context.Context) fn.Result[*Completion] {
			return fn.FromPair(c.do(ctx, payload))
		})
	})
	c.observe(start, res.Cause())

	out, err := res.Unwrap()
	if err != nil {
		return nil, err
	}
	c.logger.Debug("perplexity completion",
		"model", out.Model,
		"tokens", out.Usage.TotalTokens,
		"citations", len(out.Citations),
		"duration", time.Since(start),
	)
	return out, nil
}

func (c *Client) do(ctx context.Context, payload []byte) (*Completion, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyCompletion
	}
	return &Completion{
		Content:   cr.Choices[0].Message.Content,
		Model:     cr.Model,
		Citations: cr.Citations,
		Usage:     cr.Usage,
	}, nil
}

// errorMessage pulls a human readable message out of an error body.
func errorMessage(raw []byte, status string) string {
	var body struct {
		Error  json.RawMessage `json:"error"`
		Detail any             `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var plain string
		if json.Unmarshal(body.Error, &plain) == nil && plain != "" {
			return plain
		}
		if s, ok := body.Detail.(string); ok && s != "" {
			return s
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" && len(s) < 200 {
		return s
	}
	return status
}

func retryable(err error) bool {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Temporary()
	case errors.Is(err, ErrEmptyCompletion), errors.Is(err, ErrNotConfigured):
		return false
	case errors.Is(err, resilience.ErrCircuitOpen):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// countsAgainstBreaker ignores client-side mistakes such as a bad key or payload.
func countsAgainstBreaker(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}

func (c *Client) observe(start time.Time, err error) {
	if c.opts.Metrics == nil {
		return
	}
	outcome := "ok"
	var apiErr *APIError
	switch {
	case err == nil:
	case errors.As(err, &apiErr):
		outcome = fmt.Sprintf("http_%d", apiErr.StatusCode)
	case errors.Is(err, resilience.ErrCircuitOpen):
		outcome = "circuit_open"
	default:
		outcome = "error"
	}
	c.opts.Metrics.Counter(metrics.WithLabels("paynews_llm_requests_total", "outcome", outcome),
		"Perplexity completion requests by outcome.").Inc()
	c.opts.Metrics.Histogram("paynews_llm_request_duration_seconds", "Perplexity completion latency including retries.", nil).Since(start)
}
