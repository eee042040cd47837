// Package chat answers free-form prompts with the LLM, optionally grounding
// the answer in stored articles similar to the prompt.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/paynews/paynews/engine/domain"
	"github.com/paynews/paynews/engine/extract"
	"github.com/paynews/paynews/engine/llm"
)

// Retriever finds stored articles related to a query.
type Retriever interface {
	Similar(ctx context.Context, query string, limit int) ([]domain.Article, error)
}

// Options configures the chat service.
type Options struct {
	Model       string
	Temperature *float64
	MaxTokens   int
	// TopK is how many related articles are added as context. 0 disables retrieval.
	TopK            int
	RetrieveTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{TopK: 3, RetrieveTimeout: 3 * time.Second}
}

// Service runs chat requests.
type Service struct {
	llm       llm.Completer
	retriever Retriever
	opts      Options
	logger    *slog.Logger
}

// New creates a chat Service. retriever may be nil.
func New(c llm.Completer, r Retriever, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RetrieveTimeout <= 0 {
		opts.RetrieveTimeout = 3 * time.Second
	}
	return &Service{llm: c, retriever: r, opts: opts, logger: logger}
}

// Reply is the answer to a chat prompt.
type Reply struct {
	Reply      string   `json:"reply"`
	Model      string   `json:"model"`
	Citations  []string `json:"citations,omitempty"`
	TokensUsed int      `json:"tokens_used"`
	Sources    []Source `json:"sources,omitempty"`
}

// Source is a stored article given to the LLM as context.
type Source struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Ask sends prompt with the finance assistant system prompt.
func (s *Service) Ask(ctx context.Context, prompt string) (*Reply, error) {
	if err := domain.ValidatePrompt(prompt); err != nil {
		return nil, err
	}
	prompt = strings.TrimSpace(prompt)
	s.logger.Info("chat request", "prompt_len", len(prompt))

	related := s.retrieve(ctx, prompt)
	comp, err := s.llm.Complete(ctx, llm.Request{
		Model:       s.opts.Model,
		System:      llm.ChatSystemPrompt,
		Prompt:      buildPrompt(prompt, related),
		Temperature: s.opts.Temperature,
		MaxTokens:   s.opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("chat: complete: %w", err)
	}

	sources := make([]Source, len(related))
	for i, a := range related {
		sources[i] = Source{ID: a.ID, Title: a.Title, URL: a.URL}
	}
	return &Reply{
		Reply:      comp.Content,
		Model:      comp.Model,
		Citations:  comp.Citations,
		TokensUsed: comp.Usage.TotalTokens,
		Sources:    sources,
	}, nil
}

// ArticlesReply is the article-mode answer.
type ArticlesReply struct {
	Articles  []domain.Draft `json:"articles"`
	Model     string         `json:"model"`
	Citations []string       `json:"citations,omitempty"`
	Stage     extract.Stage  `json:"stage"`
}

// Articles sends prompt in article mode and extracts the article list from
// the reply. Nothing is stored.
func (s *Service) Articles(ctx context.Context, prompt string) (*ArticlesReply, error) {
	if err := domain.ValidatePrompt(prompt); err != nil {
		return nil, err
	}
	comp, err := s.llm.Complete(ctx, llm.Request{
		Model:  s.opts.Model,
		System: llm.ArticlesSystemPrompt,
		Prompt: strings.TrimSpace(prompt),
	})
	if err != nil {
		return nil, fmt.Errorf("chat: complete: %w", err)
	}
	res, err := extract.Articles(comp.Content, extract.Options{})
	if err != nil {
		s.logger.Warn("chat articles extraction failed", "stage", res.Stage, "found", res.Found, "err", err)
		return nil, fmt.Errorf("chat: %w", err)
	}
	return &ArticlesReply{
		Articles:  res.Articles,
		Model:     comp.Model,
		Citations: comp.Citations,
		Stage:     res.Stage,
	}, nil
}

// retrieve looks up related articles; failures are logged and skipped.
func (s *Service) retrieve(ctx context.Context, prompt string) []domain.Article {
	if s.retriever == nil || s.opts.TopK <= 0 {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, s.opts.RetrieveTimeout)
	defer cancel()

	related, err := s.retriever.Similar(rctx, prompt, s.opts.TopK)
	if err != nil {
		s.logger.Warn("chat: retrieval failed, continuing without", "err", err)
		return nil
	}
	return related
}

// buildPrompt prefixes the question with related article context.
func buildPrompt(question string, related []domain.Article) string {
	if len(related) == 0 {
		return question
	}
	var b strings.Builder
	b.WriteString("Recent articles from the news feed that may be relevant:\n")
	for i, a := range related {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n", i+1, a.Title, a.URL, a.Summary)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	return b.String()
}
