package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/paynews/paynews/engine/chat"
	"github.com/paynews/paynews/engine/domain"
	"github.com/paynews/paynews/engine/extract"
	"github.com/paynews/paynews/engine/graph"
	"github.com/paynews/paynews/engine/news"
	"github.com/paynews/paynews/engine/store"
	"github.com/paynews/paynews/pkg/resilience"
)

const maxBodyBytes = 1 << 20

// llmFailure is the error message web clients match on.
const llmFailure = "Failed to get response from Perplexity API"

type articleStore interface {
	Articles() []domain.Article
	Status() store.Status
	Refresh(ctx context.Context) error
	Add(ctx context.Context, d domain.Draft) (store.Added, error)
	Delete(ctx context.Context, id string) error
}

type newsService interface {
	FetchAndStore(ctx context.Context, c news.Criteria) (news.Report, error)
	Search(ctx context.Context, o domain.FilterOptions) (news.Report, error)
}

type chatService interface {
	Ask(ctx context.Context, prompt string) (*chat.Reply, error)
	Articles(ctx context.Context, prompt string) (*chat.ArticlesReply, error)
}

type similarFinder interface {
	Similar(ctx context.Context, query string, limit int) ([]domain.Article, error)
}

type mentionsGraph interface {
	ArticlesMentioning(ctx context.Context, name string, limit int) ([]graph.ArticleRef, error)
	TopCompanies(ctx context.Context, limit int) ([]graph.MentionStats, error)
}

type llmStatus interface {
	Configured() bool
	Model() string
	BreakerState() resilience.State
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorBody{Error: msg, Details: details})
}

// decodeBody reads a JSON body into v. An empty body is allowed when optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
	return false
}

func isBadPrompt(err error) bool {
	return errors.Is(err, domain.ErrEmptyPrompt) || errors.Is(err, domain.ErrPromptTooLong)
}

// --- Handlers ---

func handleHealth(s articleStore, l llmStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"store":  s.Status(),
			"llm": map[string]any{
				"configured": l.Configured(),
				"model":      l.Model(),
				"breaker":    l.BreakerState().String(),
			},
		})
	}
}

func handleTest(l llmStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":                "ok",
			"message":               "Server is running",
			"perplexity_configured": l.Configured(),
		})
	}
}

func handleChat(svc chatService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		if strings.TrimSpace(req.text()) == "" {
			writeError(w, http.StatusBadRequest, "prompt is required", "")
			return
		}

		reply, err := svc.Ask(r.Context(), req.text())
		if err != nil {
			if isBadPrompt(err) {
				writeError(w, http.StatusBadRequest, err.Error(), "")
				return
			}
			logger.Error("chat failed", "err", err)
			writeError(w, http.StatusInternalServerError, llmFailure, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, reply)
	}
}

func handleChatArticles(svc chatService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		if strings.TrimSpace(req.text()) == "" {
			writeError(w, http.StatusBadRequest, "message is required", "")
			return
		}

		reply, err := svc.Articles(r.Context(), req.text())
		if err != nil {
			if isBadPrompt(err) {
				writeError(w, http.StatusBadRequest, err.Error(), "")
				return
			}
			details := err.Error()
			if errors.Is(err, extract.ErrNoArticles) {
				details = "No valid articles found in response"
			}
			logger.Error("chat articles failed", "err", err)
			writeError(w, http.StatusInternalServerError, llmFailure, details)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	}
}

func handleFetchNews(svc newsService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FetchRequest
		if !decodeBody(w, r, &req, true) {
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid fetch request", validationDetails(err))
			return
		}

		report, err := svc.FetchAndStore(r.Context(), req.criteria())
		if err != nil {
			logger.Error("news fetch failed", "err", err, "stage", report.Stage)
			writeError(w, http.StatusInternalServerError, llmFailure, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func handleSearchArticles(svc newsService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := SearchRequest{Filters: domain.DefaultSearchOptions()}
		if !decodeBody(w, r, &req, true) {
			return
		}
		if req.Filters.DateRange == "" {
			req.Filters.DateRange = domain.RangeAll
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid filters", validationDetails(err))
			return
		}

		report, err := svc.Search(r.Context(), req.Filters)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidFilter) || errors.Is(err, domain.ErrScoreOutOfRange) {
				writeError(w, http.StatusBadRequest, "invalid filters", err.Error())
				return
			}
			logger.Error("article search failed", "err", err)
			writeError(w, http.StatusInternalServerError, llmFailure, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// filtersFromQuery reads min_score, company, topic and range. company and
// topic may repeat or hold comma-separated values.
func filtersFromQuery(r *http.Request) (domain.FilterOptions, error) {
	q := r.URL.Query()
	var o domain.FilterOptions
	if v := q.Get("min_score"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return o, domain.NewValidationError("min_score", v, domain.ErrInvalidFilter)
		}
		o.MinRelevanceScore = f
	}
	o.Companies = splitValues(q["company"])
	o.Topics = splitValues(q["topic"])
	o.DateRange = domain.DateRange(q.Get("range"))
	if o.DateRange == "" {
		o.DateRange = domain.RangeAll
	}
	return o, domain.ValidateFilters(o)
}

func splitValues(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func handleListArticles(s articleStore, m domain.MentionMatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := filtersFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid filters", err.Error())
			return
		}
		articles := domain.Filter(s.Articles(), opts, m, timeNow())
		if articles == nil {
			articles = []domain.Article{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"articles": articles,
			"count":    len(articles),
			"status":   s.Status(),
		})
	}
}

func handleCreateArticle(s articleStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateArticleRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid article", validationDetails(err))
			return
		}
		d := req.draft()
		if err := domain.ValidateDraft(d, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid article", err.Error())
			return
		}

		out, err := s.Add(r.Context(), d)
		switch {
		case errors.Is(err, store.ErrDuplicate):
			writeError(w, http.StatusConflict, "article already exists", d.Title)
		case err != nil:
			logger.Error("add article failed", "err", err)
			writeError(w, http.StatusInternalServerError, "failed to add article", err.Error())
		default:
			writeJSON(w, http.StatusCreated, out)
		}
	}
}

func handleDeleteArticle(s articleStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		err := s.Delete(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "article not found", id)
		case err != nil:
			logger.Error("delete article failed", "id", id, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to delete article", err.Error())
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func handleRefreshArticles(s articleStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{}
		if err := s.Refresh(r.Context()); err != nil {
			logger.Warn("refresh failed, serving cached articles", "err", err)
			resp["warning"] = err.Error()
		}
		articles := s.Articles()
		if articles == nil {
			articles = []domain.Article{}
		}
		resp["articles"] = articles
		resp["count"] = len(articles)
		resp["status"] = s.Status()
		writeJSON(w, http.StatusOK, resp)
	}
}

func queryLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, max)
}

func handleSimilar(f similarFinder, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			writeError(w, http.StatusBadRequest, "q is required", "")
			return
		}
		articles, err := f.Similar(r.Context(), q, queryLimit(r, 5, 20))
		if err != nil {
			logger.Error("similar search failed", "err", err)
			writeError(w, http.StatusBadGateway, "semantic search failed", err.Error())
			return
		}
		if articles == nil {
			articles = []domain.Article{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"articles": articles})
	}
}

func handleCompanyArticles(g mentionsGraph, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		refs, err := g.ArticlesMentioning(r.Context(), name, queryLimit(r, 20, 100))
		if err != nil {
			logger.Error("graph query failed", "name", name, "err", err)
			writeError(w, http.StatusBadGateway, "graph query failed", err.Error())
			return
		}
		if refs == nil {
			refs = []graph.ArticleRef{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"name": name, "articles": refs})
	}
}

func handleTopCompanies(g mentionsGraph, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := g.TopCompanies(r.Context(), queryLimit(r, 10, 50))
		if err != nil {
			logger.Error("graph stats failed", "err", err)
			writeError(w, http.StatusBadGateway, "graph query failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"companies": stats})
	}
}
