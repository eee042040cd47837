package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/paynews/paynews/engine/domain"
	"github.com/paynews/paynews/engine/news"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ChatRequest is the JSON body for POST /api/chat and /api/chat/articles.
// The web client sends prompt; older clients send message.
type ChatRequest struct {
	Prompt  string `json:"prompt"`
	Message string `json:"message"`
}

func (r ChatRequest) text() string {
	if strings.TrimSpace(r.Prompt) != "" {
		return r.Prompt
	}
	return r.Message
}

// FetchRequest is the optional JSON body for POST /api/news/fetch.
type FetchRequest struct {
	Count             int              `json:"count" validate:"omitempty,min=1,max=20"`
	Companies         []string         `json:"companies" validate:"omitempty,dive,required,max=64"`
	Topics            []string         `json:"topics" validate:"omitempty,dive,required,max=64"`
	DateRange         domain.DateRange `json:"dateRange" validate:"omitempty,oneof=all today week month"`
	MinRelevanceScore float64          `json:"minRelevanceScore" validate:"gte=0,lte=10"`
}

func (r FetchRequest) criteria() news.Criteria {
	c := news.DefaultCriteria()
	if r.Count > 0 {
		c.Count = r.Count
	}
	c.Companies = r.Companies
	c.Topics = r.Topics
	c.DateRange = r.DateRange
	if r.MinRelevanceScore > 0 {
		c.MinRelevanceScore = r.MinRelevanceScore
		c.Scored = true
	}
	return c
}

// SearchRequest is the JSON body for POST /api/search-articles.
type SearchRequest struct {
	Filters domain.FilterOptions `json:"filters"`
}

// CreateArticleRequest is the JSON body for POST /api/articles.
type CreateArticleRequest struct {
	Title          string  `json:"title" validate:"required,max=500"`
	URL            string  `json:"url" validate:"required,http_url"`
	Summary        string  `json:"summary" validate:"required,max=5000"`
	RelevanceScore float64 `json:"relevance_score" validate:"gte=0,lte=10"`
}

func (r CreateArticleRequest) draft() domain.Draft {
	return domain.Draft{
		Title:          strings.TrimSpace(r.Title),
		URL:            strings.TrimSpace(r.URL),
		Summary:        strings.TrimSpace(r.Summary),
		RelevanceScore: r.RelevanceScore,
	}
}

// validationDetails flattens validator errors into one line.
func validationDetails(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, len(verrs))
	for i, fe := range verrs {
		parts[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
	}
	return strings.Join(parts, "; ")
}
