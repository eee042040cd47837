package domain

import (
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxPromptRunes bounds chat prompts forwarded to the LLM.
const MaxPromptRunes = 8000

// ValidateDraft checks that a draft is fit to store. When requireScore is set
// the relevance score must be present and within [MinScore, MaxScore].
// A score of exactly zero counts as missing.
func ValidateDraft(d Draft, requireScore bool) error {
	if strings.TrimSpace(d.Title) == "" {
		return NewValidationError("title", d.Title, ErrEmptyTitle)
	}
	if !ValidURL(d.URL) {
		return NewValidationError("url", d.URL, ErrInvalidURL)
	}
	if strings.TrimSpace(d.Summary) == "" {
		return NewValidationError("summary", d.Summary, ErrEmptySummary)
	}
	score := strconv.FormatFloat(d.RelevanceScore, 'g', -1, 64)
	if d.RelevanceScore < MinScore || d.RelevanceScore > MaxScore {
		return NewValidationError("relevance_score", score, ErrScoreOutOfRange)
	}
	if requireScore && d.RelevanceScore == 0 {
		return NewValidationError("relevance_score", score, ErrMissingScore)
	}
	return nil
}

// ValidURL reports whether s is an absolute http(s) URL with a host.
func ValidURL(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ValidatePrompt checks a free-form chat prompt.
func ValidatePrompt(prompt string) error {
	text := strings.TrimSpace(prompt)
	if text == "" {
		return NewValidationError("prompt", prompt, ErrEmptyPrompt)
	}
	if utf8.RuneCountInString(text) > MaxPromptRunes {
		return NewValidationError("prompt", string([]rune(text)[:32])+"...", ErrPromptTooLong)
	}
	return nil
}

// ValidateFilters checks the parts of FilterOptions that struct tags cannot express.
func ValidateFilters(o FilterOptions) error {
	if !o.DateRange.Valid() {
		return NewValidationError("dateRange", string(o.DateRange), ErrInvalidFilter)
	}
	if o.MinRelevanceScore < MinScore || o.MinRelevanceScore > MaxScore {
		return NewValidationError("minRelevanceScore", strconv.FormatFloat(o.MinRelevanceScore, 'g', -1, 64), ErrScoreOutOfRange)
	}
	return nil
}
