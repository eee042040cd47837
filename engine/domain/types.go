// Package domain holds the article model shared by every PayNews component.
package domain

import (
	"strings"
	"time"
)

// Article is a stored news article. JSON names match the payarticles table.
type Article struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	URL            string    `json:"url"`
	Summary        string    `json:"summary"`
	RelevanceScore float64   `json:"relevance_score,omitempty"`
	FetchedAt      time.Time `json:"fetched_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Draft is an article that has not been persisted yet: no ID, no CreatedAt.
type Draft struct {
	Title          string    `json:"title"`
	URL            string    `json:"url"`
	Summary        string    `json:"summary"`
	RelevanceScore float64   `json:"relevance_score,omitempty"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// Article materializes the draft with the given id and creation time.
func (d Draft) Article(id string, createdAt time.Time) Article {
	return Article{
		ID:             id,
		Title:          d.Title,
		URL:            d.URL,
		Summary:        d.Summary,
		RelevanceScore: d.RelevanceScore,
		FetchedAt:      d.FetchedAt,
		CreatedAt:      createdAt,
	}
}

// Timestamp is the time used for date-range filtering.
func (a Article) Timestamp() time.Time {
	if !a.FetchedAt.IsZero() {
		return a.FetchedAt
	}
	return a.CreatedAt
}

// DateRange limits articles to a trailing window.
type DateRange string

const (
	RangeAll   DateRange = "all"
	RangeToday DateRange = "today"
	RangeWeek  DateRange = "week"
	RangeMonth DateRange = "month"
)

// Window returns the trailing duration for the range, or 0 for all.
func (r DateRange) Window() time.Duration {
	switch r {
	case RangeToday:
		return 24 * time.Hour
	case RangeWeek:
		return 7 * 24 * time.Hour
	case RangeMonth:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether r is a known range. Empty counts as all.
func (r DateRange) Valid() bool {
	switch r {
	case "", RangeAll, RangeToday, RangeWeek, RangeMonth:
		return true
	}
	return false
}

// Score bounds for relevance_score.
const (
	MinScore = 0.0
	MaxScore = 10.0
	// DefaultSearchScore is the minimum relevance applied to search requests.
	DefaultSearchScore = 7.0
)

// FilterOptions selects articles by relevance, mentions and age.
type FilterOptions struct {
	MinRelevanceScore float64   `json:"minRelevanceScore" validate:"gte=0,lte=10"`
	Companies         []string  `json:"companies" validate:"dive,required,max=64"`
	Topics            []string  `json:"topics" validate:"dive,required,max=64"`
	DateRange         DateRange `json:"dateRange" validate:"omitempty,oneof=all today week month"`
}

// DefaultSearchOptions are the options a search starts from.
func DefaultSearchOptions() FilterOptions {
	return FilterOptions{MinRelevanceScore: DefaultSearchScore, DateRange: RangeAll}
}

// IsZero reports whether the options select everything.
func (o FilterOptions) IsZero() bool {
	return o.MinRelevanceScore <= 0 && len(o.Companies) == 0 && len(o.Topics) == 0 && o.DateRange.Window() == 0
}

// DedupeKey normalizes a title for duplicate detection: trimmed, case-folded,
// inner whitespace collapsed.
func DedupeKey(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}
