package domain

import (
	"strings"
	"time"

	"github.com/paynews/paynews/pkg/fn"
)

// MentionMatcher finds canonical company and topic names in free text.
type MentionMatcher interface {
	Companies(text string) []string
	Topics(text string) []string
}

// Filter returns the articles selected by opts, in their original order.
// A nil matcher falls back to case-insensitive substring matching.
func Filter(articles []Article, opts FilterOptions, m MentionMatcher, now time.Time) []Article {
	if opts.IsZero() {
		return articles
	}
	var cutoff time.Time
	if w := opts.DateRange.Window(); w > 0 {
		cutoff = now.Add(-w)
	}

	return fn.Filter(articles, func(a Article) bool {
		if opts.MinRelevanceScore > 0 && a.RelevanceScore < opts.MinRelevanceScore {
			return false
		}
		if !cutoff.IsZero() && a.Timestamp().Before(cutoff) {
			return false
		}
		text := a.Title + "\n" + a.Summary
		if len(opts.Companies) > 0 && !mentionsAny(text, opts.Companies, m, MentionMatcher.Companies) {
			return false
		}
		if len(opts.Topics) > 0 && !mentionsAny(text, opts.Topics, m, MentionMatcher.Topics) {
			return false
		}
		return true
	})
}

func mentionsAny(text string, wanted []string, m MentionMatcher, find func(MentionMatcher, string) []string) bool {
	if m == nil {
		lower := strings.ToLower(text)
		for _, w := range wanted {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" && strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}
	found := find(m, text)
	for _, w := range wanted {
		for _, f := range found {
			if strings.EqualFold(strings.TrimSpace(w), f) {
				return true
			}
		}
	}
	return false
}

// Merge puts incoming articles ahead of existing ones and drops duplicates
// by title key and by URL. The first occurrence wins.
func Merge(existing, incoming []Article) []Article {
	all := make([]Article, 0, len(existing)+len(incoming))
	all = append(all, incoming...)
	all = append(all, existing...)

	byTitle := fn.UniqueBy(all, func(a Article) string { return DedupeKey(a.Title) })
	seenURL := make(map[string]struct{}, len(byTitle))
	return fn.Filter(byTitle, func(a Article) bool {
		key := strings.TrimRight(strings.TrimSpace(a.URL), "/")
		if key == "" {
			return true
		}
		if _, dup := seenURL[key]; dup {
			return false
		}
		seenURL[key] = struct{}{}
		return true
	})
}

// ContainsTitle reports whether list already has an article with title's dedupe key.
func ContainsTitle(list []Article, title string) bool {
	key := DedupeKey(title)
	for _, a := range list {
		if DedupeKey(a.Title) == key {
			return true
		}
	}
	return false
}
