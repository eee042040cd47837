package news

import (
	"fmt"
	"strings"

	"github.com/paynews/paynews/engine/domain"
)

// DefaultCount is how many articles a fetch asks for.
const DefaultCount = 5

// MaxCount bounds Criteria.Count.
const MaxCount = 20

// DefaultCompanies are the companies a fetch focuses on when none are selected.
var DefaultCompanies = []string{"Stripe", "PayOS", "Sardine", "Plaid", "Visa/Mastercard"}

// Criteria shapes the news prompt.
type Criteria struct {
	Count             int
	Companies         []string
	Topics            []string
	DateRange         domain.DateRange
	MinRelevanceScore float64
	// Scored asks for a relevance_score on every article and rejects records without one.
	Scored bool
}

// DefaultCriteria is the plain "latest fintech news" fetch.
func DefaultCriteria() Criteria {
	return Criteria{Count: DefaultCount}
}

// CriteriaFromFilters turns search filters into scored criteria.
func CriteriaFromFilters(o domain.FilterOptions, count int) Criteria {
	return Criteria{
		Count:             count,
		Companies:         o.Companies,
		Topics:            o.Topics,
		DateRange:         o.DateRange,
		MinRelevanceScore: o.MinRelevanceScore,
		Scored:            true,
	}
}

func (c Criteria) count() int {
	switch {
	case c.Count <= 0:
		return DefaultCount
	case c.Count > MaxCount:
		return MaxCount
	}
	return c.Count
}

var rangeWording = map[domain.DateRange]string{
	domain.RangeToday: "published in the last 24 hours",
	domain.RangeWeek:  "published in the last week",
	domain.RangeMonth: "published in the last month",
}

// BuildPrompt renders the article request sent to the LLM.
func BuildPrompt(c Criteria) string {
	n := c.count()
	companies := nonBlank(c.Companies)
	if len(companies) == 0 {
		companies = DefaultCompanies
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Find %d recent news articles about fintech companies", n)
	if w, ok := rangeWording[c.DateRange]; ok {
		b.WriteString(" " + w)
	}
	b.WriteString(", focusing on:\n")
	writeList(&b, companies)

	if topics := nonBlank(c.Topics); len(topics) > 0 {
		b.WriteString("\nPrioritize coverage of these topics:\n")
		writeList(&b, topics)
	}

	b.WriteString("\nFor each article, you MUST provide ALL of the following fields (no fields can be empty or missing):\n")
	b.WriteString("{\n")
	b.WriteString(`  "title": "Full article title",` + "\n")
	b.WriteString(`  "url": "Complete, direct link to the article",` + "\n")
	if c.Scored {
		b.WriteString(`  "summary": "One sentence summary of the key points",` + "\n")
		b.WriteString(`  "relevance_score": 8.5` + "\n")
	} else {
		b.WriteString(`  "summary": "One sentence summary of the key points"` + "\n")
	}
	b.WriteString("}\n")

	b.WriteString("\nIMPORTANT:\n")
	b.WriteString("- ALL fields must be provided for each article\n")
	b.WriteString("- URLs must be complete and valid\n")
	b.WriteString("- Summaries must be informative and complete\n")
	b.WriteString("- Do not include any articles with missing information\n")
	if c.Scored {
		b.WriteString("- relevance_score is a number from 1 to 10 rating how relevant the article is to the companies and topics above\n")
		if c.MinRelevanceScore > 0 {
			fmt.Fprintf(&b, "- Only include articles with a relevance_score of at least %g\n", c.MinRelevanceScore)
		}
	}

	fmt.Fprintf(&b, "\nFormat your response as a JSON array of exactly %d articles. Only include articles from reputable sources.", n)
	return b.String()
}

func writeList(b *strings.Builder, items []string) {
	for _, it := range items {
		b.WriteString("- " + it + "\n")
	}
}

func nonBlank(items []string) []string {
	var out []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
