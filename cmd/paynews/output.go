package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/paynews/paynews/engine/domain"
	"github.com/paynews/paynews/engine/news"
)

// filterFlags are the article filters shared by search and articles list.
type filterFlags struct {
	companies []string
	topics    []string
	dateRange string
	minScore  float64
}

func (f *filterFlags) register(cmd *cobra.Command, defScore float64) {
	cmd.Flags().StringSliceVarP(&f.companies, "company", "c", nil, "only articles mentioning these companies")
	cmd.Flags().StringSliceVarP(&f.topics, "topic", "t", nil, "only articles about these topics")
	cmd.Flags().StringVarP(&f.dateRange, "range", "r", string(domain.RangeAll), "date range (all, today, week, month)")
	cmd.Flags().Float64Var(&f.minScore, "min-score", defScore, "minimum relevance score (0-10)")
}

func (f *filterFlags) options() (domain.FilterOptions, error) {
	o := domain.FilterOptions{
		MinRelevanceScore: f.minScore,
		Companies:         f.companies,
		Topics:            f.topics,
		DateRange:         domain.DateRange(strings.ToLower(strings.TrimSpace(f.dateRange))),
	}
	if o.DateRange == "" {
		o.DateRange = domain.RangeAll
	}
	return o, domain.ValidateFilters(o)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printArticles(w io.Writer, articles []domain.Article) {
	if len(articles) == 0 {
		fmt.Fprintln(w, "No articles.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCORE\tDATE\tTITLE")
	for _, a := range articles {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ID, score(a.RelevanceScore), a.Timestamp().Format("2006-01-02"), a.Title)
	}
	tw.Flush()
}

func printReport(w io.Writer, rep news.Report) {
	fmt.Fprintf(w, "Found %d articles (%s parse, %d rejected), stored %d, skipped %d duplicates",
		rep.Found, rep.Stage, rep.Rejected, len(rep.Stored), rep.Skipped)
	if rep.Fallback > 0 {
		fmt.Fprintf(w, ", %d kept locally only", rep.Fallback)
	}
	if rep.Failed > 0 {
		fmt.Fprintf(w, ", %d failed", rep.Failed)
	}
	fmt.Fprintln(w)
	for _, d := range rep.Articles {
		fmt.Fprintf(w, "\n[%s] %s\n  %s\n  %s\n", score(d.RelevanceScore), d.Title, d.URL, d.Summary)
	}
}

func score(s float64) string {
	if s <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", s)
}
