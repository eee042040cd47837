package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paynews/paynews/engine/domain"
	"github.com/paynews/paynews/engine/index"
	"github.com/paynews/paynews/engine/news"
)

func fetchCmd(opts *rootOptions) *cobra.Command {
	var (
		count int
		ff    filterFlags
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the latest fintech news and store it",
		Long: `Ask Perplexity for recent fintech news, extract the articles from the reply
and store the new ones.

Examples:
  paynews fetch
  paynews fetch --count 10 --company Stripe --topic Fraud
  paynews fetch --min-score 7 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := ff.options()
			if err != nil {
				return err
			}
			if count < 1 || count > news.MaxCount {
				return fmt.Errorf("count must be between 1 and %d", news.MaxCount)
			}
			c := news.Criteria{
				Count:             count,
				Companies:         o.Companies,
				Topics:            o.Topics,
				DateRange:         o.DateRange,
				MinRelevanceScore: o.MinRelevanceScore,
				Scored:            o.MinRelevanceScore > 0,
			}
			return withSession(cmd.Context(), opts, false, func(s *session) error {
				rep, err := s.news.FetchAndStore(cmd.Context(), c)
				if err != nil {
					return fmt.Errorf("fetch: %w", err)
				}
				if opts.asJSON {
					return writeJSON(cmd.OutOrStdout(), rep)
				}
				printReport(cmd.OutOrStdout(), rep)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", news.DefaultCount, "number of articles to ask for")
	ff.register(cmd, 0)
	return cmd
}

func searchCmd(opts *rootOptions) *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search for scored articles matching filters and store them",
		Long: `Ask Perplexity for articles matching the filters. Every article carries a
relevance score; articles below --min-score are dropped.

Examples:
  paynews search --company Plaid --range week
  paynews search --topic AI,Fraud --min-score 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := ff.options()
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), opts, false, func(s *session) error {
				rep, err := s.news.Search(cmd.Context(), o)
				if err != nil {
					return fmt.Errorf("search: %w", err)
				}
				if opts.asJSON {
					return writeJSON(cmd.OutOrStdout(), rep)
				}
				printReport(cmd.OutOrStdout(), rep)
				return nil
			})
		},
	}
	ff.register(cmd, domain.DefaultSearchScore)
	return cmd
}

func chatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <prompt>",
		Short: "Ask a fintech question",
		Example: `  paynews chat "What did Sardine announce this month?"
  paynews chat how is Visa handling tokenization`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if err := domain.ValidatePrompt(prompt); err != nil {
				return err
			}
			return withSession(cmd.Context(), opts, false, func(s *session) error {
				reply, err := s.chat.Ask(cmd.Context(), prompt)
				if err != nil {
					return fmt.Errorf("chat: %w", err)
				}
				out := cmd.OutOrStdout()
				if opts.asJSON {
					return writeJSON(out, reply)
				}
				fmt.Fprintln(out, reply.Reply)
				if len(reply.Citations) > 0 {
					fmt.Fprintln(out, "\nSources:")
					for i, c := range reply.Citations {
						fmt.Fprintf(out, "  [%d] %s\n", i+1, c)
					}
				}
				return nil
			})
		},
	}
}

func articlesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "articles",
		Short: "Manage stored articles",
	}
	cmd.AddCommand(articlesListCmd(opts), articlesDeleteCmd(opts), articlesRefreshCmd(opts))
	return cmd
}

func articlesListCmd(opts *rootOptions) *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored articles",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := ff.options()
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), opts, false, func(s *session) error {
				articles := domain.Filter(s.store.Articles(), o, s.matcher, timeNow())
				if opts.asJSON {
					if articles == nil {
						articles = []domain.Article{}
					}
					return writeJSON(cmd.OutOrStdout(), articles)
				}
				printArticles(cmd.OutOrStdout(), articles)
				return nil
			})
		},
	}
	ff.register(cmd, 0)
	return cmd
}

func articlesDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, false, func(s *session) error {
				if err := s.store.Delete(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("delete %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func articlesRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reload articles from the database into the local cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), opts, false, func(s *session) error {
				err := s.store.Refresh(cmd.Context())
				st := s.store.Status()
				if opts.asJSON {
					return writeJSON(cmd.OutOrStdout(), st)
				}
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d articles (remote: %t)\n", st.Count, st.Remote)
				return nil
			})
		},
	}
}

var errNoSemantic = errors.New("backfill: qdrant and ollama must be configured")

func backfillCmd(opts *rootOptions) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Index every stored article into Qdrant and Neo4j",
		Long: `Run the indexing pipeline over every stored article.

With --reset the vector collection is dropped and recreated first, which
also removes points for articles deleted while the indexer was down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), opts, true, func(s *session) error {
				if s.indexDeps == nil {
					return errNoSemantic
				}
				deps, ok := s.indexDeps()
				if !ok {
					return errNoSemantic
				}
				if reset {
					if s.resetVectors == nil {
						return errNoSemantic
					}
					if err := s.resetVectors(cmd.Context()); err != nil {
						return fmt.Errorf("backfill: %w", err)
					}
				}
				rep, err := index.Backfill(cmd.Context(), deps, s.store.Articles())
				if opts.asJSON {
					if jerr := writeJSON(cmd.OutOrStdout(), rep); jerr != nil {
						return jerr
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d of %d articles\n", rep.Indexed, rep.Total)
				for id, msg := range rep.Failed {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", id, msg)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "drop and recreate the vector collection first")
	return cmd
}
