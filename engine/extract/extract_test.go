package extract

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paynews/paynews/engine/domain"
)

const twoArticles = `[
  {"title": "Stripe launches stablecoin accounts", "url": "https://stripe.com/newsroom/stablecoin", "summary": "Businesses can hold USDC balances.", "relevance_score": 9},
  {"title": "Plaid adds fraud signals", "url": "https://plaid.com/blog/signal", "summary": "New ML features score ACH risk.", "relevance_score": 7.5}
]`

func titles(ds []domain.Draft) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Title
	}
	return out
}

func TestArticlesLadder(t *testing.T) {
	envelope, err := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": "```json\n" + twoArticles + "\n```"}}},
	})
	require.NoError(t, err)
	quoted, err := json.Marshal(twoArticles)
	require.NoError(t, err)

	tests := []struct {
		name  string
		text  string
		stage Stage
	}{
		{"strict array", twoArticles, StageStrict},
		{"articles object", `{"articles": ` + twoArticles + `}`, StageStrict},
		{"json string", string(quoted), StageStrict},
		{"completion envelope", string(envelope), StageFenced},
		{"fenced with prose", "Here you go:\n```json\n" + twoArticles + "\n```\nLet me know!", StageFenced},
		{"prose around array", "Sure! Here are the latest stories: " + twoArticles + " Hope this helps.", StageSliced},
		{"shell fence before array", "Use the `paynews` CLI:\n```bash\npaynews fetch\n```\nResults: " + twoArticles, StageSliced},
		{"note fence before array", "```\nnote\n```\n" + twoArticles, StageSliced},
		{"citation markers around array", "Perplexity found these [1][2]:\n" + twoArticles + "\nSources: [1] stripe.com [2] plaid.com", StageSliced},
		{"fenced array needing repair after a note", "```\nnote\n```\n```json\n" + `[{title: "Stripe launches stablecoin accounts", url: "https://stripe.com/newsroom/stablecoin", summary: "Businesses can hold USDC balances."},
		  {title: "Plaid adds fraud signals", url: "https://plaid.com/blog/signal", summary: "New ML features score ACH risk."}]` + "\n```", StageRepaired},
		{"bare keys", `[{title: "Stripe launches stablecoin accounts", url: "https://stripe.com/newsroom/stablecoin", summary: "Businesses can hold USDC balances."},
		  {title: "Plaid adds fraud signals", url: "https://plaid.com/blog/signal", summary: "New ML features score ACH risk."}]`, StageRepaired},
		{"missing comma and trailing commas", `[
		  {"title": "Stripe launches stablecoin accounts", "url": "https://stripe.com/newsroom/stablecoin", "summary": "Businesses can hold USDC balances.",}
		  {"title": "Plaid adds fraud signals", "url": "https://plaid.com/blog/signal", "summary": "New ML features score ACH risk.",},
		]`, StageRepaired},
		{"unquoted url", `[
		  {"title": "Stripe launches stablecoin accounts", "url": https://stripe.com/newsroom/stablecoin, "summary": "Businesses can hold USDC balances."},
		  {"title": "Plaid adds fraud signals", "url": https://plaid.com/blog/signal,
		   "summary": "New ML features score ACH risk."}
		]`, StageRepaired},
		{"objects without array", `{"title": "Stripe launches stablecoin accounts", "url": "https://stripe.com/newsroom/stablecoin", "summary": "Businesses can hold USDC balances."}
		{"title": "Plaid adds fraud signals", "url": "https://plaid.com/blog/signal", "summary": "New ML features score ACH risk."}`, StageRepaired},
		{"key value lines", `Here are two stories.

1. **Title:** Stripe launches stablecoin accounts
   **URL:** https://stripe.com/newsroom/stablecoin
   **Summary:** Businesses can hold USDC balances.

2. **Title:** Plaid adds fraud signals
   **URL:** [Plaid blog](https://plaid.com/blog/signal)
   **Summary:** New ML features score ACH risk.`, StageLines},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Articles(tt.text, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.stage, res.Stage)
			assert.Equal(t, []string{"Stripe launches stablecoin accounts", "Plaid adds fraud signals"}, titles(res.Articles))
			assert.Equal(t, "https://plaid.com/blog/signal", res.Articles[1].URL)
			assert.Equal(t, "New ML features score ACH risk.", res.Articles[1].Summary)
		})
	}
}

func TestArticlesSingleObject(t *testing.T) {
	res, err := Articles(`{"title":"Sardine raises $70M","url":"https://sardine.ai/blog/series-c","summary":"Fraud platform funding."}`, Options{})
	require.NoError(t, err)
	require.Len(t, res.Articles, 1)
	assert.Equal(t, "Sardine raises $70M", res.Articles[0].Title)
}

func TestArticlesFiltersInvalidRecords(t *testing.T) {
	text := `[
	  {"title": "", "url": "https://a.com/1", "summary": "no title"},
	  {"title": "Relative", "url": "/news/2", "summary": "relative url"},
	  {"title": "No summary", "url": "https://a.com/3", "summary": "   "},
	  {"title": "Numeric title ok", "url": "https://a.com/4", "summary": "kept"},
	  {"title": 42, "url": "https://a.com/5", "summary": "number title"},
	  "not an object"
	]`
	res, err := Articles(text, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Numeric title ok", "42"}, titles(res.Articles))
	assert.Equal(t, 5, res.Found)
	require.Len(t, res.Rejected, 3)
	assert.ErrorIs(t, res.Rejected[0].Err, domain.ErrEmptyTitle)
	assert.ErrorIs(t, res.Rejected[1].Err, domain.ErrInvalidURL)
	assert.ErrorIs(t, res.Rejected[2].Err, domain.ErrEmptySummary)
}

func TestArticlesRequireScore(t *testing.T) {
	text := `[
	  {"title": "A", "url": "https://a.com/a", "summary": "s", "relevance_score": "8.5"},
	  {"title": "B", "url": "https://a.com/b", "summary": "s", "score": "9/10"},
	  {"title": "C", "url": "https://a.com/c", "summary": "s"},
	  {"title": "D", "url": "https://a.com/d", "summary": "s", "relevance_score": 14},
	  {"title": "E", "url": "https://a.com/e", "summary": "s", "relevanceScore": "high"}
	]`

	res, err := Articles(text, Options{RequireScore: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, titles(res.Articles))
	assert.Equal(t, 8.5, res.Articles[0].RelevanceScore)
	assert.Equal(t, 9.0, res.Articles[1].RelevanceScore)
	require.Len(t, res.Rejected, 3)
	assert.ErrorIs(t, res.Rejected[0].Err, domain.ErrMissingScore)
	assert.ErrorIs(t, res.Rejected[1].Err, domain.ErrScoreOutOfRange)
	assert.ErrorIs(t, res.Rejected[2].Err, domain.ErrMissingScore)

	lenient, err := Articles(text, Options{})
	require.NoError(t, err)
	assert.Len(t, lenient.Articles, 5)
	assert.Zero(t, lenient.Articles[3].RelevanceScore, "out of range scores are dropped when not required")
}

func TestArticlesErrors(t *testing.T) {
	_, err := Articles("  \n ", Options{})
	assert.ErrorIs(t, err, ErrEmptyReply)

	res, err := Articles("I could not find any recent fintech news.", Options{})
	assert.ErrorIs(t, err, ErrNoArticles)
	assert.Equal(t, StageNone, res.Stage)

	res, err = Articles("[]", Options{})
	assert.ErrorIs(t, err, ErrNoArticles)
	assert.Equal(t, StageStrict, res.Stage)

	_, err = Articles(`[{"title": "x", "url": "nope", "summary": "y"}]`, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoArticles))
	assert.ErrorContains(t, err, "1 candidates rejected")
}

func TestArticlesCleansFields(t *testing.T) {
	res, err := Articles(`[{"Title": "  Visa   and\nMastercard ", "Link": "<https://visa.com/x>", "Description": "multi\n line"}]`, Options{})
	require.NoError(t, err)
	require.Len(t, res.Articles, 1)
	d := res.Articles[0]
	assert.Equal(t, "Visa and Mastercard", d.Title)
	assert.Equal(t, "https://visa.com/x", d.URL)
	assert.Equal(t, "multi line", d.Summary)
}
