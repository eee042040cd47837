// Package extract turns an LLM reply into article drafts. Replies are supposed
// to be a JSON array of {title, url, summary, relevance_score} objects but
// arrive wrapped in prose, fenced in markdown, or slightly malformed, so the
// text is tried in increasingly forgiving ways:
//
//  1. strict JSON of the whole text
//  2. the first ```json fenced block
//  3. the slice from the first '[' to the last ']'
//  4. the slice (or text) after textual repair
//  5. a line-oriented "key: value" scan
//
// The first step that parses into an article list wins, even an empty one.
// Records are then validated and the survivors returned in reply order.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/paynews/paynews/engine/domain"
)

var (
	ErrEmptyReply = errors.New("extract: empty reply")
	ErrNoArticles = errors.New("extract: no valid articles found in response")
)

// Stage names the parsing step that produced the records.
type Stage string

const (
	StageNone     Stage = "none"
	StageStrict   Stage = "strict"
	StageFenced   Stage = "fenced"
	StageSliced   Stage = "sliced"
	StageRepaired Stage = "repaired"
	StageLines    Stage = "lines"
)

// Options tune record validation.
type Options struct {
	// RequireScore rejects records without a relevance score in [0, 10].
	RequireScore bool
}

// Rejection records why a candidate record was dropped.
type Rejection struct {
	Index int
	Err   error
}

// Result is the outcome of an extraction.
type Result struct {
	Articles []domain.Draft
	Stage    Stage
	Found    int
	Rejected []Rejection
}

// Articles extracts article drafts from text. It returns ErrEmptyReply for a
// blank reply and an error wrapping ErrNoArticles when nothing valid remains;
// the Result is populated in both failure cases where possible.
func Articles(text string, opts Options) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Stage: StageNone}, ErrEmptyReply
	}

	recs, stage := locate(text, 0)
	res := Result{Stage: stage, Found: len(recs)}
	for i, rec := range recs {
		d, err := toDraft(rec, opts)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Err: err})
			continue
		}
		res.Articles = append(res.Articles, d)
	}

	if len(res.Articles) == 0 {
		if res.Found == 0 {
			return res, ErrNoArticles
		}
		return res, fmt.Errorf("%w: %d candidates rejected, first: %v", ErrNoArticles, len(res.Rejected), res.Rejected[0].Err)
	}
	return res, nil
}

type record map[string]any

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\r?\n?(.*?)```")

// locate runs the parsing ladder. depth guards the one level of recursion
// used to unwrap chat-completion envelopes and JSON-encoded strings.
func locate(text string, depth int) ([]record, Stage) {
	if v, ok := decode(text); ok {
		if recs, inner, ok := records(v, depth); ok {
			if inner != "" {
				return recs, inner
			}
			return recs, StageStrict
		}
	}

	bodies := []string{text}
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		fenced := strings.TrimSpace(m[1])
		if v, ok := decode(fenced); ok {
			if recs, _, ok := records(v, depth); ok {
				return recs, StageFenced
			}
		}
		// The first fence may be a shell snippet or a note rather than the data.
		bodies = []string{fenced, text}
	}

	var broken []string
	for _, body := range bodies {
		sliced := false
		for _, slice := range []func(string) (string, bool){sliceArray, sliceObjects} {
			cut, ok := slice(body)
			if !ok {
				continue
			}
			sliced = true
			if v, ok := decode(cut); ok {
				if recs, _, ok := records(v, depth); ok && len(recs) > 0 {
					return recs, StageSliced
				}
			}
			broken = append(broken, cut)
		}
		if !sliced {
			broken = append(broken, body)
		}
	}

	for _, body := range broken {
		if recs, ok := repairRecords(body, depth); ok {
			return recs, StageRepaired
		}
	}

	if recs := scanLines(text); len(recs) > 0 {
		return recs, StageLines
	}
	return nil, StageNone
}

// repairRecords repairs body and decodes it, wrapping adjacent top-level
// objects in an array when needed.
func repairRecords(body string, depth int) ([]record, bool) {
	repaired := Repair(body)
	if v, ok := decode(repaired); ok {
		if recs, _, ok := records(v, depth); ok && len(recs) > 0 {
			return recs, true
		}
	}
	if strings.HasPrefix(repaired, "{") {
		if v, ok := decode("[" + repaired + "]"); ok {
			if recs, _, ok := records(v, depth); ok && len(recs) > 0 {
				return recs, true
			}
		}
	}
	return nil, false
}

var (
	objectsStartRe = regexp.MustCompile(`\[\s*\{`)
	objectsEndRe   = regexp.MustCompile(`\}\s*\]`)
)

// sliceObjects returns text from the first "[{" to the last "}]", skipping
// bracketed citation markers such as [1][2] that precede the array.
func sliceObjects(text string) (string, bool) {
	start := objectsStartRe.FindStringIndex(text)
	ends := objectsEndRe.FindAllStringIndex(text, -1)
	if start == nil || len(ends) == 0 {
		return "", false
	}
	end := ends[len(ends)-1][1]
	if end <= start[0] {
		return "", false
	}
	return text[start[0]:end], true
}

// sliceArray returns text from the first '[' to the last ']'.
func sliceArray(text string) (string, bool) {
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// decode parses s as a single JSON value with nothing after it.
func decode(s string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return v, true
}

// records interprets a decoded value as a list of article records. The
// returned stage is set when the records came from a nested reply.
func records(v any, depth int) ([]record, Stage, bool) {
	switch t := v.(type) {
	case []any:
		out := make([]record, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, normalizeKeys(m))
			}
		}
		return out, "", true
	case map[string]any:
		m := normalizeKeys(t)
		if arr, ok := m["articles"].([]any); ok {
			return records(arr, depth)
		}
		if content, ok := completionContent(m); ok && depth == 0 {
			recs, stage := locate(strings.TrimSpace(content), depth+1)
			return recs, stage, stage != StageNone
		}
		if _, ok := m["title"]; ok {
			return []record{m}, "", true
		}
	case string:
		if depth == 0 {
			recs, stage := locate(strings.TrimSpace(t), depth+1)
			return recs, stage, stage != StageNone
		}
	}
	return nil, "", false
}

// completionContent digs choices[0].message.content out of a chat completion.
func completionContent(m record) (string, bool) {
	choices, ok := m["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	msg, ok := first["message"].(map[string]any)
	if !ok {
		return "", false
	}
	content, ok := msg["content"].(string)
	return content, ok
}

func normalizeKeys(m map[string]any) record {
	out := make(record, len(m))
	for k, v := range m {
		out[normalizeKey(k)] = v
	}
	return out
}

var keyAliases = map[string]string{
	"headline":        "title",
	"link":            "url",
	"source_url":      "url",
	"article_url":     "url",
	"description":     "summary",
	"snippet":         "summary",
	"relevancescore":  "relevance_score",
	"relevance":       "relevance_score",
	"score":           "relevance_score",
	"relevance_score": "relevance_score",
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.NewReplacer(" ", "_", "-", "_").Replace(k)
	if alias, ok := keyAliases[k]; ok {
		return alias
	}
	return k
}

var mdLinkRe = regexp.MustCompile(`^\[[^\]]*\]\(([^)\s]+)\)$`)

func toDraft(rec record, opts Options) (domain.Draft, error) {
	d := domain.Draft{
		Title:   cleanText(stringField(rec, "title")),
		URL:     cleanURL(stringField(rec, "url")),
		Summary: cleanText(stringField(rec, "summary")),
	}

	score, hasScore := scoreField(rec)
	switch {
	case hasScore && score >= domain.MinScore && score <= domain.MaxScore:
		d.RelevanceScore = score
	case opts.RequireScore && hasScore:
		return d, domain.NewValidationError("relevance_score", strconv.FormatFloat(score, 'g', -1, 64), domain.ErrScoreOutOfRange)
	case opts.RequireScore:
		return d, domain.NewValidationError("relevance_score", "", domain.ErrMissingScore)
	}

	if err := domain.ValidateDraft(d, opts.RequireScore); err != nil {
		return d, err
	}
	return d, nil
}

func stringField(rec record, key string) string {
	switch v := rec[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cleanURL(s string) string {
	s = strings.TrimSpace(s)
	if m := mdLinkRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return strings.TrimSpace(s)
}

// scoreField reads relevance_score from a number or a numeric string such as "8.5" or "8/10".
func scoreField(rec record) (float64, bool) {
	switch v := rec["relevance_score"].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case string:
		s := strings.TrimSpace(v)
		s = strings.TrimSuffix(s, "/10")
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}
