package extract

import (
	"regexp"
	"strings"
)

// lineKeyRe matches "key: value" lines, tolerating list markers, numbering,
// markdown emphasis and quoted keys: `1. **Title:** Foo`, `- "url": "x",`.
var lineKeyRe = regexp.MustCompile(`(?i)^[\s>*\-•#\d.)]*"?(title|headline|url|link|source|summary|description|relevance[ _]?score|relevance|score)"?\s*\**\s*[:=]\s*\**\s*(.*?)\s*$`)

var bareURLRe = regexp.MustCompile(`^[\s>*\-•]*<?(https?://\S+?)>?[.,]?$`)

// scanLines is the last-resort parser: it walks the reply line by line and
// groups recognized fields into records. A new title starts a new record.
func scanLines(text string) []record {
	var (
		out []record
		cur record
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := lineKeyRe.FindStringSubmatch(line)
		if m == nil {
			if u := bareURLRe.FindStringSubmatch(line); u != nil && cur != nil && cur["url"] == nil {
				cur["url"] = u[1]
			}
			continue
		}

		key := normalizeKey(m[1])
		value := cleanLineValue(m[2])
		if value == "" {
			continue
		}
		if key == "source" {
			if !strings.Contains(value, "://") {
				continue
			}
			key = "url"
		}
		if key == "title" && cur != nil && cur["title"] != nil {
			flush()
		}
		if cur == nil {
			cur = record{}
		}
		if _, seen := cur[key]; !seen {
			cur[key] = value
		}
	}
	flush()
	return out
}

func cleanLineValue(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimSuffix(v, ",")
	v = strings.Trim(v, "*_ ")
	if len(v) >= 2 && (v[0] == '"' && v[len(v)-1] == '"' || v[0] == '\'' && v[len(v)-1] == '\'') {
		v = v[1 : len(v)-1]
	}
	return strings.TrimSpace(v)
}
