// Package catalog knows the companies and topics PayNews follows and finds
// mentions of them in article text.
package catalog

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultYAML []byte

// Entry is a canonical name with the aliases that identify it in text.
type Entry struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// Catalog is the parsed company and topic list.
type Catalog struct {
	Companies []Entry `yaml:"companies"`
	Topics    []Entry `yaml:"topics"`
}

// Parse decodes and checks a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	if len(c.Companies) == 0 {
		return nil, fmt.Errorf("catalog: no companies")
	}
	for _, e := range append(append([]Entry(nil), c.Companies...), c.Topics...) {
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("catalog: entry without name")
		}
	}
	return &c, nil
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// CompanyNames returns canonical company names in catalog order.
func (c *Catalog) CompanyNames() []string { return names(c.Companies) }

// TopicNames returns canonical topic names in catalog order.
func (c *Catalog) TopicNames() []string { return names(c.Topics) }

// CanonicalCompany resolves a user-supplied name or alias to the catalog name.
func (c *Catalog) CanonicalCompany(s string) (string, bool) { return canonical(c.Companies, s) }

// CanonicalTopic resolves a user-supplied name or alias to the catalog name.
func (c *Catalog) CanonicalTopic(s string) (string, bool) { return canonical(c.Topics, s) }

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func canonical(entries []Entry, s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, e := range entries {
		if strings.EqualFold(e.Name, s) {
			return e.Name, true
		}
		for _, a := range e.Aliases {
			if strings.EqualFold(a, s) {
				return e.Name, true
			}
		}
	}
	return "", false
}

// Mentions are the catalog names found in a piece of text.
type Mentions struct {
	Companies []string `json:"companies"`
	Topics    []string `json:"topics"`
}

// Matcher finds catalog mentions. It is safe for concurrent use.
type Matcher struct {
	companies *index
	topics    *index
}

// NewMatcher compiles the catalog's aliases.
func NewMatcher(c *Catalog) *Matcher {
	return &Matcher{companies: newIndex(c.Companies), topics: newIndex(c.Topics)}
}

// Companies returns the companies mentioned in text, in order of first mention.
func (m *Matcher) Companies(text string) []string { return m.companies.find(text) }

// Topics returns the topics mentioned in text, in order of first mention.
func (m *Matcher) Topics(text string) []string { return m.topics.find(text) }

// Mentions returns both companies and topics.
func (m *Matcher) Mentions(text string) Mentions {
	return Mentions{Companies: m.Companies(text), Topics: m.Topics(text)}
}

type index struct {
	re    *regexp.Regexp
	names map[string]string // lowercase alias -> canonical name
}

func newIndex(entries []Entry) *index {
	idx := &index{names: make(map[string]string)}
	var terms []string
	for _, e := range entries {
		for _, a := range append([]string{e.Name}, e.Aliases...) {
			key := strings.ToLower(strings.TrimSpace(a))
			if key == "" {
				continue
			}
			if _, dup := idx.names[key]; !dup {
				idx.names[key] = e.Name
				terms = append(terms, key)
			}
		}
	}
	if len(terms) == 0 {
		return idx
	}
	// Longest first so "master card" wins over any shorter overlapping alias.
	sort.Slice(terms, func(i, j int) bool { return len(terms[i]) > len(terms[j]) })
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(t), `\ `, `\s+`)
		quoted[i] = strings.ReplaceAll(quoted[i], " ", `\s+`)
	}
	idx.re = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	return idx
}

func (idx *index) find(text string) []string {
	if idx.re == nil || text == "" {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, m := range idx.re.FindAllString(text, -1) {
		key := strings.ToLower(strings.Join(strings.Fields(m), " "))
		name, ok := idx.names[key]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
