// Package graph keeps a Neo4j graph of which companies and topics each
// article mentions.
package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/paynews/paynews/engine/catalog"
	"github.com/paynews/paynews/engine/domain"
)

// Node labels and relationship type.
const (
	LabelArticle = "Article"
	LabelCompany = "Company"
	LabelTopic   = "Topic"
	RelMentions  = "MENTIONS"
)

// Runner executes a Cypher statement and returns its records as maps.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

// MentionFinder extracts canonical company and topic names from text.
type MentionFinder interface {
	Mentions(text string) catalog.Mentions
}

// ArticleRef is an article node as stored in the graph.
type ArticleRef struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Published time.Time `json:"published,omitzero"`
}

// GraphStore provides the mentions graph operations.
type GraphStore struct {
	run     Runner
	finder  MentionFinder
	catalog *catalog.Catalog
}

// New creates a GraphStore over a Neo4j driver.
func New(driver neo4j.DriverWithContext, c *catalog.Catalog) *GraphStore {
	return NewWithRunner(driverRunner{driver: driver}, c)
}

// NewWithRunner creates a GraphStore over any Runner.
func NewWithRunner(r Runner, c *catalog.Catalog) *GraphStore {
	if c == nil {
		c = catalog.Default()
	}
	return &GraphStore{run: r, finder: catalog.NewMatcher(c), catalog: c}
}

// Connect opens and verifies a Neo4j driver. An empty password means no auth.
func Connect(ctx context.Context, url, user, pass string) (neo4j.DriverWithContext, error) {
	auth := neo4j.NoAuth()
	if pass != "" {
		auth = neo4j.BasicAuth(user, pass, "")
	}
	driver, err := neo4j.NewDriverWithContext(url, auth)
	if err != nil {
		return nil, fmt.Errorf("graph: connect %s: %w", url, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("graph: verify %s: %w", url, err)
	}
	return driver, nil
}

var schema = []string{
	`CREATE CONSTRAINT article_id IF NOT EXISTS FOR (a:Article) REQUIRE a.id IS UNIQUE`,
	`CREATE CONSTRAINT company_name IF NOT EXISTS FOR (c:Company) REQUIRE c.name IS UNIQUE`,
	`CREATE CONSTRAINT topic_name IF NOT EXISTS FOR (t:Topic) REQUIRE t.name IS UNIQUE`,
}

// EnsureSchema creates the uniqueness constraints.
func (g *GraphStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := g.run.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("graph: schema: %w", err)
		}
	}
	return nil
}

const linkCypher = `MERGE (a:Article {id: $id})
SET a.title = $title, a.url = $url, a.published = $published
WITH a
OPTIONAL MATCH (a)-[old:MENTIONS]->()
DELETE old
WITH DISTINCT a
FOREACH (name IN $companies | MERGE (c:Company {name: name}) MERGE (a)-[:MENTIONS]->(c))
FOREACH (name IN $topics | MERGE (t:Topic {name: name}) MERGE (a)-[:MENTIONS]->(t))`

// LinkArticle upserts the article node and replaces its MENTIONS edges with
// the companies and topics found in its title and summary.
func (g *GraphStore) LinkArticle(ctx context.Context, a domain.Article) (catalog.Mentions, error) {
	if a.ID == "" {
		return catalog.Mentions{}, fmt.Errorf("graph: link article: empty id")
	}
	m := g.finder.Mentions(a.Title + "\n" + a.Summary)
	_, err := g.run.Run(ctx, linkCypher, map[string]any{
		"id":        a.ID,
		"title":     a.Title,
		"url":       a.URL,
		"published": a.Timestamp().UTC().Format(time.RFC3339),
		"companies": stringsOrEmpty(m.Companies),
		"topics":    stringsOrEmpty(m.Topics),
	})
	if err != nil {
		return m, fmt.Errorf("graph: link article %s: %w", a.ID, err)
	}
	return m, nil
}

// DeleteArticle removes the article node and its edges. Unknown ids are a no-op.
func (g *GraphStore) DeleteArticle(ctx context.Context, id string) error {
	if _, err := g.run.Run(ctx, `MATCH (a:Article {id: $id}) DETACH DELETE a`, map[string]any{"id": id}); err != nil {
		return fmt.Errorf("graph: delete article %s: %w", id, err)
	}
	return nil
}

// ArticlesMentioning returns the newest articles that mention a company or
// topic. Aliases resolve to the catalog's canonical name.
func (g *GraphStore) ArticlesMentioning(ctx context.Context, name string, limit int) ([]ArticleRef, error) {
	name = g.canonical(name)
	if name == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := g.run.Run(ctx, `MATCH (a:Article)-[:MENTIONS]->(n)
WHERE (n:Company OR n:Topic) AND toLower(n.name) = toLower($name)
RETURN a.id AS id, a.title AS title, a.url AS url, a.published AS published
ORDER BY a.published DESC LIMIT $limit`, map[string]any{"name": name, "limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("graph: articles mentioning %s: %w", name, err)
	}

	out := make([]ArticleRef, 0, len(rows))
	for _, r := range rows {
		ref := ArticleRef{ID: strProp(r, "id"), Title: strProp(r, "title"), URL: strProp(r, "url")}
		if ts, err := time.Parse(time.RFC3339, strProp(r, "published")); err == nil {
			ref.Published = ts
		}
		out = append(out, ref)
	}
	return out, nil
}

func (g *GraphStore) canonical(name string) string {
	name = strings.TrimSpace(name)
	if c, ok := g.catalog.CanonicalCompany(name); ok {
		return c
	}
	if t, ok := g.catalog.CanonicalTopic(name); ok {
		return t
	}
	return name
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intProp(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

type driverRunner struct {
	driver neo4j.DriverWithContext
}

func (d driverRunner) Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	res, err := neo4j.ExecuteQuery(ctx, d.driver, cypher, params, neo4j.EagerResultTransformer)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, len(res.Records))
	for i, rec := range res.Records {
		rows[i] = rec.AsMap()
	}
	return rows, nil
}
