package graph

import (
	"context"
	"fmt"
)

// MentionStats counts the articles that mention a node.
type MentionStats struct {
	Name     string `json:"name"`
	Articles int64  `json:"articles"`
}

// NodeCounts returns node counts grouped by label.
func (g *GraphStore) NodeCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := g.run.Run(ctx, `MATCH (n) RETURN labels(n)[0] AS type, count(*) AS count`, nil)
	if err != nil {
		return nil, fmt.Errorf("graph: node counts: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		if t := strProp(r, "type"); t != "" {
			counts[t] = intProp(r, "count")
		}
	}
	return counts, nil
}

// TopCompanies returns the companies with the most articles.
func (g *GraphStore) TopCompanies(ctx context.Context, limit int) ([]MentionStats, error) {
	return g.top(ctx, LabelCompany, limit)
}

// TopTopics returns the topics with the most articles.
func (g *GraphStore) TopTopics(ctx context.Context, limit int) ([]MentionStats, error) {
	return g.top(ctx, LabelTopic, limit)
}

func (g *GraphStore) top(ctx context.Context, label string, limit int) ([]MentionStats, error) {
	if limit <= 0 {
		limit = 10
	}
	// label is one of the package constants, never user input.
	cypher := fmt.Sprintf(`MATCH (a:Article)-[:MENTIONS]->(n:%s)
RETURN n.name AS name, count(DISTINCT a) AS articles
ORDER BY articles DESC, name ASC LIMIT $limit`, label)
	rows, err := g.run.Run(ctx, cypher, map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("graph: top %s: %w", label, err)
	}
	out := make([]MentionStats, 0, len(rows))
	for _, r := range rows {
		out = append(out, MentionStats{Name: strProp(r, "name"), Articles: intProp(r, "articles")})
	}
	return out, nil
}
