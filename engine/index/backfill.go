package index

import (
	"context"
	"log/slog"

	"github.com/paynews/paynews/engine/domain"
)

// BackfillReport summarizes a Backfill run.
type BackfillReport struct {
	Total   int               `json:"total"`
	Indexed int               `json:"indexed"`
	Failed  map[string]string `json:"failed,omitempty"` // article id -> error
}

// Backfill runs the pipeline over already stored articles, for instance
// after the vector collection was recreated. It keeps going past failed
// articles and stops early only when ctx ends.
func Backfill(ctx context.Context, deps Deps, articles []domain.Article) (BackfillReport, error) {
	deps = deps.withDefaults()
	pipeline := NewPipeline(deps)
	log := deps.Logger.With("component", "backfill")

	rep := BackfillReport{Total: len(articles)}
	for i, a := range articles {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		actx, cancel := context.WithTimeout(ctx, deps.Timeout)
		_, err := pipeline(actx, a).Unwrap()
		cancel()
		if err != nil {
			if rep.Failed == nil {
				rep.Failed = make(map[string]string)
			}
			rep.Failed[a.ID] = err.Error()
			log.Warn("backfill: article failed", "article_id", a.ID, "err", err)
			continue
		}
		rep.Indexed++
		if (i+1)%50 == 0 {
			log.Info("backfill: progress", "done", i+1, "total", rep.Total)
		}
	}
	log.Info("backfill: complete", slog.Int("indexed", rep.Indexed), slog.Int("failed", len(rep.Failed)))
	return rep, nil
}
