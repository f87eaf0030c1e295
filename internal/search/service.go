package search

import (
	"context"

	"peritaje/api/internal/logger"
	"peritaje/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to Postgres.
type Service struct {
	meili    *Meili
	postgres *Postgres
	log      *logger.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, postgres *Postgres, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{meili: meili, postgres: postgres, log: log}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("search: meilisearch error, falling back to postgres", "error", err)
	}

	if s.postgres == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.postgres.Search(ctx, q)
	if err != nil {
		s.log.Error("search: postgres error", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexAppraisal indexes a stored result (fire-and-forget to Meilisearch).
func (s *Service) IndexAppraisal(_ context.Context, item store.AppraisalResult) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := RecordFromAppraisal(item)
	go func() {
		if err := s.meili.IndexAppraisal(record); err != nil {
			s.log.Warn("search: index appraisal", "id", record.ID, "error", err)
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
