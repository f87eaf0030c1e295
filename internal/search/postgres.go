package search

import (
	"context"
	"strings"

	"peritaje/api/internal/store"
)

type appraisalSearcher interface {
	SearchAppraisals(ctx context.Context, owner store.Owner, text string, limit int) ([]store.AppraisalResult, error)
}

// Postgres searches the appraisal table directly. It is the fallback when
// Meilisearch is not configured or unhealthy.
type Postgres struct {
	records appraisalSearcher
}

func NewPostgres(records appraisalSearcher) *Postgres {
	return &Postgres{records: records}
}

func (p *Postgres) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	items, err := p.records.SearchAppraisals(ctx, q.Owner, q.Text, q.Limit)
	if err != nil {
		return nil, 0, err
	}
	results := make([]Result, 0, len(items))
	for _, item := range items {
		results = append(results, resultFromAppraisal(item))
	}
	return results, len(results), nil
}
