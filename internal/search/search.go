// Package search finds a caller's appraisal results by the facts in their
// basic-information section.
package search

import (
	"time"

	"peritaje/api/internal/appraisal"
	"peritaje/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"requestId,omitempty"`
	City         string    `json:"ciudad"`
	PropertyType string    `json:"tipo_inmueble"`
	Address      string    `json:"address"`
	Estrato      string    `json:"estrato"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Query describes a search request. Owner scopes the hits.
type Query struct {
	Text  string
	Owner store.Owner
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// AppraisalRecord is the data we index for an appraisal result.
type AppraisalRecord struct {
	ID               string `json:"id"`
	RequestID        string `json:"requestId"`
	City             string `json:"ciudad"`
	PropertyType     string `json:"tipo_inmueble"`
	Address          string `json:"address"`
	Estrato          string `json:"estrato"`
	OwnerUserID      string `json:"ownerUserId"`
	OwnerAnonymousID string `json:"ownerAnonymousId"`
	CreatedAt        int64  `json:"createdAt"`
}

// RecordFromAppraisal flattens a stored result into its index document.
func RecordFromAppraisal(item store.AppraisalResult) AppraisalRecord {
	basic := appraisal.BuildReport(item.AppraisalData).BasicInfo
	return AppraisalRecord{
		ID:               item.ID,
		RequestID:        firstNonBlank(item.RequestID, basic.RequestID),
		City:             basic.City,
		PropertyType:     basic.PropertyType,
		Address:          basic.Address,
		Estrato:          basic.Estrato,
		OwnerUserID:      item.UserID,
		OwnerAnonymousID: item.AnonymousSessionID,
		CreatedAt:        item.CreatedAt.Unix(),
	}
}

func resultFromAppraisal(item store.AppraisalResult) Result {
	record := RecordFromAppraisal(item)
	return Result{
		ID:           record.ID,
		RequestID:    record.RequestID,
		City:         record.City,
		PropertyType: record.PropertyType,
		Address:      record.Address,
		Estrato:      record.Estrato,
		CreatedAt:    item.CreatedAt,
	}
}
