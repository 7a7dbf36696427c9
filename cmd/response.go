package main

import (
	"github.com/harborview-partners/enrich-cli/internal/model"
)

// itemResponse is the caller-facing shape of a single-entity run, shared by
// the enrich/confirm commands and the HTTP API.
type itemResponse struct {
	Success       bool                 `json:"success"`
	Status        model.ItemOutcome    `json:"status"`
	FieldsUpdated []string             `json:"fieldsUpdated"`
	SourceLocator string               `json:"sourceLocator,omitempty"`
	Error         string               `json:"error,omitempty"`
	Preview       *model.PreviewResult `json:"preview,omitempty"`
}

func toItemResponse(item model.ItemResult, preview *model.PreviewResult) itemResponse {
	fields := item.FieldsUpdated
	if fields == nil {
		fields = []string{}
	}
	return itemResponse{
		Success:       item.Outcome != model.OutcomeError,
		Status:        item.Outcome,
		FieldsUpdated: fields,
		SourceLocator: item.SourceLocator,
		Error:         item.Err,
		Preview:       preview,
	}
}

// batchResponse is the caller-facing shape of a batch run.
type batchResponse struct {
	Success        bool               `json:"success"`
	TotalProcessed int                `json:"totalProcessed"`
	Enriched       int                `json:"enriched"`
	Skipped        int                `json:"skipped"`
	Errors         int                `json:"errors"`
	NoSource       int                `json:"noSource"`
	Results        []model.ItemResult `json:"results"`
}

func toBatchResponse(res *model.BatchResult) batchResponse {
	results := res.Results
	if results == nil {
		results = []model.ItemResult{}
	}
	return batchResponse{
		Success:        true,
		TotalProcessed: res.TotalProcessed,
		Enriched:       res.Enriched,
		Skipped:        res.Skipped,
		Errors:         res.Errors,
		NoSource:       res.NoSource,
		Results:        results,
	}
}
