package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBatchResultRecord(t *testing.T) {
	var b BatchResult
	b.Record(ItemResult{EntityID: "1", Outcome: OutcomeEnriched})
	b.Record(ItemResult{EntityID: "2", Outcome: OutcomeSkipped})
	b.Record(ItemResult{EntityID: "3", Outcome: OutcomeNoSource})
	b.Record(ItemResult{EntityID: "4", Outcome: OutcomeError})
	b.Record(ItemResult{EntityID: "5", Outcome: OutcomeAmbiguous})

	assert.Equal(t, 5, b.TotalProcessed)
	assert.Equal(t, 1, b.Enriched)
	assert.Equal(t, 1, b.Skipped)
	assert.Equal(t, 1, b.NoSource)
	assert.Equal(t, 2, b.Errors, "ambiguous counts in the error bucket")
	assert.True(t, b.Conserved())
	assert.Len(t, b.Results, 5)
}

func TestBatchResultBoundsItemList(t *testing.T) {
	var b BatchResult
	for i := 0; i < maxBatchResultItems+25; i++ {
		b.Record(ItemResult{Outcome: OutcomeEnriched})
	}
	assert.Equal(t, maxBatchResultItems+25, b.TotalProcessed)
	assert.Len(t, b.Results, maxBatchResultItems)
	assert.True(t, b.Conserved())
}

func TestEntityLocator(t *testing.T) {
	e := &Entity{Website: "https://example.com"}
	assert.Equal(t, "https://example.com", e.Locator())

	e = &Entity{Fields: map[string]any{"website": " acme.io "}}
	assert.Equal(t, "acme.io", e.Locator())

	e = &Entity{Fields: map[string]any{}}
	assert.Empty(t, e.Locator())
}

func TestEntityIsEnriched(t *testing.T) {
	e := &Entity{}
	assert.False(t, e.IsEnriched())

	now := time.Now()
	e.EnrichedAt = &now
	assert.True(t, e.IsEnriched())
}
