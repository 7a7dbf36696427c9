package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview-partners/enrich-cli/internal/model"
	"github.com/harborview-partners/enrich-cli/internal/schema"
)

func buyerDesc(t *testing.T) *schema.TypeDescriptor {
	t.Helper()
	desc := schema.Default().Get(model.EntityTypeBuyer)
	require.NotNil(t, desc)
	return desc
}

func TestFillIfEmptyOnlySetsBlankFields(t *testing.T) {
	entity := &model.Entity{
		Type: model.EntityTypeBuyer,
		Fields: map[string]any{
			"description":  "Analyst-written description.",
			"sector_focus": []any{},
		},
	}
	incoming := map[string]any{
		"description":  "Model-written description.",
		"sector_focus": []any{"industrials"},
		"geography":    []any{"midwest"},
	}

	res := Apply(entity, buyerDesc(t), incoming, FillIfEmpty)

	assert.NotContains(t, res.Updates, "description")
	assert.Equal(t, []any{"industrials"}, res.Updates["sector_focus"])
	assert.Equal(t, []any{"midwest"}, res.Updates["geography"])
	assert.Equal(t, []string{"sector_focus", "geography"}, res.ChangedFields)
}

func TestForceOverwrites(t *testing.T) {
	entity := &model.Entity{
		Type: model.EntityTypeBuyer,
		Fields: map[string]any{
			"description": "Old.",
		},
	}
	incoming := map[string]any{"description": "New."}

	res := Apply(entity, buyerDesc(t), incoming, Force)
	assert.Equal(t, "New.", res.Updates["description"])
	assert.Equal(t, []string{"description"}, res.ChangedFields)
}

func TestForceSkipsEqualValues(t *testing.T) {
	entity := &model.Entity{
		Type: model.EntityTypeBuyer,
		Fields: map[string]any{
			"description":  "Same.",
			"sector_focus": []string{"industrials"},
		},
	}
	incoming := map[string]any{
		"description":  "Same.",
		"sector_focus": []any{"industrials"},
	}

	res := Apply(entity, buyerDesc(t), incoming, Force)
	assert.Empty(t, res.Updates)
	assert.Empty(t, res.ChangedFields)
}

func TestIncomingEmptyValuesIgnored(t *testing.T) {
	entity := &model.Entity{Type: model.EntityTypeBuyer, Fields: map[string]any{}}
	incoming := map[string]any{
		"description":  "",
		"sector_focus": []any{},
		"geography":    nil,
	}

	res := Apply(entity, buyerDesc(t), incoming, Force)
	assert.Empty(t, res.Updates)
}

func TestFieldsOutsideSchemaIgnored(t *testing.T) {
	entity := &model.Entity{Type: model.EntityTypeBuyer, Fields: map[string]any{}}
	incoming := map[string]any{
		"revenue_estimate": "$10M",
		"description":      "A buyer.",
	}

	res := Apply(entity, buyerDesc(t), incoming, FillIfEmpty)
	assert.Contains(t, res.Updates, "description")
	assert.NotContains(t, res.Updates, "revenue_estimate")
}

func TestChangedFieldsFollowSchemaOrder(t *testing.T) {
	entity := &model.Entity{Type: model.EntityTypeBuyer, Fields: map[string]any{}}
	incoming := map[string]any{
		"keywords":    []any{"anvils"},
		"description": "A buyer.",
	}

	res := Apply(entity, buyerDesc(t), incoming, FillIfEmpty)
	assert.Equal(t, []string{"description", "keywords"}, res.ChangedFields)
}

func TestNilEntityFields(t *testing.T) {
	entity := &model.Entity{Type: model.EntityTypeBuyer}
	incoming := map[string]any{"description": "A buyer."}

	res := Apply(entity, buyerDesc(t), incoming, FillIfEmpty)
	assert.Equal(t, "A buyer.", res.Updates["description"])
}

func TestStrategyValid(t *testing.T) {
	assert.True(t, FillIfEmpty.Valid())
	assert.True(t, Force.Valid())
	assert.False(t, Strategy("merge-all").Valid())
}
