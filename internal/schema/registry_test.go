package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview-partners/enrich-cli/internal/model"
)

func TestDefaultCoversAllTypes(t *testing.T) {
	r := Default()
	for _, et := range []model.EntityType{
		model.EntityTypeBuyer,
		model.EntityTypeCompany,
		model.EntityTypeFund,
		model.EntityTypeContact,
		model.EntityTypeLead,
	} {
		d := r.Get(et)
		require.NotNil(t, d, "missing descriptor for %s", et)
		assert.NotEmpty(t, d.Fields)
		assert.NotEmpty(t, d.Prompt)
		assert.NotEmpty(t, d.KeyField)
		assert.Greater(t, d.Threshold, 0.0)
	}
}

func TestDescriptorFieldLookup(t *testing.T) {
	d := Default().Get(model.EntityTypeBuyer)
	require.NotNil(t, d)

	f := d.Field("sector_focus")
	require.NotNil(t, f)
	assert.Equal(t, KindTags, f.Kind)

	assert.Nil(t, d.Field("not_a_field"))
	assert.Contains(t, d.FieldNames(), "acquisition_thesis")
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.NotNil(t, r.Get(model.EntityTypeCompany))
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types.yaml")
	doc := `
- key: lead
  key_field: domain
  prompt: "Custom lead prompt."
  fields:
    - name: description
      kind: text
    - name: sector_focus
      kind: tags
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	r, err := Load(path)
	require.NoError(t, err)

	d := r.Get(model.EntityTypeLead)
	require.NotNil(t, d)
	assert.Equal(t, "Custom lead prompt.", d.Prompt)
	assert.Len(t, d.Fields, 2)
	// Unspecified threshold falls back to the default.
	assert.Equal(t, defaultAutoConfirmThreshold, d.Threshold)

	// Untouched types keep their built-ins.
	assert.NotNil(t, r.Get(model.EntityTypeBuyer))
}

func TestLoadRejectsDescriptorWithoutKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- key_field: domain\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
