// Package schema holds the entity-type descriptors that parameterize the
// enrichment pipeline. Each CRM entity type (buyer, company, fund, contact,
// lead) is described as data: its natural-key field, its enrichable field
// schema, and its extraction prompt. The pipeline itself is generic.
package schema

import (
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/harborview-partners/enrich-cli/internal/model"
)

// FieldKind is the value shape of an enrichable field.
type FieldKind string

const (
	// KindText is a scalar string (description, thesis, free-text highlight).
	KindText FieldKind = "text"
	// KindTags is a flat string array (sectors, keywords, geographies).
	KindTags FieldKind = "tags"
	// KindRecords is a list of structured sub-records (e.g. past acquisitions).
	KindRecords FieldKind = "records"
)

// FieldSpec describes one enrichable field of an entity type.
type FieldSpec struct {
	Name string    `yaml:"name"`
	Kind FieldKind `yaml:"kind"`
	Hint string    `yaml:"hint,omitempty"` // one-line guidance embedded in the prompt
}

// TypeDescriptor describes an entity type as data: what identifies it, what
// can be enriched on it, and how the extractor should be instructed.
type TypeDescriptor struct {
	Key       model.EntityType `yaml:"key"`
	KeyField  string           `yaml:"key_field"` // attribute holding the natural key
	Fields    []FieldSpec      `yaml:"fields"`
	Prompt    string           `yaml:"prompt"` // entity-type extraction instructions
	NeedsID   bool             `yaml:"needs_identity"`
	Threshold float64          `yaml:"auto_confirm_threshold,omitempty"`
}

// FieldNames returns the schema's field names in declaration order.
func (d *TypeDescriptor) FieldNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// Field returns the spec for a named field, or nil if the type's schema does
// not include it.
func (d *TypeDescriptor) Field(name string) *FieldSpec {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i]
		}
	}
	return nil
}

// Registry indexes type descriptors by entity type.
type Registry struct {
	types map[model.EntityType]*TypeDescriptor
}

// Get returns the descriptor for an entity type, or nil if unknown.
func (r *Registry) Get(t model.EntityType) *TypeDescriptor {
	return r.types[t]
}

// Types returns all registered entity types.
func (r *Registry) Types() []model.EntityType {
	out := make([]model.EntityType, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	return out
}

// Default returns the built-in registry covering the five CRM entity types.
func Default() *Registry {
	r := &Registry{types: make(map[model.EntityType]*TypeDescriptor)}
	for _, d := range builtinTypes() {
		r.types[d.Key] = d
	}
	return r
}

// Load returns the built-in registry with any overrides from the given YAML
// file applied on top. A missing path returns the defaults unchanged.
func Load(path string) (*Registry, error) {
	r := Default()
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, eris.Wrapf(err, "schema: read %s", path)
	}

	var overrides []TypeDescriptor
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, eris.Wrapf(err, "schema: parse %s", path)
	}

	for i := range overrides {
		d := overrides[i]
		if d.Key == "" {
			return nil, eris.Errorf("schema: descriptor %d in %s has no key", i, path)
		}
		if d.Threshold == 0 {
			d.Threshold = defaultAutoConfirmThreshold
		}
		r.types[d.Key] = &d
		zap.L().Info("schema: type descriptor overridden",
			zap.String("type", string(d.Key)),
			zap.Int("fields", len(d.Fields)),
		)
	}

	return r, nil
}
