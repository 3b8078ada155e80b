// Package catalog is the schema context store: a fixed description of the
// queryable entities plus reference question/query pairs, optionally indexed
// with embeddings for similarity retrieval. A Store never changes after
// construction and is safe for any number of concurrent readers.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oceanstack/argo-insight/internal/capability"
	"github.com/oceanstack/argo-insight/internal/models"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type fieldDoc struct {
	models.FieldDescription `yaml:",inline"`
	Column                  string `yaml:"column"`
}

type entityDoc struct {
	Name           string     `yaml:"name"`
	Description    string     `yaml:"description"`
	Source         string     `yaml:"source"`
	TimeColumn     string     `yaml:"time_column"`
	LocationColumn string     `yaml:"location_column"`
	DepthColumn    string     `yaml:"depth_column"`
	Fields         []fieldDoc `yaml:"fields"`
}

type exampleDoc struct {
	ID       string `yaml:"id"`
	Question string `yaml:"question"`
	Query    string `yaml:"query"`
}

type catalogDoc struct {
	Entities []entityDoc  `yaml:"entities"`
	Examples []exampleDoc `yaml:"examples"`
}

// Binding maps an entity's fields onto store expressions.
type Binding struct {
	Entity  string
	Source  string
	Columns map[string]string
	Types   map[string]string
	// Universal holds expressions for time, location and depth; a missing key
	// means the entity cannot be filtered on that dimension.
	Universal map[string]string
}

// Store is the immutable schema context.
type Store struct {
	fragments []models.SchemaFragment
	examples  []models.QueryExample
	bindings  map[string]Binding
	model     string
}

// Load parses the built-in catalog.
func Load() (*Store, error) {
	return Parse(defaultCatalog)
}

// Parse builds a Store from catalog YAML.
func Parse(data []byte) (*Store, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(doc.Entities) == 0 {
		return nil, fmt.Errorf("catalog has no entities")
	}

	s := &Store{bindings: make(map[string]Binding, len(doc.Entities))}
	for _, ent := range doc.Entities {
		if ent.Name == "" || ent.Source == "" {
			return nil, fmt.Errorf("catalog entity missing name or source")
		}
		if _, dup := s.bindings[ent.Name]; dup {
			return nil, fmt.Errorf("duplicate catalog entity %q", ent.Name)
		}

		binding := Binding{
			Entity:    ent.Name,
			Source:    ent.Source,
			Columns:   make(map[string]string, len(ent.Fields)),
			Types:     make(map[string]string, len(ent.Fields)),
			Universal: make(map[string]string, 3),
		}
		for k, v := range map[string]string{
			models.FieldTime:     ent.TimeColumn,
			models.FieldLocation: ent.LocationColumn,
			models.FieldDepth:    ent.DepthColumn,
		} {
			if v != "" {
				binding.Universal[k] = v
			}
		}

		fragment := models.SchemaFragment{
			ID:                "schema." + ent.Name,
			EntityName:        ent.Name,
			Description:       ent.Description,
			FieldDescriptions: make([]models.FieldDescription, 0, len(ent.Fields)),
		}
		for _, f := range ent.Fields {
			if f.Field == "" || f.Column == "" {
				return nil, fmt.Errorf("entity %s: field missing name or column", ent.Name)
			}
			binding.Columns[f.Field] = f.Column
			binding.Types[f.Field] = f.Type
			fragment.FieldDescriptions = append(fragment.FieldDescriptions, f.FieldDescription)
		}
		s.bindings[ent.Name] = binding
		s.fragments = append(s.fragments, fragment)
	}

	for _, ex := range doc.Examples {
		s.examples = append(s.examples, models.QueryExample{
			ID:                  ex.ID,
			QuestionText:        ex.Question,
			StructuredQueryText: ex.Query,
		})
	}
	return s, nil
}

// WithEmbeddings returns a copy of the store with every fragment and example
// embedded by e. The receiver is left untouched.
func (s *Store) WithEmbeddings(ctx context.Context, e capability.Embedder) (*Store, error) {
	out := &Store{
		fragments: make([]models.SchemaFragment, len(s.fragments)),
		examples:  make([]models.QueryExample, len(s.examples)),
		bindings:  s.bindings,
		model:     e.Model(),
	}
	copy(out.fragments, s.fragments)
	copy(out.examples, s.examples)

	for i := range out.fragments {
		vec, err := e.Embed(ctx, FragmentText(out.fragments[i]))
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", out.fragments[i].ID, err)
		}
		out.fragments[i].Embedding = vec
	}
	for i := range out.examples {
		vec, err := e.Embed(ctx, out.examples[i].QuestionText)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", out.examples[i].ID, err)
		}
		out.examples[i].Embedding = vec
	}
	return out, nil
}

// Indexed reports whether corpus embeddings are available.
func (s *Store) Indexed() bool {
	return s.model != ""
}

// Model returns the embedding model the corpus was indexed with.
func (s *Store) Model() string {
	return s.model
}

// Fragments returns the schema fragments in catalog order. Callers must not modify them.
func (s *Store) Fragments() []models.SchemaFragment {
	return s.fragments
}

// Examples returns the query examples in catalog order. Callers must not modify them.
func (s *Store) Examples() []models.QueryExample {
	return s.examples
}

// Binding returns the storage binding for entity.
func (s *Store) Binding(entity string) (Binding, bool) {
	b, ok := s.bindings[entity]
	return b, ok
}

// Fragment returns the fragment describing entity.
func (s *Store) Fragment(entity string) (models.SchemaFragment, bool) {
	for _, f := range s.fragments {
		if f.EntityName == entity {
			return f, true
		}
	}
	return models.SchemaFragment{}, false
}

// FieldType returns the declared type of a qualified field; universal fields
// report their own dimension name.
func (s *Store) FieldType(qualified string) (string, bool) {
	if models.IsUniversalField(qualified) {
		return qualified, true
	}
	entity, field, ok := SplitField(qualified)
	if !ok {
		return "", false
	}
	b, ok := s.bindings[entity]
	if !ok {
		return "", false
	}
	t, ok := b.Types[field]
	return t, ok
}

// SplitField splits entity.field.
func SplitField(qualified string) (entity, field string, ok bool) {
	entity, field, ok = strings.Cut(qualified, ".")
	if !ok || entity == "" || field == "" {
		return "", "", false
	}
	return entity, field, true
}

// FragmentText renders the text a fragment is embedded from.
func FragmentText(f models.SchemaFragment) string {
	var b strings.Builder
	b.WriteString(f.EntityName)
	b.WriteString(": ")
	b.WriteString(f.Description)
	b.WriteString(" Fields:")
	for _, fd := range f.FieldDescriptions {
		b.WriteString(" ")
		b.WriteString(strings.ReplaceAll(fd.Field, "_", " "))
		if fd.Description != "" {
			b.WriteString(" (")
			b.WriteString(fd.Description)
			b.WriteString(")")
		}
		b.WriteString(",")
	}
	return strings.TrimSuffix(b.String(), ",")
}
