package models

// FieldDescription documents one queryable column of an entity.
type FieldDescription struct {
	Field        string `yaml:"field" json:"field"`
	Type         string `yaml:"type" json:"type"`
	Unit         string `yaml:"unit,omitempty" json:"unit,omitempty"`
	ExampleValue string `yaml:"example" json:"example_value,omitempty"`
	Description  string `yaml:"description,omitempty" json:"description,omitempty"`
}

// SchemaFragment describes one queryable entity. Fragments are loaded once at
// start-up and never mutated afterwards.
type SchemaFragment struct {
	ID                string             `json:"id"`
	EntityName        string             `json:"entity_name"`
	Description       string             `json:"description,omitempty"`
	FieldDescriptions []FieldDescription `json:"field_descriptions"`
	Embedding         []float32          `json:"-"`
}

// QualifiedField returns entity.field.
func (f SchemaFragment) QualifiedField(field string) string {
	return f.EntityName + "." + field
}

// HasField reports whether field (unqualified) is described by the fragment.
func (f SchemaFragment) HasField(field string) bool {
	for _, fd := range f.FieldDescriptions {
		if fd.Field == field {
			return true
		}
	}
	return false
}

// QueryExample is a reference question paired with its structured query.
type QueryExample struct {
	ID                  string    `json:"id"`
	QuestionText        string    `json:"question_text"`
	StructuredQueryText string    `json:"structured_query_text"`
	Embedding           []float32 `json:"-"`
}

// ItemKind distinguishes retrieved schema fragments from query examples.
type ItemKind string

const (
	ItemFragment ItemKind = "schema_fragment"
	ItemExample  ItemKind = "query_example"
)

// RetrievedItem is one scored hit from the semantic retriever. Exactly one of
// Fragment and Example is set, matching Kind.
type RetrievedItem struct {
	Kind     ItemKind        `json:"kind"`
	Fragment *SchemaFragment `json:"fragment,omitempty"`
	Example  *QueryExample   `json:"example,omitempty"`
	Score    float64         `json:"similarity_score"`
}

// ID returns the identifier of the underlying corpus item.
func (r RetrievedItem) ID() string {
	switch {
	case r.Fragment != nil:
		return r.Fragment.ID
	case r.Example != nil:
		return r.Example.ID
	}
	return ""
}
