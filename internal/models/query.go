package models

import "time"

// Universal fields are valid in every structured query regardless of retrieved context.
const (
	FieldTime     = "time"
	FieldLocation = "location"
	FieldDepth    = "depth"
)

// UniversalFields lists the allow-listed fields.
var UniversalFields = []string{FieldTime, FieldLocation, FieldDepth}

// IsUniversalField reports whether field belongs to the allow-list.
func IsUniversalField(field string) bool {
	switch field {
	case FieldTime, FieldLocation, FieldDepth:
		return true
	}
	return false
}

// Filter operators accepted in the intermediate representation.
const (
	OpEq     = "="
	OpNeq    = "!="
	OpLt     = "<"
	OpLte    = "<="
	OpGt     = ">"
	OpGte    = ">="
	OpWithin = "within"
)

// Filter is a single (field, op, value) predicate.
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Aggregation applies Function to Field, optionally grouped.
type Aggregation struct {
	Function string   `json:"function"`
	Field    string   `json:"field"`
	GroupBy  []string `json:"group_by,omitempty"`
}

// OrderBy sorts results by Field.
type OrderBy struct {
	Field      string `json:"field"`
	Descending bool   `json:"descending,omitempty"`
}

// StructuredQuery is the constrained intermediate representation produced by
// translation. Fields are qualified as entity.field or are universal fields.
type StructuredQuery struct {
	Select      []string     `json:"select"`
	Filters     []Filter     `json:"filters,omitempty"`
	Aggregation *Aggregation `json:"aggregation,omitempty"`
	OrderBy     *OrderBy     `json:"order_by,omitempty"`
	Limit       int          `json:"limit,omitempty"`
}

// Empty reports whether the query selects nothing.
func (q StructuredQuery) Empty() bool {
	return len(q.Select) == 0 && q.Aggregation == nil
}

// Fields returns every field referenced by the query in a stable order.
func (q StructuredQuery) Fields() []string {
	out := make([]string, 0, len(q.Select)+len(q.Filters)+2)
	out = append(out, q.Select...)
	for _, f := range q.Filters {
		out = append(out, f.Field)
	}
	if q.Aggregation != nil {
		out = append(out, q.Aggregation.Field)
		out = append(out, q.Aggregation.GroupBy...)
	}
	if q.OrderBy != nil {
		out = append(out, q.OrderBy.Field)
	}
	return out
}

// TranslationResult is the outcome of translating one question.
type TranslationResult struct {
	StructuredQuery         StructuredQuery `json:"structured_query"`
	Confidence              float64         `json:"confidence"`
	Explanation             []string        `json:"explanation"`
	RetrievedContextIDs     []string        `json:"retrieved_context_ids"`
	Reasoning               string          `json:"reasoning,omitempty"`
	RewritesApplied         int             `json:"rewrites_applied"`
	SuggestedVisualizations []string        `json:"suggested_visualizations,omitempty"`
}

// Derived reports whether a safe query could be produced.
func (r TranslationResult) Derived() bool {
	return r.Confidence > 0 && !r.StructuredQuery.Empty()
}

// QueryRequest is the inbound natural-language query.
type QueryRequest struct {
	Question           string `json:"question"`
	IncludeExplanation bool   `json:"include_explanation"`
}

// QueryResponse carries rows and the derivation of the structured query.
type QueryResponse struct {
	QueryID                 string           `json:"query_id"`
	StructuredQuery         StructuredQuery  `json:"structured_query"`
	SQLQuery                string           `json:"sql_query,omitempty"`
	Rows                    []map[string]any `json:"rows"`
	ResultCount             int              `json:"result_count"`
	Confidence              float64          `json:"confidence"`
	Reasoning               string           `json:"reasoning,omitempty"`
	Explanation             []string         `json:"explanation,omitempty"`
	SuggestedVisualizations []string         `json:"suggested_visualizations,omitempty"`
	ExecutionTime           time.Duration    `json:"execution_time_ns"`
	ExecutionError          string           `json:"execution_error,omitempty"`
}

// QueryHistoryEntry is one append-only record of a translated question.
type QueryHistoryEntry struct {
	ID              string          `json:"id" db:"id"`
	Question        string          `json:"question" db:"question"`
	StructuredQuery StructuredQuery `json:"structured_query" db:"-"`
	Confidence      float64         `json:"confidence" db:"confidence"`
	ResultCount     int             `json:"result_count" db:"result_count"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}
