package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/oceanstack/argo-insight/internal/models"
)

// generation is a decoded generator response.
type generation struct {
	Query      models.StructuredQuery
	Confidence *float64
	Reasoning  string
}

type wireFilter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// UnmarshalJSON accepts both {"field","op","value"} objects and
// [field, op, value] triples.
func (f *wireFilter) UnmarshalJSON(data []byte) error {
	var triple []any
	if err := json.Unmarshal(data, &triple); err == nil {
		if len(triple) != 3 {
			return fmt.Errorf("filter triple needs 3 elements, got %d", len(triple))
		}
		field, _ := triple[0].(string)
		op, _ := triple[1].(string)
		*f = wireFilter{Field: field, Op: op, Value: triple[2]}
		return nil
	}
	type plain wireFilter
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*f = wireFilter(p)
	return nil
}

type wireOrder struct {
	Field      string `json:"field"`
	Direction  string `json:"direction"`
	Descending bool   `json:"descending"`
}

type wireQuery struct {
	Select      []string            `json:"select"`
	Filters     []wireFilter        `json:"filters"`
	Aggregation *models.Aggregation `json:"aggregation"`
	OrderBy     *wireOrder          `json:"order_by"`
	Limit       float64             `json:"limit"`
}

type wireEnvelope struct {
	StructuredQuery *wireQuery `json:"structured_query"`
	Confidence      *float64   `json:"confidence"`
	Reasoning       string     `json:"reasoning"`
}

var errNoJSON = errors.New("no JSON object in generated output")

func parseGeneration(raw string) (generation, error) {
	body := strings.TrimSpace(raw)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return generation{}, errNoJSON
	}
	body = body[start : end+1]

	var env wireEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return generation{}, fmt.Errorf("decode generated output: %w", err)
	}
	wq := env.StructuredQuery
	if wq == nil {
		var flat wireQuery
		if err := json.Unmarshal([]byte(body), &flat); err != nil {
			return generation{}, fmt.Errorf("decode generated query: %w", err)
		}
		wq = &flat
	}

	out := generation{Reasoning: strings.TrimSpace(env.Reasoning)}
	if env.Confidence != nil && !math.IsNaN(*env.Confidence) {
		c := clamp01(*env.Confidence)
		out.Confidence = &c
	}

	q := models.StructuredQuery{Select: wq.Select, Aggregation: wq.Aggregation}
	for _, f := range wq.Filters {
		q.Filters = append(q.Filters, models.Filter{Field: f.Field, Op: f.Op, Value: f.Value})
	}
	if wq.OrderBy != nil {
		q.OrderBy = &models.OrderBy{
			Field:      wq.OrderBy.Field,
			Descending: wq.OrderBy.Descending || strings.EqualFold(wq.OrderBy.Direction, "desc"),
		}
	}
	if wq.Limit != 0 {
		q.Limit = int(wq.Limit)
	}
	out.Query = q
	return out, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
