package translator

import (
	"fmt"
	"strings"

	"github.com/oceanstack/argo-insight/internal/models"
)

const promptRules = `Rules:
1. Reference only the fields listed above, written as entity.field, or the universal fields time, location, depth.
2. Use a single entity per query.
3. Filter operators: =, !=, <, <=, >, >=, and "within" for location with value [min_lon, min_lat, max_lon, max_lat].
4. Time values are RFC3339 timestamps or relative tokens such as now-7d, now-1M, now-1y.
5. Depth is in meters, positive downwards.
6. Aggregation functions: avg, min, max, count, sum.
7. If the question cannot be answered from these fields, return an empty select list.`

const promptSchema = `Respond with JSON only:
{
  "structured_query": {
    "select": ["entity.field"],
    "filters": [{"field": "entity.field", "op": "=", "value": "..."}],
    "aggregation": {"function": "avg", "field": "entity.field", "group_by": []},
    "order_by": {"field": "time", "direction": "asc"},
    "limit": 100
  },
  "confidence": 0.0,
  "reasoning": "one sentence"
}`

// buildPrompt renders the grounding set and question. The output depends only
// on its inputs so that cached generations stay valid.
func buildPrompt(question string, items []models.RetrievedItem) string {
	var b strings.Builder
	b.WriteString("You translate questions about Argo oceanographic data into a structured query.\n\n")

	b.WriteString("Available entities:\n")
	for _, item := range items {
		if item.Fragment == nil {
			continue
		}
		frag := item.Fragment
		fmt.Fprintf(&b, "- %s: %s\n", frag.EntityName, frag.Description)
		for _, fd := range frag.FieldDescriptions {
			fmt.Fprintf(&b, "    %s (%s", frag.QualifiedField(fd.Field), fd.Type)
			if fd.Unit != "" {
				fmt.Fprintf(&b, ", %s", fd.Unit)
			}
			if fd.ExampleValue != "" {
				fmt.Fprintf(&b, ", e.g. %s", fd.ExampleValue)
			}
			b.WriteString(")\n")
		}
	}
	fmt.Fprintf(&b, "Universal fields: %s\n", strings.Join(models.UniversalFields, ", "))

	examples := 0
	for _, item := range items {
		if item.Example == nil {
			continue
		}
		if examples == 0 {
			b.WriteString("\nExamples:\n")
		}
		examples++
		fmt.Fprintf(&b, "Q: %s\nA: %s\n", item.Example.QuestionText, strings.TrimSpace(item.Example.StructuredQueryText))
	}

	b.WriteString("\n")
	b.WriteString(promptRules)
	b.WriteString("\n\n")
	b.WriteString(promptSchema)
	fmt.Fprintf(&b, "\n\nQuestion: %s\n", question)
	return b.String()
}
