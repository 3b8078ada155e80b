package translator

import (
	"fmt"
	"strings"

	"github.com/oceanstack/argo-insight/internal/models"
)

func describeContext(items []models.RetrievedItem) string {
	if len(items) == 0 {
		return "Retrieved context: none; only universal fields (time, location, depth) are grounded"
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%s (%.2f)", item.ID(), item.Score))
	}
	return "Retrieved context: " + strings.Join(parts, ", ")
}

func describeFields(q models.StructuredQuery) string {
	fields := appendUnique(nil, q.Select...)
	if q.Aggregation != nil {
		fields = appendUnique(fields, q.Aggregation.GroupBy...)
	}
	step := "Fields mapped: " + strings.Join(fields, ", ")
	if q.Aggregation != nil {
		step += fmt.Sprintf("; aggregation %s(%s)", strings.ToUpper(q.Aggregation.Function), q.Aggregation.Field)
		if len(q.Aggregation.GroupBy) > 0 {
			step += " grouped by " + strings.Join(q.Aggregation.GroupBy, ", ")
		}
	}
	return step
}

func describeFilters(q models.StructuredQuery) string {
	if len(q.Filters) == 0 {
		return "Filters derived: none"
	}
	parts := make([]string, 0, len(q.Filters))
	for _, f := range q.Filters {
		parts = append(parts, fmt.Sprintf("%s %s %v", f.Field, f.Op, f.Value))
	}
	step := "Filters derived: " + strings.Join(parts, "; ")
	if q.OrderBy != nil {
		dir := "ascending"
		if q.OrderBy.Descending {
			dir = "descending"
		}
		step += fmt.Sprintf("; ordered by %s %s", q.OrderBy.Field, dir)
	}
	if q.Limit > 0 {
		step += fmt.Sprintf("; limit %d", q.Limit)
	}
	return step
}

func (w Weights) describe(top, certainty float64, rewrites int, confidence float64) string {
	return fmt.Sprintf("Confidence %.2f: retrieval %.2f (weight %.2f), certainty %.2f (weight %.2f), %d rewrite(s) at -%.2f each",
		confidence, top, w.Retrieval, certainty, w.Certainty, rewrites, w.RewritePenalty)
}

// Visualization kinds suggested alongside a result.
const (
	VisualizationTable        = "table"
	VisualizationMap          = "map"
	VisualizationTimeSeries   = "time_series"
	VisualizationDepthProfile = "depth_profile"
)

func suggestVisualizations(q models.StructuredQuery) []string {
	selected := make(map[string]bool, len(q.Select))
	for _, f := range q.Select {
		selected[f] = true
	}
	if q.Aggregation != nil {
		for _, f := range q.Aggregation.GroupBy {
			selected[f] = true
		}
	}
	ordered := ""
	if q.OrderBy != nil {
		ordered = q.OrderBy.Field
	}

	var out []string
	if selected[models.FieldLocation] {
		out = append(out, VisualizationMap)
	}
	if selected[models.FieldTime] && (ordered == models.FieldTime || q.Aggregation != nil) {
		out = append(out, VisualizationTimeSeries)
	}
	if selected[models.FieldDepth] && (ordered == models.FieldDepth || q.Aggregation != nil) {
		out = append(out, VisualizationDepthProfile)
	}
	return append(out, VisualizationTable)
}
