package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oceanstack/argo-insight/internal/models"
	"github.com/oceanstack/argo-insight/internal/utils"
)

// IngestRequest is the measurement batch envelope.
type IngestRequest struct {
	Measurements []models.MeasurementPoint `json:"measurements"`
}

// SearchRequest asks for the k catalog items nearest to Query.
type SearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

// SearchResponse lists retrieved items, best first.
type SearchResponse struct {
	Items []models.RetrievedItem `json:"items"`
}

// AnomaliesResponse lists anomaly events.
type AnomaliesResponse struct {
	Events []models.AnomalyEvent `json:"events"`
	Count  int                   `json:"count"`
}

// HistoryResponse lists recent queries.
type HistoryResponse struct {
	Queries []models.QueryHistoryEntry `json:"queries"`
}

// FromStruct decodes a Struct payload into dst via its JSON form.
func FromStruct(in *structpb.Struct, dst any) error {
	if in == nil {
		return fmt.Errorf("request is nil")
	}
	raw, err := in.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode struct: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// ToStruct converts v into a Struct using its JSON encoding.
func ToStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("response is not an object: %w", err)
	}
	return structpb.NewStruct(fields)
}

// StringParams flattens a Struct's scalar fields into query-style parameters.
func StringParams(in *structpb.Struct) map[string]string {
	out := make(map[string]string)
	if in == nil {
		return out
	}
	for key, value := range in.GetFields() {
		switch v := value.GetKind().(type) {
		case *structpb.Value_StringValue:
			out[key] = v.StringValue
		case *structpb.Value_NumberValue:
			out[key] = strconv.FormatFloat(v.NumberValue, 'f', -1, 64)
		case *structpb.Value_BoolValue:
			out[key] = strconv.FormatBool(v.BoolValue)
		}
	}
	return out
}

// ParseEventFilter builds an EventFilter from query parameters. Times accept
// RFC3339 or relative tokens such as now-7d; bbox is minLon,minLat,maxLon,maxLat.
func ParseEventFilter(params map[string]string, now time.Time) (models.EventFilter, error) {
	var f models.EventFilter

	if v := strings.TrimSpace(params["type"]); v != "" {
		switch t := models.AnomalyType(strings.ToLower(v)); t {
		case models.AnomalyHeatwave, models.AnomalyColdSpell, models.AnomalyHighSalinity, models.AnomalyLowSalinity:
			f.AnomalyType = t
		default:
			return f, utils.Invalid("parse filter", fmt.Sprintf("unknown anomaly type %q", v))
		}
	}
	if v := strings.TrimSpace(params["severity"]); v != "" {
		s := models.Severity(strings.ToLower(v))
		if s.Rank() == 0 {
			return f, utils.Invalid("parse filter", fmt.Sprintf("unknown severity %q", v))
		}
		f.Severity = s
	}
	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"start", &f.Start}, {"end", &f.End}} {
		v := strings.TrimSpace(params[bound.name])
		if v == "" {
			continue
		}
		ts, err := utils.ResolveTime(v, now)
		if err != nil {
			return f, utils.Invalid("parse filter", fmt.Sprintf("%s: %v", bound.name, err))
		}
		ts = ts.UTC()
		*bound.dst = &ts
	}
	if v := strings.TrimSpace(params["bbox"]); v != "" {
		box, err := ParseBBox(v)
		if err != nil {
			return f, err
		}
		f.BBox = &box
	}
	if v := strings.TrimSpace(params["limit"]); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, utils.Invalid("parse filter", "limit must be a non-negative integer")
		}
		f.Limit = min(n, models.MaxListLimit)
	}
	return f, nil
}

// ParseBBox parses minLon,minLat,maxLon,maxLat.
func ParseBBox(value string) (models.BoundingBox, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return models.BoundingBox{}, utils.Invalid("parse bbox", "bbox needs minLon,minLat,maxLon,maxLat")
	}
	var nums [4]float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return models.BoundingBox{}, utils.Invalid("parse bbox", fmt.Sprintf("invalid coordinate %q", p))
		}
		nums[i] = n
	}
	box := models.BoundingBox{MinLon: nums[0], MinLat: nums[1], MaxLon: nums[2], MaxLat: nums[3]}
	if err := box.Validate(); err != nil {
		return models.BoundingBox{}, utils.Invalid("parse bbox", err.Error())
	}
	return box, nil
}

// ParseLimit parses an optional non-negative limit, capped at
// models.MaxListLimit.
func ParseLimit(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, utils.Invalid("parse limit", "limit must be a non-negative integer")
	}
	return min(n, models.MaxListLimit), nil
}
