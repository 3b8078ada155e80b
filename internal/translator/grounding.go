package translator

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/oceanstack/argo-insight/internal/catalog"
	"github.com/oceanstack/argo-insight/internal/models"
	"github.com/oceanstack/argo-insight/internal/utils"
)

// grounding is the set of fields a translation may reference: those of the
// retrieved schema fragments plus the universal fields.
type grounding struct {
	fields    map[string]struct{}
	byName    map[string][]string
	universal map[string]map[string]bool
	entities  []string
}

func newGrounding(items []models.RetrievedItem, store *catalog.Store) *grounding {
	g := &grounding{
		fields:    make(map[string]struct{}),
		byName:    make(map[string][]string),
		universal: make(map[string]map[string]bool),
	}
	for _, item := range items {
		if item.Fragment == nil {
			continue
		}
		frag := item.Fragment
		if _, seen := g.universal[frag.EntityName]; seen {
			continue
		}
		dims := make(map[string]bool, 3)
		if binding, ok := store.Binding(frag.EntityName); ok {
			for dim := range binding.Universal {
				dims[dim] = true
			}
		}
		g.universal[frag.EntityName] = dims
		g.entities = append(g.entities, frag.EntityName)

		for _, fd := range frag.FieldDescriptions {
			qualified := frag.QualifiedField(fd.Field)
			g.fields[qualified] = struct{}{}
			g.byName[fd.Field] = append(g.byName[fd.Field], qualified)
		}
	}
	return g
}

func (g *grounding) has(field string) bool {
	if models.IsUniversalField(field) {
		return true
	}
	_, ok := g.fields[field]
	return ok
}

// normalize lowercases field and qualifies a bare name when exactly one
// grounded entity declares it.
func (g *grounding) normalize(field string) (string, bool) {
	field = strings.ToLower(strings.TrimSpace(field))
	if g.has(field) {
		return field, true
	}
	if !strings.Contains(field, ".") {
		if candidates := g.byName[field]; len(candidates) == 1 {
			return candidates[0], true
		}
	}
	return "", false
}

func (g *grounding) covers(q models.StructuredQuery) bool {
	for _, f := range q.Fields() {
		if !g.has(f) {
			return false
		}
	}
	return true
}

var aggregateFunctions = map[string]bool{"avg": true, "min": true, "max": true, "count": true, "sum": true}

var comparisonOps = map[string]bool{
	models.OpEq: true, models.OpNeq: true, models.OpLt: true,
	models.OpLte: true, models.OpGt: true, models.OpGte: true,
}

// validationEpoch anchors relative time tokens during validation only; the
// executor resolves them against the real clock.
var validationEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// repair checks candidate against the grounding and the fixed schema. Unknown
// references are rewritten through the lexicon; each rewrite is returned as a
// note. A select column that cannot be grounded is dropped with a note, but a
// filter, aggregation, group_by or order_by that cannot be grounded rejects
// the whole candidate since dropping it would change which rows come back.
// An empty query means the candidate was rejected or nothing survived.
func (tr *Translator) repair(candidate models.StructuredQuery, g *grounding) (models.StructuredQuery, []string) {
	var (
		notes    []string
		rejected bool
	)
	reject := func(format string, args ...any) {
		notes = append(notes, fmt.Sprintf(format, args...))
		rejected = true
	}
	fix := func(field, role string) (string, bool) {
		if norm, ok := g.normalize(field); ok {
			return norm, true
		}
		if alt, ok := tr.lexicon.resolveTerm(field, g); ok {
			notes = append(notes, fmt.Sprintf("rewrote unknown %s field %q to %s", role, field, alt))
			return alt, true
		}
		return "", false
	}

	var selects []string
	for _, f := range candidate.Select {
		if norm, ok := fix(f, "select"); ok {
			selects = appendUnique(selects, norm)
		} else {
			notes = append(notes, fmt.Sprintf("dropped unknown select field %q", f))
		}
	}

	var agg *models.Aggregation
	if candidate.Aggregation != nil {
		norm, ok := fix(candidate.Aggregation.Field, "aggregation")
		if !ok {
			reject("unknown aggregation field %q", candidate.Aggregation.Field)
		} else {
			agg = &models.Aggregation{Function: strings.ToLower(strings.TrimSpace(candidate.Aggregation.Function)), Field: norm}
			for _, gb := range candidate.Aggregation.GroupBy {
				n, ok := fix(gb, "group_by")
				switch {
				case !ok:
					reject("unknown group_by field %q", gb)
				case n == models.FieldLocation:
					reject("cannot group by %s", n)
				default:
					agg.GroupBy = appendUnique(agg.GroupBy, n)
				}
			}
		}
	}

	filters := make([]models.Filter, 0, len(candidate.Filters))
	for _, f := range candidate.Filters {
		if norm, ok := fix(f.Field, "filter"); ok {
			filters = append(filters, models.Filter{Field: norm, Op: strings.ToLower(strings.TrimSpace(f.Op)), Value: f.Value})
		} else {
			reject("unknown filter field %q", f.Field)
		}
	}

	var order *models.OrderBy
	if candidate.OrderBy != nil && candidate.OrderBy.Field != "" {
		if norm, ok := fix(candidate.OrderBy.Field, "order_by"); ok {
			order = &models.OrderBy{Field: norm, Descending: candidate.OrderBy.Descending}
		} else {
			reject("unknown order_by field %q", candidate.OrderBy.Field)
		}
	}
	if rejected {
		return models.StructuredQuery{}, notes
	}

	entity := primaryEntity(selects, agg, filters)
	if entity == "" {
		return models.StructuredQuery{}, append(notes, "no entity field survived validation")
	}
	dims := g.universal[entity]
	inScope := func(field string) bool {
		if models.IsUniversalField(field) {
			return dims[field]
		}
		return entityOf(field) == entity
	}

	out := models.StructuredQuery{}
	if agg != nil {
		switch {
		case !aggregateFunctions[agg.Function]:
			reject("unsupported aggregation function %q", agg.Function)
		case !inScope(agg.Field):
			reject("aggregation on %s is not available on %s", agg.Field, entity)
		case agg.Function != "count" && !tr.numeric(agg.Field):
			reject("aggregation %s(%s) needs a numeric field", agg.Function, agg.Field)
		}
		for _, gb := range agg.GroupBy {
			if !inScope(gb) {
				reject("group_by %s is not available on %s", gb, entity)
			}
		}
		out.Aggregation = agg
	}

	for _, f := range selects {
		switch {
		case !inScope(f):
			notes = append(notes, fmt.Sprintf("dropped select %s: not available on %s", f, entity))
		case agg != nil && f != agg.Field && !slices.Contains(agg.GroupBy, f):
			notes = append(notes, fmt.Sprintf("dropped select %s: neither aggregated nor grouped", f))
		default:
			out.Select = append(out.Select, f)
		}
	}
	if agg != nil {
		out.Select = appendUnique(out.Select, agg.Field)
	}

	for _, f := range filters {
		if !inScope(f.Field) {
			reject("filter on %s is not available on %s", f.Field, entity)
			continue
		}
		checked, err := tr.checkFilter(f)
		if err != nil {
			reject("invalid filter on %s: %v", f.Field, err)
			continue
		}
		out.Filters = append(out.Filters, checked)
	}

	if order != nil {
		if inScope(order.Field) && order.Field != models.FieldLocation {
			out.OrderBy = order
		} else {
			reject("cannot order by %s", order.Field)
		}
	}
	if rejected {
		return models.StructuredQuery{}, notes
	}

	switch {
	case candidate.Limit < 0:
		notes = append(notes, "dropped negative limit")
	default:
		out.Limit = candidate.Limit
	}

	if out.Empty() {
		return models.StructuredQuery{}, append(notes, "nothing selectable survived validation")
	}
	return out, notes
}

func primaryEntity(selects []string, agg *models.Aggregation, filters []models.Filter) string {
	for _, f := range selects {
		if e := entityOf(f); e != "" {
			return e
		}
	}
	if agg != nil {
		if e := entityOf(agg.Field); e != "" {
			return e
		}
	}
	for _, f := range filters {
		if e := entityOf(f.Field); e != "" {
			return e
		}
	}
	return ""
}

func (tr *Translator) numeric(field string) bool {
	if field == models.FieldDepth {
		return true
	}
	typ, _ := tr.store.FieldType(field)
	return typ == "float" || typ == "int"
}

func (tr *Translator) checkFilter(f models.Filter) (models.Filter, error) {
	typ, ok := tr.store.FieldType(f.Field)
	if !ok {
		return f, fmt.Errorf("unknown field")
	}

	switch typ {
	case models.FieldLocation:
		if f.Op != models.OpWithin {
			return f, fmt.Errorf("location only supports %q", models.OpWithin)
		}
		box, err := toBBox(f.Value)
		if err != nil {
			return f, err
		}
		f.Value = []float64{box.MinLon, box.MinLat, box.MaxLon, box.MaxLat}
		return f, nil
	case models.FieldTime, "timestamp":
		if !comparisonOps[f.Op] || f.Op == models.OpNeq {
			return f, fmt.Errorf("unsupported time operator %q", f.Op)
		}
		s, ok := f.Value.(string)
		if !ok {
			return f, fmt.Errorf("time value must be a string")
		}
		if _, err := utils.ResolveTime(s, validationEpoch); err != nil {
			return f, err
		}
		f.Value = strings.TrimSpace(s)
		return f, nil
	case models.FieldDepth, "float", "int":
		if !comparisonOps[f.Op] {
			return f, fmt.Errorf("unsupported numeric operator %q", f.Op)
		}
		v, err := toFloat(f.Value)
		if err != nil {
			return f, err
		}
		if f.Field == models.FieldDepth && v < 0 {
			v = -v
		}
		f.Value = v
		return f, nil
	case "string":
		if f.Op != models.OpEq && f.Op != models.OpNeq {
			return f, fmt.Errorf("unsupported text operator %q", f.Op)
		}
		switch v := f.Value.(type) {
		case string:
			f.Value = v
		case float64:
			f.Value = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			return f, fmt.Errorf("text value must be a string")
		}
		return f, nil
	}
	return f, fmt.Errorf("unsupported field type %q", typ)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("value %v is not numeric", v)
}

func toBBox(v any) (models.BoundingBox, error) {
	var nums []float64
	switch arr := v.(type) {
	case []float64:
		nums = arr
	case []any:
		for _, item := range arr {
			f, err := toFloat(item)
			if err != nil {
				return models.BoundingBox{}, err
			}
			nums = append(nums, f)
		}
	case map[string]any:
		for _, k := range []string{"min_lon", "min_lat", "max_lon", "max_lat"} {
			f, err := toFloat(arr[k])
			if err != nil {
				return models.BoundingBox{}, fmt.Errorf("bounding box %s: %w", k, err)
			}
			nums = append(nums, f)
		}
	default:
		return models.BoundingBox{}, fmt.Errorf("bounding box must be [min_lon, min_lat, max_lon, max_lat]")
	}
	if len(nums) != 4 {
		return models.BoundingBox{}, fmt.Errorf("bounding box needs 4 numbers, got %d", len(nums))
	}
	box := models.BoundingBox{MinLon: nums[0], MinLat: nums[1], MaxLon: nums[2], MaxLat: nums[3]}
	if err := box.Validate(); err != nil {
		return models.BoundingBox{}, err
	}
	return box, nil
}
