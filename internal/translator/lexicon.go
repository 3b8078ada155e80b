package translator

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oceanstack/argo-insight/internal/models"
)

//go:embed lexicon.yaml
var defaultLexicon []byte

// Lexicon holds keyword heuristics for deterministic query rewrites.
type Lexicon struct {
	Values       []ValueRule         `yaml:"values"`
	Variables    []VariableRule      `yaml:"variables"`
	Aggregations map[string][]string `yaml:"aggregations"`
	Regions      []Region            `yaml:"regions"`
	TimePhrases  []TimePhrase        `yaml:"time_phrases"`
}

// ValueRule maps phrases to an equality filter on a categorical field.
type ValueRule struct {
	Keywords []string `yaml:"keywords"`
	Field    string   `yaml:"field"`
	Value    string   `yaml:"value"`
}

// VariableRule maps phrases to candidate fields, in order of preference.
type VariableRule struct {
	Keywords []string `yaml:"keywords"`
	Fields   []string `yaml:"fields"`
}

// Region is a named bounding box [min_lon, min_lat, max_lon, max_lat].
type Region struct {
	Name string     `yaml:"name"`
	BBox [4]float64 `yaml:"bbox"`
}

// TimePhrase maps a phrase to a relative lower time bound.
type TimePhrase struct {
	Phrase string `yaml:"phrase"`
	From   string `yaml:"from"`
}

// LoadLexicon reads lexicon YAML from path, falling back to the built-in
// lexicon when path is empty or does not exist.
func LoadLexicon(path string, logger *slog.Logger) (*Lexicon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data := defaultLexicon
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Warn("lexicon file not found, using built-in lexicon", slog.String("path", path))
		case err != nil:
			return nil, fmt.Errorf("read lexicon: %w", err)
		default:
			data = raw
		}
	}
	return ParseLexicon(data)
}

// ParseLexicon parses lexicon YAML and orders every keyword list longest first.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var lx Lexicon
	if err := yaml.Unmarshal(data, &lx); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}
	for i := range lx.Values {
		sortLongestFirst(lx.Values[i].Keywords)
	}
	for i := range lx.Variables {
		sortLongestFirst(lx.Variables[i].Keywords)
	}
	for fn := range lx.Aggregations {
		sortLongestFirst(lx.Aggregations[fn])
	}
	for _, r := range lx.Regions {
		bbox := models.BoundingBox{MinLon: r.BBox[0], MinLat: r.BBox[1], MaxLon: r.BBox[2], MaxLat: r.BBox[3]}
		if err := bbox.Validate(); err != nil {
			return nil, fmt.Errorf("region %s: %w", r.Name, err)
		}
	}
	return &lx, nil
}

func sortLongestFirst(words []string) {
	sort.SliceStable(words, func(i, j int) bool { return len(words[i]) > len(words[j]) })
}

// text is a normalised question with consumable phrase matching.
type text struct {
	padded string
}

var nonWord = regexp.MustCompile(`[^a-z0-9.\-]+`)

func newText(question string) *text {
	words := strings.Fields(nonWord.ReplaceAllString(strings.ToLower(question), " "))
	kept := words[:0]
	for _, w := range words {
		if w = strings.Trim(w, ".-"); w != "" {
			kept = append(kept, w)
		}
	}
	return &text{padded: " " + strings.Join(kept, " ") + " "}
}

// find returns the position of phrase as whole words, or -1.
func (t *text) find(phrase string) int {
	return strings.Index(t.padded, " "+phrase+" ")
}

// consume blanks out the first occurrence of phrase so later rules cannot reuse it.
func (t *text) consume(phrase string) int {
	idx := t.find(phrase)
	if idx < 0 {
		return -1
	}
	blank := strings.Repeat("_", len(phrase))
	t.padded = t.padded[:idx+1] + blank + t.padded[idx+1+len(phrase):]
	return idx
}

func (t *text) contains(phrases ...string) bool {
	for _, p := range phrases {
		if t.find(p) >= 0 {
			return true
		}
	}
	return false
}

// resolveTerm maps a free-form field name onto the first grounded candidate field.
func (lx *Lexicon) resolveTerm(term string, g *grounding) (string, bool) {
	name := term
	if _, field, ok := strings.Cut(term, "."); ok {
		name = field
	}
	t := newText(strings.NewReplacer("_", " ", "-", " ").Replace(name))
	for _, rule := range lx.Variables {
		for _, kw := range rule.Keywords {
			if t.find(kw) < 0 {
				continue
			}
			for _, field := range rule.Fields {
				if g.has(field) {
					return field, true
				}
			}
		}
	}
	return "", false
}

type match struct {
	pos   int
	field string
	value string
}

var (
	depthPattern = regexp.MustCompile(`(?:(below|deeper than|greater than|more than|beneath|under|above|shallower than|less than|upper|top|at|around|near)\s+)?(\d+(?:\.\d+)?)\s*(?:m|meters?|metres?|dbar)(?:\s|$)`)
	yearPattern  = regexp.MustCompile(`(?:^|\s)(?:in|during)\s+((?:19|20)\d{2})(?:\s|$)`)
	lastNPattern = regexp.MustCompile(`(?:last|past)\s+(\d{1,3})\s+(hours?|days?|weeks?|months?|years?)`)
	topNPattern  = regexp.MustCompile(`(?:top|first|latest)\s+(\d{1,4})(?:\s|$)`)
	floatPattern = regexp.MustCompile(`(?:float|platform|wmo)\s+(?:number\s+|id\s+)?(\d{7})(?:\s|$)`)
)

// derive builds a structured query from the question alone using the
// lexicon, restricted to grounded fields. notes describe each decision.
func (lx *Lexicon) derive(question string, g *grounding) (models.StructuredQuery, []string) {
	t := newText(question)
	var q models.StructuredQuery
	var notes []string

	var valueFilters []match
	for _, rule := range lx.Values {
		if !g.has(rule.Field) {
			continue
		}
		for _, kw := range rule.Keywords {
			if pos := t.consume(kw); pos >= 0 {
				valueFilters = append(valueFilters, match{pos: pos, field: rule.Field, value: rule.Value})
				notes = append(notes, fmt.Sprintf("%q -> %s = %s", kw, rule.Field, rule.Value))
				break
			}
		}
	}

	// Aggregation words may double as variable keywords ("warmest"), so they
	// are read before variables consume them.
	aggFn, aggKw := lx.aggregation(t)

	var floatID string
	if m := floatPattern.FindStringSubmatch(t.padded); m != nil {
		floatID = m[1]
	}

	var variables []match
	for _, rule := range lx.Variables {
		for _, kw := range rule.Keywords {
			pos := t.find(kw)
			if pos < 0 {
				continue
			}
			field := ""
			for _, candidate := range rule.Fields {
				if g.has(candidate) {
					field = candidate
					break
				}
			}
			if field == "" {
				continue
			}
			t.consume(kw)
			variables = append(variables, match{pos: pos, field: field})
			notes = append(notes, fmt.Sprintf("%q -> %s", kw, field))
			break
		}
	}
	sort.SliceStable(variables, func(i, j int) bool { return variables[i].pos < variables[j].pos })
	sort.SliceStable(valueFilters, func(i, j int) bool { return valueFilters[i].pos < valueFilters[j].pos })

	entity := ""
	switch {
	case len(variables) > 0 && (len(valueFilters) == 0 || variables[0].pos <= valueFilters[0].pos):
		entity = entityOf(variables[0].field)
	case len(valueFilters) > 0:
		entity = entityOf(valueFilters[0].field)
	}
	if entity == "" {
		return models.StructuredQuery{}, append(notes, "no grounded variable recognised in the question")
	}

	for _, v := range variables {
		if entityOf(v.field) != entity {
			notes = append(notes, fmt.Sprintf("dropped %s: outside entity %s", v.field, entity))
			continue
		}
		q.Select = appendUnique(q.Select, v.field)
	}
	for _, v := range valueFilters {
		if entityOf(v.field) != entity {
			notes = append(notes, fmt.Sprintf("dropped filter on %s: outside entity %s", v.field, entity))
			continue
		}
		q.Filters = append(q.Filters, models.Filter{Field: v.field, Op: models.OpEq, Value: v.value})
		if len(variables) == 0 {
			q.Select = appendUnique(q.Select, v.field)
		}
	}
	if floatID != "" && g.has(entity+".float_id") {
		q.Filters = append(q.Filters, models.Filter{Field: entity + ".float_id", Op: models.OpEq, Value: floatID})
		notes = append(notes, fmt.Sprintf("float %s -> %s.float_id", floatID, entity))
	}

	supports := g.universal[entity]

	if aggFn != "" && len(q.Select) > 0 {
		q.Aggregation = &models.Aggregation{Function: aggFn, Field: q.Select[0]}
		notes = append(notes, fmt.Sprintf("%q -> %s(%s)", aggKw, strings.ToUpper(aggFn), q.Select[0]))
	}

	if supports[models.FieldDepth] {
		if f, note, ok := depthFilter(t); ok {
			q.Filters = append(q.Filters, f)
			notes = append(notes, note)
		}
	}

	if supports[models.FieldLocation] {
		for _, r := range lx.Regions {
			if t.consume(r.Name) >= 0 {
				q.Filters = append(q.Filters, models.Filter{Field: models.FieldLocation, Op: models.OpWithin, Value: []float64{r.BBox[0], r.BBox[1], r.BBox[2], r.BBox[3]}})
				notes = append(notes, fmt.Sprintf("%q -> location within %v", r.Name, r.BBox))
				break
			}
		}
	}

	if supports[models.FieldTime] {
		q.Filters = append(q.Filters, lx.timeFilters(t, &notes)...)
	}

	if q.Aggregation == nil {
		switch {
		case supports[models.FieldTime] && t.contains("trend", "over time", "time series", "timeseries", "evolution", "history"):
			q.Select = appendUnique(q.Select, models.FieldTime)
			q.OrderBy = &models.OrderBy{Field: models.FieldTime}
		case supports[models.FieldDepth] && t.contains("profile", "profiles", "by depth", "vertical", "versus depth", "vs depth"):
			q.Select = appendUnique(q.Select, models.FieldDepth)
			q.OrderBy = &models.OrderBy{Field: models.FieldDepth}
		}
		if supports[models.FieldLocation] && t.contains("map", "where", "distribution", "locations") {
			q.Select = appendUnique(q.Select, models.FieldLocation)
		}
	}
	if m := topNPattern.FindStringSubmatch(t.padded); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			q.Limit = n
		}
	}
	return q, notes
}

func (lx *Lexicon) aggregation(t *text) (string, string) {
	best, bestKw, bestPos := "", "", -1
	fns := make([]string, 0, len(lx.Aggregations))
	for fn := range lx.Aggregations {
		fns = append(fns, fn)
	}
	sort.Strings(fns)
	for _, fn := range fns {
		for _, kw := range lx.Aggregations[fn] {
			if pos := t.find(kw); pos >= 0 && (bestPos < 0 || pos < bestPos) {
				best, bestKw, bestPos = fn, kw, pos
			}
		}
	}
	return best, bestKw
}

func depthFilter(t *text) (models.Filter, string, bool) {
	if m := depthPattern.FindStringSubmatch(t.padded); m != nil {
		value, err := strconv.ParseFloat(m[2], 64)
		if err == nil {
			op := models.OpEq
			switch m[1] {
			case "below", "deeper than", "greater than", "more than", "beneath", "under":
				op = models.OpGte
			case "above", "shallower than", "less than", "upper", "top":
				op = models.OpLte
			}
			return models.Filter{Field: models.FieldDepth, Op: op, Value: value},
				fmt.Sprintf("%q -> depth %s %g", strings.TrimSpace(m[0]), op, value), true
		}
	}
	if t.contains("surface", "near surface", "near-surface") {
		return models.Filter{Field: models.FieldDepth, Op: models.OpLte, Value: 10.0}, `"surface" -> depth <= 10`, true
	}
	return models.Filter{}, "", false
}

func (lx *Lexicon) timeFilters(t *text, notes *[]string) []models.Filter {
	if m := lastNPattern.FindStringSubmatch(t.padded); m != nil {
		unit := map[byte]string{'h': "h", 'd': "d", 'w': "w", 'm': "M", 'y': "y"}[m[2][0]]
		token := "now-" + m[1] + unit
		*notes = append(*notes, fmt.Sprintf("%q -> time >= %s", m[0], token))
		return []models.Filter{{Field: models.FieldTime, Op: models.OpGte, Value: token}}
	}
	for _, p := range lx.TimePhrases {
		if t.consume(p.Phrase) >= 0 {
			*notes = append(*notes, fmt.Sprintf("%q -> time >= %s", p.Phrase, p.From))
			return []models.Filter{{Field: models.FieldTime, Op: models.OpGte, Value: p.From}}
		}
	}
	if m := yearPattern.FindStringSubmatch(t.padded); m != nil {
		year, _ := strconv.Atoi(m[1])
		from := fmt.Sprintf("%04d-01-01T00:00:00Z", year)
		to := fmt.Sprintf("%04d-01-01T00:00:00Z", year+1)
		*notes = append(*notes, fmt.Sprintf("%q -> %s <= time < %s", strings.TrimSpace(m[0]), from, to))
		return []models.Filter{
			{Field: models.FieldTime, Op: models.OpGte, Value: from},
			{Field: models.FieldTime, Op: models.OpLt, Value: to},
		}
	}
	return nil
}

func entityOf(field string) string {
	entity, _, ok := strings.Cut(field, ".")
	if !ok {
		return ""
	}
	return entity
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
