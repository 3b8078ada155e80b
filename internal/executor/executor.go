// Package executor compiles structured queries into parameterized SQL and
// runs them against the measurement store.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/oceanstack/argo-insight/internal/catalog"
	"github.com/oceanstack/argo-insight/internal/geo"
	"github.com/oceanstack/argo-insight/internal/models"
	"github.com/oceanstack/argo-insight/internal/utils"
)

// RowSource runs a parameterized statement and returns its rows as column maps.
type RowSource interface {
	QueryRows(ctx context.Context, query string, args []any) ([]map[string]any, error)
}

// Compiled is a statement ready for the store. Values only ever travel in Args.
type Compiled struct {
	SQL  string `json:"sql"`
	Args []any  `json:"args"`
	// locations lists result columns holding PostGIS points.
	locations []string
}

// Options bounds execution.
type Options struct {
	MaxRows int
	Timeout time.Duration
	// Now anchors relative time tokens; defaults to time.Now.
	Now func() time.Time
}

// Executor is the query executor adapter.
type Executor struct {
	store  *catalog.Store
	rows   RowSource
	opts   Options
	logger *slog.Logger
}

// New builds an executor. rows may be nil when only compilation is needed.
func New(store *catalog.Store, rows RowSource, opts Options, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = 1000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Executor{store: store, rows: rows, opts: opts, logger: logger}
}

// Execute compiles q and runs it. An empty result is a zero-length slice; a
// store failure wraps utils.ErrExecution and still returns the compiled
// statement so callers can show what was attempted.
func (e *Executor) Execute(ctx context.Context, q models.StructuredQuery) ([]map[string]any, Compiled, error) {
	compiled, err := e.Compile(q)
	if err != nil {
		return nil, Compiled{}, err
	}
	if e.rows == nil {
		return nil, compiled, fmt.Errorf("execute: no store configured: %w", utils.ErrExecution)
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := e.rows.QueryRows(ctx, compiled.SQL, compiled.Args)
	if err != nil {
		return nil, compiled, fmt.Errorf("execute: %w: %w", utils.ErrExecution, err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	for _, row := range rows {
		for _, col := range compiled.locations {
			v, ok := row[col]
			if !ok || v == nil {
				continue
			}
			lat, lon, err := geo.DecodePoint(v)
			if err != nil {
				e.logger.Debug("leaving undecodable location as-is", slog.String("column", col), slog.Any("error", err))
				continue
			}
			row[col] = map[string]float64{"latitude": lat, "longitude": lon}
		}
	}
	e.logger.Debug("structured query executed",
		slog.Int("rows", len(rows)),
		slog.Duration("elapsed", time.Since(start)))
	return rows, compiled, nil
}

// Compile maps q onto the catalog bindings of its entity.
func (e *Executor) Compile(q models.StructuredQuery) (Compiled, error) {
	if q.Empty() {
		return Compiled{}, utils.Invalid("compile", "structured query selects nothing")
	}
	entity := ""
	for _, f := range q.Fields() {
		if ent, _, ok := catalog.SplitField(f); ok {
			entity = ent
			break
		}
	}
	if entity == "" {
		return Compiled{}, fmt.Errorf("compile: query names no entity: %w", utils.ErrSchemaValidation)
	}
	binding, ok := e.store.Binding(entity)
	if !ok {
		return Compiled{}, fmt.Errorf("compile: unknown entity %q: %w", entity, utils.ErrSchemaValidation)
	}

	c := &compiler{binding: binding, now: e.opts.Now()}
	return c.compile(q, e.opts.MaxRows)
}

type compiler struct {
	binding   catalog.Binding
	now       time.Time
	args      []any
	locations []string
}

func (c *compiler) bind(v any) string {
	c.args = append(c.args, v)
	return "$" + strconv.Itoa(len(c.args))
}

func (c *compiler) expr(field string) (string, string, error) {
	if models.IsUniversalField(field) {
		col, ok := c.binding.Universal[field]
		if !ok {
			return "", "", fmt.Errorf("compile: %s has no %s: %w", c.binding.Entity, field, utils.ErrSchemaValidation)
		}
		return col, field, nil
	}
	entity, name, ok := catalog.SplitField(field)
	if !ok || entity != c.binding.Entity {
		return "", "", fmt.Errorf("compile: field %q outside entity %s: %w", field, c.binding.Entity, utils.ErrSchemaValidation)
	}
	col, ok := c.binding.Columns[name]
	if !ok {
		return "", "", fmt.Errorf("compile: unknown field %q: %w", field, utils.ErrSchemaValidation)
	}
	return col, name, nil
}

func (c *compiler) compile(q models.StructuredQuery, maxRows int) (Compiled, error) {
	var (
		cols    []string
		groupBy []string
		aggAs   string
	)
	selectField := func(field string) error {
		col, alias, err := c.expr(field)
		if err != nil {
			return err
		}
		if field == models.FieldLocation {
			c.locations = append(c.locations, alias)
		}
		cols = append(cols, fmt.Sprintf("%s AS %q", col, alias))
		return nil
	}

	if agg := q.Aggregation; agg != nil {
		col, name, err := c.expr(agg.Field)
		if err != nil {
			return Compiled{}, err
		}
		fn := strings.ToUpper(agg.Function)
		switch fn {
		case "AVG", "MIN", "MAX", "SUM", "COUNT":
		default:
			return Compiled{}, fmt.Errorf("compile: unsupported aggregation %q: %w", agg.Function, utils.ErrSchemaValidation)
		}
		grouped := map[string]bool{agg.Field: true}
		for _, gb := range agg.GroupBy {
			if err := selectField(gb); err != nil {
				return Compiled{}, err
			}
			gcol, _, _ := c.expr(gb)
			groupBy = append(groupBy, gcol)
			grouped[gb] = true
		}
		for _, f := range q.Select {
			if !grouped[f] {
				return Compiled{}, fmt.Errorf("compile: select %s is neither aggregated nor grouped: %w", f, utils.ErrSchemaValidation)
			}
		}
		aggAs = strings.ToLower(fn) + "_" + name
		cols = append(cols, fmt.Sprintf("%s(%s) AS %q", fn, col, aggAs))
	} else {
		for _, f := range q.Select {
			if err := selectField(f); err != nil {
				return Compiled{}, err
			}
		}
	}

	var where []string
	for _, f := range q.Filters {
		pred, err := c.predicate(f)
		if err != nil {
			return Compiled{}, err
		}
		where = append(where, pred)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(cols, ", "), c.binding.Source)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if len(groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(groupBy, ", "))
	}
	if ob := q.OrderBy; ob != nil {
		if order, ok := c.orderBy(q, aggAs); ok {
			b.WriteString(" ORDER BY ")
			b.WriteString(order)
			if ob.Descending {
				b.WriteString(" DESC")
			}
		}
	}
	limit := maxRows
	if q.Limit > 0 && q.Limit < limit {
		limit = q.Limit
	}
	fmt.Fprintf(&b, " LIMIT %s", c.bind(limit))

	return Compiled{SQL: b.String(), Args: c.args, locations: c.locations}, nil
}

// orderBy resolves the sort expression. Aggregated queries can only sort by
// the aggregate itself or a grouping field.
func (c *compiler) orderBy(q models.StructuredQuery, aggAs string) (string, bool) {
	field := q.OrderBy.Field
	if agg := q.Aggregation; agg != nil {
		if field == agg.Field {
			return strconv.Quote(aggAs), true
		}
		grouped := false
		for _, gb := range agg.GroupBy {
			grouped = grouped || gb == field
		}
		if !grouped {
			return "", false
		}
	}
	col, _, err := c.expr(field)
	if err != nil || field == models.FieldLocation {
		return "", false
	}
	return col, true
}

var sqlOps = map[string]string{
	models.OpEq: "=", models.OpNeq: "<>", models.OpLt: "<",
	models.OpLte: "<=", models.OpGt: ">", models.OpGte: ">=",
}

func (c *compiler) predicate(f models.Filter) (string, error) {
	col, _, err := c.expr(f.Field)
	if err != nil {
		return "", err
	}

	if f.Op == models.OpWithin {
		if f.Field != models.FieldLocation {
			return "", fmt.Errorf("compile: %q only applies to location: %w", models.OpWithin, utils.ErrSchemaValidation)
		}
		box, err := bbox(f.Value)
		if err != nil {
			return "", err
		}
		polygon, err := geo.BBoxWKT(box)
		if err != nil {
			return "", fmt.Errorf("compile: %w: %w", utils.ErrSchemaValidation, err)
		}
		return fmt.Sprintf("ST_Intersects(%s, ST_GeomFromText(%s, %d))", col, c.bind(polygon), geo.SRID), nil
	}

	op, ok := sqlOps[f.Op]
	if !ok {
		return "", fmt.Errorf("compile: unsupported operator %q: %w", f.Op, utils.ErrSchemaValidation)
	}
	value := f.Value
	if s, isText := value.(string); isText && (f.Field == models.FieldTime || c.isTimestamp(f.Field)) {
		t, err := utils.ResolveTime(s, c.now)
		if err != nil {
			return "", fmt.Errorf("compile: %w: %w", utils.ErrSchemaValidation, err)
		}
		value = t.UTC()
	}
	return fmt.Sprintf("%s %s %s", col, op, c.bind(value)), nil
}

func (c *compiler) isTimestamp(field string) bool {
	_, name, ok := catalog.SplitField(field)
	return ok && c.binding.Types[name] == "timestamp"
}

func bbox(v any) (models.BoundingBox, error) {
	nums, ok := v.([]float64)
	if !ok || len(nums) != 4 {
		return models.BoundingBox{}, fmt.Errorf("compile: location value must be 4 numbers: %w", utils.ErrSchemaValidation)
	}
	return models.BoundingBox{MinLon: nums[0], MinLat: nums[1], MaxLon: nums[2], MaxLat: nums[3]}, nil
}
