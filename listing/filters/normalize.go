package filters

import (
	"fmt"
	"strings"
	"time"

	"github.com/constructa/listquery/listing/models"
	"github.com/constructa/listquery/listing/schema"
)

var operatorAliases = map[string]string{
	"=":           models.OpEquals,
	"==":          models.OpEquals,
	"eq":          models.OpEquals,
	"equals":      models.OpEquals,
	"!=":          models.OpNotEquals,
	"<>":          models.OpNotEquals,
	"ne":          models.OpNotEquals,
	"<":           models.OpLess,
	">":           models.OpGreater,
	"<=":          models.OpLessEq,
	"=<":          models.OpLessEq,
	">=":          models.OpGreaterEq,
	"=>":          models.OpGreaterEq,
	"like":        models.OpLike,
	"not like":    models.OpNotLike,
	"in":          models.OpIn,
	"not in":      models.OpNotIn,
	"is":          models.OpIs,
	"is not":      "is not",
	"between":     models.OpBetween,
	"not between": models.OpNotBetween,
	"timespan":    models.OpTimespan,
}

// NormalizeOperator maps an operator spelling to its canonical form.
// "is not" is returned as is and folded into "is" by the normalizer.
func NormalizeOperator(op string) (string, bool) {
	key := strings.Join(strings.Fields(strings.ToLower(strings.ReplaceAll(op, "_", " "))), " ")
	canonical, ok := operatorAliases[key]
	return canonical, ok
}

// Normalizer turns raw filters into canonical clauses for one entity type
type Normalizer struct {
	now       func() time.Time
	location  *time.Location
	weekStart time.Weekday
}

// Option configures a Normalizer
type Option func(*Normalizer)

// WithClock sets the time source used to resolve timespans
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithLocation sets the zone date values are interpreted in
func WithLocation(loc *time.Location) Option {
	return func(n *Normalizer) {
		if loc != nil {
			n.location = loc
		}
	}
}

// WithWeekStart sets the first day of a week for week timespans
func WithWeekStart(d time.Weekday) Option {
	return func(n *Normalizer) { n.weekStart = d }
}

// NewNormalizer creates a Normalizer. Weeks start on Monday in UTC by default.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		now:       time.Now,
		location:  time.UTC,
		weekStart: time.Monday,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts raw filters into canonical clauses. Filters on unknown
// fields, with unknown operators or with malformed values are dropped and
// reported. Date values that cannot be coerced pass through unchanged.
func (n *Normalizer) Normalize(entity *schema.EntityType, raw []RawFilter) ([]models.FilterClause, []Diagnostic) {
	var out []models.FilterClause
	var diags []Diagnostic

	for i, rf := range raw {
		draft, reason := toDraft(rf)
		if reason != "" {
			diags = append(diags, Diagnostic{Index: i, Field: draftField(rf), Reason: reason})
			continue
		}

		clauses, reason := n.canonicalize(entity, draft)
		if reason != "" {
			diags = append(diags, Diagnostic{Index: i, Field: draft.Field, Reason: reason})
			continue
		}
		out = append(out, clauses...)
	}
	return out, diags
}

// NormalizeClauses re-normalizes clauses that are already canonical, such
// as an injected permission clause
func (n *Normalizer) NormalizeClauses(entity *schema.EntityType, clauses []models.FilterClause) ([]models.FilterClause, []Diagnostic) {
	return n.Normalize(entity, FromClauses(clauses))
}

// FromClauses wraps canonical clauses as raw tuple filters
func FromClauses(clauses []models.FilterClause) []RawFilter {
	out := make([]RawFilter, len(clauses))
	for i, c := range clauses {
		out[i] = TupleFilter{EntityType: c.EntityType, Field: c.Field, Operator: c.Operator, Value: c.Value}
	}
	return out
}

func draftField(rf RawFilter) string {
	switch f := rf.(type) {
	case TupleFilter:
		return f.Field
	case ColumnFilter:
		return f.ID
	case MapFilter:
		return f.Field
	}
	return ""
}

func toDraft(rf RawFilter) (models.FilterClause, string) {
	switch f := rf.(type) {
	case TupleFilter:
		return models.FilterClause{EntityType: f.EntityType, Field: f.Field, Operator: f.Operator, Value: f.Value}, ""

	case ColumnFilter:
		c := models.FilterClause{Field: f.ID}
		switch v := f.Value.(type) {
		case map[string]interface{}:
			op, _ := v["operator"].(string)
			if op == "" {
				return c, "column filter without operator"
			}
			c.Operator, c.Value = op, v["value"]
		case []interface{}:
			if len(v) == 0 {
				return c, "empty column filter"
			}
			c.Operator, c.Value = models.OpIn, v
		case nil:
			return c, "empty column filter"
		default:
			s := models.FormatValue(v)
			if s == "" {
				return c, "empty column filter"
			}
			if !strings.Contains(s, "%") {
				s = "%" + s + "%"
			}
			c.Operator, c.Value = models.OpLike, s
		}
		return c, ""

	case MapFilter:
		c := models.FilterClause{Field: f.Field, Operator: models.OpEquals, Value: f.Value}
		if list, ok := f.Value.([]interface{}); ok {
			c.Operator = models.OpIn
			if len(list) == 2 {
				if op, isString := list[0].(string); isString {
					if _, known := NormalizeOperator(op); known {
						c.Operator, c.Value = op, list[1]
					}
				}
			}
		}
		return c, ""
	}
	return models.FilterClause{}, fmt.Sprintf("unsupported filter %T", rf)
}

func (n *Normalizer) canonicalize(entity *schema.EntityType, c models.FilterClause) ([]models.FilterClause, string) {
	resolved, ok := entity.Resolve(c.EntityType, c.Field)
	if !ok {
		return nil, "unknown field"
	}
	c.EntityType = ""
	if resolved.Collection != nil {
		c.EntityType = resolved.Collection.ChildType
	}

	op, ok := NormalizeOperator(c.Operator)
	if !ok {
		return nil, fmt.Sprintf("unknown operator %q", c.Operator)
	}
	c.Operator = op

	switch op {
	case "is not":
		c.Operator = models.OpIs
		switch setValue(c.Value) {
		case models.ValueSet, "":
			c.Value = models.ValueNotSet
		case models.ValueNotSet:
			c.Value = models.ValueSet
		default:
			c.Operator = models.OpNotEquals
		}
	case models.OpIs:
		switch setValue(c.Value) {
		case models.ValueSet, "":
			c.Value = models.ValueSet
		case models.ValueNotSet:
			c.Value = models.ValueNotSet
		default:
			c.Operator = models.OpEquals
		}
	case models.OpIn, models.OpNotIn:
		c.Value = toList(c.Value)
	case models.OpBetween, models.OpNotBetween:
		list := toList(c.Value)
		if len(list) != 2 {
			return nil, fmt.Sprintf("%s needs two values", op)
		}
		c.Value = list
	case models.OpLike, models.OpNotLike, models.OpTimespan:
		if c.Value == nil {
			return nil, fmt.Sprintf("%s without value", op)
		}
		c.Value = models.FormatValue(c.Value)
	}

	if resolved.Field.Type.IsTemporal() {
		if clauses, ok := n.coerceTemporal(c, resolved.Field.Type); ok {
			return clauses, ""
		}
		if c.Operator == models.OpTimespan {
			return nil, fmt.Sprintf("unknown timespan %v", c.Value)
		}
	} else if c.Operator == models.OpTimespan {
		return nil, "timespan on a non-date field"
	}
	return []models.FilterClause{c}, ""
}

// setValue returns "set", "not set", "" for empty values, or a marker for
// any other value
func setValue(v interface{}) string {
	if isEmpty(v) {
		return ""
	}
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case models.ValueSet:
			return models.ValueSet
		case models.ValueNotSet:
			return models.ValueNotSet
		}
	}
	return "value"
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

// toList turns a list, a comma separated string or a scalar into a list
func toList(v interface{}) []interface{} {
	switch t := v.(type) {
	case []interface{}:
		return t
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case string:
		var out []interface{}
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	case nil:
		return []interface{}{}
	default:
		return []interface{}{t}
	}
}

// coerceTemporal rewrites a clause on a date or datetime field into its
// canonical form. ok is false when the value cannot be interpreted.
func (n *Normalizer) coerceTemporal(c models.FilterClause, ft schema.FieldType) ([]models.FilterClause, bool) {
	datetime := ft == schema.TypeDatetime
	bound := func(op string, v string) models.FilterClause {
		return models.FilterClause{EntityType: c.EntityType, Field: c.Field, Operator: op, Value: v}
	}
	// lower and upper render the first and last instant a value covers
	lower := func(t time.Time, hasTime bool) string {
		if !datetime {
			return formatDate(t)
		}
		if hasTime {
			return formatDatetime(t)
		}
		return formatDatetime(startOfDay(t))
	}
	upper := func(t time.Time, hasTime bool) string {
		if !datetime {
			return formatDate(t)
		}
		if hasTime {
			return formatDatetime(t)
		}
		return formatDatetime(endOfDay(t))
	}

	switch c.Operator {
	case models.OpTimespan:
		start, end, err := timespanRange(c.Value.(string), n.now().In(n.location), n.weekStart)
		if err != nil {
			return nil, false
		}
		return []models.FilterClause{
			bound(models.OpGreaterEq, lower(start, false)),
			bound(models.OpLessEq, upper(end, false)),
		}, true

	case models.OpIs:
		return []models.FilterClause{c}, true

	case models.OpEquals, models.OpNotEquals:
		t, hasTime, ok := parseDateValue(c.Value, n.location)
		if !ok {
			return nil, false
		}
		if datetime && !hasTime {
			if c.Operator == models.OpEquals {
				return []models.FilterClause{
					bound(models.OpGreaterEq, lower(t, false)),
					bound(models.OpLessEq, upper(t, false)),
				}, true
			}
			c.Operator = models.OpNotBetween
			c.Value = []interface{}{lower(t, false), upper(t, false)}
			return []models.FilterClause{c}, true
		}
		c.Value = lower(t, hasTime)
		return []models.FilterClause{c}, true

	case models.OpGreaterEq, models.OpLess:
		t, hasTime, ok := parseDateValue(c.Value, n.location)
		if !ok {
			return nil, false
		}
		c.Value = lower(t, hasTime)
		return []models.FilterClause{c}, true

	case models.OpLessEq, models.OpGreater:
		t, hasTime, ok := parseDateValue(c.Value, n.location)
		if !ok {
			return nil, false
		}
		c.Value = upper(t, hasTime)
		return []models.FilterClause{c}, true

	case models.OpBetween, models.OpNotBetween:
		list := c.Value.([]interface{})
		from, fromTime, ok1 := parseDateValue(list[0], n.location)
		to, toTime, ok2 := parseDateValue(list[1], n.location)
		if !ok1 || !ok2 {
			return nil, false
		}
		if c.Operator == models.OpBetween {
			return []models.FilterClause{
				bound(models.OpGreaterEq, lower(from, fromTime)),
				bound(models.OpLessEq, upper(to, toTime)),
			}, true
		}
		c.Value = []interface{}{lower(from, fromTime), upper(to, toTime)}
		return []models.FilterClause{c}, true

	case models.OpIn, models.OpNotIn:
		list := c.Value.([]interface{})
		out := make([]interface{}, len(list))
		for i, v := range list {
			t, hasTime, ok := parseDateValue(v, n.location)
			if !ok {
				return nil, false
			}
			out[i] = lower(t, hasTime)
		}
		c.Value = out
		return []models.FilterClause{c}, true
	}

	return nil, false
}
