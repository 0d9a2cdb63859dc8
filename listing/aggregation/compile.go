package aggregation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/constructa/listquery/internal/database/postgresql"
	listingErrors "github.com/constructa/listquery/listing/errors"
	"github.com/constructa/listquery/listing/models"
	"github.com/constructa/listquery/listing/schema"
)

// Aggregate functions
const (
	FuncSum   = "SUM"
	FuncAvg   = "AVG"
	FuncCount = "COUNT"
	FuncMin   = "MIN"
	FuncMax   = "MAX"
)

// Expression operations
const (
	OpMin      = "MIN"
	OpMax      = "MAX"
	OpAdd      = "ADD"
	OpSubtract = "SUBTRACT"
	OpMultiply = "MULTIPLY"
	OpDivide   = "DIVIDE"
)

// maxExpressionDepth bounds the nesting of a safe expression
const maxExpressionDepth = 8

var (
	simpleFunctions     = map[string]bool{FuncSum: true, FuncAvg: true, FuncCount: true, FuncMin: true, FuncMax: true}
	expressionFunctions = map[string]bool{FuncSum: true, FuncAvg: true, FuncCount: true}
	expressionOps       = map[string]bool{OpMin: true, OpMax: true, OpAdd: true, OpSubtract: true, OpMultiply: true, OpDivide: true}
)

// Node is a validated expression node: an operation, a field or a literal
type Node struct {
	Op      string
	Args    []*Node
	Field   *schema.Field
	Literal *decimal.Decimal
}

// Compiled is a validated aggregate. Exactly one of Field and Expr is set,
// or neither for COUNT(*).
type Compiled struct {
	Alias    string
	Function string
	Field    *schema.Field
	Expr     *Node
}

// Compile validates aggregate specs against the entity schema. Any unknown
// field, function or operation rejects the whole set.
func Compile(entity *schema.EntityType, specs []models.AggregateSpec) ([]Compiled, error) {
	out := make([]Compiled, 0, len(specs))
	aliases := make(map[string]bool, len(specs))

	for i, spec := range specs {
		fn := strings.ToUpper(strings.TrimSpace(spec.Function))
		c := Compiled{Function: fn}

		if spec.Expression != nil {
			if !expressionFunctions[fn] {
				return nil, listingErrors.NewInvalidInput("aggregate %d: function %q not allowed on an expression", i, spec.Function)
			}
			node, err := compileNode(entity, spec.Expression, 1)
			if err != nil {
				return nil, listingErrors.NewInvalidInput("aggregate %d: %v", i, err)
			}
			c.Expr = node
			c.Alias = spec.Alias
			if c.Alias == "" {
				c.Alias = fmt.Sprintf("%s_expression_%d", strings.ToLower(fn), i)
			}
		} else {
			if !simpleFunctions[fn] {
				return nil, listingErrors.NewInvalidInput("aggregate %d: function %q not allowed", i, spec.Function)
			}
			if spec.Field == "" || spec.Field == "*" {
				if fn != FuncCount {
					return nil, listingErrors.NewInvalidInput("aggregate %d: %s needs a field", i, fn)
				}
			} else {
				f, ok := entity.Field(spec.Field)
				if !ok {
					return nil, listingErrors.NewInvalidInput("aggregate %d: unknown field %q", i, spec.Field)
				}
				if fn != FuncCount && !f.IsNumeric() {
					return nil, listingErrors.NewInvalidInput("aggregate %d: %s needs a numeric field, %q is %s", i, fn, f.Name, f.Type)
				}
				c.Field = &f
			}
			c.Alias = spec.Alias
			if c.Alias == "" {
				c.Alias = strings.ToLower(fn)
				if c.Field != nil {
					c.Alias += "_" + c.Field.Name
				}
			}
		}

		if aliases[c.Alias] {
			return nil, listingErrors.NewInvalidInput("aggregate %d: duplicate alias %q", i, c.Alias)
		}
		aliases[c.Alias] = true
		out = append(out, c)
	}
	return out, nil
}

func compileNode(entity *schema.EntityType, e *models.Expression, depth int) (*Node, error) {
	if depth > maxExpressionDepth {
		return nil, fmt.Errorf("expression nested deeper than %d", maxExpressionDepth)
	}

	switch {
	case e.Function != "":
		op := strings.ToUpper(strings.TrimSpace(e.Function))
		if !expressionOps[op] {
			return nil, fmt.Errorf("operation %q not allowed", e.Function)
		}
		if e.Field != "" || e.Value != nil {
			return nil, fmt.Errorf("operation %s cannot carry a field or value", op)
		}
		switch op {
		case OpMin, OpMax:
			if len(e.Args) < 2 {
				return nil, fmt.Errorf("%s needs at least two arguments", op)
			}
		default:
			if len(e.Args) != 2 {
				return nil, fmt.Errorf("%s needs exactly two arguments", op)
			}
		}
		node := &Node{Op: op}
		for i := range e.Args {
			arg, err := compileNode(entity, &e.Args[i], depth+1)
			if err != nil {
				return nil, err
			}
			node.Args = append(node.Args, arg)
		}
		return node, nil

	case e.Field != "":
		if e.Value != nil || len(e.Args) > 0 {
			return nil, fmt.Errorf("field %q cannot carry a value or arguments", e.Field)
		}
		f, ok := entity.Field(e.Field)
		if !ok {
			return nil, fmt.Errorf("unknown field %q", e.Field)
		}
		if !f.IsNumeric() {
			return nil, fmt.Errorf("field %q is not numeric", e.Field)
		}
		return &Node{Field: &f}, nil

	case e.Value != nil:
		d, err := literal(e.Value)
		if err != nil {
			return nil, err
		}
		return &Node{Literal: &d}, nil
	}

	return nil, fmt.Errorf("empty expression node")
}

func literal(v interface{}) (decimal.Decimal, error) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case json.Number:
		return decimal.NewFromString(t.String())
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("literal %q is not numeric", t)
		}
		return d, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("literal of type %T is not numeric", v)
	}
}

// numericColumn renders a column cast to numeric
func numericColumn(alias string, f *schema.Field) string {
	return fmt.Sprintf("CAST(%s AS numeric)", postgresql.Column(alias, f.ColumnName()))
}

// SQL renders the expression over table alias. Literals are bound to args.
// Null fields count as zero and a zero denominator yields NULL.
func (n *Node) SQL(alias string, args *postgresql.Args) string {
	switch {
	case n.Field != nil:
		return fmt.Sprintf("COALESCE(%s, 0)", numericColumn(alias, n.Field))
	case n.Literal != nil:
		return args.AddCast(n.Literal.String(), "numeric")
	}

	parts := make([]string, len(n.Args))
	for i, a := range n.Args {
		parts[i] = a.SQL(alias, args)
	}

	switch n.Op {
	case OpAdd:
		return fmt.Sprintf("(%s + %s)", parts[0], parts[1])
	case OpSubtract:
		return fmt.Sprintf("(%s - %s)", parts[0], parts[1])
	case OpMultiply:
		return fmt.Sprintf("(%s * %s)", parts[0], parts[1])
	case OpDivide:
		return fmt.Sprintf("(%s / NULLIF(%s, 0))", parts[0], parts[1])
	case OpMin:
		return fmt.Sprintf("LEAST(%s)", strings.Join(parts, ", "))
	case OpMax:
		return fmt.Sprintf("GREATEST(%s)", strings.Join(parts, ", "))
	}
	return "NULL"
}

// SQL renders the aggregate over table alias
func (c Compiled) SQL(alias string, args *postgresql.Args) string {
	switch {
	case c.Expr != nil && c.Function == FuncCount:
		// Rows whose expression divided by zero are not counted; when none
		// remain the aggregate is null like SUM and AVG.
		return fmt.Sprintf("NULLIF(COUNT(%s), 0)", c.Expr.SQL(alias, args))
	case c.Expr != nil:
		return fmt.Sprintf("%s(%s)", c.Function, c.Expr.SQL(alias, args))
	case c.Field == nil:
		return "COUNT(*)"
	case c.Function == FuncCount:
		return fmt.Sprintf("COUNT(%s)", postgresql.Column(alias, c.Field.ColumnName()))
	default:
		return fmt.Sprintf("%s(%s)", c.Function, numericColumn(alias, c.Field))
	}
}

// EmptyValue is the value of c over an empty candidate set
func (c Compiled) EmptyValue() decimal.NullDecimal {
	if c.Function == FuncCount && c.Expr == nil {
		return decimal.NewNullDecimal(decimal.Zero)
	}
	return decimal.NullDecimal{}
}
