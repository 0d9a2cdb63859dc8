// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package interfaces

// Operators understood by the PostgreSQL where-builder.
const (
	OpEq         = "="
	OpDistinct   = "IS DISTINCT FROM"
	OpLt         = "<"
	OpLte        = "<="
	OpGt         = ">"
	OpGte        = ">="
	OpILike      = "ILIKE"
	OpNotILike   = "NOT ILIKE"
	OpAny        = "ANY"
	OpNotAny     = "NOT ANY"
	OpIsNull     = "IS NULL"
	OpIsNotNull  = "IS NOT NULL"
	OpSet        = "SET"
	OpNotSet     = "NOT SET"
	OpBetween    = "BETWEEN"
	OpNotBetween = "NOT BETWEEN"
)

// Condition is a single predicate over an already-rendered column expression.
type Condition struct {
	Expr     string      // Rendered, quoted column expression (e.g. t."status" or (e.value->>'item_code')).
	Operator string      // One of the Op* constants.
	Value    interface{} // Bound value; [2]interface{} for BETWEEN, a driver array for ANY.
	Cast     string      // Optional cast applied to the placeholder (e.g. "numeric", "text[]").
}

// Query is a conjunction of conditions, OR groups and pre-rendered predicates.
// Every OR group must be satisfied by at least one of its members, which is how
// tokenized search works: one group per token, one member per searchable field.
type Query struct {
	Conditions []Condition
	OrGroups   [][]Condition
	Raw        []string // Predicates whose parameters were already bound to the same Args.
}

// IsEmpty reports whether the query has no predicates at all
func (q *Query) IsEmpty() bool {
	return len(q.Conditions) == 0 && len(q.OrGroups) == 0 && len(q.Raw) == 0
}

// And appends a condition
func (q *Query) And(c Condition) {
	q.Conditions = append(q.Conditions, c)
}

// AndAny appends an OR group; an empty group is ignored
func (q *Query) AndAny(group []Condition) {
	if len(group) == 0 {
		return
	}
	q.OrGroups = append(q.OrGroups, group)
}

// AndRaw appends a pre-rendered predicate
func (q *Query) AndRaw(predicate string) {
	if predicate == "" {
		return
	}
	q.Raw = append(q.Raw, predicate)
}
