package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ListRequest is the input of ListWithCount. Filters is kept raw because
// clients send several shapes, including JSON encoded as a string.
type ListRequest struct {
	EntityType          string          `json:"entity_type"`
	Fields              []string        `json:"fields,omitempty"`
	Filters             json.RawMessage `json:"filters,omitempty"`
	OrderBy             string          `json:"order_by,omitempty"`
	Offset              int             `json:"offset"`
	Limit               int             `json:"limit"`
	SearchTerm          string          `json:"search_term,omitempty"`
	SearchTargetField   string          `json:"search_target_field,omitempty"`
	IsItemSearch        bool            `json:"is_item_search"`
	RequirePendingItems bool            `json:"require_pending_items"`
	UseCache            bool            `json:"use_cache"`
	Aggregates          []AggregateSpec `json:"aggregates_spec,omitempty"`
	GroupBy             *GroupBySpec    `json:"group_by_spec,omitempty"`
}

// ListResponse is the output of ListWithCount
type ListResponse struct {
	Data          []map[string]interface{}       `json:"data"`
	TotalCount    int                            `json:"total_count"`
	Aggregates    map[string]decimal.NullDecimal `json:"aggregates,omitempty"`
	GroupByResult []GroupByRow                   `json:"group_by_result,omitempty"`
}

// AggregateSpec is either a simple {field, function} pair or a function
// applied to a safe arithmetic expression.
type AggregateSpec struct {
	Alias      string      `json:"alias,omitempty"`
	Field      string      `json:"field,omitempty"`
	Function   string      `json:"function"`
	Expression *Expression `json:"expression,omitempty"`
}

// Expression is a node of a safe arithmetic expression: an operation with
// arguments, a field reference, or a numeric literal.
type Expression struct {
	Function string       `json:"function,omitempty"`
	Args     []Expression `json:"args,omitempty"`
	Field    string       `json:"field,omitempty"`
	Value    interface{}  `json:"value,omitempty"`
}

// GroupBySpec asks for the top groups of GroupField by an aggregate
type GroupBySpec struct {
	GroupField     string `json:"group_field"`
	AggregateField string `json:"aggregate_field,omitempty"`
	Function       string `json:"function"`
	Limit          int    `json:"limit,omitempty"`
}

// GroupByRow is one group of a group-by result
type GroupByRow struct {
	GroupKey       interface{}         `json:"group_key"`
	GroupLabel     string              `json:"group_label,omitempty"`
	AggregateValue decimal.NullDecimal `json:"aggregate_value"`
}
