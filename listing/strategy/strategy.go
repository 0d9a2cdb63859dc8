package strategy

import (
	"strings"

	"github.com/constructa/listquery/listing/schema"
)

// Strategy is how the candidate set of a request is resolved
type Strategy int

const (
	// Standard applies filters and search to the parent table only
	Standard Strategy = iota
	// NestedTableItemSearch searches child table rows for every search token
	NestedTableItemSearch
	// NestedTablePendingFilter keeps parents with a pending child table row
	NestedTablePendingFilter
	// EmbeddedJSONItemSearch searches elements of the embedded JSON array
	EmbeddedJSONItemSearch
	// EmbeddedJSONPendingFilter keeps parents with a pending embedded element
	EmbeddedJSONPendingFilter
)

func (s Strategy) String() string {
	switch s {
	case NestedTableItemSearch:
		return "nested_table_item_search"
	case NestedTablePendingFilter:
		return "nested_table_pending_filter"
	case EmbeddedJSONItemSearch:
		return "embedded_json_item_search"
	case EmbeddedJSONPendingFilter:
		return "embedded_json_pending_filter"
	default:
		return "standard"
	}
}

// IsItemSearch reports whether the search term is matched in phase 2
func (s Strategy) IsItemSearch() bool {
	return s == NestedTableItemSearch || s == EmbeddedJSONItemSearch
}

// IsPending reports whether s filters on pending child records
func (s Strategy) IsPending() bool {
	return s == NestedTablePendingFilter || s == EmbeddedJSONPendingFilter
}

// Params are the request flags that drive strategy selection
type Params struct {
	SearchTerm          string
	SearchTargetField   string
	IsItemSearch        bool
	RequirePendingItems bool
}

// Selection is the chosen strategy and the collection it works on.
// Collection is nil for Standard.
type Selection struct {
	Strategy   Strategy
	Collection *schema.Collection
}

// Select picks the first matching strategy in precedence order: child
// table item search, child table pending filter, embedded item search,
// embedded pending filter, then Standard.
func Select(entity *schema.EntityType, p Params) Selection {
	hasTerm := strings.TrimSpace(p.SearchTerm) != ""
	itemSearch := p.IsItemSearch && hasTerm

	if itemSearch {
		if c, ok := entity.NormalizedCollection(p.SearchTargetField); ok && len(c.SearchableFields) > 0 {
			return Selection{Strategy: NestedTableItemSearch, Collection: c}
		}
	}

	if p.RequirePendingItems {
		if c, ok := entity.PendingCollection(); ok {
			return Selection{Strategy: NestedTablePendingFilter, Collection: c}
		}
	}

	embedded, hasEmbedded := entity.EmbeddedCollection()

	if itemSearch && hasEmbedded && embedded.SearchKey != "" && embedded.Matches(p.SearchTargetField) {
		return Selection{Strategy: EmbeddedJSONItemSearch, Collection: embedded}
	}

	if p.RequirePendingItems && hasEmbedded && embedded.StatusField != "" {
		return Selection{Strategy: EmbeddedJSONPendingFilter, Collection: embedded}
	}

	return Selection{Strategy: Standard}
}

// Tokens splits a search term on whitespace
func Tokens(term string) []string {
	return strings.Fields(term)
}
