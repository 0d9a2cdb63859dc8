package executor

import (
	"strings"

	"github.com/constructa/listquery/listing/models"
	"github.com/constructa/listquery/listing/schema"
	"github.com/constructa/listquery/listing/strategy"
)

// Plan is a normalized request ready for candidate resolution
type Plan struct {
	Entity            *schema.EntityType
	Selection         strategy.Selection
	Clauses           []models.FilterClause
	SearchTerm        string
	SearchTargetField string
}

// Tokens returns the whitespace separated search tokens
func (p *Plan) Tokens() []string {
	return strategy.Tokens(p.SearchTerm)
}

// ParentSearch reports whether the search term is matched against the
// parent table in phase 1. Item search strategies match it in phase 2.
func (p *Plan) ParentSearch() bool {
	return len(p.Tokens()) > 0 && !p.Selection.Strategy.IsItemSearch()
}

// ParentSearchFields returns the parent fields searched in phase 1. A
// search target naming a parent field narrows the search to that field.
func (p *Plan) ParentSearchFields() []schema.Field {
	if p.SearchTargetField != "" {
		if f, ok := p.Entity.Field(p.SearchTargetField); ok {
			return []schema.Field{f}
		}
	}
	out := make([]schema.Field, 0, len(p.Entity.SearchFields))
	for _, name := range p.Entity.SearchFields {
		if f, ok := p.Entity.Field(name); ok {
			out = append(out, f)
		}
	}
	return out
}

// ParentClauses returns the clauses on parent fields
func (p *Plan) ParentClauses() []models.FilterClause {
	var out []models.FilterClause
	for _, c := range p.Clauses {
		if c.EntityType == "" {
			out = append(out, c)
		}
	}
	return out
}

// CollectionClauses groups clauses on collection fields by collection, in
// the entity's collection order
func (p *Plan) CollectionClauses() []CollectionFilter {
	var out []CollectionFilter
	for i := range p.Entity.Collections {
		col := &p.Entity.Collections[i]
		var clauses []models.FilterClause
		for _, c := range p.Clauses {
			if c.EntityType != "" && strings.EqualFold(c.EntityType, col.ChildType) {
				clauses = append(clauses, c)
			}
		}
		if len(clauses) > 0 {
			out = append(out, CollectionFilter{Collection: col, Clauses: clauses})
		}
	}
	return out
}

// CollectionFilter is the set of clauses that one child record must satisfy
type CollectionFilter struct {
	Collection *schema.Collection
	Clauses    []models.FilterClause
}

// CandidateSet is the ordered, duplicate free set of parent identifiers
// matching a request
type CandidateSet struct {
	ids []string
}

// NewCandidateSet builds a set from ids, keeping the first occurrence of each
func NewCandidateSet(ids []string) CandidateSet {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return CandidateSet{ids: out}
}

// IDs returns a copy of the identifiers
func (c CandidateSet) IDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// Len returns the number of identifiers
func (c CandidateSet) Len() int {
	return len(c.ids)
}

// IsEmpty reports whether no parent matched
func (c CandidateSet) IsEmpty() bool {
	return len(c.ids) == 0
}

// restrict keeps the identifiers of c that appear in matched, in c's order
func (c CandidateSet) restrict(matched []string) CandidateSet {
	keep := make(map[string]struct{}, len(matched))
	for _, id := range matched {
		keep[id] = struct{}{}
	}
	out := make([]string, 0, len(matched))
	for _, id := range c.ids {
		if _, ok := keep[id]; ok {
			out = append(out, id)
		}
	}
	return CandidateSet{ids: out}
}
