package models

import "encoding/json"

// FacetRequest is the input of FacetValues
type FacetRequest struct {
	EntityType        string          `json:"entity_type"`
	Field             string          `json:"field"`
	Filters           json.RawMessage `json:"filters,omitempty"`
	SearchTerm        string          `json:"search_term,omitempty"`
	SearchTargetField string          `json:"search_target_field,omitempty"`
	Limit             int             `json:"limit"`
}

// FacetQuery is FacetRequest as sent in a query string
type FacetQuery struct {
	EntityType        string `schema:"entity_type"`
	Field             string `schema:"field"`
	Filters           string `schema:"filters"`
	SearchTerm        string `schema:"search_term"`
	SearchTargetField string `schema:"search_target_field"`
	Limit             int    `schema:"limit"`
}

// ToRequest converts the query-string form into a FacetRequest
func (q FacetQuery) ToRequest() *FacetRequest {
	req := &FacetRequest{
		EntityType:        q.EntityType,
		Field:             q.Field,
		SearchTerm:        q.SearchTerm,
		SearchTargetField: q.SearchTargetField,
		Limit:             q.Limit,
	}
	if q.Filters != "" {
		req.Filters = json.RawMessage(q.Filters)
	}
	return req
}

// FacetValue is one distinct value with its count
type FacetValue struct {
	Value interface{} `json:"value"`
	Label string      `json:"label"`
	Count int64       `json:"count"`
}

// FacetResponse is the output of FacetValues
type FacetResponse struct {
	Values []FacetValue `json:"values"`
}

// EntitiesResponse lists the registered entity types
type EntitiesResponse struct {
	Entities []string `json:"entities"`
}
