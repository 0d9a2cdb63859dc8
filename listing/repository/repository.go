// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package repository

import (
	"github.com/constructa/listquery/listing/aggregation"
	"github.com/constructa/listquery/listing/executor"
	"github.com/constructa/listquery/listing/facets"
	"github.com/constructa/listquery/listing/strategy"
)

// ListRepository is the read side of the list engine. It knows how every
// storage shape of the schema registry maps onto SQL.
type ListRepository interface {
	executor.Store
	executor.LabelStore
	aggregation.Store
	facets.Store

	// Resolvers returns the phase 2 resolver of every non-standard strategy
	Resolvers() map[strategy.Strategy]executor.Resolver
}
