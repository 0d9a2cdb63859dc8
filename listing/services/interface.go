package services

import (
	"context"

	"github.com/constructa/listquery/internal/types"
	"github.com/constructa/listquery/listing/models"
)

// ListService defines the read operations of the list engine
type ListService interface {
	// ListWithCount returns one page of an entity type together with the
	// total count and the requested aggregates over the same candidate set
	ListWithCount(ctx context.Context, req *models.ListRequest, user *types.UserContext) (*models.ListResponse, error)

	// FacetValues returns the distinct values of one field, with counts,
	// under the request's filters minus those on the field itself
	FacetValues(ctx context.Context, req *models.FacetRequest, user *types.UserContext) (*models.FacetResponse, error)

	// Entities returns the entity types the user may list
	Entities(ctx context.Context, user *types.UserContext) (*models.EntitiesResponse, error)
}
