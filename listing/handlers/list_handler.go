package handlers

import (
	"net/url"

	"github.com/gofiber/fiber/v2"
	gschema "github.com/gorilla/schema"

	"github.com/constructa/listquery/internal/types"
	"github.com/constructa/listquery/listing/errors"
	"github.com/constructa/listquery/listing/models"
	"github.com/constructa/listquery/listing/services"
)

// ListHandler handles all listing HTTP requests
type ListHandler struct {
	listService services.ListService
	decoder     *gschema.Decoder
}

// NewListHandler creates a new ListHandler with injected dependencies
func NewListHandler(listService services.ListService) *ListHandler {
	decoder := gschema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	return &ListHandler{
		listService: listService,
		decoder:     decoder,
	}
}

// List handles POST /listing/list
func (h *ListHandler) List(c *fiber.Ctx) error {
	var req models.ListRequest
	if err := c.BodyParser(&req); err != nil {
		return errors.HandleInvalidRequestError(c, "Invalid request body")
	}
	if req.EntityType == "" {
		return errors.HandleInvalidRequestError(c, "entity_type is required")
	}

	user, ok := c.Locals(types.UserCtxName).(types.UserContext)
	if !ok {
		return errors.HandleUserContextError(c, "Invalid user context")
	}

	result, err := h.listService.ListWithCount(c.UserContext(), &req, &user)
	if err != nil {
		return errors.HandleServiceError(c, err)
	}
	return c.JSON(result)
}

// Facets handles POST /listing/facets
func (h *ListHandler) Facets(c *fiber.Ctx) error {
	var req models.FacetRequest
	if err := c.BodyParser(&req); err != nil {
		return errors.HandleInvalidRequestError(c, "Invalid request body")
	}
	return h.facets(c, &req)
}

// FacetsQuery handles GET /listing/facets with the request in the query string
func (h *ListHandler) FacetsQuery(c *fiber.Ctx) error {
	values, err := url.ParseQuery(string(c.Request().URI().QueryString()))
	if err != nil {
		return errors.HandleInvalidRequestError(c, "Invalid query string")
	}

	var query models.FacetQuery
	if err := h.decoder.Decode(&query, values); err != nil {
		return errors.HandleInvalidRequestError(c, "Invalid query parameters")
	}
	return h.facets(c, query.ToRequest())
}

func (h *ListHandler) facets(c *fiber.Ctx, req *models.FacetRequest) error {
	if req.EntityType == "" || req.Field == "" {
		return errors.HandleInvalidRequestError(c, "entity_type and field are required")
	}

	user, ok := c.Locals(types.UserCtxName).(types.UserContext)
	if !ok {
		return errors.HandleUserContextError(c, "Invalid user context")
	}

	result, err := h.listService.FacetValues(c.UserContext(), req, &user)
	if err != nil {
		return errors.HandleServiceError(c, err)
	}
	return c.JSON(result)
}

// Entities handles GET /listing/entities
func (h *ListHandler) Entities(c *fiber.Ctx) error {
	user, ok := c.Locals(types.UserCtxName).(types.UserContext)
	if !ok {
		return errors.HandleUserContextError(c, "Invalid user context")
	}

	result, err := h.listService.Entities(c.UserContext(), &user)
	if err != nil {
		return errors.HandleServiceError(c, err)
	}
	return c.JSON(result)
}
