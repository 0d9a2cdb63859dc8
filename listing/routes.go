package listing

import (
	"github.com/gofiber/fiber/v2"

	authjwt "github.com/constructa/listquery/internal/middleware/authjwt"
	"github.com/constructa/listquery/internal/middleware/ratelimit"
	platformconfig "github.com/constructa/listquery/internal/platform/config"
	"github.com/constructa/listquery/listing/handlers"
)

// ListingHandlers holds all the handlers this router needs.
type ListingHandlers struct {
	ListHandler *handlers.ListHandler
}

// RegisterRoutes is the single entry point for setting up listing routes.
// Every route requires a valid JWT. Queries are rate limited per user when
// QUERY_RATE_LIMIT is set.
func RegisterRoutes(app *fiber.App, handlers *ListingHandlers, cfg *platformconfig.Config) {
	jwtMiddleware := authjwt.New(authjwt.Config{
		PublicKey: cfg.JWT.PublicKey,
		ClaimKey:  cfg.JWT.ClaimKey,
	})

	group := app.Group(cfg.Server.BaseRoute+"/listing", jwtMiddleware)
	if cfg.Query.RateLimit > 0 {
		group.Use(ratelimit.New(ratelimit.Config{
			Max:    cfg.Query.RateLimit,
			Window: cfg.Query.RateLimitWindow,
		}))
	}

	group.Post("/list", handlers.ListHandler.List)
	group.Post("/facets", handlers.ListHandler.Facets)
	group.Get("/facets", handlers.ListHandler.FacetsQuery)
	group.Get("/entities", handlers.ListHandler.Entities)
}
