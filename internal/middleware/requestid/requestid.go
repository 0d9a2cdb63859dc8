package requestid

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofrs/uuid"

	"github.com/constructa/listquery/internal/pkg/log"
	"github.com/constructa/listquery/internal/types"
)

// ContextKeyRequestID is the fiber Locals key for the request id
const ContextKeyRequestID = "request_id"

// maxIncomingLength caps client supplied ids before they reach the logs
const maxIncomingLength = 128

// New tags every request with an id. A well-formed incoming X-Request-ID is
// reused, anything else is replaced by a fresh UUID. The id is echoed in the
// response and carried on the user context so service logs include it.
func New() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(types.HeaderRequestID)
		if !acceptable(requestID) {
			requestID = uuid.Must(uuid.NewV4()).String()
		}

		c.Locals(ContextKeyRequestID, requestID)
		c.SetUserContext(log.WithRequestID(c.UserContext(), requestID))
		c.Set(types.HeaderRequestID, requestID)
		return c.Next()
	}
}

func acceptable(id string) bool {
	if id == "" || len(id) > maxIncomingLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return false
		}
	}
	return true
}

// GetRequestID returns the id New stored for c, or ""
func GetRequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals(ContextKeyRequestID).(string); ok {
		return id
	}
	return ""
}
