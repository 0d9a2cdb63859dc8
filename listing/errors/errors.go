package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Listing service specific errors
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnknownEntity      = errors.New("unknown entity type")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrFetchFailed        = errors.New("failed to fetch")
	ErrMissingUserContext = errors.New("missing user context")
	ErrInvalidRequestBody = errors.New("invalid request body")
)

// Error codes
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeUnknownEntity      = "UNKNOWN_ENTITY"
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeFetchFailed        = "FETCH_FAILED"
	CodeMissingUserContext = "MISSING_USER_CONTEXT"
	CodeInvalidRequestBody = "INVALID_REQUEST_BODY"
	CodeInternalError      = "INTERNAL_ERROR"
)

// ListingError is a listing error with a code and optional cause
type ListingError struct {
	Code    string
	Message string
	Details string
	Cause   error
}

func (e *ListingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ListingError) Unwrap() error {
	return e.Cause
}

// NewInvalidInput reports a request the engine refuses to execute
func NewInvalidInput(format string, a ...interface{}) *ListingError {
	return &ListingError{
		Code:    CodeInvalidInput,
		Message: "Invalid input",
		Details: fmt.Sprintf(format, a...),
		Cause:   ErrInvalidInput,
	}
}

// NewUnknownEntity reports an entity type missing from the schema registry
func NewUnknownEntity(entity string) *ListingError {
	return &ListingError{
		Code:    CodeUnknownEntity,
		Message: "Unknown entity type",
		Details: entity,
		Cause:   ErrUnknownEntity,
	}
}

// NewPermissionDenied reports a caller without read access to entity
func NewPermissionDenied(entity string) *ListingError {
	return &ListingError{
		Code:    CodePermissionDenied,
		Message: "Permission denied",
		Details: fmt.Sprintf("no read access to %s", entity),
		Cause:   ErrPermissionDenied,
	}
}

// NewFetchFailed wraps a query failure. The cause stays server side.
func NewFetchFailed(cause error) *ListingError {
	return &ListingError{
		Code:    CodeFetchFailed,
		Message: "Failed to fetch",
		Cause:   fmt.Errorf("%w: %v", ErrFetchFailed, cause),
	}
}

// ErrorResponse represents the standardized error response format
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func detailsOf(err error) string {
	var le *ListingError
	if errors.As(err, &le) {
		return le.Details
	}
	return err.Error()
}

// HandleServiceError handles service errors and returns appropriate HTTP responses
func HandleServiceError(c *fiber.Ctx, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrUnknownEntity):
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
			Code:    CodeUnknownEntity,
			Message: "Unknown entity type",
			Details: detailsOf(err),
		})
	case errors.Is(err, ErrInvalidInput):
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
			Code:    CodeInvalidInput,
			Message: "Invalid input",
			Details: detailsOf(err),
		})
	case errors.Is(err, ErrInvalidRequestBody):
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
			Code:    CodeInvalidRequestBody,
			Message: "Invalid request body",
		})
	case errors.Is(err, ErrPermissionDenied):
		return c.Status(http.StatusForbidden).JSON(ErrorResponse{
			Code:    CodePermissionDenied,
			Message: "Permission denied",
			Details: detailsOf(err),
		})
	case errors.Is(err, ErrMissingUserContext):
		return c.Status(http.StatusUnauthorized).JSON(ErrorResponse{
			Code:    CodeMissingUserContext,
			Message: "Missing user context",
		})
	case errors.Is(err, ErrFetchFailed):
		return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
			Code:    CodeFetchFailed,
			Message: "Failed to fetch",
		})
	default:
		return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
			Code:    CodeInternalError,
			Message: "An unexpected error occurred",
		})
	}
}

// HandleInvalidRequestError handles malformed request bodies with 400 Bad Request
func HandleInvalidRequestError(c *fiber.Ctx, message string) error {
	return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
		Code:    CodeInvalidRequestBody,
		Message: message,
		Details: message,
	})
}

// HandleUserContextError handles a request without an authenticated user
func HandleUserContextError(c *fiber.Ctx, message string) error {
	return c.Status(http.StatusUnauthorized).JSON(ErrorResponse{
		Code:    CodeMissingUserContext,
		Message: message,
	})
}

// ToGRPCStatus maps a service error onto a gRPC status error
func ToGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrUnknownEntity), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidRequestBody):
		return status.Error(codes.InvalidArgument, detailsOf(err))
	case errors.Is(err, ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, detailsOf(err))
	case errors.Is(err, ErrMissingUserContext):
		return status.Error(codes.Unauthenticated, "missing user context")
	case errors.Is(err, ErrFetchFailed):
		return status.Error(codes.Internal, "failed to fetch")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
