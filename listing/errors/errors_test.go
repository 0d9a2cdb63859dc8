package errors_test

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	listingErrors "github.com/constructa/listquery/listing/errors"
)

func TestListingError(t *testing.T) {
	err := listingErrors.NewInvalidInput("unknown field %q", "total")
	assert.True(t, errors.Is(err, listingErrors.ErrInvalidInput))
	assert.Equal(t, `unknown field "total"`, err.Details)
	assert.Contains(t, err.Error(), listingErrors.CodeInvalidInput)

	cause := errors.New("pq: relation does not exist")
	fetch := listingErrors.NewFetchFailed(cause)
	assert.True(t, errors.Is(fetch, listingErrors.ErrFetchFailed))
	assert.Contains(t, fetch.Error(), "relation does not exist")
}

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"UnknownEntity", listingErrors.NewUnknownEntity("Invoice"), 400, listingErrors.CodeUnknownEntity},
		{"InvalidInput", listingErrors.NewInvalidInput("bad"), 400, listingErrors.CodeInvalidInput},
		{"PermissionDenied", listingErrors.NewPermissionDenied("Order"), 403, listingErrors.CodePermissionDenied},
		{"MissingUser", listingErrors.ErrMissingUserContext, 401, listingErrors.CodeMissingUserContext},
		{"FetchFailed", listingErrors.NewFetchFailed(errors.New("secret dsn")), 500, listingErrors.CodeFetchFailed},
		{"Unexpected", errors.New("boom"), 500, listingErrors.CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error {
				return listingErrors.HandleServiceError(c, tt.err)
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body listingErrors.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantCode, body.Code)
			if tt.wantStatus == 500 {
				assert.Nil(t, body.Details, "internal causes are never echoed")
			}
		})
	}
}

func TestToGRPCStatus(t *testing.T) {
	assert.Nil(t, listingErrors.ToGRPCStatus(nil))
	assert.Equal(t, codes.InvalidArgument, status.Code(listingErrors.ToGRPCStatus(listingErrors.NewUnknownEntity("X"))))
	assert.Equal(t, codes.PermissionDenied, status.Code(listingErrors.ToGRPCStatus(listingErrors.NewPermissionDenied("X"))))
	assert.Equal(t, codes.Unauthenticated, status.Code(listingErrors.ToGRPCStatus(listingErrors.ErrMissingUserContext)))

	st, _ := status.FromError(listingErrors.ToGRPCStatus(listingErrors.NewFetchFailed(errors.New("secret"))))
	assert.Equal(t, codes.Internal, st.Code())
	assert.NotContains(t, st.Message(), "secret")
}
