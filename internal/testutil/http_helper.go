package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/constructa/listquery/internal/types"
)

// requestTimeoutMs keeps app.Test from giving up on slow CI machines
const requestTimeoutMs = 10_000

// HTTPHelper drives a fiber app in tests. A helper built with AsUser
// attaches that bearer token to every request it creates.
type HTTPHelper struct {
	t     *testing.T
	app   *fiber.App
	token string
}

// NewHTTPHelper wraps app for anonymous requests
func NewHTTPHelper(t *testing.T, app *fiber.App) *HTTPHelper {
	require.NotNil(t, app, "fiber app must not be nil")
	return &HTTPHelper{t: t, app: app}
}

// AsUser returns a copy of the helper that authenticates with token
func (h *HTTPHelper) AsUser(token string) *HTTPHelper {
	cp := *h
	cp.token = token
	return &cp
}

// Request is a test request under construction
type Request struct {
	helper  *HTTPHelper
	method  string
	path    string
	query   url.Values
	body    []byte
	headers http.Header
}

// NewRequest starts a request. Bodies that are not []byte or string are
// sent as JSON.
func (h *HTTPHelper) NewRequest(method, path string, body interface{}) *Request {
	req := &Request{helper: h, method: method, path: path, headers: make(http.Header)}
	switch b := body.(type) {
	case nil:
	case []byte:
		req.body = b
	case string:
		req.body = []byte(b)
	default:
		encoded, err := json.Marshal(body)
		require.NoError(h.t, err, "marshal request body")
		req.body = encoded
		req.headers.Set(types.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if h.token != "" {
		req.WithJWTAuth(h.token)
	}
	return req
}

// Post is NewRequest with POST and a JSON body
func (h *HTTPHelper) Post(path string, body interface{}) *Request {
	return h.NewRequest(http.MethodPost, path, body)
}

// Get is NewRequest with GET and no body
func (h *HTTPHelper) Get(path string) *Request {
	return h.NewRequest(http.MethodGet, path, nil)
}

// WithHeader adds a header
func (r *Request) WithHeader(key, value string) *Request {
	r.headers.Add(key, value)
	return r
}

// WithJWTAuth sets an Authorization: Bearer header
func (r *Request) WithJWTAuth(token string) *Request {
	r.headers.Set(types.HeaderAuthorization, types.BearerPrefix+token)
	return r
}

// WithQuery adds a query string parameter; repeat it for multi-valued keys
func (r *Request) WithQuery(key, value string) *Request {
	if r.query == nil {
		r.query = url.Values{}
	}
	r.query.Add(key, value)
	return r
}

// Send executes the request. The caller owns the response body.
func (r *Request) Send() *http.Response {
	target := r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}
	req := httptest.NewRequest(r.method, target, bytes.NewReader(r.body))
	req.Header = r.headers

	resp, err := r.helper.app.Test(req, requestTimeoutMs)
	require.NoError(r.helper.t, err, "app.Test %s %s", r.method, target)
	require.NotNil(r.helper.t, resp)
	return resp
}

// Expect sends the request, requires status and decodes the JSON body
// into v when v is non-nil.
func (r *Request) Expect(status int, v interface{}) {
	r.helper.t.Helper()
	resp := r.Send()
	defer resp.Body.Close()
	require.Equal(r.helper.t, status, resp.StatusCode, "%s %s", r.method, r.path)
	if v != nil {
		require.NoError(r.helper.t, json.NewDecoder(resp.Body).Decode(v), "decode response body")
	}
}

// DecodeJSON decodes the response body into v and closes it
func DecodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v), "decode response body")
}
