package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"time"
)

// HTTPClient is an HTTP-only test client that can hit either:
// - An in-process test server (via httptest)
// - An external server (via real HTTP)
//
// This allows the same tests to run against both an in-process build and a
// deployed instance.
type HTTPClient struct {
	// For in-process testing
	inProcessHandler http.Handler

	// For external server testing
	baseURL    string
	httpClient *http.Client
}

// HTTPResponse wraps both httptest.ResponseRecorder and http.Response
// to provide a unified interface for tests.
type HTTPResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// NewHTTPClient creates a new HTTP client.
// If TEST_SERVER_URL env var is set, it uses that for external server testing.
// Otherwise, it requires an in-process handler.
func NewHTTPClient(handler http.Handler) *HTTPClient {
	baseURL := os.Getenv("TEST_SERVER_URL")

	return &HTTPClient{
		inProcessHandler: handler,
		baseURL:          baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewExternalHTTPClient creates a client for external server testing only.
// baseURL should be like "http://localhost:8080".
func NewExternalHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// IsExternal returns true if this client hits an external server.
func (c *HTTPClient) IsExternal() bool {
	return c.baseURL != ""
}

// BaseURL returns the base URL for external servers, or empty for in-process.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Request performs an HTTP request.
func (c *HTTPClient) Request(method, path string, opts ...RequestOption) *HTTPResponse {
	if c.IsExternal() {
		return c.externalRequest(method, path, opts...)
	}
	return c.inProcessRequest(method, path, opts...)
}

func (c *HTTPClient) inProcessRequest(method, path string, opts ...RequestOption) *HTTPResponse {
	req := httptest.NewRequest(method, path, nil)

	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	c.inProcessHandler.ServeHTTP(rec, req)

	return &HTTPResponse{
		StatusCode: rec.Code,
		Body:       rec.Body.Bytes(),
		Headers:    rec.Header(),
	}
}

func (c *HTTPClient) externalRequest(method, path string, opts ...RequestOption) *HTTPResponse {
	url := c.baseURL + path

	// Collect header/body options via a throwaway request, then copy them
	// onto a real outbound one.
	tempReq := httptest.NewRequest(method, path, nil)
	for _, opt := range opts {
		opt(tempReq)
	}

	req, err := http.NewRequest(method, url, tempReq.Body)
	if err != nil {
		return &HTTPResponse{StatusCode: 0, Body: []byte(err.Error())}
	}
	req.ContentLength = tempReq.ContentLength
	for k, v := range tempReq.Header {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &HTTPResponse{StatusCode: 0, Body: []byte(err.Error())}
	}
	defer resp.Body.Close()

	body := make([]byte, 0)
	buf := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if rerr != nil {
			break
		}
	}

	return &HTTPResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
	}
}

// GET performs a GET request.
func (c *HTTPClient) GET(path string, opts ...RequestOption) *HTTPResponse {
	return c.Request(http.MethodGet, path, opts...)
}

// POST performs a POST request.
func (c *HTTPClient) POST(path string, opts ...RequestOption) *HTTPResponse {
	return c.Request(http.MethodPost, path, opts...)
}

// PUT performs a PUT request.
func (c *HTTPClient) PUT(path string, opts ...RequestOption) *HTTPResponse {
	return c.Request(http.MethodPut, path, opts...)
}

// DELETE performs a DELETE request.
func (c *HTTPClient) DELETE(path string, opts ...RequestOption) *HTTPResponse {
	return c.Request(http.MethodDelete, path, opts...)
}

// PATCH performs a PATCH request.
func (c *HTTPClient) PATCH(path string, opts ...RequestOption) *HTTPResponse {
	return c.Request(http.MethodPatch, path, opts...)
}

// JSON unmarshals the response body into v.
func (r *HTTPResponse) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// String returns the response body as a string.
func (r *HTTPResponse) String() string {
	return string(r.Body)
}

// IngestEpisode posts a new episode via the API and returns the decoded
// ingest response.
func (c *HTTPClient) IngestEpisode(groupID, name, content string) (map[string]any, error) {
	resp := c.POST("/episodes", WithJSONBody(map[string]any{
		"group_id": groupID,
		"name":     name,
		"content":  content,
	}))

	if resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("failed to ingest episode: status %d, body: %s", resp.StatusCode, resp.String())
	}

	var result map[string]any
	if err := resp.JSON(&result); err != nil {
		return nil, fmt.Errorf("failed to parse ingest response: %w", err)
	}
	return result, nil
}
