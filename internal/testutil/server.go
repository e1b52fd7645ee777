package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/emergent-company/memgraph/internal/citation"
	"github.com/emergent-company/memgraph/internal/config"
	"github.com/emergent-company/memgraph/internal/episodequeue"
	"github.com/emergent-company/memgraph/internal/graphstore"
	"github.com/emergent-company/memgraph/internal/httpapi"
	"github.com/emergent-company/memgraph/internal/mutation"
	"github.com/emergent-company/memgraph/internal/ontology"
	"github.com/emergent-company/memgraph/internal/orchestrator"
	"github.com/emergent-company/memgraph/internal/resolver"
	"github.com/emergent-company/memgraph/internal/search"
	"github.com/emergent-company/memgraph/pkg/apperror"
	"github.com/emergent-company/memgraph/pkg/embeddings"
	"github.com/emergent-company/memgraph/pkg/llm"
)

// TestServer wraps an Echo instance for testing, wired with the same
// collaborator graph as cmd/server/main.go but without live model calls:
// embeddings come from FakeEmbeddingClient, and extraction goes to the
// caller's llm.Provider or, when none is given, to an unconfigured LLM client.
type TestServer struct {
	Echo   *echo.Echo
	TestDB *TestDB
	DB     bun.IDB
	Config *config.Config
	Log    *slog.Logger
	Queue  *episodequeue.Queue
	Store  *graphstore.Store
}

// NewTestServer creates a test server with all routes registered, with
// extraction calls wired to an unconfigured LLM client (every ingest fails
// extraction, same as before this package gained a provider override).
// Use NewTestServerWithProvider for tests that need episodes to actually
// reach the "done" state.
func NewTestServer(testDB *TestDB) *TestServer {
	return newTestServerWithDB(testDB, testDB.GetDB(), nil)
}

// NewTestServerWithProvider creates a test server whose orchestrator
// extraction calls are served by provider instead of a real LLM client,
// letting integration tests drive ingestion deterministically end to end.
func NewTestServerWithProvider(testDB *TestDB, provider llm.Provider) *TestServer {
	return newTestServerWithDB(testDB, testDB.GetDB(), provider)
}

// newTestServerWithDB creates a test server with a specific DB connection.
// A nil provider falls back to a real llm.Client built against cfg.LLM,
// which NetworkDisabled forces into its "unconfigured" mode.
func newTestServerWithDB(testDB *TestDB, db bun.IDB, provider llm.Provider) *TestServer {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(log)

	bunDB, ok := db.(*bun.DB)
	if !ok {
		bunDB = testDB.DB
	}

	cfg := testDB.Config
	cfg.LLM.NetworkDisabled = true
	cfg.Embeddings.NetworkDisabled = true

	store := graphstore.New(bunDB)
	reg, err := ontology.Load(cfg.Ontology.Path)
	if err != nil {
		reg, _ = ontology.Load("")
	}

	if provider == nil {
		llmClient, err := llm.NewClient(context.Background(), cfg.LLM, log)
		if err != nil {
			panic(err)
		}
		provider = llmClient
	}
	gatedProvider := llm.WithConcurrency(provider, cfg.Queue.LLMSemaphore)

	// A real embedding model is never called in tests, but the vector(768)
	// columns still need non-nil, correctly-dimensioned vectors to insert,
	// so a deterministic fake stands in for the noop client everywhere.
	embedder := embeddings.NewServiceWithClient(NewFakeEmbeddingClient(), log)
	res := resolver.New(store)
	mutator := mutation.New(store)
	citer := citation.New(store)

	orch := orchestrator.New(store, res, gatedProvider, embedder, reg, log)
	queue := episodequeue.New(store, orch, cfg, log)
	engine := search.New(store, embedder, citer)

	handler := httpapi.New(queue, store, engine, mutator, embedder, cfg)
	handler.Register(e)

	return &TestServer{
		Echo:   e,
		TestDB: testDB,
		DB:     db,
		Config: cfg,
		Log:    log,
		Queue:  queue,
		Store:  store,
	}
}

// Request performs an HTTP request against the test server.
func (s *TestServer) Request(method, path string, opts ...RequestOption) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)

	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

// GET performs a GET request.
func (s *TestServer) GET(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodGet, path, opts...)
}

// POST performs a POST request.
func (s *TestServer) POST(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPost, path, opts...)
}

// PUT performs a PUT request.
func (s *TestServer) PUT(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPut, path, opts...)
}

// DELETE performs a DELETE request.
func (s *TestServer) DELETE(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodDelete, path, opts...)
}

// PATCH performs a PATCH request.
func (s *TestServer) PATCH(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPatch, path, opts...)
}

// RequestOption modifies an HTTP request.
type RequestOption func(*http.Request)

// WithHeader adds a header to the request.
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// WithJSON adds a Content-Type: application/json header.
func WithJSON() RequestOption {
	return WithHeader("Content-Type", "application/json")
}

// WithBody adds a raw request body.
func WithBody(body string) RequestOption {
	return func(r *http.Request) {
		r.Body = io.NopCloser(strings.NewReader(body))
		r.ContentLength = int64(len(body))
	}
}

// WithJSONBody sets Content-Type to application/json and marshals body to JSON.
func WithJSONBody(body any) RequestOption {
	return func(r *http.Request) {
		data, err := json.Marshal(body)
		if err != nil {
			panic(err)
		}
		r.Header.Set("Content-Type", "application/json")
		r.Body = io.NopCloser(bytes.NewReader(data))
		r.ContentLength = int64(len(data))
	}
}
