// Package vertex embeds text through the Vertex AI prediction API for the
// knowledge graph's vector columns: entity name+summary embeddings for
// resolver dedup, fact embeddings for edge rows, and query embeddings for
// the hybrid search's vector leg. The requested output dimensionality is
// pinned to the graph schema's vector size so a misconfigured model can
// never produce rows the pgvector columns reject.
package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/oauth2/google"
)

const (
	// DefaultModel is the default embedding model
	DefaultModel = "text-embedding-004"

	// DefaultDimension matches the graph schema's vector(768) columns
	DefaultDimension = 768

	// DefaultMaxRetries is the default number of retries
	DefaultMaxRetries = 3

	// DefaultBaseDelay is the base delay for exponential backoff
	DefaultBaseDelay = 100 * time.Millisecond

	// DefaultMaxDelay is the maximum delay for exponential backoff
	DefaultMaxDelay = 10 * time.Second

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 30 * time.Second

	// DefaultBatchSize is the maximum batch size per request
	DefaultBatchSize = 100
)

// Task types for the embedding API: graph content (entity summaries, fact
// texts) is embedded as documents, search input as queries, so the two
// sides of every kNN comparison sit in the model's intended asymmetric
// retrieval space.
const (
	taskDocument = "RETRIEVAL_DOCUMENT"
	taskQuery    = "RETRIEVAL_QUERY"
)

// Config holds the configuration for the Vertex AI client
type Config struct {
	ProjectID string
	Location  string
	Model     string
	// Dimension is the requested output dimensionality; it must match the
	// graph schema's vector columns (vector_dim in the service config).
	Dimension int
	Timeout   time.Duration
}

// Client is a Vertex AI embeddings client
type Client struct {
	projectID  string
	location   string
	model      string
	dimension  int
	httpClient *http.Client
	tokenSrc   *google.Credentials
	log        *slog.Logger

	// Retry configuration
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithMaxRetries sets the maximum number of retries
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBaseDelay sets the base delay for exponential backoff
func WithBaseDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.baseDelay = d
	}
}

// WithMaxDelay sets the maximum delay for exponential backoff
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithLogger sets the logger
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a new Vertex AI embeddings client
func NewClient(ctx context.Context, cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}
	if cfg.Location == "" {
		return nil, fmt.Errorf("location is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	// Get default credentials
	creds, err := google.FindDefaultCredentials(ctx, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("failed to find default credentials: %w", err)
	}

	c := &Client{
		projectID: cfg.ProjectID,
		location:  cfg.Location,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		tokenSrc:   creds,
		log:        slog.Default(),
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		maxDelay:   DefaultMaxDelay,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// predictRequest is the request body for the predict API
type predictRequest struct {
	Instances  []instance     `json:"instances"`
	Parameters *predictParams `json:"parameters,omitempty"`
}

// predictParams pins the output dimensionality to the graph schema's
// vector size.
type predictParams struct {
	OutputDimensionality int `json:"outputDimensionality"`
}

type instance struct {
	Content  string `json:"content"`
	TaskType string `json:"task_type"`
}

// predictResponse is the response from the predict API
type predictResponse struct {
	Predictions []prediction `json:"predictions"`
}

type prediction struct {
	Embeddings embeddingResult `json:"embeddings"`
}

type embeddingResult struct {
	Values []float32 `json:"values"`
}

// EmbedQuery embeds a single piece of search or resolver input as a
// retrieval query.
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	embeddings, err := c.embedAll(ctx, []string{query}, taskQuery)
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedDocuments embeds graph content (entity summaries, fact texts) as
// retrieval documents.
func (c *Client) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	return c.embedAll(ctx, documents, taskDocument)
}

// embedAll batches texts through the predict API under one task type.
func (c *Client) embedAll(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var all [][]float32
	for i := 0; i < len(texts); i += DefaultBatchSize {
		end := i + DefaultBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		embs, err := c.embedBatch(ctx, texts[i:end], taskType)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d-%d: %w", i, end, err)
		}
		all = append(all, embs...)
	}
	return all, nil
}

// embedBatch embeds a single batch of texts
func (c *Client) embedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	url := fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		c.location, c.projectID, c.location, c.model,
	)

	// Build request
	instances := make([]instance, len(texts))
	for i, text := range texts {
		instances[i] = instance{
			Content:  text,
			TaskType: taskType,
		}
	}

	reqBody := predictRequest{
		Instances:  instances,
		Parameters: &predictParams{OutputDimensionality: c.dimension},
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// Execute with retries
	var resp *predictResponse
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			c.log.Debug("retrying embedding request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, lastErr = c.doRequest(ctx, url, reqBytes)
		if lastErr == nil {
			break
		}

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.log.Warn("embedding request failed",
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all retries exhausted: %w", lastErr)
	}

	embeddings := make([][]float32, len(resp.Predictions))
	for i, pred := range resp.Predictions {
		if err := c.checkDimension(pred.Embeddings.Values); err != nil {
			return nil, err
		}
		embeddings[i] = pred.Embeddings.Values
	}

	return embeddings, nil
}

// checkDimension rejects a returned vector whose size doesn't match the
// graph schema's vector columns; inserting it would fail at the database
// anyway, with a far less actionable error.
func (c *Client) checkDimension(vec []float32) error {
	if c.dimension > 0 && len(vec) != c.dimension {
		return fmt.Errorf("model %s returned a %d-dim embedding, graph schema expects %d", c.model, len(vec), c.dimension)
	}
	return nil
}

// doRequest executes a single HTTP request
func (c *Client) doRequest(ctx context.Context, url string, body []byte) (*predictResponse, error) {
	// Get access token
	token, err := c.tokenSrc.TokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// Check if retryable
		if resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == http.StatusServiceUnavailable ||
			resp.StatusCode >= 500 {
			return nil, &retryableError{
				statusCode: resp.StatusCode,
				body:       string(respBody),
			}
		}
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var result predictResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// calculateBackoff calculates the backoff delay for a given attempt
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.maxDelay) {
		delay = float64(c.maxDelay)
	}
	return time.Duration(delay)
}

// retryableError is an error that can be retried
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("retryable API error %d: %s", e.statusCode, e.body)
}
