package testutil

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"math"
	"sync"

	"github.com/emergent-company/memgraph/pkg/apperror"
	"github.com/emergent-company/memgraph/pkg/embeddings"
	"github.com/emergent-company/memgraph/pkg/llm"
)

// FakeEmbeddingClient produces deterministic, non-zero 768-dim embeddings
// derived from a hash of the input text, standing in for a real embedding
// model so entity/edge rows round-trip through the vector(768) columns in
// integration tests without a live model call. Cosine similarity between
// two distinct strings is effectively random noise, so fixtures that rely
// on the resolver's dedup should match on exact/normalized name, not
// paraphrase similarity.
type FakeEmbeddingClient struct{}

// NewFakeEmbeddingClient builds a FakeEmbeddingClient.
func NewFakeEmbeddingClient() *FakeEmbeddingClient {
	return &FakeEmbeddingClient{}
}

// EmbedQuery implements embeddings.Client.
func (c *FakeEmbeddingClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return deterministicVector(query), nil
}

// EmbedDocuments implements embeddings.Client.
func (c *FakeEmbeddingClient) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	out := make([][]float32, len(documents))
	for i, d := range documents {
		out[i] = deterministicVector(d)
	}
	return out, nil
}

// deterministicVector hashes s into a unit-length embeddings.EmbeddingDimension
// vector via a simple linear congruential generator seeded from the hash,
// so the same text always embeds to the same point.
func deterministicVector(s string) []float32 {
	vec := make([]float32, embeddings.EmbeddingDimension)

	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	seed := h.Sum64()

	var sumSq float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float32(int64(seed>>40)%1000) / 1000
		vec[i] = v
		sumSq += float64(v) * float64(v)
	}

	norm := float32(math.Sqrt(sumSq))
	if norm == 0 {
		norm = 1
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// ExtractorFunc maps an episode's content to the entities and facts a real
// extraction model would have returned for it, letting each integration
// test script exactly the extraction result it needs.
type ExtractorFunc func(content string) (llm.EntityExtractionOutput, llm.FactExtractionOutput)

// FakeLLMProvider implements llm.Provider by running a caller-supplied
// ExtractorFunc over the episode content instead of calling out to a real
// model. Grounded on pkg/llm.Provider's two-call shape (entity extraction,
// then fact extraction), distinguished here by the response schema's
// top-level required field rather than any prompt parsing.
type FakeLLMProvider struct {
	Extract ExtractorFunc

	mu          sync.Mutex
	failFirstN  int
	failedCalls map[string]int
}

// NewFakeLLMProvider builds a FakeLLMProvider around extract.
func NewFakeLLMProvider(extract ExtractorFunc) *FakeLLMProvider {
	return &FakeLLMProvider{Extract: extract, failedCalls: make(map[string]int)}
}

// FailFirstN makes the first n GenerateJSON calls for each distinct prompt
// (counting the entity- and fact-extraction calls together) fail with a
// transient error before Extract is consulted, so a test can exercise the
// episode queue's retry-then-succeed path (§8 seed scenario 5) without a
// real rate-limited model call.
func (p *FakeLLMProvider) FailFirstN(n int) *FakeLLMProvider {
	p.failFirstN = n
	return p
}

// IsConfigured implements llm.Provider.
func (p *FakeLLMProvider) IsConfigured() bool { return true }

// GenerateJSON implements llm.Provider by dispatching to Extract and
// marshaling back whichever half of its output the requested schema asks
// for.
func (p *FakeLLMProvider) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, schema *llm.Schema) (string, error) {
	if p.failFirstN > 0 {
		p.mu.Lock()
		p.failedCalls[userPrompt]++
		attempt := p.failedCalls[userPrompt]
		p.mu.Unlock()
		if attempt <= p.failFirstN {
			return "", apperror.NewTransient("fake provider: simulated rate limit", nil)
		}
	}

	kind := schemaKind(schema)

	entities, facts := p.Extract(userPrompt)
	if kind == "facts" {
		data, err := json.Marshal(facts)
		return string(data), err
	}
	data, err := json.Marshal(entities)
	return string(data), err
}

func schemaKind(schema *llm.Schema) string {
	for _, r := range schema.Required {
		if r == "facts" {
			return "facts"
		}
	}
	return "entities"
}
