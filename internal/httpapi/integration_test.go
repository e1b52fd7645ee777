package httpapi_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/emergent-company/memgraph/internal/graphmodel"
	"github.com/emergent-company/memgraph/internal/testutil"
	"github.com/emergent-company/memgraph/pkg/llm"
)

// extractSeedFacts is the FakeLLMProvider extractor backing the seed
// end-to-end scenarios: it recognizes the two canned episode bodies those
// scenarios ingest and returns the entities/facts a real model would have
// produced for them.
func extractSeedFacts(content string) (llm.EntityExtractionOutput, llm.FactExtractionOutput) {
	if strings.Contains(content, "left") {
		// The departure is when the LEFT relation began to hold; the
		// contradicted WORKS_FOR edge is invalidated at this same instant.
		validAt := "2024-03-01T00:00:00Z"
		return llm.EntityExtractionOutput{
				Entities: []llm.EntityExtraction{
					{Name: "Alice", Label: "Person"},
					{Name: "Acme", Label: "Organization"},
				},
			}, llm.FactExtractionOutput{
				Facts: []llm.FactExtraction{{
					SourceName: "Alice",
					TargetName: "Acme",
					Name:       "LEFT",
					Fact:       content,
					Negates:    true,
					ValidAt:    &validAt,
				}},
			}
	}

	return llm.EntityExtractionOutput{
			Entities: []llm.EntityExtraction{
				{Name: "Alice", Label: "Person", Summary: "Works at Acme"},
				{Name: "Acme", Label: "Organization"},
			},
		}, llm.FactExtractionOutput{
			Facts: []llm.FactExtraction{{
				SourceName: "Alice",
				TargetName: "Acme",
				Name:       "WORKS_FOR",
				Fact:       content,
			}},
		}
}

// IngestionSuite covers the §8 seed end-to-end scenarios that depend on
// entity/fact extraction actually succeeding, driven by a FakeLLMProvider
// standing in for the real model.
type IngestionSuite struct {
	testutil.BaseSuite
}

func TestIngestionSuite(t *testing.T) {
	suite.Run(t, new(IngestionSuite))
}

func (s *IngestionSuite) SetupSuite() {
	s.Provider = testutil.NewFakeLLMProvider(extractSeedFacts)
	s.BaseSuite.SetupSuite()
}

// ingest posts an episode with a caller-chosen id (so the test can poll it
// by id) and returns that id.
func (s *IngestionSuite) ingest(name, content string) uuid.UUID {
	id := uuid.New()
	resp := s.Client.POST("/episodes", testutil.WithJSONBody(map[string]any{
		"id":       id,
		"group_id": s.GroupID,
		"name":     name,
		"content":  content,
	}))
	s.Require().Equal(202, resp.StatusCode, "ingest body: %s", resp.String())
	return id
}

// waitDone polls the episode until it reaches a terminal state (done,
// failed or cancelled), failing the test if it never does.
func (s *IngestionSuite) waitDone(id uuid.UUID) *graphmodel.Episode {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ep, err := s.Server.Store.GetEpisode(s.Ctx, id)
		s.Require().NoError(err)
		if ep != nil && (ep.Status == graphmodel.EpisodeDone || ep.Status == graphmodel.EpisodeFailed || ep.Status == graphmodel.EpisodeCancelled) {
			return ep
		}
		time.Sleep(20 * time.Millisecond)
	}
	s.FailNow("episode never reached a terminal state", "id=%s", id)
	return nil
}

// TestIngestAndSearchNodes_ResolvesEntityAndEdge is §8 seed scenario 1.
func (s *IngestionSuite) TestIngestAndSearchNodes_ResolvesEntityAndEdge() {
	ctx, cancel := context.WithCancel(s.Ctx)
	defer cancel()
	s.Server.Queue.Start(ctx)
	defer s.Server.Queue.Stop()

	id := s.ingest("alice-acme", "Alice works at Acme")
	ep := s.waitDone(id)
	s.Require().Equal(graphmodel.EpisodeDone, ep.Status)

	resp := s.Client.POST("/search", testutil.WithJSONBody(map[string]any{
		"kind":        "nodes",
		"query":       "Alice",
		"group_ids":   []string{s.GroupID},
		"max_results": 10,
	}))
	s.Require().Equal(200, resp.StatusCode)

	var body struct {
		Count   int `json:"count"`
		Results []struct {
			Name  string `json:"Name"`
			Label string `json:"Label"`
		} `json:"results"`
	}
	s.Require().NoError(resp.JSON(&body))
	s.Require().GreaterOrEqual(body.Count, 1)

	found := false
	for _, r := range body.Results {
		if r.Name == "Alice" {
			s.Equal("Person", r.Label)
			found = true
		}
	}
	s.True(found, "expected Alice among node search results")

	edgeResp := s.Client.POST("/search", testutil.WithJSONBody(map[string]any{
		"kind":        "edges",
		"query":       "Alice works at Acme",
		"group_ids":   []string{s.GroupID},
		"max_results": 10,
	}))
	s.Require().Equal(200, edgeResp.StatusCode)
	var edgeBody struct {
		Count int `json:"count"`
	}
	s.Require().NoError(edgeResp.JSON(&edgeBody))
	s.GreaterOrEqual(edgeBody.Count, 1)
}

// TestNegatingEpisode_InvalidatesPriorEdge is §8 seed scenario 2.
func (s *IngestionSuite) TestNegatingEpisode_InvalidatesPriorEdge() {
	ctx, cancel := context.WithCancel(s.Ctx)
	defer cancel()
	s.Server.Queue.Start(ctx)
	defer s.Server.Queue.Stop()

	e1 := s.ingest("alice-acme", "Alice works at Acme")
	s.waitDone(e1)

	e2 := s.ingest("alice-left", "Alice left Acme in 2024-03")
	ep2 := s.waitDone(e2)
	s.Require().Equal(graphmodel.EpisodeDone, ep2.Status)

	resp := s.Client.POST("/search", testutil.WithJSONBody(map[string]any{
		"kind":        "edges",
		"query":       "Alice left Acme",
		"group_ids":   []string{s.GroupID},
		"max_results": 10,
		"historical":  true,
	}))
	s.Require().Equal(200, resp.StatusCode)

	var body struct {
		Results []struct {
			Name string `json:"Name"`
		} `json:"results"`
	}
	s.Require().NoError(resp.JSON(&body))

	foundLeft := false
	for _, r := range body.Results {
		if r.Name == "LEFT" {
			foundLeft = true
		}
	}
	s.True(foundLeft, "expected a LEFT edge from the negating episode")
}

// TestIngestSameID_IsIdempotent is the §8 round-trip law: ingesting the
// same (id, body) twice yields a single episode, not a duplicate.
func (s *IngestionSuite) TestIngestSameID_IsIdempotent() {
	id := uuid.New()
	body := map[string]any{
		"id":       id,
		"group_id": s.GroupID,
		"name":     "dup",
		"content":  "Alice works at Acme",
	}

	first := s.Client.POST("/episodes", testutil.WithJSONBody(body))
	s.Require().Equal(202, first.StatusCode)
	second := s.Client.POST("/episodes", testutil.WithJSONBody(body))
	s.Require().Equal(202, second.StatusCode)

	ep, err := s.Server.Store.GetEpisode(s.Ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(ep)
}

// TestSearch_MaxResultsZero_ReturnsEmptyNotError covers the boundary
// behavior "max_results = 0 returns empty results and count = 0, never an
// error."
func (s *IngestionSuite) TestSearch_MaxResultsZero_ReturnsEmptyNotError() {
	resp := s.Client.POST("/search", testutil.WithJSONBody(map[string]any{
		"kind":        "nodes",
		"query":       "anything",
		"group_ids":   []string{s.GroupID},
		"max_results": 0,
	}))
	s.Require().Equal(200, resp.StatusCode)

	var body struct {
		Count   int `json:"count"`
		Results []any `json:"results"`
	}
	s.Require().NoError(resp.JSON(&body))
	s.Require().Equal(0, body.Count)
	s.Require().Empty(body.Results)
}

// TestUpdateEdge_CitationChainIncludesOriginalAndSynthesis is §8 seed
// scenario 6.
func (s *IngestionSuite) TestUpdateEdge_CitationChainIncludesOriginalAndSynthesis() {
	ctx, cancel := context.WithCancel(s.Ctx)
	defer cancel()
	s.Server.Queue.Start(ctx)
	defer s.Server.Queue.Stop()

	originalID := s.ingest("alice-acme", "Alice works at Acme")
	s.waitDone(originalID)

	searchResp := s.Client.POST("/search", testutil.WithJSONBody(map[string]any{
		"kind":        "edges",
		"query":       "Alice works at Acme",
		"group_ids":   []string{s.GroupID},
		"max_results": 10,
	}))
	s.Require().Equal(200, searchResp.StatusCode)
	var searchBody struct {
		Results []struct {
			ID string `json:"ID"`
		} `json:"results"`
	}
	s.Require().NoError(searchResp.JSON(&searchBody))
	s.Require().NotEmpty(searchBody.Results)
	edgeID := searchBody.Results[0].ID

	updateResp := s.Client.PATCH(fmt.Sprintf("/edges/%s", edgeID), testutil.WithJSONBody(map[string]any{
		"fact":          "Alice works at Acme as a senior engineer",
		"update_reason": "correction",
	}))
	s.Require().Equal(200, updateResp.StatusCode, "update body: %s", updateResp.String())

	var updateBody struct {
		OldID string `json:"old_id"`
		NewID string `json:"new_id"`
	}
	s.Require().NoError(updateResp.JSON(&updateBody))
	s.Require().NotEqual(updateBody.OldID, updateBody.NewID)

	newEdge, err := s.Server.Store.GetEdge(s.Ctx, uuid.MustParse(updateBody.NewID))
	s.Require().NoError(err)
	s.Require().NotNil(newEdge)
	s.Require().NotNil(newEdge.OriginalFact)
	s.Equal("Alice works at Acme", *newEdge.OriginalFact)
	// The replacement edge must cite both the episode that originally
	// asserted the fact and the synthesis episode recording this edit.
	s.GreaterOrEqual(len(newEdge.EpisodeIDs), 2)

	hasOriginal := false
	for _, epID := range newEdge.EpisodeIDs {
		if epID == originalID {
			hasOriginal = true
		}
	}
	s.True(hasOriginal, "expected replacement edge to still cite the original episode")
}

// TestDeleteEpisode_CascadesThenReIngestIsEquivalent is the §8 round-trip
// law: Delete(ep) then re-Ingest(ep) is equivalent to a single Ingest, up
// to different ids.
func (s *IngestionSuite) TestDeleteEpisode_CascadesThenReIngestIsEquivalent() {
	ctx, cancel := context.WithCancel(s.Ctx)
	defer cancel()
	s.Server.Queue.Start(ctx)
	defer s.Server.Queue.Stop()

	first := s.ingest("alice-acme", "Alice works at Acme")
	s.waitDone(first)

	deleteResp := s.Client.DELETE(fmt.Sprintf("/episodes/%s", first))
	s.Require().Equal(204, deleteResp.StatusCode, "delete body: %s", deleteResp.String())

	_, err := s.Server.Store.GetEpisode(s.Ctx, first)
	s.Require().Error(err, "deleted episode should no longer resolve")

	// The graph content derived solely from this episode must be gone too.
	searchResp := s.Client.POST("/search", testutil.WithJSONBody(map[string]any{
		"kind":        "edges",
		"query":       "Alice works at Acme",
		"group_ids":   []string{s.GroupID},
		"max_results": 10,
	}))
	s.Require().Equal(200, searchResp.StatusCode)
	var emptied struct {
		Count int `json:"count"`
	}
	s.Require().NoError(searchResp.JSON(&emptied))
	s.Equal(0, emptied.Count, "edges citing only the deleted episode should cascade away")

	second := s.ingest("alice-acme", "Alice works at Acme")
	ep := s.waitDone(second)
	s.Require().Equal(graphmodel.EpisodeDone, ep.Status)

	redone := s.Client.POST("/search", testutil.WithJSONBody(map[string]any{
		"kind":        "edges",
		"query":       "Alice works at Acme",
		"group_ids":   []string{s.GroupID},
		"max_results": 10,
	}))
	s.Require().Equal(200, redone.StatusCode)
	var restored struct {
		Count int `json:"count"`
	}
	s.Require().NoError(redone.JSON(&restored))
	s.GreaterOrEqual(restored.Count, 1, "re-ingest should rebuild the edge")
}

// RetrySuite isolates the FailFirstN provider from the rest of the seed
// scenarios so retry counters on one episode's prompt don't leak into
// another test.
type RetrySuite struct {
	testutil.BaseSuite
}

func TestRetrySuite(t *testing.T) {
	suite.Run(t, new(RetrySuite))
}

func (s *RetrySuite) SetupSuite() {
	s.Provider = testutil.NewFakeLLMProvider(extractSeedFacts).FailFirstN(2)
	s.BaseSuite.SetupSuite()
}

// TestEpisode_RetriesTransientFailureThenSucceeds is §8 seed scenario 5:
// the first two extraction attempts fail transiently, the third succeeds,
// and the episode still reaches done.
func (s *RetrySuite) TestEpisode_RetriesTransientFailureThenSucceeds() {
	ctx, cancel := context.WithCancel(s.Ctx)
	defer cancel()
	s.Server.Queue.Start(ctx)
	defer s.Server.Queue.Stop()

	id := uuid.New()
	resp := s.Client.POST("/episodes", testutil.WithJSONBody(map[string]any{
		"id":       id,
		"group_id": s.GroupID,
		"name":     "flaky",
		"content":  "Alice works at Acme",
	}))
	s.Require().Equal(202, resp.StatusCode)

	deadline := time.Now().Add(10 * time.Second)
	var ep *graphmodel.Episode
	for time.Now().Before(deadline) {
		var err error
		ep, err = s.Server.Store.GetEpisode(s.Ctx, id)
		s.Require().NoError(err)
		if ep != nil && ep.Status == graphmodel.EpisodeDone {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	s.Require().NotNil(ep)
	s.Require().Equal(graphmodel.EpisodeDone, ep.Status)
	s.GreaterOrEqual(ep.Attempt, 2)
}

// ConcurrencySuite exercises the episode queue's scheduling guarantees
// through the HTTP surface, using an extractor that does no real work so
// the test can measure dispatch timing instead of extraction content.
type ConcurrencySuite struct {
	testutil.BaseSuite
}

func TestConcurrencySuite(t *testing.T) {
	suite.Run(t, new(ConcurrencySuite))
}

func (s *ConcurrencySuite) SetupSuite() {
	s.Provider = testutil.NewFakeLLMProvider(func(content string) (llm.EntityExtractionOutput, llm.FactExtractionOutput) {
		time.Sleep(30 * time.Millisecond)
		return llm.EntityExtractionOutput{}, llm.FactExtractionOutput{}
	})
	s.BaseSuite.SetupSuite()
}

// TestSameGroup_ProcessesStrictlySequentially is §8 seed scenario 3: ten
// episodes submitted to the same group never extract simultaneously.
func (s *ConcurrencySuite) TestSameGroup_ProcessesStrictlySequentially() {
	ctx, cancel := context.WithCancel(s.Ctx)
	defer cancel()
	s.Server.Queue.Start(ctx)
	defer s.Server.Queue.Stop()

	ids := make([]uuid.UUID, 10)
	for i := range ids {
		ids[i] = uuid.New()
		resp := s.Client.POST("/episodes", testutil.WithJSONBody(map[string]any{
			"id":       ids[i],
			"group_id": s.GroupID,
			"name":     fmt.Sprintf("e%d", i),
			"content":  fmt.Sprintf("episode body %d", i),
		}))
		s.Require().Equal(202, resp.StatusCode)
	}

	deadline := time.Now().Add(10 * time.Second)
	var completedAt []time.Time
	seen := make(map[uuid.UUID]bool)
	for time.Now().Before(deadline) && len(seen) < len(ids) {
		for _, id := range ids {
			if seen[id] {
				continue
			}
			ep, err := s.Server.Store.GetEpisode(s.Ctx, id)
			s.Require().NoError(err)
			if ep != nil && ep.Status == graphmodel.EpisodeDone {
				seen[id] = true
				completedAt = append(completedAt, time.Now())
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.Require().Len(seen, len(ids))

	// Ten strictly-serialized 30ms extraction windows (two calls each: entity
	// then fact extraction) cannot all finish within much less than their
	// combined floor; a wall-clock budget well under the serialized total
	// would mean the queue let two of them run concurrently.
	first, last := completedAt[0], completedAt[0]
	for _, t := range completedAt {
		if t.Before(first) {
			first = t
		}
		if t.After(last) {
			last = t
		}
	}
	s.GreaterOrEqual(last.Sub(first), 9*30*time.Millisecond)
}

// TestDistinctGroups_RunWithMeasuredOverlap is §8 seed scenario 4: ten
// episodes in ten distinct groups run with overlap given
// max_inflight_episodes >= 10.
func (s *ConcurrencySuite) TestDistinctGroups_RunWithMeasuredOverlap() {
	ctx, cancel := context.WithCancel(s.Ctx)
	defer cancel()
	s.Server.Queue.Start(ctx)
	defer s.Server.Queue.Stop()

	ids := make([]uuid.UUID, 10)
	started := time.Now()
	for i := range ids {
		ids[i] = uuid.New()
		resp := s.Client.POST("/episodes", testutil.WithJSONBody(map[string]any{
			"id":       ids[i],
			"group_id": fmt.Sprintf("%s-%d", s.GroupID, i),
			"name":     fmt.Sprintf("e%d", i),
			"content":  fmt.Sprintf("episode body %d", i),
		}))
		s.Require().Equal(202, resp.StatusCode)
	}

	deadline := time.Now().Add(10 * time.Second)
	done := 0
	for time.Now().Before(deadline) && done < len(ids) {
		done = 0
		for _, id := range ids {
			ep, err := s.Server.Store.GetEpisode(s.Ctx, id)
			s.Require().NoError(err)
			if ep != nil && ep.Status == graphmodel.EpisodeDone {
				done++
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.Require().Equal(len(ids), done)

	// Ten distinct groups all get dispatched within the same scheduler
	// tick, so wall-clock is roughly one poll interval plus one episode's
	// processing time. If groups were serialized instead of run in
	// parallel, ten dispatch ticks would be needed -- an order of
	// magnitude slower -- so this bound cleanly distinguishes the two.
	s.Less(time.Since(started), 2*time.Second)
}
