// Package episodequeue is the concurrency core of the ingestion path: one
// logical FIFO per group, a bounded pool of inter-group-parallel workers, a
// scheduler that dispatches whichever group queues have work, and the
// retry/backoff policy for transient failures. Grounded on the teacher's
// ticker-driven worker lifecycle shape (internal/jobs.Worker) adapted to a
// per-group fan-out instead of a single poll loop.
package episodequeue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/emergent-company/memgraph/internal/config"
	"github.com/emergent-company/memgraph/internal/graphmodel"
	"github.com/emergent-company/memgraph/internal/graphstore"
	"github.com/emergent-company/memgraph/internal/metrics"
	"github.com/emergent-company/memgraph/internal/orchestrator"
	"github.com/emergent-company/memgraph/pkg/apperror"
	"github.com/emergent-company/memgraph/pkg/llm"
	"github.com/emergent-company/memgraph/pkg/logger"
)

const (
	// ordinaryRetryCap bounds backoff delay regardless of error class.
	ordinaryRetryCap = 120 * time.Second
	// transientRetryBase is the smaller base used for graph-store
	// transient errors (the only class the queue itself retries; see
	// isRetryable).
	transientRetryBase = 500 * time.Millisecond
	maxAttempts         = 5
)

// Queue sequences episode processing: at most one episode per group in
// flight, up to maxInflight groups processed concurrently, a minimum
// inter-dispatch spacing per group, and exponential-backoff retry of
// transient failures.
type Queue struct {
	store  *graphstore.Store
	orch   *orchestrator.Orchestrator
	log    *slog.Logger
	spacing time.Duration

	groupSlots chan struct{} // bounds cross-group parallelism to N

	mu        sync.Mutex
	groupBusy map[string]bool
	// limiters holds one rate.Limiter per group, lazily created, enforcing
	// the configured minimum inter-dispatch spacing (one token every
	// `spacing`, burst 1).
	limiters map[string]*rate.Limiter

	pollInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// New builds a Queue. The store is used both to enqueue/dequeue episodes
// and to look up which groups currently have dispatchable work.
func New(store *graphstore.Store, orch *orchestrator.Orchestrator, cfg *config.Config, log *slog.Logger) *Queue {
	n := cfg.Queue.MaxInflightEpisodes
	if n <= 0 {
		n = 10
	}

	return &Queue{
		store:        store,
		orch:         orch,
		log:          log.With(logger.Scope("episodequeue")),
		spacing:      cfg.Queue.EpisodeSpacing(),
		groupSlots:   make(chan struct{}, n),
		groupBusy:    make(map[string]bool),
		limiters:     make(map[string]*rate.Limiter),
		pollInterval: 200 * time.Millisecond,
		stopCh:       make(chan struct{}),
	}
}

// Enqueue persists a new episode in the queued state and returns
// immediately; processing happens asynchronously on the scheduler loop.
func (q *Queue) Enqueue(ctx context.Context, ep *graphmodel.Episode) error {
	ep.Status = graphmodel.EpisodeQueued
	if err := q.store.CreateEpisode(ctx, ep); err != nil {
		return err
	}
	metrics.EpisodesIngested.WithLabelValues(ep.GroupID).Inc()
	return nil
}

// Start begins the scheduler loop, meant to be called from an fx.Lifecycle
// OnStart hook.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.run(ctx)
}

// Stop signals the scheduler loop to exit and waits for it and every
// in-flight episode goroutine to return, so an episode already dispatched
// runs through processing before Stop returns.
func (q *Queue) Stop() {
	close(q.stopCh)
	q.wg.Wait()
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.scheduleTick(ctx)
		}
	}
}

// scheduleTick looks at every group with dispatchable work and, for each
// one that isn't already busy and has a free cross-group slot, dispatches
// its next episode on its own goroutine.
func (q *Queue) scheduleTick(ctx context.Context) {
	groups, err := q.store.DistinctActiveGroups(ctx)
	if err != nil {
		q.log.Warn("failed to list active groups", logger.Error(err))
		return
	}

	if counts, err := q.store.CountQueuedByGroup(ctx, groups); err != nil {
		q.log.Warn("failed to count queued episodes", logger.Error(err))
	} else {
		for groupID, n := range counts {
			metrics.EpisodeQueueDepth.WithLabelValues(groupID).Set(float64(n))
		}
	}

	for _, groupID := range groups {
		if !q.tryClaimGroup(groupID) {
			continue
		}

		select {
		case q.groupSlots <- struct{}{}:
		default:
			q.releaseGroup(groupID)
			continue
		}

		q.wg.Add(1)
		go func(groupID string) {
			defer q.wg.Done()
			defer func() { <-q.groupSlots }()
			defer q.releaseGroup(groupID)

			q.dispatchNext(ctx, groupID)
		}(groupID)
	}
}

func (q *Queue) tryClaimGroup(groupID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.groupBusy[groupID] {
		return false
	}
	if q.spacing > 0 && !q.limiterFor(groupID).Allow() {
		return false
	}
	q.groupBusy[groupID] = true
	return true
}

// limiterFor lazily creates the per-group spacing limiter (one token every
// q.spacing, burst 1). Callers must already hold q.mu.
func (q *Queue) limiterFor(groupID string) *rate.Limiter {
	lim, ok := q.limiters[groupID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(q.spacing), 1)
		q.limiters[groupID] = lim
	}
	return lim
}

// WithGroupLock runs fn with groupID's dispatch claim held, the same claim
// scheduleTick takes before dispatching an episode. This is how the mutation
// endpoints (edge update, episode delete) satisfy §4.8's requirement that
// they serialize behind the group queue of the affected episode(s): fn
// cannot run concurrently with an in-flight episode for groupID, nor can a
// new episode dispatch for groupID while fn runs.
func (q *Queue) WithGroupLock(ctx context.Context, groupID string, fn func(ctx context.Context) error) error {
	for {
		if q.tryClaimBusy(groupID) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	defer q.releaseGroup(groupID)

	return fn(ctx)
}

// tryClaimBusy is tryClaimGroup without the inter-dispatch spacing check,
// which governs how soon the *next episode* may start and has no bearing on
// whether a mutation may proceed against an otherwise-idle group.
func (q *Queue) tryClaimBusy(groupID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.groupBusy[groupID] {
		return false
	}
	q.groupBusy[groupID] = true
	return true
}

func (q *Queue) releaseGroup(groupID string) {
	q.mu.Lock()
	q.groupBusy[groupID] = false
	q.mu.Unlock()
}

// dispatchNext pops the oldest queued/retrying episode for groupID and
// runs it through the orchestrator, enforcing the state machine and retry
// policy. Only one episode per group is ever in this function body at a
// time, since the caller holds the group's busy claim for the duration.
func (q *Queue) dispatchNext(ctx context.Context, groupID string) {
	ep, err := q.store.NextQueuedEpisode(ctx, groupID)
	if err != nil {
		q.log.Warn("failed to fetch next episode", slog.String("group_id", groupID), logger.Error(err))
		return
	}
	if ep == nil {
		return
	}

	if err := q.store.UpdateEpisodeStatus(ctx, ep.ID, graphmodel.EpisodeDispatched, nil); err != nil {
		q.log.Warn("failed to mark episode dispatched", logger.Error(err))
		return
	}

	q.process(ctx, ep)
}

func (q *Queue) process(ctx context.Context, ep *graphmodel.Episode) {
	if err := q.store.UpdateEpisodeStatus(ctx, ep.ID, graphmodel.EpisodeExtracting, nil); err != nil {
		q.log.Warn("failed to mark episode extracting", logger.Error(err))
	}

	started := time.Now()
	result, err := q.orch.Run(ctx, ep)
	metrics.EpisodeProcessingSeconds.Observe(time.Since(started).Seconds())
	if err != nil {
		q.handleFailure(ctx, ep, err)
		return
	}

	if err := q.store.UpdateEpisodeStatus(ctx, ep.ID, graphmodel.EpisodeDone, nil); err != nil {
		q.log.Warn("failed to mark episode done", logger.Error(err))
	}
	metrics.EpisodesProcessed.WithLabelValues(string(graphmodel.EpisodeDone)).Inc()

	q.log.Info("episode complete",
		slog.String("episode_id", ep.ID.String()),
		slog.String("group_id", ep.GroupID),
		slog.Int("entities_resolved", result.EntitiesResolved),
		slog.Int("edges_created", result.EdgesCreated),
	)
}

// handleFailure classifies the error and either schedules a retry (with
// exponential backoff matching the error class's base delay) or marks the
// episode permanently failed.
func (q *Queue) handleFailure(ctx context.Context, ep *graphmodel.Episode, err error) {
	if ctx.Err() != nil {
		cause := ctx.Err().Error()
		_ = q.store.UpdateEpisodeStatus(ctx, ep.ID, graphmodel.EpisodeCancelled, &cause)
		metrics.EpisodesProcessed.WithLabelValues(string(graphmodel.EpisodeCancelled)).Inc()
		return
	}

	if !isRetryable(err) {
		cause := err.Error()
		_ = q.store.UpdateEpisodeStatus(ctx, ep.ID, graphmodel.EpisodeFailed, &cause)
		metrics.EpisodesProcessed.WithLabelValues(string(graphmodel.EpisodeFailed)).Inc()
		return
	}

	attempt, attemptErr := q.store.IncrementEpisodeAttempt(ctx, ep.ID)
	if attemptErr != nil {
		q.log.Warn("failed to increment episode attempt", logger.Error(attemptErr))
		attempt = ep.Attempt + 1
	}

	if attempt > maxAttempts {
		cause := err.Error()
		_ = q.store.UpdateEpisodeStatus(ctx, ep.ID, graphmodel.EpisodeFailed, &cause)
		metrics.EpisodesProcessed.WithLabelValues(string(graphmodel.EpisodeFailed)).Inc()
		return
	}

	delay := llm.Backoff(attempt, transientRetryBase, ordinaryRetryCap)
	metrics.EpisodeRetries.WithLabelValues(ep.GroupID).Inc()

	// The episode stays at the head of its group's FIFO in the retrying
	// state; NextQueuedEpisode holds the whole group back until the backoff
	// deadline passes, so later episodes cannot overtake it.
	cause := err.Error()
	if schedErr := q.store.ScheduleEpisodeRetry(ctx, ep.ID, cause, time.Now().Add(delay)); schedErr != nil {
		q.log.Warn("failed to schedule episode retry", logger.Error(schedErr))
	}
}

// isRetryable reports whether the queue itself should schedule a redispatch.
// pkg/llm.Client already runs its own bounded retry/backoff loop for
// rate_limited and llm_unavailable-class errors before ever returning, so by
// the time an error reaches here a retried-and-exhausted LLM call surfaces
// as ErrExhausted, which the queue treats as terminal rather than retrying
// again on top of the client's own attempts. Only graph-store-classified
// transient errors are retried at this layer.
func isRetryable(err error) bool {
	appErr, ok := err.(*apperror.Error)
	return ok && appErr.Code == "transient"
}
