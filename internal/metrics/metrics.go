// Package metrics declares the process's Prometheus collectors, shaped like
// the teacher's pkg/syshealth gauge/counter vectors but scoped to the
// episode queue and search path instead of worker-concurrency tuning.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EpisodesIngested counts episodes accepted by the ingest endpoint.
	EpisodesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memgraph_episodes_ingested_total",
		Help: "Total number of episodes enqueued for processing.",
	}, []string{"group_id"})

	// EpisodesProcessed counts episodes that finished in a terminal state.
	EpisodesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memgraph_episodes_processed_total",
		Help: "Total number of episodes that reached a terminal state.",
	}, []string{"status"})

	// EpisodeQueueDepth tracks how many episodes are currently queued or
	// retrying per group.
	EpisodeQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "memgraph_episode_queue_depth",
		Help: "Number of queued or retrying episodes, by group.",
	}, []string{"group_id"})

	// EpisodeProcessingSeconds observes wall-clock time from dispatch to
	// terminal state for one episode.
	EpisodeProcessingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "memgraph_episode_processing_seconds",
		Help:    "Duration of one episode's extraction+resolution+persistence run.",
		Buckets: prometheus.DefBuckets,
	})

	// EpisodeRetries counts retry dispatches scheduled after a transient
	// failure, by group.
	EpisodeRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memgraph_episode_retries_total",
		Help: "Total number of episode retries scheduled after transient failures.",
	}, []string{"group_id"})

	// LLMCalls counts LLM calls issued by the orchestrator, by purpose and
	// outcome.
	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memgraph_llm_calls_total",
		Help: "Total number of LLM calls made during episode processing.",
	}, []string{"purpose", "outcome"})

	// SearchRequests counts search requests by kind and outcome.
	SearchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memgraph_search_requests_total",
		Help: "Total number of search requests handled, by kind.",
	}, []string{"kind", "outcome"})

	// SearchLatencySeconds observes end-to-end search request latency.
	SearchLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "memgraph_search_latency_seconds",
		Help:    "Search request latency, by kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)
