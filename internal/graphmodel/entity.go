// Package graphmodel defines the bi-temporal knowledge graph's storage
// types: episodes, entities, relation edges, and the mentions linking
// episodes to the entities/edges they touched.
package graphmodel

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
)

// EpisodeStatus tracks an episode through the queue's state machine.
type EpisodeStatus string

const (
	EpisodeQueued      EpisodeStatus = "queued"
	EpisodeDispatched  EpisodeStatus = "dispatched"
	EpisodeExtracting  EpisodeStatus = "extracting"
	EpisodeResolving   EpisodeStatus = "resolving"
	EpisodePersisting  EpisodeStatus = "persisting"
	EpisodeDone        EpisodeStatus = "done"
	EpisodeRetrying    EpisodeStatus = "retrying"
	EpisodeFailed      EpisodeStatus = "failed"
	EpisodeCancelled   EpisodeStatus = "cancelled"
)

// Episode is a single ingested unit of text attributed to a group and
// reference time. Episodes are processed strictly in arrival order within
// a group.
type Episode struct {
	bun.BaseModel `bun:"table:graph.episodes,alias:ep"`

	ID      uuid.UUID `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	GroupID string    `bun:"group_id,notnull" json:"group_id"`
	Name    string    `bun:"name,notnull" json:"name"`
	Content string    `bun:"content,notnull" json:"content"`
	// Source is the episode's free-form source_description, which may embed
	// a source_url (see internal/citation) the way the spec's §4.7 describes.
	Source      string         `bun:"source,notnull" json:"source"`
	ReferenceAt time.Time      `bun:"reference_at,notnull" json:"reference_at"`
	Metadata    map[string]any `bun:"metadata,type:jsonb,notnull,default:'{}'" json:"metadata,omitempty"`

	Status       EpisodeStatus `bun:"status,notnull,default:'queued'" json:"status"`
	Attempt      int           `bun:"attempt,notnull,default:0" json:"attempt"`
	FailureCause *string       `bun:"failure_cause" json:"failure_cause,omitempty"`
	// NotBefore holds the backoff deadline of a retrying episode. While it
	// is in the future the episode stays at the head of its group's queue
	// without being dispatchable, so later episodes cannot overtake it.
	NotBefore *time.Time `bun:"not_before" json:"not_before,omitempty"`

	CreatedAt   time.Time  `bun:"created_at,notnull,default:now()" json:"created_at"`
	DispatchedAt *time.Time `bun:"dispatched_at" json:"dispatched_at,omitempty"`
	DoneAt      *time.Time `bun:"done_at" json:"done_at,omitempty"`
}

// Entity is a node in the graph: a named thing with a label from the
// ontology and a set of attributes extracted or asserted about it.
type Entity struct {
	bun.BaseModel `bun:"table:graph.entities,alias:e"`

	ID       uuid.UUID      `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	GroupID  string         `bun:"group_id,notnull" json:"group_id"`
	Name     string         `bun:"name,notnull" json:"name"`
	Label    string         `bun:"label,notnull" json:"label"`
	Summary  string         `bun:"summary" json:"summary,omitempty"`
	Attributes map[string]any `bun:"attributes,type:jsonb,notnull,default:'{}'" json:"attributes,omitempty"`

	// Embedding is computed over name+summary and used by the resolver's
	// similarity dedup and by hybrid search's graph-proximity re-rank seed.
	Embedding pgvector.Vector `bun:"embedding,type:vector(768)" json:"-"`

	EpisodeIDs []uuid.UUID `bun:"episode_ids,array,notnull,default:'{}'" json:"episode_ids"`

	CreatedAt time.Time `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:now()" json:"updated_at"`
}

// RelationEdge is a directed, bi-temporal fact between two entities.
// Edges are never rewritten in place: a soft-update expires the old row
// and inserts a new one that inherits EpisodeIDs (see internal/mutation).
type RelationEdge struct {
	bun.BaseModel `bun:"table:graph.relation_edges,alias:re"`

	ID       uuid.UUID `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	GroupID  string    `bun:"group_id,notnull" json:"group_id"`
	SourceID uuid.UUID `bun:"source_id,type:uuid,notnull" json:"source_id"`
	TargetID uuid.UUID `bun:"target_id,type:uuid,notnull" json:"target_id"`
	Name     string    `bun:"name,notnull" json:"name"`

	Fact         string  `bun:"fact,notnull" json:"fact"`
	OriginalFact *string `bun:"original_fact" json:"original_fact,omitempty"`
	UpdateReason *string `bun:"update_reason" json:"update_reason,omitempty"`

	FactEmbedding pgvector.Vector `bun:"fact_embedding,type:vector(768)" json:"-"`

	// Bi-temporal validity. ValidAt is when the fact became true in the
	// world, nil when no assertion time was extracted (distinct from, and
	// never defaulted to, the episode's reference time). InvalidAt is when
	// it stopped being true (nil = still valid). ExpiredAt is when this row
	// stopped being the current version of the edge, set only by a
	// soft-update, never by ValidAt/InvalidAt changes.
	ValidAt   *time.Time `bun:"valid_at" json:"valid_at,omitempty"`
	InvalidAt *time.Time `bun:"invalid_at" json:"invalid_at,omitempty"`
	ExpiredAt *time.Time `bun:"expired_at" json:"expired_at,omitempty"`

	EpisodeIDs []uuid.UUID `bun:"episode_ids,array,notnull,default:'{}'" json:"episode_ids"`

	CreatedAt time.Time `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:now()" json:"updated_at"`
}

// IsCurrent reports whether the edge is the live version (not superseded
// by a later soft-update).
func (r *RelationEdge) IsCurrent() bool {
	return r.ExpiredAt == nil
}

// IsValidAt reports whether the fact held at instant t, per its
// valid_at/invalid_at bounds (independent of ExpiredAt/row supersession). A
// nil ValidAt means no start time was asserted, so the lower bound is
// treated as open.
func (r *RelationEdge) IsValidAt(t time.Time) bool {
	if r.ValidAt != nil && t.Before(*r.ValidAt) {
		return false
	}
	if r.InvalidAt != nil && !t.Before(*r.InvalidAt) {
		return false
	}
	return true
}

// MentionKind distinguishes why an episode is linked to a graph element.
type MentionKind string

const (
	MentionCreated   MentionKind = "created"
	MentionUpdated   MentionKind = "updated"
	MentionReferenced MentionKind = "referenced"
)

// Mention records that an episode touched an entity or edge, and how, for
// citation-chain resolution.
type Mention struct {
	bun.BaseModel `bun:"table:graph.mentions,alias:m"`

	ID        uuid.UUID   `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	EpisodeID uuid.UUID   `bun:"episode_id,type:uuid,notnull" json:"episode_id"`
	EntityID  *uuid.UUID  `bun:"entity_id,type:uuid" json:"entity_id,omitempty"`
	EdgeID    *uuid.UUID  `bun:"edge_id,type:uuid" json:"edge_id,omitempty"`
	Kind      MentionKind `bun:"kind,notnull" json:"kind"`
	CreatedAt time.Time   `bun:"created_at,notnull,default:now()" json:"created_at"`
}
