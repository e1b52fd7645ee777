package episodequeue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/emergent-company/memgraph/pkg/apperror"
)

func newTestQueue(spacing time.Duration) *Queue {
	return &Queue{
		spacing:    spacing,
		groupSlots: make(chan struct{}, 10),
		groupBusy:  make(map[string]bool),
		limiters:   make(map[string]*rate.Limiter),
		stopCh:     make(chan struct{}),
	}
}

func TestTryClaimGroup_SerializesWithinGroup(t *testing.T) {
	q := newTestQueue(0)

	require.True(t, q.tryClaimGroup("g1"), "first claim should succeed")
	assert.False(t, q.tryClaimGroup("g1"), "second concurrent claim of the same group should fail")

	q.releaseGroup("g1")
	assert.True(t, q.tryClaimGroup("g1"), "claim should succeed again after release")
}

func TestTryClaimGroup_DistinctGroupsIndependent(t *testing.T) {
	q := newTestQueue(0)

	assert.True(t, q.tryClaimGroup("g1"))
	assert.True(t, q.tryClaimGroup("g2"), "g2 claim should succeed independently of g1")
}

func TestTryClaimGroup_RespectsSpacing(t *testing.T) {
	q := newTestQueue(50 * time.Millisecond)

	require.True(t, q.tryClaimGroup("g1"), "first claim should succeed")
	q.releaseGroup("g1")

	assert.False(t, q.tryClaimGroup("g1"), "claim within the spacing window should be rejected")

	time.Sleep(60 * time.Millisecond)
	assert.True(t, q.tryClaimGroup("g1"), "claim should succeed once spacing has elapsed")
}

func TestTryClaimBusy_IgnoresSpacing(t *testing.T) {
	q := newTestQueue(time.Hour)

	require.True(t, q.tryClaimBusy("g1"), "mutation claim should not wait for episode spacing")
	q.releaseGroup("g1")
	assert.True(t, q.tryClaimBusy("g1"))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(apperror.ErrExhausted), "an exhausted LLM call must not be retried again at the queue layer")
	assert.False(t, isRetryable(apperror.ErrBadLLMOutput), "bad LLM output is never retried")
	assert.True(t, isRetryable(apperror.ErrTransient), "graph-store transient errors are retried by the queue")
}
