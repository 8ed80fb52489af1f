package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecentObserveAndSeen(t *testing.T) {
	t.Parallel()

	c := NewRecent[string](4, time.Minute)
	assert.False(t, c.Seen("a"))

	c.Observe("a")
	assert.True(t, c.Seen("a"))
	assert.False(t, c.Seen("b"))
	assert.Equal(t, 1, c.Len())
}

func TestRecentExpiry(t *testing.T) {
	t.Parallel()

	c := NewRecent[string](4, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	c.nowFn = func() time.Time { return now }

	c.Observe("a")
	assert.True(t, c.Seen("a"))

	now = now.Add(2 * time.Minute)
	assert.False(t, c.Seen("a"))
	assert.Equal(t, 0, c.Len(), "expired entry is dropped on probe")
}

func TestRecentCapacityEvictsOldest(t *testing.T) {
	t.Parallel()

	c := NewRecent[int](2, time.Minute)
	c.Observe(1)
	c.Observe(2)
	c.Observe(3)

	assert.False(t, c.Seen(1))
	assert.True(t, c.Seen(2))
	assert.True(t, c.Seen(3))
	assert.Equal(t, 2, c.Len())
}

func TestRecentSeenRefreshesRecency(t *testing.T) {
	t.Parallel()

	c := NewRecent[int](2, time.Minute)
	c.Observe(1)
	c.Observe(2)
	assert.True(t, c.Seen(1)) // 1 back to front

	c.Observe(3) // evicts 2
	assert.True(t, c.Seen(1))
	assert.False(t, c.Seen(2))
}

func TestRecentObserveRefreshesExpiry(t *testing.T) {
	t.Parallel()

	c := NewRecent[string](4, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	c.nowFn = func() time.Time { return now }

	c.Observe("a")
	now = now.Add(45 * time.Second)
	c.Observe("a")
	now = now.Add(45 * time.Second)
	assert.True(t, c.Seen("a"), "re-observation extends the ttl")
}
