package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsInDueOrder(t *testing.T) {
	s := New()
	var order []string

	s.After(2*time.Second, func() { order = append(order, "b") })
	s.After(time.Second, func() { order = append(order, "a") })
	s.After(2*time.Second, func() { order = append(order, "c") })

	assert.Equal(t, 0, s.Advance(500*time.Millisecond))
	assert.Equal(t, 1, s.Advance(500*time.Millisecond))
	assert.Equal(t, []string{"a"}, order)

	assert.Equal(t, 2, s.Advance(time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 2*time.Second, s.Now())
}

func TestScheduler_Cancel(t *testing.T) {
	s := New()
	fired := false
	h := s.After(time.Second, func() { fired = true })

	require.True(t, s.Pending(h))
	assert.True(t, s.Cancel(h))
	assert.False(t, s.Pending(h))
	assert.False(t, s.Cancel(h))
	assert.False(t, s.Cancel(0))

	s.Advance(2 * time.Second)
	assert.False(t, fired)
	assert.Zero(t, s.Len())
}

func TestScheduler_RescheduleFromCallback(t *testing.T) {
	s := New()
	count := 0
	var retry func()
	retry = func() {
		count++
		s.After(time.Second, retry)
	}
	s.After(time.Second, retry)

	for i := 0; i < 5; i++ {
		s.Advance(time.Second)
	}

	assert.Equal(t, 5, count)
	assert.Equal(t, 1, s.Len())
}

func TestScheduler_NotPendingAfterRun(t *testing.T) {
	s := New()
	h := s.After(0, func() {})

	s.Advance(0)

	assert.False(t, s.Pending(h))
}
