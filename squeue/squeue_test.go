package squeue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitlink/satlink/ids"
	"github.com/orbitlink/satlink/spacecmd"
)

func msg(priority ids.MessagePriority, ttl uint32, ts ids.Timestamp) *spacecmd.Message {
	return &spacecmd.Message{
		Priority:    priority,
		TimestampNs: ts,
		TTLSeconds:  ttl,
	}
}

func TestPriorityOrderingWithFIFOTiebreak(t *testing.T) {
	q := New(10)
	now := ids.Now()

	require.NoError(t, q.Push(msg(ids.PriorityLow, 0, now)))
	require.NoError(t, q.Push(msg(ids.PriorityEmergency, 0, now)))
	require.NoError(t, q.Push(msg(ids.PriorityMedium, 0, now)))
	require.NoError(t, q.Push(msg(ids.PriorityMedium, 0, now)))

	first := q.Pop()
	assert.Equal(t, ids.PriorityEmergency, first.Priority)

	second := q.Pop()
	third := q.Pop()
	assert.Equal(t, ids.PriorityMedium, second.Priority)
	assert.Equal(t, ids.PriorityMedium, third.Priority)

	fourth := q.Pop()
	assert.Equal(t, ids.PriorityLow, fourth.Priority)

	assert.Nil(t, q.Pop())
}

func TestAdmissionRuleRejectsLowNearCapacity(t *testing.T) {
	q := New(10)
	now := ids.Now()
	for i := 0; i < 9; i++ {
		require.NoError(t, q.Push(msg(ids.PriorityHigh, 0, now)))
	}
	err := q.Push(msg(ids.PriorityLow, 0, now))
	assert.Error(t, err)

	err = q.Push(msg(ids.PriorityHigh, 0, now))
	assert.NoError(t, err)
}

func TestAdmissionRuleRejectsMediumAt95Percent(t *testing.T) {
	q := New(20)
	now := ids.Now()
	for i := 0; i < 19; i++ {
		require.NoError(t, q.Push(msg(ids.PriorityHigh, 0, now)))
	}
	err := q.Push(msg(ids.PriorityMedium, 0, now))
	assert.Error(t, err)

	err = q.Push(msg(ids.PriorityCritical, 0, now))
	assert.NoError(t, err)
}

func TestDegradedAdmissionTightensLowAndHighThresholds(t *testing.T) {
	q := New(20)
	now := ids.Now()
	q.SetDegradedAdmission(true)

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Push(msg(ids.PriorityHigh, 0, now)))
	}
	assert.Error(t, q.Push(msg(ids.PriorityLow, 0, now)), "degraded admission rejects Low at 50% fill")

	for i := 0; i < 9; i++ {
		require.NoError(t, q.Push(msg(ids.PriorityHigh, 0, now)))
	}
	assert.Error(t, q.Push(msg(ids.PriorityHigh, 0, now)), "degraded admission rejects High at 95% fill")

	q.SetDegradedAdmission(false)
	assert.NoError(t, q.Push(msg(ids.PriorityHigh, 0, now)), "normal thresholds always admit High until capacity")
}

func TestPushRejectsOnFullByDefault(t *testing.T) {
	q := New(2)
	now := ids.Now()
	require.NoError(t, q.Push(msg(ids.PriorityHigh, 0, now)))
	require.NoError(t, q.Push(msg(ids.PriorityHigh, 0, now)))

	err := q.Push(msg(ids.PriorityHigh, 0, now))
	assert.Error(t, err)
	assert.Equal(t, 2, q.Len())
}

func TestEvictLowestOnFullOptIn(t *testing.T) {
	q := New(2, WithEvictLowestOnFull(true))
	now := ids.Now()
	require.NoError(t, q.Push(msg(ids.PriorityLow, 0, now)))
	require.NoError(t, q.Push(msg(ids.PriorityHigh, 0, now)))

	require.NoError(t, q.Push(msg(ids.PriorityEmergency, 0, now)))
	assert.Equal(t, 2, q.Len())

	first := q.Pop()
	assert.Equal(t, ids.PriorityEmergency, first.Priority)
	second := q.Pop()
	assert.Equal(t, ids.PriorityHigh, second.Priority)
}

func TestRemoveExpired(t *testing.T) {
	q := New(10)
	old := ids.FromUnixNano(0)
	fresh := ids.FromUnixNano(1_000_000_000_000)

	require.NoError(t, q.Push(msg(ids.PriorityHigh, 5, old)))
	require.NoError(t, q.Push(msg(ids.PriorityHigh, 0, old)))
	require.NoError(t, q.Push(msg(ids.PriorityHigh, 5, fresh)))

	q.RemoveExpired(fresh.UnixSeconds())

	assert.Equal(t, 2, q.Len())
}

func TestStatsUtilization(t *testing.T) {
	q := New(4)
	now := ids.Now()
	require.NoError(t, q.Push(msg(ids.PriorityHigh, 0, now)))
	require.NoError(t, q.Push(msg(ids.PriorityMedium, 0, now)))

	stats := q.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 4, stats.Capacity)
	assert.Equal(t, 1, stats.HighPriority)
	assert.Equal(t, 1, stats.MediumPriority)
	assert.Equal(t, float32(50), stats.UtilizationPercent())
	assert.True(t, stats.IsNearCapacity(50))
}
