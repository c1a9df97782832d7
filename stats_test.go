package nostr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsFlappingRequiresMultipleOfThree(t *testing.T) {
	assert.False(t, isFlapping(nil))
	assert.False(t, isFlapping([]int64{500}))
	assert.False(t, isFlapping([]int64{500, 500}))
}

func TestIsFlappingLowStddevClassifiesAsFlapping(t *testing.T) {
	assert.True(t, isFlapping([]int64{500, 600, 550}))
}

func TestIsFlappingHighStddevIsNotFlapping(t *testing.T) {
	assert.False(t, isFlapping([]int64{500, 60000, 1000000}))
}

func TestRecordDisconnectTrimsHistoryToMax(t *testing.T) {
	var cs ConnectionStats
	cs.Durations = make([]int64, maxDurationsHistory)
	start := time.Now().Add(-time.Duration(maxDurationsHistory+10) * time.Second)
	cs.ConnectedAt = &start

	now := time.Now()
	cs.recordDisconnect(now)

	assert.Len(t, cs.Durations, maxDurationsHistory)
	assert.Equal(t, now.Sub(start).Milliseconds(), cs.Durations[maxDurationsHistory-1])
	assert.Nil(t, cs.ConnectedAt)
}

func TestRecordDisconnectNoopsWithoutConnectedAt(t *testing.T) {
	var cs ConnectionStats
	cs.recordDisconnect(time.Now())
	assert.Empty(t, cs.Durations)
}

func TestComputeReconnectDelayUsesCoolOffWhenPreviouslyConnected(t *testing.T) {
	now := time.Now()
	connectedAt := now.Add(-10 * time.Second)
	got := computeReconnectDelay(0, &connectedAt, now)
	assert.Equal(t, coolOffWindow-10*time.Second, got)
}

func TestComputeReconnectDelayNeverNegative(t *testing.T) {
	now := time.Now()
	longAgo := now.Add(-10 * time.Hour)
	got := computeReconnectDelay(0, &longAgo, now)
	assert.Equal(t, time.Duration(0), got)
}
