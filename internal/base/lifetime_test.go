package base

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifetimeDiff(t *testing.T) {
	// Unset or hintless data only matches a zone with the same tag.
	assert.Equal(t, uint32(0), LifetimeDiff(LifetimeNotSet, LifetimeNotSet))
	assert.Equal(t, uint32(LifetimeDiffNotGood), LifetimeDiff(LifetimeShort, LifetimeNone))
	assert.Equal(t, uint32(LifetimeDiffNotGood), LifetimeDiff(LifetimeNotSet, LifetimeNone))

	// Exact matches are perfect.
	assert.Equal(t, uint32(0), LifetimeDiff(LifetimeMedium, LifetimeMedium))

	// A longer-lived zone tolerates shorter-lived data, scored by distance.
	assert.Equal(t, uint32(1), LifetimeDiff(LifetimeLong, LifetimeMedium))
	assert.Equal(t, uint32(3), LifetimeDiff(LifetimeExtreme, LifetimeShort))

	// Short-lived zones must not take longer-lived data.
	assert.Equal(t, uint32(LifetimeDiffNotGood), LifetimeDiff(LifetimeShort, LifetimeExtreme))
}

func TestLifetimeGCOutsideClassRange(t *testing.T) {
	// The GC tag must never alias a configurable class.
	for lt := LifetimeNotSet; lt <= LifetimeExtreme; lt++ {
		assert.NotEqual(t, LifetimeGC, lt)
	}
	assert.Greater(t, int32(LifetimeGC), int32(LifetimeExtreme)+64)
}
