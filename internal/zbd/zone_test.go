package zbd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"granite/internal/base"
	"granite/internal/zerr"
)

func TestZoneAppendAdvancesWritePointer(t *testing.T) {
	dev, _ := newTestDevice(t)
	z := grabEmptyZone(t, dev)

	require.NoError(t, z.Append(blocks(4)))

	assert.Equal(t, z.Start()+4*uint64(testBlockSize), z.Wp())
	assert.Equal(t, testZoneSize-4*uint64(testBlockSize), z.GetCapacityLeft())
	assert.Equal(t, z.MaxCapacity(), z.GetCapacityLeft()+(z.Wp()-z.Start()))
	assert.EqualValues(t, 4*int(testBlockSize), dev.BytesWritten())
}

func TestZoneAppendToleratesShortWrites(t *testing.T) {
	dev, _ := newTestDeviceWith(t, testShortWriteMemConfig(), Options{Levels: 2})
	z := grabEmptyZone(t, dev)

	require.NoError(t, z.Append(blocks(3)))
	assert.Equal(t, z.Start()+3*uint64(testBlockSize), z.Wp())
}

func TestZoneAppendRejectsOversizeAndUnaligned(t *testing.T) {
	dev, _ := newTestDevice(t)
	z := grabEmptyZone(t, dev)

	err := z.Append(make([]byte, testZoneSize+uint64(testBlockSize)))
	assert.ErrorIs(t, err, zerr.ErrNoSpace)

	err = z.Append(make([]byte, 100))
	assert.ErrorIs(t, err, zerr.ErrInvalidArgument)

	// Neither failed append may move the write pointer.
	assert.True(t, z.IsEmpty())
}

func TestZoneResetRewinds(t *testing.T) {
	dev, _ := newTestDevice(t)
	z := grabEmptyZone(t, dev)

	require.NoError(t, z.Append(blocks(8)))
	z.setLifetime(base.LifetimeShort)

	require.NoError(t, z.Reset())

	assert.True(t, z.IsEmpty())
	assert.Equal(t, z.Start(), z.Wp())
	assert.Equal(t, testZoneSize, z.GetCapacityLeft())
	assert.Equal(t, base.LifetimeNotSet, z.Lifetime())
}

func TestZoneResetWithLiveDataIsCorruption(t *testing.T) {
	dev, _ := newTestDevice(t)
	z := grabEmptyZone(t, dev)

	require.NoError(t, z.Append(blocks(1)))
	z.AddUsed(int64(testBlockSize))

	assert.ErrorIs(t, z.Reset(), zerr.ErrCorruption)
}

func TestZoneResetOffline(t *testing.T) {
	dev, mem := newTestDevice(t)
	z := grabEmptyZone(t, dev)
	require.NoError(t, z.Append(blocks(1)))

	mem.OfflineOnReset(int(z.Number()))
	require.NoError(t, z.Reset())

	assert.Zero(t, z.GetCapacityLeft())
	assert.True(t, z.IsFull())
}

func TestZoneFinish(t *testing.T) {
	dev, _ := newTestDevice(t)
	z := grabEmptyZone(t, dev)
	require.NoError(t, z.Append(blocks(2)))

	require.NoError(t, z.Finish())
	assert.True(t, z.IsFull())
	assert.Zero(t, z.GetCapacityLeft())
	assert.Equal(t, z.Start()+dev.ZoneSize(), z.Wp())

	// Finishing an already-full zone is a no-op.
	require.NoError(t, z.Finish())
	assert.True(t, z.IsFull())
}

func TestZoneAcquireRelease(t *testing.T) {
	dev, _ := newTestDevice(t)
	z := grabEmptyZone(t, dev)

	// grabEmptyZone returned the zone busy-held; a second acquire must
	// fail until the lease is dropped.
	assert.False(t, z.Acquire())

	wp, capacity := z.Wp(), z.GetCapacityLeft()
	require.True(t, z.Release())
	require.True(t, z.Acquire())
	assert.Equal(t, wp, z.Wp())
	assert.Equal(t, capacity, z.GetCapacityLeft())

	require.NoError(t, z.checkRelease())
	assert.ErrorIs(t, z.checkRelease(), zerr.ErrCorruption)
	require.True(t, z.Acquire())
}

func TestZoneCloseOnlyWhenPartial(t *testing.T) {
	dev, mem := newTestDevice(t)
	z := grabEmptyZone(t, dev)

	// Empty: nothing to close.
	require.NoError(t, z.Close())
	assert.Equal(t, "empty", mem.ZoneCond(int(z.Number())))

	require.NoError(t, z.Append(blocks(1)))
	require.NoError(t, z.Close())
	assert.Equal(t, "closed", mem.ZoneCond(int(z.Number())))
}
