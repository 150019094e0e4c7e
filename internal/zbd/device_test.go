package zbd

import (
	"bytes"
	stdjson "encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"granite/internal/backend"
	"granite/internal/base"
	"granite/internal/zerr"
)

func TestOpenRequiresExclusiveForWrites(t *testing.T) {
	dev := NewDevice(backend.NewMem(backend.MemConfig{Zones: 64}), Options{})
	err := dev.Open(false, false)
	assert.ErrorIs(t, err, zerr.ErrInvalidArgument)
}

func TestOpenRejectsTinyDevices(t *testing.T) {
	dev := NewDevice(backend.NewMem(backend.MemConfig{Zones: 16}), Options{})
	err := dev.Open(false, true)
	assert.ErrorIs(t, err, zerr.ErrNotSupported)
}

func TestOpenUnlimitedCapsFallBackToZoneCount(t *testing.T) {
	dev := NewDevice(backend.NewMem(backend.MemConfig{Zones: 64}), Options{})
	require.NoError(t, dev.Open(false, true))
	defer dev.Close()

	assert.EqualValues(t, 64, dev.maxOpenIO)
	assert.EqualValues(t, 64, dev.maxActiveIO)
}

func TestOpenQuiescesZonesFromPreviousMount(t *testing.T) {
	mem := backend.NewMem(backend.MemConfig{
		Zones:          64,
		ZoneSize:       testZoneSize,
		BlockSize:      testBlockSize,
		MaxOpenZones:   14,
		MaxActiveZones: 14,
	})
	// Zone 5 was left explicitly open, zone 6 closed, by a prior mount.
	mem.Prefill(5, 8*uint64(testBlockSize), true)
	mem.Prefill(6, 8*uint64(testBlockSize), false)

	dev := NewDevice(mem, Options{Levels: 8})
	require.NoError(t, dev.Open(false, true))
	defer dev.Close()

	// Both count as active on top of the 8 pool seeds; the open one was
	// closed to quiesce the device.
	assert.EqualValues(t, 10, dev.ActiveIOZones())
	assert.EqualValues(t, 8, dev.OpenIOZones())
	assert.Equal(t, "closed", mem.ZoneCond(5))
}

func TestSpaceAccounting(t *testing.T) {
	dev, _ := newTestDevice(t)

	z := grabEmptyZone(t, dev)
	require.NoError(t, z.Append(blocks(16)))
	z.AddUsed(int64(10 * testBlockSize))
	require.NoError(t, z.checkRelease())

	assert.EqualValues(t, 10*uint64(testBlockSize), dev.GetUsedSpace())

	// Free space plus written bytes covers every zone's capacity.
	var written, maxTotal uint64
	for _, ioz := range dev.ioZones {
		written += ioz.Wp() - ioz.Start()
		maxTotal += ioz.MaxCapacity()
	}
	assert.Equal(t, maxTotal, dev.GetFreeSpace()+written)

	// Only full zones count as reclaimable.
	assert.Zero(t, dev.GetReclaimableSpace())
	require.True(t, z.Acquire())
	require.NoError(t, z.Finish())
	require.NoError(t, z.checkRelease())
	assert.Equal(t, testZoneSize-10*uint64(testBlockSize), dev.GetReclaimableSpace())
}

func TestGetIOZone(t *testing.T) {
	dev, _ := newTestDevice(t)

	z := dev.ioZones[7]
	assert.Same(t, z, dev.GetIOZone(z.Start()))
	assert.Same(t, z, dev.GetIOZone(z.Start()+dev.ZoneSize()-1))
	assert.NotSame(t, z, dev.GetIOZone(z.Start()+dev.ZoneSize()))
	assert.Nil(t, dev.GetIOZone(uint64(dev.NrZones())*dev.ZoneSize()))
}

func TestDeviceReadBack(t *testing.T) {
	dev, _ := newTestDevice(t)

	z := grabEmptyZone(t, dev)
	payload := blocks(2)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, z.Append(payload))
	require.NoError(t, z.checkRelease())

	got := make([]byte, len(payload))
	n, err := dev.Read(got, z.Start(), false)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, got)
}

func TestEncodeJson(t *testing.T) {
	dev, _ := newTestDevice(t)

	var buf bytes.Buffer
	require.NoError(t, dev.EncodeJson(&buf))

	var doc struct {
		Meta []map[string]int64 `json:"meta"`
		IO   []map[string]int64 `json:"io"`
	}
	require.NoError(t, stdjson.Unmarshal(buf.Bytes(), &doc))

	assert.Len(t, doc.Meta, base.MetaZones)
	assert.Len(t, doc.IO, 61)
	for _, key := range []string{"start", "capacity", "max_capacity", "wp", "lifetime", "used_capacity"} {
		assert.Contains(t, doc.IO[0], key)
	}
}

func TestGetZoneSnapshot(t *testing.T) {
	dev, _ := newTestDevice(t)

	z := grabEmptyZone(t, dev)
	require.NoError(t, z.Append(blocks(3)))
	require.NoError(t, z.checkRelease())

	var snap []ZoneSnapshot
	dev.GetZoneSnapshot(&snap)
	require.Len(t, snap, 61)

	for _, s := range snap {
		if s.Start == z.Start() {
			assert.Equal(t, z.Wp(), s.Wp)
			assert.Equal(t, z.GetCapacityLeft(), s.Capacity)
			return
		}
	}
	t.Fatal("written zone missing from snapshot")
}

func TestDeviceCloseQuiescesPartialZones(t *testing.T) {
	mem := backend.NewMem(backend.MemConfig{
		Zones:          64,
		ZoneSize:       testZoneSize,
		BlockSize:      testBlockSize,
		MaxOpenZones:   14,
		MaxActiveZones: 14,
	})
	dev := NewDevice(mem, Options{Levels: 8})
	require.NoError(t, dev.Open(false, true))

	z := grabEmptyZone(t, dev)
	require.NoError(t, z.Append(blocks(2)))
	require.NoError(t, z.checkRelease())
	idx := int(z.Number())

	require.NoError(t, dev.Close())
	assert.Equal(t, "closed", mem.ZoneCond(idx))
}
