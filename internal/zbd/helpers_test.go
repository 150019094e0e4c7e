package zbd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"granite/internal/backend"
	"granite/internal/base"
)

const (
	testZoneSize  = uint64(1) << 20
	testBlockSize = uint32(4096)
)

// newTestDevice mounts a fresh 64-zone in-memory device with the limits
// from the mount scenario: max 14 open, 14 active, 8 lifetime classes.
func newTestDevice(t *testing.T) (*Device, *backend.Mem) {
	t.Helper()
	return newTestDeviceWith(t, backend.MemConfig{
		Zones:          64,
		ZoneSize:       testZoneSize,
		BlockSize:      testBlockSize,
		MaxOpenZones:   14,
		MaxActiveZones: 14,
	}, Options{Levels: 8, LifetimeBegin: base.LifetimeNone})
}

func newTestDeviceWith(t *testing.T, memCfg backend.MemConfig, opts Options) (*Device, *backend.Mem) {
	t.Helper()
	mem := backend.NewMem(memCfg)
	dev := NewDevice(mem, opts)
	require.NoError(t, dev.Open(false, true))
	t.Cleanup(func() { _ = dev.Close() })
	return dev, mem
}

// testShortWriteMemConfig caps single transfers below one block so append
// loops see short writes.
func testShortWriteMemConfig() backend.MemConfig {
	return backend.MemConfig{
		Zones:          64,
		ZoneSize:       testZoneSize,
		BlockSize:      testBlockSize,
		MaxOpenZones:   14,
		MaxActiveZones: 14,
		MaxWrite:       1000,
	}
}

// blocks returns n block-aligned bytes.
func blocks(n int) []byte {
	return make([]byte, n*int(testBlockSize))
}

// grabEmptyZone pulls an empty zone outside the pool machinery, holding
// its busy lease, the way GC and the mount path do.
func grabEmptyZone(t *testing.T, dev *Device) *Zone {
	t.Helper()
	z, err := dev.allocateEmptyZone()
	require.NoError(t, err)
	require.NotNil(t, z)
	return z
}

// waitDone asserts that ch closes within the deadline.
func waitDone(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal(msg)
	}
}

// stillBlocked asserts that ch does not close within a grace period.
func stillBlocked(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal(msg)
	case <-time.After(50 * time.Millisecond):
	}
}
