package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"granite/internal/zerr"
)

func newTestMem(t *testing.T) *Mem {
	t.Helper()
	m := NewMem(MemConfig{Zones: 4, ZoneSize: 1 << 16, BlockSize: 512})
	_, _, err := m.Open(false, true)
	require.NoError(t, err)
	return m
}

func TestMemSequentialWrite(t *testing.T) {
	m := newTestMem(t)

	buf := make([]byte, 1024)
	n, err := m.Write(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)

	// Writing anywhere but the write pointer violates the zone model.
	_, err = m.Write(buf, 0)
	assert.ErrorIs(t, err, zerr.ErrIO)

	n, err = m.Write(buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, "open", m.ZoneCond(0))
}

func TestMemResetAndFinish(t *testing.T) {
	m := newTestMem(t)

	_, err := m.Write(make([]byte, 2048), 1<<16)
	require.NoError(t, err)

	offline, maxCap, err := m.ResetZone(1 << 16)
	require.NoError(t, err)
	assert.False(t, offline)
	assert.Equal(t, uint64(1<<16), maxCap)
	assert.Equal(t, "empty", m.ZoneCond(1))

	require.NoError(t, m.FinishZone(1<<16))
	assert.Equal(t, "full", m.ZoneCond(1))

	_, err = m.Write(make([]byte, 512), 1<<16)
	assert.ErrorIs(t, err, zerr.ErrIO)
}

func TestMemOfflineOnReset(t *testing.T) {
	m := newTestMem(t)
	m.OfflineOnReset(2)

	offline, maxCap, err := m.ResetZone(2 << 16)
	require.NoError(t, err)
	assert.True(t, offline)
	assert.Zero(t, maxCap)

	infos, err := m.ListZones()
	require.NoError(t, err)
	assert.True(t, infos[2].Offline)
}

func TestMemShortWrites(t *testing.T) {
	m := NewMem(MemConfig{Zones: 1, ZoneSize: 1 << 16, MaxWrite: 100})
	_, _, err := m.Open(false, true)
	require.NoError(t, err)

	n, err := m.Write(make([]byte, 300), 0)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	infos, err := m.ListZones()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), infos[0].Wp)
}

func TestMemReadBack(t *testing.T) {
	m := newTestMem(t)

	payload := []byte("sequential zones only ever append")
	_, err := m.Write(payload, 0)
	require.NoError(t, err)

	got := make([]byte, len(payload))
	n, err := m.Read(got, 0, false)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, got)
}
