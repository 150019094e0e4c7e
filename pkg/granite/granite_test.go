package granite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"granite/internal/backend"
)

func testMem() *backend.Mem {
	return backend.NewMem(backend.MemConfig{
		Zones:          64,
		ZoneSize:       1 << 20,
		BlockSize:      4096,
		MaxOpenZones:   14,
		MaxActiveZones: 14,
	})
}

func TestOpenWithMemBackend(t *testing.T) {
	dev, err := Open("", WithBackend(testMem()))
	require.NoError(t, err)
	defer dev.Close()

	assert.EqualValues(t, 64, dev.NrZones())
	assert.EqualValues(t, 8, dev.OpenIOZones())
}

func TestOptionsOverrideConfig(t *testing.T) {
	dev, err := Open("",
		WithBackend(testMem()),
		WithLevels(4),
		WithLifetimeBegin(LifetimeShort),
	)
	require.NoError(t, err)
	defer dev.Close()

	// Four classes were seeded instead of the default eight.
	assert.EqualValues(t, 4, dev.OpenIOZones())

	z, err := dev.AllocateIOZone(LifetimeShort, IOTypeOther, 1)
	require.NoError(t, err)
	assert.Equal(t, LifetimeShort, z.Lifetime())
}

func TestAllocateAndAppendThroughFacade(t *testing.T) {
	dev, err := Open("", WithBackend(testMem()))
	require.NoError(t, err)
	defer dev.Close()

	z, err := dev.AllocateIOZone(LifetimeMedium, IOTypeOther, 10)
	require.NoError(t, err)

	buf := make([]byte, 4*dev.BlockSize())
	require.NoError(t, z.Append(buf))
	dev.ReleaseLevelZone(z, 10)

	got := make([]byte, len(buf))
	n, err := dev.Read(got, z.Start(), false)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
}
