package zbd

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"granite/internal/base"
	"granite/internal/zerr"
)

// Each lifetime class keeps a pool of zones dedicated to it. Zones in a
// pool stay busy-held by the pool; writers are granted one by marking it
// inPoolUse, and hand it back with ReleaseLevelZone. The per-class
// available counter tracks pool members ready for a new writer.

// backoffSleep sleeps a random duration that grows with the attempt count,
// capped at one second.
func backoffSleep(attempt int) {
	limit := 4000 * attempt
	if limit > 1000000 {
		limit = 1000000
	}
	time.Sleep(time.Duration(rand.Intn(limit)) * time.Microsecond)
}

// initialLevelZones seeds every class with one empty zone. The device is
// unusable if this fails.
func (d *Device) initialLevelZones() error {
	d.levelMu.Lock()
	defer d.levelMu.Unlock()

	for i := 0; i < d.levels; i++ {
		d.openIOZones.Add(1)
		d.activeIOZones.Add(1)
		z, err := d.allocateEmptyZone()
		if err != nil {
			return err
		}
		if z == nil {
			return zerr.NoSpace("no empty zone to seed level %d", i)
		}
		z.setLifetime(d.lifetimeBegin + base.Lifetime(i))
		d.levelZones[i][z] = struct{}{}
		d.levelAvail[i].Add(1)
		d.log.Debug("seeded level pool",
			zap.Int("level", i),
			zap.Uint64("zone", z.Number()))
	}
	return nil
}

// poolLevelLocked reports which class pool holds z, or -1. Caller holds
// levelMu.
func (d *Device) poolLevelLocked(z *Zone) int {
	for i := range d.levelZones {
		if _, ok := d.levelZones[i][z]; ok {
			return i
		}
	}
	return -1
}

// isLevelZone reports whether z currently belongs to a class pool.
func (d *Device) isLevelZone(z *Zone) bool {
	d.levelMu.Lock()
	defer d.levelMu.Unlock()
	return d.poolLevelLocked(z) >= 0
}

// EmitLevelZone removes a fully reclaimable zone from its class pool and
// releases its lease. A class is never left without zones: if the pool
// drained, a replacement empty zone is pulled in — waiting with randomized
// backoff when the device has none, with levelMu dropped around the sleep
// so token holders can make progress. Otherwise the zone's open and active
// tokens are refunded. Reports whether the zone was replaced.
func (d *Device) EmitLevelZone(z *Zone) (replaced bool, err error) {
	d.levelMu.Lock()

	level := d.poolLevelLocked(z)
	if level < 0 {
		d.levelMu.Unlock()
		return false, nil
	}
	delete(d.levelZones[level], z)
	if !z.inPoolUse {
		// The zone was counted as ready for a writer; it no longer is.
		d.levelAvail[level].Add(-1)
	}
	z.inPoolUse = false
	// The reclaim walk may have already dropped the lease.
	_ = z.Release()
	d.log.Debug("removed zone from level pool",
		zap.Int("level", level),
		zap.Uint64("zone", z.Number()))

	if len(d.levelZones[level]) == 0 {
		var allocated *Zone
		for attempt := 1; allocated == nil; attempt++ {
			allocated, err = d.allocateEmptyZone()
			if err != nil {
				d.levelMu.Unlock()
				return false, err
			}
			if allocated == nil {
				d.levelMu.Unlock()
				backoffSleep(attempt)
				d.levelMu.Lock()
			}
		}
		allocated.setLifetime(d.lifetimeBegin + base.Lifetime(level))
		d.levelZones[level][allocated] = struct{}{}
		d.levelAvail[level].Add(1)
		d.levelMu.Unlock()
		d.levelRes.Broadcast()
		d.log.Debug("replaced level pool zone",
			zap.Int("level", level),
			zap.Uint64("zone", allocated.Number()))
		return true, nil
	}

	d.activeIOZones.Add(-1)
	d.openIOZones.Add(-1)
	d.levelMu.Unlock()
	d.levelRes.Broadcast()
	return false, nil
}

// ReleaseLevelZone hands a zone back to its class pool once a writer is
// done with it. The zone keeps its pool membership and lease; it only
// becomes available to the next writer.
func (d *Device) ReleaseLevelZone(z *Zone, fileID uint64) {
	d.levelMu.Lock()
	level := d.poolLevelLocked(z)
	if level >= 0 {
		d.levelAvail[level].Add(1)
		z.inPoolUse = false
	}
	d.levelMu.Unlock()
	d.levelRes.Broadcast()
	d.log.Debug("released level zone",
		zap.Uint64("zone", z.Number()),
		zap.Uint64("file", fileID))
}
