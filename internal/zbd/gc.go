package zbd

import (
	"time"

	"go.uber.org/zap"

	"granite/internal/base"
	"granite/internal/zerr"
)

// The GC lane keeps one zone being filled by migration plus one empty zone
// on deck, so migration never competes with foreground writers for a
// target. Both zones stay busy-held by the lane.

// AllocateEmptyZoneForGC obtains an empty zone for the migration lane. The
// primary pays for an open and an active token; the auxiliary rides on the
// two zones reserved from the device limits at mount.
func (d *Device) AllocateEmptyZoneForGC(isAux bool) error {
	if !isAux {
		d.WaitForOpenIOZoneToken(false)
		for !d.GetActiveIOZoneTokenIfAvailable() {
			time.Sleep(time.Millisecond)
		}
	}

	var allocated *Zone
	for attempt := 1; allocated == nil; attempt++ {
		z, err := d.allocateEmptyZone()
		if err != nil {
			if !isAux {
				d.PutOpenIOZoneToken()
				d.PutActiveIOZoneToken()
			}
			return err
		}
		if z != nil {
			allocated = z
			break
		}
		backoffSleep(attempt)
	}
	allocated.setLifetime(base.LifetimeGC)

	d.migrateMu.Lock()
	if isAux {
		d.gcAux = allocated
	} else {
		d.gcZone = allocated
	}
	d.migrateMu.Unlock()

	d.log.Debug("allocated gc zone",
		zap.Bool("aux", isAux),
		zap.Uint64("zone", allocated.Number()))
	return nil
}

// TakeMigrateZone returns the zone migration should write into, promoting
// the auxiliary zone when the primary cannot hold minCapacity more bytes.
// The returned zone remains owned by the lane.
func (d *Device) TakeMigrateZone(minCapacity uint64) (*Zone, error) {
	d.migrateMu.Lock()
	defer d.migrateMu.Unlock()

	if d.gcZone == nil {
		return nil, zerr.NoSpace("gc zone not allocated")
	}

	if d.gcZone.GetCapacityLeft() < minCapacity {
		if err := d.gcZone.Finish(); err != nil {
			d.log.Error("gc zone finish failed",
				zap.Uint64("zone", d.gcZone.Number()), zap.Error(err))
			return nil, err
		}
		d.log.Debug("finished gc zone", zap.Uint64("zone", d.gcZone.Number()))
		if err := d.gcZone.checkRelease(); err != nil {
			return nil, err
		}
		d.gcZone = d.gcAux
		d.gcAux = nil
	}

	if d.gcZone == nil {
		d.log.Info("gc zones exhausted")
		return nil, zerr.NoSpace("gc zones exhausted")
	}

	d.log.Info("take migrate zone", zap.Uint64("zone", d.gcZone.Number()))
	return d.gcZone, nil
}

// ReleaseMigrateZone drops the caller's hold on a migration target unless
// it is still the lane's primary, which the lane keeps.
func (d *Device) ReleaseMigrateZone(z *Zone) error {
	if z == nil {
		return nil
	}

	d.migrateMu.Lock()
	current := d.gcZone
	d.migrateMu.Unlock()
	if z == current {
		return nil
	}

	d.log.Info("release migrate zone", zap.Uint64("zone", z.Number()))
	return z.checkRelease()
}
