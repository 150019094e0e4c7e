package zbd

import (
	"go.uber.org/zap"

	"granite/internal/base"
	"granite/internal/metrics"
	"granite/internal/zerr"
)

// allocateEmptyZone scans the IO zones for an empty one and returns it
// with the busy lease held, or nil if the device has none right now.
func (d *Device) allocateEmptyZone() (*Zone, error) {
	for _, z := range d.ioZones {
		if !z.Acquire() {
			continue
		}
		if z.IsEmpty() {
			return z, nil
		}
		if err := z.checkRelease(); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// AllocateMetaZone finds a meta zone with no live data, resetting it first
// if it holds garbage, and returns it busy-held.
func (d *Device) AllocateMetaZone() (*Zone, error) {
	guard := metrics.NewLatencyGuard(d.rec, metrics.MetaAllocLatency)
	defer guard.Stop()
	d.rec.ReportQPS(metrics.MetaAllocQPS, 1)

	for _, z := range d.metaZones {
		if !z.Acquire() {
			continue
		}
		if !z.IsUsed() {
			if !z.IsEmpty() {
				if err := z.Reset(); err != nil {
					d.log.Warn("failed resetting meta zone",
						zap.Uint64("zone", z.Number()), zap.Error(err))
					if rerr := z.checkRelease(); rerr != nil {
						return nil, rerr
					}
					continue
				}
			}
			return z, nil
		}
		if err := z.checkRelease(); err != nil {
			return nil, err
		}
	}

	d.log.Error("out of metadata zones, we should go to read only now")
	return nil, zerr.NoSpace("out of metadata zones")
}

// AllocateIOZone returns an exclusively held zone with room for data of
// the given lifetime. WAL allocations take the fast path; everything else
// pays for reclaim housekeeping first. The zone comes from the lifetime
// class pool when one is free, otherwise a fresh empty zone is opened and
// joins the pool.
func (d *Device) AllocateIOZone(fileLifetime base.Lifetime, ioType base.IOType, fileID uint64) (*Zone, error) {
	label := metrics.WALAllocLatency
	if ioType != base.IOTypeWAL {
		// L0 flushes have lifetime MEDIUM.
		if fileLifetime == base.LifetimeMedium {
			label = metrics.L0AllocLatency
		} else {
			label = metrics.NonWALAllocLatency
		}
	}
	guard := metrics.NewLatencyGuard(d.rec, label)
	defer guard.Stop()
	d.rec.ReportQPS(metrics.IOAllocQPS, 1)

	if err := d.GetZoneDeferredStatus(); err != nil {
		return nil, err
	}

	if ioType != base.IOTypeWAL {
		if err := d.ApplyFinishThreshold(); err != nil {
			return nil, err
		}
		if err := d.ResetUnusedIOZones(); err != nil {
			return nil, err
		}
	}

	// Hints below SHORT are remapped: the filesystem metadata file goes
	// to the first class, everything else to the last.
	if fileLifetime < base.LifetimeShort {
		if fileID == base.MetaFileID {
			fileLifetime = d.lifetimeBegin
		} else {
			fileLifetime = d.lifetimeBegin + base.Lifetime(d.levels-1)
		}
	}
	level := int(fileLifetime - d.lifetimeBegin)
	if level < 0 || level >= d.levels {
		return nil, zerr.InvalidArgument("lifetime %s outside configured classes", fileLifetime)
	}

	var allocated *Zone
	grew := false

	d.levelMu.Lock()
	for d.levelAvail[level].Load() <= 0 && d.openIOZones.Load() >= d.maxOpenIO {
		d.levelRes.Wait()
	}

	if d.levelAvail[level].Load() > 0 {
		d.levelAvail[level].Add(-1)
		for z := range d.levelZones[level] {
			if !z.inPoolUse {
				z.inPoolUse = true
				allocated = z
				break
			}
		}
		if allocated == nil {
			d.levelAvail[level].Add(1)
			d.levelMu.Unlock()
			return nil, zerr.Corruption("level %d reports free zones but none found", level)
		}
	} else {
		grew = true
		d.openIOZones.Add(1)
		d.activeIOZones.Add(1)
		for attempt := 1; allocated == nil; attempt++ {
			z, err := d.allocateEmptyZone()
			if err != nil {
				d.activeIOZones.Add(-1)
				d.openIOZones.Add(-1)
				d.levelMu.Unlock()
				d.levelRes.Broadcast()
				return nil, err
			}
			if z != nil {
				allocated = z
				break
			}
			// Let token holders progress while we wait for a reset to
			// free up an empty zone.
			d.levelMu.Unlock()
			backoffSleep(attempt)
			d.levelMu.Lock()
		}
		allocated.setLifetime(d.lifetimeBegin + base.Lifetime(level))
		d.levelZones[level][allocated] = struct{}{}
		allocated.inPoolUse = true
	}
	d.levelMu.Unlock()

	d.log.Debug("allocated io zone",
		zap.Bool("new", grew),
		zap.Uint64("zone", allocated.Number()),
		zap.Uint64("wp", allocated.Wp()),
		zap.Stringer("lifetime", allocated.Lifetime()),
		zap.Uint64("file", fileID))

	if ioType != base.IOTypeWAL {
		d.LogZoneStats()
	}

	d.rec.ReportGeneral(metrics.OpenZonesCount, d.openIOZones.Load())
	d.rec.ReportGeneral(metrics.ActiveZonesCount, d.activeIOZones.Load())

	return allocated, nil
}

// ResetUnusedIOZones resets every acquirable zone that holds only garbage.
// A zone that was not yet full still holds tokens: pool members are
// retired through EmitLevelZone, others refund their active token.
func (d *Device) ResetUnusedIOZones() error {
	for _, z := range d.ioZones {
		if !z.Acquire() {
			continue
		}
		if !z.IsEmpty() && !z.IsUsed() {
			full := z.IsFull()
			d.log.Debug("resetting unused zone", zap.Uint64("zone", z.Number()))
			resetErr := z.Reset()
			relErr := z.checkRelease()
			if resetErr != nil {
				return resetErr
			}
			if relErr != nil {
				return relErr
			}
			if !full {
				if d.isLevelZone(z) {
					if _, err := d.EmitLevelZone(z); err != nil {
						return err
					}
				} else {
					d.PutActiveIOZoneToken()
				}
			}
			continue
		}
		if err := z.checkRelease(); err != nil {
			return err
		}
	}
	return nil
}

// ApplyFinishThreshold finishes nearly-full zones to trade their remaining
// capacity for active token headroom.
func (d *Device) ApplyFinishThreshold() error {
	if d.finishThreshold == 0 {
		return nil
	}

	for _, z := range d.ioZones {
		if !z.Acquire() {
			continue
		}
		within := z.GetCapacityLeft() < z.MaxCapacity()*d.finishThreshold/100
		if !z.IsEmpty() && !z.IsFull() && within {
			if err := z.Finish(); err != nil {
				z.Release()
				d.log.Debug("failed finishing zone", zap.Error(err))
				return err
			}
			d.log.Debug("finished zone within threshold", zap.Uint64("zone", z.Number()))
			if err := z.checkRelease(); err != nil {
				return err
			}
			d.PutActiveIOZoneToken()
			continue
		}
		if err := z.checkRelease(); err != nil {
			return err
		}
	}
	return nil
}

// FinishCheapestIOZone finishes the acquirable non-empty non-full zone
// with the least remaining capacity, wasting as few bytes as possible, and
// refunds its active token. A finish failure here is fatal: the token
// accounting would diverge otherwise.
func (d *Device) FinishCheapestIOZone() error {
	var victim *Zone
	for _, z := range d.ioZones {
		if !z.Acquire() {
			continue
		}
		if z.IsEmpty() || z.IsFull() {
			if err := z.checkRelease(); err != nil {
				return err
			}
			continue
		}
		if victim == nil {
			victim = z
			continue
		}
		if victim.GetCapacityLeft() > z.GetCapacityLeft() {
			if err := victim.checkRelease(); err != nil {
				return err
			}
			victim = z
		} else {
			if err := z.checkRelease(); err != nil {
				return err
			}
		}
	}

	// All non-busy zones empty or full; nothing to do.
	if victim == nil {
		return nil
	}

	d.log.Debug("finishing cheapest zone",
		zap.Uint64("zone", victim.Number()),
		zap.Uint64("left", victim.GetCapacityLeft()))
	finishErr := victim.Finish()
	relErr := victim.checkRelease()
	if finishErr != nil {
		d.log.Fatal("zone finish failed",
			zap.Uint64("zone", victim.Number()), zap.Error(finishErr))
	}
	d.PutActiveIOZoneToken()
	return relErr
}
