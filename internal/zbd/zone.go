package zbd

import (
	"sync/atomic"

	"granite/internal/backend"
	"granite/internal/base"
	"granite/internal/metrics"
	"granite/internal/zerr"
)

// Zone is the in-memory handle for one physical zone. The busy flag is an
// exclusive lease: whoever flips it false→true owns the right to mutate the
// write pointer, capacity and lifetime until they release it. Pool
// membership is tracked separately under the device's level mutex.
type Zone struct {
	dev *Device

	start       uint64
	maxCapacity atomic.Uint64
	wp          atomic.Uint64
	capacity    atomic.Uint64

	// used is the live-data byte count maintained by the filesystem
	// layer; the allocator only reads it.
	used atomic.Int64

	lifetime atomic.Int32
	busy     atomic.Bool

	// inPoolUse marks the zone as the current target of a writer inside
	// its level pool. Guarded by Device.levelMu.
	inPoolUse bool
}

func newZone(dev *Device, info backend.ZoneInfo) *Zone {
	z := &Zone{dev: dev, start: info.Start}
	z.maxCapacity.Store(info.MaxCapacity)
	z.wp.Store(info.Wp)
	z.lifetime.Store(int32(base.LifetimeNotSet))
	if info.Writable {
		z.capacity.Store(info.MaxCapacity - (info.Wp - info.Start))
	}
	return z
}

// Acquire takes the exclusive lease. It fails if another owner holds it.
func (z *Zone) Acquire() bool {
	return z.busy.CompareAndSwap(false, true)
}

// Release drops the exclusive lease. It fails if the lease was not held.
func (z *Zone) Release() bool {
	return z.busy.CompareAndSwap(true, false)
}

// checkRelease releases the lease and escalates a failure: a release that
// does not succeed means zone state is inconsistent.
func (z *Zone) checkRelease() error {
	if !z.Release() {
		return zerr.Corruption("failed to unset busy flag of zone %d", z.Number())
	}
	return nil
}

func (z *Zone) IsBusy() bool  { return z.busy.Load() }
func (z *Zone) IsUsed() bool  { return z.used.Load() > 0 }
func (z *Zone) IsFull() bool  { return z.capacity.Load() == 0 }
func (z *Zone) IsEmpty() bool { return z.wp.Load() == z.start }

func (z *Zone) Start() uint64           { return z.start }
func (z *Zone) Wp() uint64              { return z.wp.Load() }
func (z *Zone) MaxCapacity() uint64     { return z.maxCapacity.Load() }
func (z *Zone) GetCapacityLeft() uint64 { return z.capacity.Load() }
func (z *Zone) UsedCapacity() int64     { return z.used.Load() }

// AddUsed adjusts the live-data byte count; the filesystem layer calls it
// as extents are created and invalidated.
func (z *Zone) AddUsed(n int64) { z.used.Add(n) }

func (z *Zone) Lifetime() base.Lifetime { return base.Lifetime(z.lifetime.Load()) }

func (z *Zone) setLifetime(lt base.Lifetime) { z.lifetime.Store(int32(lt)) }

// Number is the zone's index on the device.
func (z *Zone) Number() uint64 { return z.start / z.dev.ZoneSize() }

// Append writes data at the write pointer, tolerating short writes from
// the backend. The caller must hold the busy lease and supply a length
// that is a multiple of the device block size.
func (z *Zone) Append(data []byte) error {
	guard := metrics.NewLatencyGuard(z.dev.rec, metrics.ZoneWriteLatency)
	defer guard.Stop()
	z.dev.rec.ReportThroughput(metrics.ZoneWriteThroughput, int64(len(data)))

	if uint64(len(data)) > z.capacity.Load() {
		return zerr.NoSpace("not enough capacity for append")
	}
	if uint64(len(data))%uint64(z.dev.BlockSize()) != 0 {
		return zerr.InvalidArgument("append size %d not block aligned", len(data))
	}

	for left := data; len(left) > 0; {
		n, err := z.dev.be.Write(left, z.wp.Load())
		if err != nil {
			return err
		}
		z.wp.Add(uint64(n))
		z.capacity.Add(^(uint64(n) - 1))
		z.dev.addBytesWritten(int64(n))
		left = left[n:]
	}
	return nil
}

// Reset rewinds the zone. It must only be called on a zone with no live
// data; the device may hand back a different capacity, or none at all if
// the zone went offline.
func (z *Zone) Reset() error {
	if z.IsUsed() {
		return zerr.Corruption("reset of zone %d with %d live bytes", z.Number(), z.used.Load())
	}

	offline, maxCapacity, err := z.dev.be.ResetZone(z.start)
	if err != nil {
		return err
	}

	if offline {
		z.capacity.Store(0)
	} else {
		z.maxCapacity.Store(maxCapacity)
		z.capacity.Store(maxCapacity)
	}
	z.wp.Store(z.start)
	z.setLifetime(base.LifetimeNotSet)
	return nil
}

// Finish transitions the zone to full, surrendering its remaining
// capacity.
func (z *Zone) Finish() error {
	if err := z.dev.be.FinishZone(z.start); err != nil {
		return err
	}
	z.capacity.Store(0)
	z.wp.Store(z.start + z.dev.ZoneSize())
	return nil
}

// Close moves a partially written zone from open to closed-but-active. It
// is a no-op on empty or full zones.
func (z *Zone) Close() error {
	if z.IsEmpty() || z.IsFull() {
		return nil
	}
	return z.dev.be.CloseZone(z.start)
}
