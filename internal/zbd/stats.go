package zbd

import (
	"time"

	"go.uber.org/zap"
)

const mb = 1 << 20

// LogZoneStats logs aggregate zone usage: live data, reclaimable garbage
// and how many zones are between empty and full.
func (d *Device) LogZoneStats() {
	var usedCapacity, reclaimable, reclaimablesMax, inFlight uint64

	for _, z := range d.ioZones {
		used := uint64(z.UsedCapacity())
		usedCapacity += used

		if used > 0 {
			reclaimable += z.MaxCapacity() - used
			reclaimablesMax += z.MaxCapacity()
		}
		if !z.IsFull() && !z.IsEmpty() {
			inFlight++
		}
	}

	if reclaimablesMax == 0 {
		reclaimablesMax = 1
	}

	d.log.Info("zone stats",
		zap.Duration("uptime", time.Since(d.startTime)),
		zap.Uint64("used_mb", usedCapacity/mb),
		zap.Uint64("reclaimable_mb", reclaimable/mb),
		zap.Uint64("reclaimable_pct", 100*reclaimable/reclaimablesMax),
		zap.Uint64("partial_zones", inFlight),
		zap.Int64("active_zones", d.activeIOZones.Load()),
		zap.Int64("open_zones", d.openIOZones.Load()))
}

// LogZoneUsage logs the live-data count of every zone holding data.
func (d *Device) LogZoneUsage() {
	for _, z := range d.ioZones {
		used := z.UsedCapacity()
		if used > 0 {
			d.log.Debug("zone usage",
				zap.Uint64("start", z.Start()),
				zap.Int64("used", used),
				zap.Int64("used_mb", used/mb))
		}
	}
}

// LogGarbageInfo logs a histogram of garbage rates across IO zones. Bucket
// 0 holds empty zones; bucket i holds zones with less than i*10% garbage;
// the last bucket holds fully-garbage zones. The walk skips busy zones and
// does not need the result to be precise.
func (d *Device) LogGarbageInfo() {
	var garbageStat [12]int

	for _, z := range d.ioZones {
		if !z.Acquire() {
			continue
		}

		if z.IsEmpty() {
			garbageStat[0]++
			z.Release()
			continue
		}

		var garbageRate float64
		if z.IsFull() {
			garbageRate = float64(z.MaxCapacity()-uint64(z.UsedCapacity())) / float64(z.MaxCapacity())
		} else {
			garbageRate = float64(z.Wp()-z.Start()-uint64(z.UsedCapacity())) / float64(z.MaxCapacity())
		}
		idx := int((garbageRate + 0.1) * 10)
		if idx < 0 {
			idx = 0
		}
		if idx > 11 {
			idx = 11
		}
		garbageStat[idx]++

		z.Release()
	}

	d.log.Info("zone garbage stats", zap.Ints("buckets", garbageStat[:]))
}

// logDataMovement logs how much data GC migrated per lifetime class over
// the device's life.
func (d *Device) logDataMovement() {
	var sum int64
	for i := range d.gcBytesWritten {
		n := d.gcBytesWritten[i].Load()
		sum += n
		if n > 0 {
			d.log.Info("gc data movement",
				zap.Int("class", i),
				zap.Int64("moved_mb", n/mb))
		}
	}
	d.log.Info("gc data movement total", zap.Int64("moved_mb", sum/mb))
}
