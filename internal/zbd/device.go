package zbd

import (
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"granite/internal/backend"
	"granite/internal/base"
	"granite/internal/metrics"
	"granite/internal/zerr"
)

// Options tune a Device at construction. Zero values pick the defaults a
// fresh mount would use.
type Options struct {
	Logger   *zap.Logger
	Recorder metrics.Recorder

	// Levels is the number of lifetime classes; LifetimeBegin is the hint
	// mapped to class 0.
	Levels        int
	LifetimeBegin base.Lifetime

	// FinishThreshold in percent of max capacity; zero disables the
	// finish policy.
	FinishThreshold uint64
}

// Device owns the zones of one zoned block device and every collaborator
// the allocator needs: the token counters, the level pools, the GC lane
// and the deferred error latch.
type Device struct {
	be  backend.Backend
	log *zap.Logger
	rec metrics.Recorder

	levels          int
	lifetimeBegin   base.Lifetime
	finishThreshold uint64

	metaZones []*Zone
	ioZones   []*Zone

	// levelMu guards the token counters, the class pools and the
	// available counts; levelRes is broadcast whenever any of them frees
	// up. Zone busy leases are always taken outside this mutex.
	levelMu    sync.Mutex
	levelRes   *sync.Cond
	levelZones []map[*Zone]struct{}
	levelAvail []atomic.Int64

	openIOZones   atomic.Int64
	activeIOZones atomic.Int64
	maxOpenIO     int64
	maxActiveIO   int64

	migrateMu sync.Mutex
	gcZone    *Zone
	gcAux     *Zone

	deferredMu sync.Mutex
	deferred   error

	bytesWritten atomic.Int64

	// gcBytesWritten counts migrated bytes per lifetime class, with one
	// extra bucket for the GC-tagged zones themselves.
	gcBytesWritten []atomic.Int64

	startTime time.Time
}

func NewDevice(be backend.Backend, opts Options) *Device {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.Nop{}
	}
	if opts.Levels < 1 {
		opts.Levels = 8
	}
	if opts.LifetimeBegin == base.LifetimeNotSet {
		opts.LifetimeBegin = base.LifetimeNone
	}

	d := &Device{
		be:              be,
		log:             opts.Logger,
		rec:             opts.Recorder,
		levels:          opts.Levels,
		lifetimeBegin:   opts.LifetimeBegin,
		finishThreshold: opts.FinishThreshold,
		levelZones:      make([]map[*Zone]struct{}, opts.Levels),
		levelAvail:      make([]atomic.Int64, opts.Levels),
		gcBytesWritten:  make([]atomic.Int64, opts.Levels+1),
	}
	for i := range d.levelZones {
		d.levelZones[i] = make(map[*Zone]struct{})
	}
	d.levelRes = sync.NewCond(&d.levelMu)
	return d
}

// Open readies the device: discovers and classifies zones, derives the
// token limits from the device caps, quiesces zones left open by a
// previous mount, and seeds the level pools.
func (d *Device) Open(readonly, exclusive bool) error {
	if !readonly && !exclusive {
		return zerr.InvalidArgument("write opens must be exclusive")
	}

	maxActive, maxOpen, err := d.be.Open(readonly, exclusive)
	if err != nil {
		return err
	}

	nr := d.be.NrZones()
	if nr < base.MinZones {
		return zerr.NotSupported("too few zones on zoned backend (%d required)", base.MinZones)
	}

	// The device caps cover every zone we may touch; reserve one zone for
	// metadata and one for extent migration. Zero means unlimited.
	if maxActive == 0 {
		d.maxActiveIO = int64(nr)
	} else {
		d.maxActiveIO = int64(maxActive) - base.ReservedZones
	}
	if maxOpen == 0 {
		d.maxOpenIO = int64(nr)
	} else {
		d.maxOpenIO = int64(maxOpen) - base.ReservedZones
	}

	d.log.Info("zoned block device",
		zap.String("device", d.be.Filename()),
		zap.Uint32("zones", nr),
		zap.Uint32("max_active", maxActive),
		zap.Uint32("max_open", maxOpen))

	infos, err := d.be.ListZones()
	if err != nil {
		return err
	}
	if uint32(len(infos)) != nr {
		d.log.Error("failed to list zones")
		return zerr.IOError("zone report has %d zones, device has %d", len(infos), nr)
	}

	// The lowest-indexed sequential zones hold the metadata log. Offline
	// zones count against the meta quota but are never used.
	i := 0
	for m := 0; m < base.MetaZones && i < len(infos); i++ {
		if !infos[i].SeqWriteRequired {
			continue
		}
		if !infos[i].Offline {
			d.metaZones = append(d.metaZones, newZone(d, infos[i]))
		}
		m++
	}

	// Everything else is an IO zone. Zones a previous mount left open are
	// closed so the device starts quiescent; zones it left active keep
	// their active token.
	for ; i < len(infos); i++ {
		info := infos[i]
		if !info.SeqWriteRequired || info.Offline {
			continue
		}
		z := newZone(d, info)
		if !z.Acquire() {
			return zerr.Corruption("failed to set busy flag of zone %d", z.Number())
		}
		d.ioZones = append(d.ioZones, z)
		if info.Active {
			d.activeIOZones.Add(1)
			if info.Open && !readonly {
				if cerr := z.Close(); cerr != nil {
					if rerr := z.checkRelease(); rerr != nil {
						return rerr
					}
					return cerr
				}
			}
		}
		if err := z.checkRelease(); err != nil {
			return err
		}
	}

	d.startTime = time.Now()

	if !readonly {
		if err := d.initialLevelZones(); err != nil {
			return err
		}
	}
	return nil
}

// Close quiesces partially written zones and shuts the backend down.
func (d *Device) Close() error {
	d.logDataMovement()

	var result *multierror.Error
	for _, z := range d.ioZones {
		if !z.Acquire() {
			continue
		}
		if err := z.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := z.checkRelease(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := d.be.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// GetIOZone finds the IO zone covering offset.
func (d *Device) GetIOZone(offset uint64) *Zone {
	for _, z := range d.ioZones {
		if z.start <= offset && offset < z.start+d.be.ZoneSize() {
			return z
		}
	}
	return nil
}

// GetFreeSpace sums the writable bytes across IO zones.
func (d *Device) GetFreeSpace() uint64 {
	var free uint64
	for _, z := range d.ioZones {
		free += z.GetCapacityLeft()
	}
	return free
}

// GetUsedSpace sums the live data across IO zones.
func (d *Device) GetUsedSpace() uint64 {
	var used uint64
	for _, z := range d.ioZones {
		used += uint64(z.UsedCapacity())
	}
	return used
}

// GetReclaimableSpace sums the garbage held by full zones.
func (d *Device) GetReclaimableSpace() uint64 {
	var reclaimable uint64
	for _, z := range d.ioZones {
		if z.IsFull() {
			reclaimable += z.MaxCapacity() - uint64(z.UsedCapacity())
		}
	}
	return reclaimable
}

// Read fills buf from the device, looping over short reads. Interrupted
// reads are retried transparently.
func (d *Device) Read(buf []byte, offset uint64, direct bool) (int, error) {
	read := 0
	for len(buf) > 0 {
		n, err := d.be.Read(buf, offset, direct)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return read, err
		}
		if n == 0 {
			break
		}
		read += n
		buf = buf[n:]
		offset += uint64(n)
	}
	return read, nil
}

// InvalidateCache drops page-cache pages covering the range.
func (d *Device) InvalidateCache(offset, length uint64) error {
	if err := d.be.InvalidateCache(offset, length); err != nil {
		return zerr.IOError("failed to invalidate cache")
	}
	return nil
}

// GetZoneDeferredStatus reports the latched background error, if any.
func (d *Device) GetZoneDeferredStatus() error {
	d.deferredMu.Lock()
	defer d.deferredMu.Unlock()
	return d.deferred
}

// SetZoneDeferredStatus latches the first background error; later errors
// are dropped. Passing nil clears the latch.
func (d *Device) SetZoneDeferredStatus(err error) {
	d.deferredMu.Lock()
	defer d.deferredMu.Unlock()
	if err == nil || d.deferred == nil {
		d.deferred = err
	}
}

func (d *Device) addBytesWritten(n int64) { d.bytesWritten.Add(n) }

// BytesWritten reports the total bytes appended since mount.
func (d *Device) BytesWritten() int64 { return d.bytesWritten.Load() }

// AddGCBytesWritten accounts bytes migrated out of a zone of the given
// lifetime.
func (d *Device) AddGCBytesWritten(lt base.Lifetime, n int64) {
	bucket := len(d.gcBytesWritten) - 1
	if level := int(lt - d.lifetimeBegin); lt != base.LifetimeGC && level >= 0 && level < d.levels {
		bucket = level
	}
	d.gcBytesWritten[bucket].Add(n)
	d.rec.ReportThroughput(metrics.GCBytesMigrated, n)
}

// GCBytesWritten reports migrated bytes per lifetime class; the final
// entry covers the GC zones themselves.
func (d *Device) GCBytesWritten() []int64 {
	out := make([]int64, len(d.gcBytesWritten))
	for i := range d.gcBytesWritten {
		out[i] = d.gcBytesWritten[i].Load()
	}
	return out
}

func (d *Device) BlockSize() uint32 { return d.be.BlockSize() }
func (d *Device) ZoneSize() uint64  { return d.be.ZoneSize() }
func (d *Device) NrZones() uint32   { return d.be.NrZones() }
func (d *Device) Filename() string  { return d.be.Filename() }
