// Package backend provides bit-level access to a zoned address space. The
// allocator core talks to one of three interchangeable variants: a kernel
// block-device transport driven by blkzoned ioctls, a ZoneFS-style transport
// where every sequential zone is a file, and an in-memory device used by
// tests.
package backend

// ZoneInfo is one row of a zone report.
type ZoneInfo struct {
	Start       uint64
	Wp          uint64
	MaxCapacity uint64

	Writable         bool
	Active           bool
	Open             bool
	Offline          bool
	SeqWriteRequired bool
}

// Backend is the contract the allocator core consumes. Write must land at
// the target zone's write pointer; Read and Write may transfer fewer bytes
// than requested and callers loop. All sizes and offsets are in bytes.
type Backend interface {
	// Open readies the device. The returned limits are the device caps on
	// simultaneously active and open zones; zero means unlimited.
	Open(readonly, exclusive bool) (maxActiveZones, maxOpenZones uint32, err error)

	// ListZones reports every zone in index order.
	ListZones() ([]ZoneInfo, error)

	Read(p []byte, offset uint64, direct bool) (int, error)
	Write(p []byte, offset uint64) (int, error)

	// ResetZone rewinds the zone starting at start. It reports whether the
	// zone went offline and the capacity it offers after the reset, which
	// may differ from before.
	ResetZone(start uint64) (offline bool, maxCapacity uint64, err error)

	// FinishZone transitions the zone to full.
	FinishZone(start uint64) error

	// CloseZone transitions an open zone to closed-but-active.
	CloseZone(start uint64) error

	// InvalidateCache drops any page-cache pages covering the range.
	InvalidateCache(offset, length uint64) error

	BlockSize() uint32
	ZoneSize() uint64
	NrZones() uint32
	Filename() string

	Close() error
}
