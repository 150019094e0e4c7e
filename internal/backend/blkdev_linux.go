//go:build linux

package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"granite/internal/zerr"
)

// blkzoned ioctl requests, from <linux/blkzoned.h>.
const (
	blkReportZone = 0xc0101282 // _IOWR(0x12, 130, struct blk_zone_report)
	blkResetZone  = 0x40101283 // _IOW(0x12, 131, struct blk_zone_range)
	blkGetZoneSz  = 0x80041284 // _IOR(0x12, 132, __u32)
	blkGetNrZones = 0x80041285 // _IOR(0x12, 133, __u32)
	blkOpenZone   = 0x40101286 // _IOW(0x12, 134, struct blk_zone_range)
	blkCloseZone  = 0x40101287 // _IOW(0x12, 135, struct blk_zone_range)
	blkFinishZone = 0x40101288 // _IOW(0x12, 136, struct blk_zone_range)
)

// Zone conditions reported by BLKREPORTZONE.
const (
	zoneCondNotWp   = 0x0
	zoneCondEmpty   = 0x1
	zoneCondImpOpen = 0x2
	zoneCondExpOpen = 0x3
	zoneCondClosed  = 0x4
	zoneCondRdonly  = 0xd
	zoneCondFull    = 0xe
	zoneCondOffline = 0xf
)

const zoneTypeSeqWriteReq = 0x2

const sectorShift = 9

// blkZone mirrors struct blk_zone. All positions are in 512-byte sectors.
type blkZone struct {
	Start    uint64
	Len      uint64
	Wp       uint64
	Type     uint8
	Cond     uint8
	NonSeq   uint8
	Reset    uint8
	_        [4]uint8
	Capacity uint64
	_        [24]uint8
}

// blkZoneReport mirrors struct blk_zone_report; blkZone entries follow it
// in the ioctl buffer.
type blkZoneReport struct {
	Sector  uint64
	NrZones uint32
	Flags   uint32
}

type blkZoneRange struct {
	Sector   uint64
	NrSector uint64
}

// BlkDev drives a kernel zoned block device through the blkzoned ioctl
// interface. Writes go through an O_DIRECT descriptor; a second buffered
// descriptor serves non-direct reads and cache invalidation.
type BlkDev struct {
	path string

	readFd   int
	directFd int
	writeFd  int

	blockSize uint32
	zoneSize  uint64
	nrZones   uint32
}

var _ Backend = (*BlkDev)(nil)

func NewBlkDev(path string) *BlkDev {
	return &BlkDev{path: path, readFd: -1, directFd: -1, writeFd: -1}
}

func (b *BlkDev) Open(readonly, exclusive bool) (uint32, uint32, error) {
	fd, err := unix.Open(b.path, unix.O_RDONLY, 0)
	if err != nil {
		return 0, 0, zerr.WrapIO("open "+b.path, err)
	}
	b.readFd = fd

	fd, err = unix.Open(b.path, unix.O_RDONLY|unix.O_DIRECT, 0)
	if err != nil {
		b.Close()
		return 0, 0, zerr.WrapIO("open direct "+b.path, err)
	}
	b.directFd = fd

	if !readonly {
		flags := unix.O_WRONLY | unix.O_DIRECT
		if exclusive {
			flags |= unix.O_EXCL
		}
		fd, err = unix.Open(b.path, flags, 0)
		if err != nil {
			b.Close()
			return 0, 0, zerr.WrapIO("open write "+b.path, err)
		}
		b.writeFd = fd
	}

	var zoneSectors uint32
	if err := ioctlUint32(b.readFd, blkGetZoneSz, &zoneSectors); err != nil {
		b.Close()
		return 0, 0, zerr.WrapIO("BLKGETZONESZ", err)
	}
	b.zoneSize = uint64(zoneSectors) << sectorShift

	if err := ioctlUint32(b.readFd, blkGetNrZones, &b.nrZones); err != nil {
		b.Close()
		return 0, 0, zerr.WrapIO("BLKGETNRZONES", err)
	}

	ssz, err := unix.IoctlGetInt(b.readFd, unix.BLKSSZGET)
	if err != nil || ssz <= 0 {
		ssz = 4096
	}
	b.blockSize = uint32(ssz)

	return b.queueLimit("max_active_zones"), b.queueLimit("max_open_zones"), nil
}

// queueLimit reads a zone limit from the device's sysfs queue directory.
// Missing attributes mean the device does not constrain the resource.
func (b *BlkDev) queueLimit(attr string) uint32 {
	name := filepath.Base(b.path)
	data, err := os.ReadFile(filepath.Join("/sys/block", name, "queue", attr))
	if err != nil {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

func ioctlUint32(fd int, req uint, out *uint32) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(unsafe.Pointer(out)))
	if errno != 0 {
		return errno
	}
	return nil
}

// reportZones issues BLKREPORTZONE for up to n zones starting at sector.
func (b *BlkDev) reportZones(sector uint64, n uint32) ([]blkZone, error) {
	hdrSize := unsafe.Sizeof(blkZoneReport{})
	zoneSize := unsafe.Sizeof(blkZone{})
	buf := make([]byte, hdrSize+uintptr(n)*zoneSize)

	hdr := (*blkZoneReport)(unsafe.Pointer(&buf[0]))
	hdr.Sector = sector
	hdr.NrZones = n

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(b.readFd), blkReportZone, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return nil, zerr.WrapIO("BLKREPORTZONE", errno)
	}

	zones := make([]blkZone, hdr.NrZones)
	for i := range zones {
		zones[i] = *(*blkZone)(unsafe.Pointer(&buf[hdrSize+uintptr(i)*zoneSize]))
	}
	return zones, nil
}

func (b *BlkDev) ListZones() ([]ZoneInfo, error) {
	zones, err := b.reportZones(0, b.nrZones)
	if err != nil {
		return nil, err
	}
	infos := make([]ZoneInfo, 0, len(zones))
	for _, z := range zones {
		infos = append(infos, zoneInfoFromReport(z))
	}
	return infos, nil
}

func zoneInfoFromReport(z blkZone) ZoneInfo {
	capacity := z.Capacity
	if capacity == 0 {
		// Pre-5.9 kernels do not report capacity; it equals the zone length.
		capacity = z.Len
	}
	writable := z.Cond == zoneCondEmpty || z.Cond == zoneCondImpOpen ||
		z.Cond == zoneCondExpOpen || z.Cond == zoneCondClosed
	return ZoneInfo{
		Start:            z.Start << sectorShift,
		Wp:               z.Wp << sectorShift,
		MaxCapacity:      capacity << sectorShift,
		Writable:         writable,
		Active:           z.Cond == zoneCondImpOpen || z.Cond == zoneCondExpOpen || z.Cond == zoneCondClosed,
		Open:             z.Cond == zoneCondImpOpen || z.Cond == zoneCondExpOpen,
		Offline:          z.Cond == zoneCondOffline,
		SeqWriteRequired: z.Type == zoneTypeSeqWriteReq,
	}
}

func (b *BlkDev) Read(p []byte, offset uint64, direct bool) (int, error) {
	fd := b.readFd
	if direct {
		fd = b.directFd
	}
	n, err := unix.Pread(fd, p, int64(offset))
	if err != nil {
		return n, err
	}
	return n, nil
}

func (b *BlkDev) Write(p []byte, offset uint64) (int, error) {
	n, err := unix.Pwrite(b.writeFd, p, int64(offset))
	if err != nil {
		return n, zerr.WrapIO("pwrite", err)
	}
	return n, nil
}

func (b *BlkDev) zoneRange(start uint64) blkZoneRange {
	return blkZoneRange{
		Sector:   start >> sectorShift,
		NrSector: b.zoneSize >> sectorShift,
	}
}

func (b *BlkDev) zoneIoctl(req uint, start uint64, op string) error {
	rng := b.zoneRange(start)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(b.writeFd), uintptr(req), uintptr(unsafe.Pointer(&rng)))
	if errno != 0 {
		return zerr.WrapIO(op, errno)
	}
	return nil
}

func (b *BlkDev) ResetZone(start uint64) (bool, uint64, error) {
	if err := b.zoneIoctl(blkResetZone, start, "BLKRESETZONE"); err != nil {
		return false, 0, err
	}

	// The zone may have gone offline or come back with reduced capacity;
	// report it again to find out.
	zones, err := b.reportZones(start>>sectorShift, 1)
	if err != nil {
		return false, 0, err
	}
	if len(zones) == 0 {
		return false, 0, zerr.IOError("zone at 0x%x missing from report after reset", start)
	}
	info := zoneInfoFromReport(zones[0])
	return info.Offline, info.MaxCapacity, nil
}

func (b *BlkDev) FinishZone(start uint64) error {
	return b.zoneIoctl(blkFinishZone, start, "BLKFINISHZONE")
}

func (b *BlkDev) CloseZone(start uint64) error {
	return b.zoneIoctl(blkCloseZone, start, "BLKCLOSEZONE")
}

func (b *BlkDev) InvalidateCache(offset, length uint64) error {
	if err := unix.Fadvise(b.readFd, int64(offset), int64(length), unix.FADV_DONTNEED); err != nil {
		return zerr.WrapIO("fadvise", err)
	}
	return nil
}

func (b *BlkDev) BlockSize() uint32 { return b.blockSize }
func (b *BlkDev) ZoneSize() uint64  { return b.zoneSize }
func (b *BlkDev) NrZones() uint32   { return b.nrZones }
func (b *BlkDev) Filename() string  { return b.path }

func (b *BlkDev) Close() error {
	var err error
	for _, fd := range []*int{&b.writeFd, &b.directFd, &b.readFd} {
		if *fd < 0 {
			continue
		}
		if cerr := unix.Close(*fd); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", b.path, cerr)
		}
		*fd = -1
	}
	return err
}
