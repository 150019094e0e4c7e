//go:build !linux

package backend

import "granite/internal/zerr"

// BlkDev requires the Linux blkzoned ioctl interface. On other platforms
// it exists only so callers can construct it and get a clean error from
// Open.
type BlkDev struct {
	path string
}

var _ Backend = (*BlkDev)(nil)

func NewBlkDev(path string) *BlkDev { return &BlkDev{path: path} }

func (b *BlkDev) Open(readonly, exclusive bool) (uint32, uint32, error) {
	return 0, 0, zerr.NotSupported("zoned block devices require linux")
}

func (b *BlkDev) ListZones() ([]ZoneInfo, error) {
	return nil, zerr.NotSupported("zoned block devices require linux")
}

func (b *BlkDev) Read(p []byte, offset uint64, direct bool) (int, error) {
	return 0, zerr.NotSupported("zoned block devices require linux")
}

func (b *BlkDev) Write(p []byte, offset uint64) (int, error) {
	return 0, zerr.NotSupported("zoned block devices require linux")
}

func (b *BlkDev) ResetZone(start uint64) (bool, uint64, error) {
	return false, 0, zerr.NotSupported("zoned block devices require linux")
}

func (b *BlkDev) FinishZone(start uint64) error {
	return zerr.NotSupported("zoned block devices require linux")
}

func (b *BlkDev) CloseZone(start uint64) error {
	return zerr.NotSupported("zoned block devices require linux")
}

func (b *BlkDev) InvalidateCache(offset, length uint64) error { return nil }

func (b *BlkDev) BlockSize() uint32 { return 0 }
func (b *BlkDev) ZoneSize() uint64  { return 0 }
func (b *BlkDev) NrZones() uint32   { return 0 }
func (b *BlkDev) Filename() string  { return b.path }
func (b *BlkDev) Close() error      { return nil }
