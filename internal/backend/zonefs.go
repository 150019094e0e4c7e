package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/ncw/directio"

	"granite/internal/zerr"
)

// ZoneFS exposes a zonefs mount as a Backend. Every sequential zone is a
// file under <dir>/seq; the file size is the zone's write pointer, so the
// zone state machine maps onto plain file operations: appending advances
// the write pointer, truncating to zero resets the zone, and truncating to
// the zone size finishes it.
type ZoneFS struct {
	dir       string
	zoneSize  uint64
	blockSize uint32

	mu       sync.Mutex
	files    []*os.File
	names    []string
	readonly bool
}

var _ Backend = (*ZoneFS)(nil)

// NewZoneFS returns a backend rooted at dir. zonefs does not expose the
// zone size through the file API, so the mounter supplies it.
func NewZoneFS(dir string, zoneSize uint64) *ZoneFS {
	return &ZoneFS{
		dir:       dir,
		zoneSize:  zoneSize,
		blockSize: uint32(directio.BlockSize),
	}
}

func (z *ZoneFS) Open(readonly, exclusive bool) (uint32, uint32, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.readonly = readonly

	seq := filepath.Join(z.dir, "seq")
	entries, err := os.ReadDir(seq)
	if err != nil {
		return 0, 0, zerr.WrapIO("read zonefs seq dir", err)
	}

	// Zone files are named by index; directory order is lexical.
	idx := make([]int, 0, len(entries))
	for _, e := range entries {
		n, convErr := strconv.Atoi(e.Name())
		if convErr != nil {
			continue
		}
		idx = append(idx, n)
	}
	sort.Ints(idx)

	z.names = z.names[:0]
	for _, n := range idx {
		z.names = append(z.names, filepath.Join(seq, strconv.Itoa(n)))
	}
	z.files = make([]*os.File, len(z.names))

	// zonefs does not publish open/active caps through the file API;
	// report unlimited and let the mounter derive limits from zone count.
	return 0, 0, nil
}

// file returns the O_DIRECT handle for zone idx, opening it on first use.
func (z *ZoneFS) file(idx int) (*os.File, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if idx < 0 || idx >= len(z.names) {
		return nil, zerr.IOError("zone index %d beyond device", idx)
	}
	if z.files[idx] != nil {
		return z.files[idx], nil
	}
	flag := os.O_RDWR
	if z.readonly {
		flag = os.O_RDONLY
	}
	f, err := directio.OpenFile(z.names[idx], flag, 0644)
	if err != nil {
		return nil, zerr.WrapIO("open zone file", err)
	}
	z.files[idx] = f
	return f, nil
}

func (z *ZoneFS) ListZones() ([]ZoneInfo, error) {
	z.mu.Lock()
	names := append([]string(nil), z.names...)
	z.mu.Unlock()

	infos := make([]ZoneInfo, 0, len(names))
	for i, name := range names {
		st, err := os.Stat(name)
		if err != nil {
			return nil, zerr.WrapIO("stat zone file", err)
		}
		wp := uint64(st.Size())
		start := uint64(i) * z.zoneSize
		infos = append(infos, ZoneInfo{
			Start:            start,
			Wp:               start + wp,
			MaxCapacity:      z.zoneSize,
			Writable:         wp < z.zoneSize,
			Active:           wp > 0 && wp < z.zoneSize,
			Open:             false,
			Offline:          false,
			SeqWriteRequired: true,
		})
	}
	return infos, nil
}

func (z *ZoneFS) split(offset uint64) (int, int64) {
	return int(offset / z.zoneSize), int64(offset % z.zoneSize)
}

func (z *ZoneFS) Write(p []byte, offset uint64) (int, error) {
	idx, off := z.split(offset)
	f, err := z.file(idx)
	if err != nil {
		return 0, err
	}
	n, err := f.WriteAt(p, off)
	if err != nil {
		return n, zerr.WrapIO("zone file write", err)
	}
	return n, nil
}

func (z *ZoneFS) Read(p []byte, offset uint64, direct bool) (int, error) {
	idx, off := z.split(offset)
	f, err := z.file(idx)
	if err != nil {
		return 0, err
	}
	n, err := f.ReadAt(p, off)
	if err != nil && n == 0 {
		return 0, zerr.WrapIO("zone file read", err)
	}
	return n, nil
}

func (z *ZoneFS) ResetZone(start uint64) (bool, uint64, error) {
	idx, _ := z.split(start)
	f, err := z.file(idx)
	if err != nil {
		return false, 0, err
	}
	if err := f.Truncate(0); err != nil {
		return false, 0, zerr.WrapIO("zone reset", err)
	}
	return false, z.zoneSize, nil
}

func (z *ZoneFS) FinishZone(start uint64) error {
	idx, _ := z.split(start)
	f, err := z.file(idx)
	if err != nil {
		return err
	}
	if err := f.Truncate(int64(z.zoneSize)); err != nil {
		return zerr.WrapIO("zone finish", err)
	}
	return nil
}

// CloseZone is a no-op: zonefs tracks explicit opens through file handles
// and closes them when the handle goes away.
func (z *ZoneFS) CloseZone(start uint64) error { return nil }

// InvalidateCache is a no-op: all IO goes through O_DIRECT handles and
// never populates the page cache.
func (z *ZoneFS) InvalidateCache(offset, length uint64) error { return nil }

func (z *ZoneFS) BlockSize() uint32 { return z.blockSize }
func (z *ZoneFS) ZoneSize() uint64  { return z.zoneSize }

func (z *ZoneFS) NrZones() uint32 {
	z.mu.Lock()
	defer z.mu.Unlock()
	return uint32(len(z.names))
}

func (z *ZoneFS) Filename() string { return z.dir }

func (z *ZoneFS) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	var err error
	for i, f := range z.files {
		if f == nil {
			continue
		}
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close zone file: %w", cerr)
		}
		z.files[i] = nil
	}
	return err
}
