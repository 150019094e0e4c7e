package backend

import (
	"fmt"
	"sync"

	"granite/internal/zerr"
)

// Zone conditions tracked by the in-memory device. They mirror the state
// machine a real zoned device enforces.
const (
	condEmpty = iota
	condOpen
	condClosed
	condFull
	condOffline
)

// MemConfig sizes an in-memory zoned device.
type MemConfig struct {
	Zones     int
	ZoneSize  uint64
	BlockSize uint32

	// Device caps on active/open zones; zero means unlimited.
	MaxActiveZones uint32
	MaxOpenZones   uint32

	// MaxWrite, when non-zero, caps how many bytes a single Write call
	// transfers so callers exercise their short-write loops.
	MaxWrite int
}

type memZone struct {
	start   uint64
	wp      uint64
	cond    int
	data    []byte
	swr     bool
	offline bool

	// arranged by OfflineOnReset
	failNextReset bool
}

// Mem is an in-memory Backend implementing the sequential-write zone state
// machine. It stands in for zoned hardware in tests and development.
type Mem struct {
	cfg MemConfig

	mu       sync.Mutex
	zones    []*memZone
	open     bool
	readonly bool
	writeErr error
}

var _ Backend = (*Mem)(nil)

func NewMem(cfg MemConfig) *Mem {
	if cfg.BlockSize == 0 {
		cfg.BlockSize = 4096
	}
	if cfg.ZoneSize == 0 {
		cfg.ZoneSize = 1 << 20
	}
	m := &Mem{cfg: cfg}
	for i := 0; i < cfg.Zones; i++ {
		m.zones = append(m.zones, &memZone{
			start: uint64(i) * cfg.ZoneSize,
			wp:    uint64(i) * cfg.ZoneSize,
			cond:  condEmpty,
			data:  make([]byte, cfg.ZoneSize),
			swr:   true,
		})
	}
	return m
}

func (m *Mem) Open(readonly, exclusive bool) (uint32, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
	m.readonly = readonly
	return m.cfg.MaxActiveZones, m.cfg.MaxOpenZones, nil
}

func (m *Mem) ListZones() ([]ZoneInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]ZoneInfo, 0, len(m.zones))
	for _, z := range m.zones {
		infos = append(infos, ZoneInfo{
			Start:            z.start,
			Wp:               z.wp,
			MaxCapacity:      m.cfg.ZoneSize,
			Writable:         !z.offline && z.cond != condFull,
			Active:           z.cond == condOpen || z.cond == condClosed,
			Open:             z.cond == condOpen,
			Offline:          z.offline,
			SeqWriteRequired: z.swr,
		})
	}
	return infos, nil
}

func (m *Mem) zoneAt(offset uint64) (*memZone, error) {
	idx := int(offset / m.cfg.ZoneSize)
	if idx < 0 || idx >= len(m.zones) {
		return nil, zerr.IOError("offset 0x%x beyond device", offset)
	}
	return m.zones[idx], nil
}

func (m *Mem) Write(p []byte, offset uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return 0, m.writeErr
	}
	if m.readonly {
		return 0, zerr.IOError("device is read-only")
	}

	z, err := m.zoneAt(offset)
	if err != nil {
		return 0, err
	}
	if z.offline || z.cond == condFull {
		return 0, zerr.IOError("write to unwritable zone at 0x%x", z.start)
	}
	if offset != z.wp {
		return 0, zerr.IOError("write at 0x%x but write pointer is 0x%x", offset, z.wp)
	}

	n := len(p)
	if m.cfg.MaxWrite > 0 && n > m.cfg.MaxWrite {
		n = m.cfg.MaxWrite
	}
	if z.wp+uint64(n) > z.start+m.cfg.ZoneSize {
		return 0, zerr.IOError("write past zone at 0x%x", z.start)
	}

	copy(z.data[z.wp-z.start:], p[:n])
	z.wp += uint64(n)
	if z.wp == z.start+m.cfg.ZoneSize {
		z.cond = condFull
	} else {
		z.cond = condOpen
	}
	return n, nil
}

func (m *Mem) Read(p []byte, offset uint64, direct bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	z, err := m.zoneAt(offset)
	if err != nil {
		return 0, err
	}
	end := offset + uint64(len(p))
	if end > z.start+m.cfg.ZoneSize {
		end = z.start + m.cfg.ZoneSize
	}
	n := copy(p, z.data[offset-z.start:end-z.start])
	return n, nil
}

func (m *Mem) ResetZone(start uint64) (bool, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	z, err := m.zoneAt(start)
	if err != nil {
		return false, 0, err
	}
	if z.failNextReset {
		z.failNextReset = false
		z.offline = true
		z.cond = condOffline
		return true, 0, nil
	}
	z.wp = z.start
	z.cond = condEmpty
	for i := range z.data {
		z.data[i] = 0
	}
	return false, m.cfg.ZoneSize, nil
}

func (m *Mem) FinishZone(start uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	z, err := m.zoneAt(start)
	if err != nil {
		return err
	}
	if z.offline {
		return zerr.IOError("finish on offline zone at 0x%x", start)
	}
	z.wp = z.start + m.cfg.ZoneSize
	z.cond = condFull
	return nil
}

func (m *Mem) CloseZone(start uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	z, err := m.zoneAt(start)
	if err != nil {
		return err
	}
	if z.cond == condOpen {
		z.cond = condClosed
	}
	return nil
}

func (m *Mem) InvalidateCache(offset, length uint64) error { return nil }

func (m *Mem) BlockSize() uint32 { return m.cfg.BlockSize }
func (m *Mem) ZoneSize() uint64  { return m.cfg.ZoneSize }
func (m *Mem) NrZones() uint32   { return uint32(len(m.zones)) }
func (m *Mem) Filename() string  { return fmt.Sprintf("mem:%d", len(m.zones)) }

func (m *Mem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

// OfflineOnReset arranges for the next reset of zone idx to take the zone
// offline, the way a worn-out zone behaves.
func (m *Mem) OfflineOnReset(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zones[idx].failNextReset = true
}

// SetWriteError injects err into every subsequent Write until cleared with
// a nil err.
func (m *Mem) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Prefill writes n zero bytes into zone idx and leaves it explicitly open
// or closed, emulating state left behind by a previous mount.
func (m *Mem) Prefill(idx int, n uint64, open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	z := m.zones[idx]
	z.wp = z.start + n
	if n == m.cfg.ZoneSize {
		z.cond = condFull
	} else if open {
		z.cond = condOpen
	} else {
		z.cond = condClosed
	}
}

// ZoneCond reports the condition of zone idx for test assertions: one of
// "empty", "open", "closed", "full", "offline".
func (m *Mem) ZoneCond(idx int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.zones[idx].cond {
	case condEmpty:
		return "empty"
	case condOpen:
		return "open"
	case condClosed:
		return "closed"
	case condFull:
		return "full"
	}
	return "offline"
}
