// Package granite mounts a zoned block device and exposes its zone
// allocator. The heavy lifting lives in internal/zbd; this package wires a
// backend, configuration, logging and metrics together.
package granite

import (
	"granite/internal/backend"
	"granite/internal/base"
	"granite/internal/config"
	"granite/internal/zbd"
)

// Re-exported core types; the filesystem layer works directly against the
// device and its zones.
type (
	Device       = zbd.Device
	Zone         = zbd.Zone
	ZoneSnapshot = zbd.ZoneSnapshot
	Lifetime     = base.Lifetime
	IOType       = base.IOType
)

const (
	LifetimeNotSet  = base.LifetimeNotSet
	LifetimeNone    = base.LifetimeNone
	LifetimeShort   = base.LifetimeShort
	LifetimeMedium  = base.LifetimeMedium
	LifetimeLong    = base.LifetimeLong
	LifetimeExtreme = base.LifetimeExtreme

	IOTypeWAL   = base.IOTypeWAL
	IOTypeL0    = base.IOTypeL0
	IOTypeOther = base.IOTypeOther
)

// Open mounts the zoned device at path. Configuration is resolved from
// defaults, the granite-config file and GRANITE_* environment variables,
// then adjusted by the given options.
func Open(path string, options ...Option) (*Device, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	s := &settings{cfg: cfg}
	for _, o := range options {
		o.apply(s)
	}

	be := s.be
	if be == nil {
		switch cfg.Backend {
		case config.BackendZoneFS:
			be = backend.NewZoneFS(path, cfg.ZoneFSZoneSize)
		case config.BackendMem:
			be = backend.NewMem(backend.MemConfig{Zones: int(base.MinZones) * 2})
		default:
			be = backend.NewBlkDev(path)
		}
	}

	dev := zbd.NewDevice(be, zbd.Options{
		Logger:          s.logger,
		Recorder:        s.recorder,
		Levels:          cfg.Levels,
		LifetimeBegin:   cfg.LifetimeBegin,
		FinishThreshold: cfg.FinishThreshold,
	})
	if err := dev.Open(cfg.ReadOnly, cfg.Exclusive); err != nil {
		return nil, err
	}
	return dev, nil
}
