package zbd

// Open and active zone tokens form a two-dimensional semaphore over the
// device limits. Every zone open for writing is backed by exactly one open
// token; every zone that has been written and not yet reset or finished is
// backed by one active token. The counters, the level pools and the
// condition variable all share levelMu.

// WaitForOpenIOZoneToken blocks until an open token is available and takes
// it. Non-prioritized callers leave one slot free so WAL writers cannot be
// starved. The caller returns the token with PutOpenIOZoneToken.
func (d *Device) WaitForOpenIOZoneToken(prioritized bool) {
	limit := d.maxOpenIO
	if !prioritized {
		limit = d.maxOpenIO - 1
	}

	d.levelMu.Lock()
	for d.openIOZones.Load() >= limit {
		d.levelRes.Wait()
	}
	d.openIOZones.Add(1)
	d.levelMu.Unlock()
}

// GetActiveIOZoneTokenIfAvailable takes an active token if one is free.
// The caller returns it with PutActiveIOZoneToken.
func (d *Device) GetActiveIOZoneTokenIfAvailable() bool {
	d.levelMu.Lock()
	defer d.levelMu.Unlock()
	if d.activeIOZones.Load() < d.maxActiveIO {
		d.activeIOZones.Add(1)
		return true
	}
	return false
}

func (d *Device) PutOpenIOZoneToken() {
	d.levelMu.Lock()
	d.openIOZones.Add(-1)
	d.levelMu.Unlock()
	d.levelRes.Broadcast()
}

func (d *Device) PutActiveIOZoneToken() {
	d.levelMu.Lock()
	d.activeIOZones.Add(-1)
	d.levelMu.Unlock()
	d.levelRes.Broadcast()
}

// OpenIOZones reports the number of open tokens taken.
func (d *Device) OpenIOZones() int64 { return d.openIOZones.Load() }

// ActiveIOZones reports the number of active tokens taken.
func (d *Device) ActiveIOZones() int64 { return d.activeIOZones.Load() }
