package zbd

import (
	"io"

	jsoniter "github.com/json-iterator/go"

	"granite/internal/base"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ZoneSnapshot is a point-in-time copy of one zone's counters, for
// debugging and metrics export.
type ZoneSnapshot struct {
	Start        uint64        `json:"start"`
	Capacity     uint64        `json:"capacity"`
	MaxCapacity  uint64        `json:"max_capacity"`
	Wp           uint64        `json:"wp"`
	Lifetime     base.Lifetime `json:"lifetime"`
	UsedCapacity int64         `json:"used_capacity"`
}

func snapshotZone(z *Zone) ZoneSnapshot {
	return ZoneSnapshot{
		Start:        z.Start(),
		Capacity:     z.GetCapacityLeft(),
		MaxCapacity:  z.MaxCapacity(),
		Wp:           z.Wp(),
		Lifetime:     z.Lifetime(),
		UsedCapacity: z.UsedCapacity(),
	}
}

// GetZoneSnapshot appends a snapshot of every IO zone to out.
func (d *Device) GetZoneSnapshot(out *[]ZoneSnapshot) {
	for _, z := range d.ioZones {
		*out = append(*out, snapshotZone(z))
	}
}

type deviceSnapshot struct {
	Meta []ZoneSnapshot `json:"meta"`
	IO   []ZoneSnapshot `json:"io"`
}

// EncodeJson writes the meta and IO zone state as a JSON document.
func (d *Device) EncodeJson(w io.Writer) error {
	snap := deviceSnapshot{
		Meta: make([]ZoneSnapshot, 0, len(d.metaZones)),
		IO:   make([]ZoneSnapshot, 0, len(d.ioZones)),
	}
	for _, z := range d.metaZones {
		snap.Meta = append(snap.Meta, snapshotZone(z))
	}
	for _, z := range d.ioZones {
		snap.IO = append(snap.IO, snapshotZone(z))
	}
	return json.NewEncoder(w).Encode(&snap)
}
