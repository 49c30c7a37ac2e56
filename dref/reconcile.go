package dref

import "github.com/rockowitz/go-ddcutil/i2cbus"

// EventKind is the closed set of dref lifecycle transitions the
// watcher reports upward (spec §4.H).
type EventKind int

const (
	Connected EventKind = iota
	Disconnected
	DDCEnabled
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case DDCEnabled:
		return "ddc_enabled"
	}
	return "unknown"
}

// Event pairs a lifecycle transition with the dref it happened to.
type Event struct {
	Kind EventKind
	Dref *DisplayRef
}

// Reconcile brings r's drefs in line with the current bus registry
// snapshot: creates a candidate dref for every bus that newly carries
// an EDID, marks removed every dref whose bus disappeared, runs the
// phantom filter, and assigns display numbers. It returns the
// Connected/Disconnected events this pass produced (spec §4.G step 5).
func Reconcile(r *Registry, buses *i2cbus.Registry) []Event {
	var events []Event

	withEDID := buses.WithEDID()
	knownBuses := make(map[int]*DisplayRef)
	for _, d := range r.List() {
		if !d.Flags().Has(FlagRemoved) {
			knownBuses[d.BusNo] = d
		}
	}

	for busNo := range withEDID {
		if _, known := knownBuses[busNo]; known {
			continue
		}
		info := buses.BusInfo(busNo)
		if info == nil || info.EDID == nil {
			continue
		}
		// A candidate dref always starts DDC-not-working: whether DDC/CI
		// actually works can only be established by the mandatory-feature
		// VCP probe of spec §4.F step 2, issued by the caller after
		// Reconcile returns. Kernel I2C_FUNC_I2C support only means the
		// bus *could* carry DDC/CI, not that the monitor answers it.
		d := r.Create(busNo, info.EDID)
		events = append(events, Event{Kind: Connected, Dref: d})
	}

	for busNo, d := range knownBuses {
		if withEDID[busNo] {
			continue
		}
		r.MarkRemoved(d.ID)
		events = append(events, Event{Kind: Disconnected, Dref: d})
	}

	connectorOf := func(busNo int) string {
		info := buses.BusInfo(busNo)
		if info == nil {
			return ""
		}
		return info.Connector
	}
	FilterPhantoms(r, connectorOf)

	return events
}
