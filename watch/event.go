// package watch implements the long-running display-watcher pipeline
// (spec §4.G/§4.H): hot-plug detection, stabilization, the recheck
// worker for delayed DDC readiness, DPMS tracking, and event dispatch
// to registered callbacks.
package watch

import (
	"time"

	"github.com/rockowitz/go-ddcutil/dref"
)

// EventType is the closed set of event kinds a watcher emits.
type EventType int

const (
	Connected EventType = iota
	Disconnected
	DPMSAsleep
	DPMSAwake
	DDCEnabled
)

func (t EventType) String() string {
	switch t {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case DPMSAsleep:
		return "dpms_asleep"
	case DPMSAwake:
		return "dpms_awake"
	case DDCEnabled:
		return "ddc_enabled"
	}
	return "unknown"
}

// processStart anchors monotonicNS; time.Since on a time.Time obtained
// from time.Now() uses the runtime's monotonic clock reading, so
// wall-clock adjustments never perturb the event record (spec §3).
var processStart = time.Now()

// monotonicNS returns nanoseconds elapsed since the watch package was
// loaded, the "monotonic timestamp (ns)" spec §3 names for the event
// record.
func monotonicNS() int64 {
	return time.Since(processStart).Nanoseconds()
}

// Event is a single occurrence in the watcher's output stream. It is a
// value: copied onto channels and into consumer goroutines, never
// shared by reference. Its fields are exactly spec §3's event record:
// monotonic timestamp, event type, I/O path, connector name, dref
// handle, flag bits.
type Event struct {
	TimeNS    int64
	Type      EventType
	IOPath    string
	Connector string
	Dref      *dref.DisplayRef
	Flags     dref.Flags
}
