package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DPMSTracker periodically reads DRM-reported power-management state
// for every bus with an EDID and emits DPMSAsleep/DPMSAwake
// transitions (spec §4.G "DPMS (optional)"). It is separate from the
// main observation tick because DPMS polling cadence is independent
// of hot-plug polling cadence.
type DPMSTracker struct {
	watcher *Watcher
	sleepy  map[int]bool
}

// NewDPMSTracker returns a tracker bound to w. Call Run in its own
// goroutine.
func NewDPMSTracker(w *Watcher) *DPMSTracker {
	return &DPMSTracker{watcher: w, sleepy: make(map[int]bool)}
}

// Run polls every interval until ctx is cancelled. Callers start it in
// its own goroutine alongside Watcher.Start.
func (t *DPMSTracker) Run(ctx context.Context, interval time.Duration) {
	for {
		if err := sleepCancellable(ctx, interval); err != nil {
			return
		}
		t.tick()
	}
}

func (t *DPMSTracker) tick() {
	withEDID := t.watcher.Buses.WithEDID()

	// Sleep transitions for buses that have since lost their EDID are
	// suppressed by intersecting the sleepy set with with_edid.
	for busNo := range t.sleepy {
		if !withEDID[busNo] {
			delete(t.sleepy, busNo)
		}
	}

	var events []Event
	for busNo := range withEDID {
		info := t.watcher.Buses.BusInfo(busNo)
		if info == nil {
			continue
		}
		asleep := dpmsAsleep(info.Connector)
		wasAsleep := t.sleepy[busNo]
		if asleep && !wasAsleep {
			t.sleepy[busNo] = true
			if d := t.watcher.Drefs.ByBus(busNo); d != nil {
				events = append(events, Event{TimeNS: monotonicNS(), Type: DPMSAsleep, IOPath: info.EDIDSource, Connector: info.Connector, Dref: d, Flags: d.Flags()})
			}
		} else if !asleep && wasAsleep {
			delete(t.sleepy, busNo)
			if d := t.watcher.Drefs.ByBus(busNo); d != nil {
				events = append(events, Event{TimeNS: monotonicNS(), Type: DPMSAwake, IOPath: info.EDIDSource, Connector: info.Connector, Dref: d, Flags: d.Flags()})
			}
		}
	}
	if len(events) > 0 {
		t.watcher.Dispatcher.Dispatch(events...)
	}
	t.watcher.Dispatcher.Flush()
}

// dpmsAsleep reads the DRM connector's dpms sysfs attribute. Values
// other than "On" are treated as asleep, matching the kernel's own
// four-way dpms enum (On/Standby/Suspend/Off) collapsed to a single
// awake/asleep bit as spec §4.G requires.
func dpmsAsleep(connector string) bool {
	if connector == "" {
		return false
	}
	raw, err := os.ReadFile(filepath.Join(drmClassDirDPMS, connector, "dpms"))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(raw)) != "On"
}

const drmClassDirDPMS = "/sys/class/drm"
