package watch

import (
	"context"
	"sync"
	"time"

	"github.com/rockowitz/go-ddcutil/dref"
	"github.com/rockowitz/go-ddcutil/i2cbus"
	"github.com/rockowitz/go-ddcutil/internal/logging"
)

// Mode selects how the watcher detects bus/connector transitions
// (spec §4.G).
type Mode int

const (
	ModeUdev Mode = iota
	ModeXEvent
	ModePoll
	ModeDynamic
)

func (m Mode) String() string {
	switch m {
	case ModeUdev:
		return "udev"
	case ModeXEvent:
		return "xevent"
	case ModePoll:
		return "poll"
	case ModeDynamic:
		return "dynamic"
	}
	return "unknown"
}

// Settings holds every watcher tunable named in spec §6, all in
// milliseconds there but represented natively as time.Duration here.
type Settings struct {
	InitialStabilization time.Duration
	StabilizationPoll    time.Duration
	UdevWatchLoop        time.Duration
	PollWatchLoop        time.Duration
	XEventWatchLoop      time.Duration
	RecheckBase          time.Duration
	DPMSPoll             time.Duration

	// StabilizeOnAdd also triggers stabilization on a bus addition, not
	// only on a removal. Spec §4.G step 4 calls this "optionally".
	StabilizeOnAdd bool

	// DispatchMode selects the dispatcher's delivery discipline (spec
	// §4.H): DispatchWorker delivers each event to each callback as
	// soon as it is produced; DispatchQueue defers delivery to Flush
	// calls, which the watcher makes at the end of every tick (spec
	// §4.G step 6, "drain deferred events ... before going back to
	// sleep").
	DispatchMode DispatchMode
}

// DefaultSettings returns the documented defaults from spec §6.
func DefaultSettings() Settings {
	return Settings{
		InitialStabilization: 1500 * time.Millisecond,
		StabilizationPoll:    250 * time.Millisecond,
		UdevWatchLoop:        2000 * time.Millisecond,
		PollWatchLoop:        2000 * time.Millisecond,
		XEventWatchLoop:      2000 * time.Millisecond,
		RecheckBase:          200 * time.Millisecond,
		DPMSPoll:             2000 * time.Millisecond,
		DispatchMode:         DispatchWorker,
	}
}

// EventClass is a bitset of event categories a caller can subscribe
// to when starting a Watcher (spec §4.G: "the client passes ... a
// bitset of event classes of interest: connection, DPMS, reserved").
type EventClass uint8

const (
	ClassConnection EventClass = 1 << iota // connected, disconnected, ddc_enabled
	ClassDPMS                              // dpms_asleep, dpms_awake
	ClassReserved                          // unused; reserved by spec §4.G for future growth
)

// AllEventClasses subscribes to every currently defined class.
const AllEventClasses = ClassConnection | ClassDPMS | ClassReserved

// Prober issues the DDC-readiness check (spec §4.F step 2's mandatory
// VCP Get) for d and reports whether it succeeded. The watch package
// never talks to ddcio or a transport directly; Prober is supplied by
// the caller (normally core.Core, which closes over its retry
// settings, tuned-sleep table, and bus registry) so this package
// stays free of a transport/VCP dependency.
type Prober func(ctx context.Context, d *dref.DisplayRef) bool

var watchLog = logging.For("watch")

// Watcher is the single long-lived worker described in spec §4.G. It
// owns no registry state of its own — the bus and display registries
// are supplied by the caller (normally core.Core) and outlive the
// watcher.
type Watcher struct {
	Buses      *i2cbus.Registry
	Drefs      *dref.Registry
	Dispatcher *Dispatcher
	Settings   Settings
	Mode       Mode

	// Prober, if set, issues the real DDC-readiness check; see Prober's
	// doc comment. Set this before calling Start.
	Prober Prober

	// Interest is the bitset of event classes spec §4.G says the client
	// passes on start. Zero-value defaults to AllEventClasses in Start.
	Interest EventClass

	recheck *recheckWorker
	dpms    *DPMSTracker

	mu           sync.Mutex
	prevAttached map[int]bool
	prevWithEDID map[int]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Watcher subscribed to every event class. Call Start
// to begin observing; set Prober and Interest beforehand to customize.
func New(buses *i2cbus.Registry, drefs *dref.Registry, dispatcher *Dispatcher, settings Settings, mode Mode) *Watcher {
	return &Watcher{
		Buses:      buses,
		Drefs:      drefs,
		Dispatcher: dispatcher,
		Settings:   settings,
		Mode:       mode,
		Interest:   AllEventClasses,
	}
}

// Start resolves the watcher's effective mode, starts the recheck
// worker and (if ClassDPMS is in Interest) the DPMS tracker, and
// spawns the observation loop. It returns immediately; the loop runs
// until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	if w.Interest == 0 {
		w.Interest = AllEventClasses
	}
	w.Dispatcher.SetMode(w.Settings.DispatchMode)

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	w.recheck = newRecheckWorker(w.Buses, w.Drefs, w.Dispatcher, w.Settings.RecheckBase, w.Prober)
	w.recheck.start(runCtx)

	if w.Interest&ClassDPMS != 0 {
		w.dpms = NewDPMSTracker(w)
		go w.dpms.Run(runCtx, w.Settings.DPMSPoll)
	}

	mode := w.Mode
	if mode == ModeDynamic {
		mode = resolveDynamicMode()
		watchLog.Info("resolved dynamic watch mode", "mode", mode.String())
	}

	go func() {
		defer close(w.done)
		switch mode {
		case ModeUdev:
			w.runUdev(runCtx)
		case ModeXEvent:
			// No in-tree X11/RandR binding exists; xevent mode falls
			// back to polling at the xevent loop interval, matching
			// the dynamic-mode fallback behavior spec §4.G describes
			// for a failed RandR init.
			w.runPoll(runCtx, w.Settings.XEventWatchLoop)
		default:
			w.runPoll(runCtx, w.Settings.PollWatchLoop)
		}
	}()
}

// Stop signals the watcher and its recheck worker to exit. If
// blocking, Stop waits for both to finish.
func (w *Watcher) Stop(blocking bool) {
	if w.cancel == nil {
		return
	}
	w.cancel()
	if blocking {
		<-w.done
		w.recheck.wait()
	}
}

func (w *Watcher) runPoll(ctx context.Context, interval time.Duration) {
	for {
		if err := sleepCancellable(ctx, interval); err != nil {
			return
		}
		w.tick(ctx)
	}
}

// tick runs one observation cycle: compute bitsets, stabilize if
// needed, reconcile the dref registry, and dispatch the resulting
// events (spec §4.G steps 2-6).
func (w *Watcher) tick(ctx context.Context) {
	if _, err := w.Buses.Enumerate(ctx); err != nil {
		watchLog.Warn("bus enumeration failed", "err", err)
		return
	}

	w.mu.Lock()
	prevAttached := w.prevAttached
	prevWithEDID := w.prevWithEDID
	w.mu.Unlock()

	attached := w.Buses.BusNumbers()
	withEDID := w.Buses.WithEDID()

	_, removedAttached := bitsetDiff(prevAttached, attached)
	addedEDID, removedEDID := bitsetDiff(prevWithEDID, withEDID)

	needStabilize := len(removedAttached) > 0 || len(removedEDID) > 0 ||
		(w.Settings.StabilizeOnAdd && len(addedEDID) > 0)
	if needStabilize {
		stable, extra, err := stabilize(ctx, w.Buses, w.Settings.InitialStabilization, w.Settings.StabilizationPoll)
		if err != nil {
			return
		}
		if extra > 0 {
			watchLog.Debug("stabilization required extra polls", "count", extra)
		}
		withEDID = stable
	}

	drefEvents := dref.Reconcile(w.Drefs, w.Buses)

	events := make([]Event, 0, len(drefEvents))
	for _, de := range drefEvents {
		switch de.Kind {
		case dref.Connected:
			// spec §4.F step 2: a freshly reconciled dref always starts
			// DDC-not-working. Issue the mandatory-feature VCP probe now;
			// only on failure does it go to the recheck worker's
			// exponential back-off schedule.
			if !de.Dref.Flags().Has(dref.FlagDDCWorking) {
				if w.Prober != nil && w.Prober(ctx, de.Dref) {
					w.Drefs.MarkDDCWorking(de.Dref.ID)
				} else {
					w.recheck.enqueue(de.Dref)
				}
			}
		}

		if w.Interest&ClassConnection == 0 {
			continue
		}
		ev := Event{
			TimeNS:    monotonicNS(),
			Connector: w.connectorFor(de.Dref.BusNo),
			IOPath:    w.ioPathFor(de.Dref.BusNo),
			Dref:      de.Dref,
			Flags:     de.Dref.Flags(),
		}
		switch de.Kind {
		case dref.Connected:
			ev.Type = Connected
		case dref.Disconnected:
			ev.Type = Disconnected
		case dref.DDCEnabled:
			ev.Type = DDCEnabled
		}
		events = append(events, ev)
	}
	if len(events) > 0 {
		w.Dispatcher.Dispatch(events...)
	}
	w.Dispatcher.Flush()

	w.mu.Lock()
	w.prevAttached = attached
	w.prevWithEDID = withEDID
	w.mu.Unlock()
}

func (w *Watcher) connectorFor(busNo int) string {
	info := w.Buses.BusInfo(busNo)
	if info == nil {
		return ""
	}
	return info.Connector
}

func (w *Watcher) ioPathFor(busNo int) string {
	info := w.Buses.BusInfo(busNo)
	if info == nil {
		return ""
	}
	return info.EDIDSource
}
