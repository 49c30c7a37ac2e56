// package core provides the explicit Core value that owns the bus
// registry, the display registry, and the tuned-sleep table — the
// reimplementation's answer to the source's ambient global state
// (spec §9, "Ambient mutable state → explicit handles"). Every public
// operation is a method on *Core; there is no package-level singleton.
package core

import (
	"context"
	"fmt"

	"github.com/rockowitz/go-ddcutil/ddcio"
	"github.com/rockowitz/go-ddcutil/dref"
	"github.com/rockowitz/go-ddcutil/i2cbus"
	"github.com/rockowitz/go-ddcutil/internal/logging"
	"github.com/rockowitz/go-ddcutil/tunedsleep"
	"github.com/rockowitz/go-ddcutil/watch"
)

var coreLog = logging.For("core")

// Settings aggregates every tunable named across spec §6: per-class
// retry try-counts, and the watcher's timing knobs. It has no
// config-file or flag-parsing logic of its own — that belongs to an
// external collaborator (spec §1 non-goals); Settings is the plain
// struct such a collaborator populates.
type Settings struct {
	Retry ddcio.Settings
	Watch watch.Settings
}

// DefaultSettings returns every documented default in one place.
func DefaultSettings() Settings {
	return Settings{
		Retry: ddcio.DefaultSettings(),
		Watch: watch.DefaultSettings(),
	}
}

// Core owns the process's bus registry, display registry, and
// tuned-sleep table, plus whatever watcher is currently running.
// All methods are safe for concurrent use; the underlying registries
// carry their own locks (spec §5).
type Core struct {
	Buses  *i2cbus.Registry
	Drefs  *dref.Registry
	Sleeps *tunedsleep.Table

	Settings Settings

	dispatcher *watch.Dispatcher
	watcher    *watch.Watcher
}

// New returns a Core with fresh, empty registries and settings.
func New(settings Settings) *Core {
	return &Core{
		Buses:      i2cbus.NewRegistry(),
		Drefs:      dref.NewRegistry(),
		Sleeps:     tunedsleep.NewTable(),
		Settings:   settings,
		dispatcher: watch.NewDispatcher(),
	}
}

// Discover performs the one-shot enumeration sequence of spec §4.F:
// enumerate buses, create candidate drefs, probe each for DDC
// readiness, filter phantoms, and assign display numbers. It returns
// the resulting Connected events.
func (c *Core) Discover(ctx context.Context) ([]watch.Event, error) {
	if _, err := c.Buses.Enumerate(ctx); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	drefEvents := dref.Reconcile(c.Drefs, c.Buses)
	for _, de := range drefEvents {
		if de.Kind != dref.Connected {
			continue
		}
		// Every candidate dref Reconcile just created starts
		// DDC-not-working (spec §4.F step 2); issue the mandatory-feature
		// VCP probe now to find out whether communication actually works.
		if c.probe(ctx, de.Dref) {
			c.Drefs.MarkDDCWorking(de.Dref.ID)
		} else {
			coreLog.Debug("initial DDC probe failed, leaving dref non-working", "bus", de.Dref.BusNo)
		}
	}
	// Reconcile filtered phantoms before any probe had run; filter again
	// now that the DDC-working flags are known.
	dref.FilterPhantoms(c.Drefs, func(busNo int) string {
		if info := c.Buses.BusInfo(busNo); info != nil {
			return info.Connector
		}
		return ""
	})

	events := make([]watch.Event, 0, len(drefEvents))
	for _, de := range drefEvents {
		events = append(events, watch.Event{Type: mapEventKind(de.Kind), Dref: de.Dref, Flags: de.Dref.Flags()})
	}
	return events, nil
}

func mapEventKind(k dref.EventKind) watch.EventType {
	switch k {
	case dref.Connected:
		return watch.Connected
	case dref.Disconnected:
		return watch.Disconnected
	default:
		return watch.DDCEnabled
	}
}

// probe issues a small mandatory-feature VCP Get (brightness, 0x10) to
// determine whether DDC communication works right now, per spec §4.F
// step 2, and reports success. It does not mutate d; this is also the
// Prober the watcher and recheck worker use on the watch path, where
// the same "probe now, let the caller decide what to do with the
// result" contract is required (spec §4.G).
func (c *Core) probe(ctx context.Context, d *dref.DisplayRef) bool {
	h, err := dref.Open(ctx, d, c.Buses)
	if err != nil {
		return false
	}
	defer h.Close()

	client := c.NewClient(h, d)
	_, err = client.GetVCP(ctx, 0x10)
	return err == nil
}

// Watch starts the long-running display watcher (spec §4.G) over this
// Core's registries, subscribed to interest's event classes (pass
// watch.AllEventClasses for everything, including DPMS). It is
// idempotent-unsafe to call twice without an intervening StopWatch.
func (c *Core) Watch(ctx context.Context, mode watch.Mode, interest watch.EventClass) {
	c.watcher = watch.New(c.Buses, c.Drefs, c.dispatcher, c.Settings.Watch, mode)
	c.watcher.Prober = c.probe
	c.watcher.Interest = interest
	c.watcher.Start(ctx)
}

// StopWatch stops the running watcher, if any.
func (c *Core) StopWatch(blocking bool) {
	if c.watcher != nil {
		c.watcher.Stop(blocking)
	}
}

// OnEvent registers a callback with the watcher's dispatcher and
// returns an id suitable for RemoveListener.
func (c *Core) OnEvent(cb watch.Callback) int {
	return c.dispatcher.Register(cb)
}

// RemoveListener unregisters a previously registered callback.
func (c *Core) RemoveListener(id int) {
	c.dispatcher.Unregister(id)
}

// Open acquires a display handle for d, for VCP I/O.
func (c *Core) Open(ctx context.Context, d *dref.DisplayRef) (*dref.Handle, error) {
	return dref.Open(ctx, d, c.Buses)
}

// NewClient builds a ddcio.Client bound to h's transport, using this
// Core's retry settings, tuned-sleep table, and d's identity as the
// sleep key.
func (c *Core) NewClient(h *dref.Handle, d *dref.DisplayRef) *ddcio.Client {
	return ddcio.NewClient(h.Transport(), c.Settings.Retry, c.Sleeps, tunedsleep.Key{
		MfgID:       d.Identity.MfgID,
		ModelName:   d.Identity.ModelName,
		ProductCode: d.Identity.ProductCode,
		SerialBin:   d.Identity.SerialBin,
	})
}
