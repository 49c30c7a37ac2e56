package watch

import (
	"context"
	"sync"
	"time"

	"github.com/rockowitz/go-ddcutil/dref"
	"github.com/rockowitz/go-ddcutil/i2cbus"
)

// recheckIntervals is the number of exponential back-off probes
// (spec §4.G: intervals base·2^i for i=0..3).
const recheckIntervals = 4

// recheckWorker retests drefs whose initial VCP probe failed, with
// exponential back-off, grounded on dw_recheck.c's
// dw_recheck_displays_func. It runs as a single goroutine consuming a
// channel rather than dw_recheck.c's GAsyncQueue. Unlike that queue,
// the channel is bounded (64 entries): enqueue drops a dref, with a
// warning, when it is full.
type recheckWorker struct {
	buses      *i2cbus.Registry
	drefs      *dref.Registry
	dispatcher *Dispatcher
	base       time.Duration
	prober     Prober

	queue chan *dref.DisplayRef
	wg    sync.WaitGroup
}

func newRecheckWorker(buses *i2cbus.Registry, drefs *dref.Registry, dispatcher *Dispatcher, base time.Duration, prober Prober) *recheckWorker {
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	return &recheckWorker{
		buses:      buses,
		drefs:      drefs,
		dispatcher: dispatcher,
		base:       base,
		prober:     prober,
		queue:      make(chan *dref.DisplayRef, 64),
	}
}

func (w *recheckWorker) enqueue(d *dref.DisplayRef) {
	select {
	case w.queue <- d:
	default:
		watchLog.Warn("recheck queue full, dropping dref", "bus", d.BusNo)
	}
}

func (w *recheckWorker) start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-w.queue:
				w.recheckOne(ctx, d)
			}
		}
	}()
}

func (w *recheckWorker) wait() { w.wg.Wait() }

// recheckOne retests d at the base·2^i schedule. It stops early,
// successfully, on the first probe that finds DDC working; it stops
// early, unsuccessfully, if the bus has disconnected outright; and it
// logs and discards after recheckIntervals probes with no success,
// per spec §4.G.
func (w *recheckWorker) recheckOne(ctx context.Context, d *dref.DisplayRef) {
	started := time.Now()
	for i := 0; i < recheckIntervals; i++ {
		interval := w.base * time.Duration(1<<uint(i))
		if err := sleepCancellable(ctx, interval); err != nil {
			return
		}

		if _, err := w.buses.Enumerate(ctx); err != nil {
			watchLog.Warn("recheck enumeration failed", "err", err)
			continue
		}
		info := w.buses.BusInfo(d.BusNo)
		if info == nil || info.EDID == nil {
			w.drefs.MarkRemoved(d.ID)
			w.dispatcher.Dispatch(Event{TimeNS: monotonicNS(), Type: Disconnected, Dref: d, Flags: d.Flags()})
			return
		}
		if w.prober == nil {
			// No prober wired (spec §9 non-goal configuration, or a test
			// harness exercising the queue/backoff logic in isolation):
			// nothing to retest, so give up immediately rather than spin
			// through every interval for no reason.
			watchLog.Warn("recheck has no prober configured, leaving DDC-not-working", "bus", d.BusNo)
			return
		}
		if w.prober(ctx, d) {
			w.drefs.MarkDDCWorking(d.ID)
			w.dispatcher.Dispatch(Event{
				TimeNS: monotonicNS(),
				Type:   DDCEnabled,
				IOPath: info.EDIDSource,
				Dref:   d,
				Flags:  d.Flags(),
			})
			watchLog.Debug("recheck succeeded", "bus", d.BusNo, "elapsed", time.Since(started))
			return
		}
	}
	watchLog.Info("recheck exhausted without success, leaving DDC-not-working", "bus", d.BusNo)
}
