package watch

import (
	"context"
	"time"

	"github.com/jochenvg/go-udev"
)

// runUdev drives the watcher from kernel udev events on the drm
// subsystem (spec §4.G "udev" mode). Any received event is treated as
// a prompt to run one observation tick; the udev event itself carries
// no information the tick doesn't already recompute by re-enumerating
// buses, so no event fields beyond "something changed" are consulted.
//
// If udev is unavailable (no netlink socket, e.g. inside a container
// without /run/udev), runUdev logs once and falls back to polling at
// the udev loop interval.
func (w *Watcher) runUdev(ctx context.Context) {
	u := udev.Udev{}
	mon := u.NewMonitorFromNetlink("udev")
	if mon == nil {
		watchLog.Warn("udev monitor unavailable, falling back to poll mode")
		w.runPoll(ctx, w.Settings.UdevWatchLoop)
		return
	}
	if err := mon.FilterAddMatchSubsystem("drm"); err != nil {
		watchLog.Warn("udev subsystem filter failed, falling back to poll mode", "err", err)
		w.runPoll(ctx, w.Settings.UdevWatchLoop)
		return
	}

	deviceCh, errCh, err := mon.DeviceChan(ctx)
	if err != nil {
		watchLog.Warn("udev monitor start failed, falling back to poll mode", "err", err)
		w.runPoll(ctx, w.Settings.UdevWatchLoop)
		return
	}

	// A periodic tick alongside the event channel bounds how long a
	// missed or coalesced udev event can go unnoticed, matching the
	// ≤ watch-loop-interval staleness every mode guarantees.
	ticker := time.NewTicker(w.Settings.UdevWatchLoop)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deviceCh:
			w.tick(ctx)
		case err, ok := <-errCh:
			if !ok {
				return
			}
			watchLog.Warn("udev monitor error", "err", err)
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}
