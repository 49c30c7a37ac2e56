// Command ddcwatch is a minimal demonstration client for the core:
// it discovers displays, prints them, then watches for hot-plug and
// DPMS events until interrupted. It is intentionally thin — argument
// parsing and formatting are the only things it does — everything
// else comes from the core, dref, i2cbus, and watch packages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/rockowitz/go-ddcutil/core"
	"github.com/rockowitz/go-ddcutil/watch"
)

func main() {
	mode := flag.StringP("mode", "m", "dynamic", "watch mode: udev, xevent, poll, dynamic")
	watchOnly := flag.Bool("watch-only", false, "skip the initial discovery report, go straight to watching")
	flag.Parse()

	m, err := parseMode(*mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ddcwatch:", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := core.New(core.DefaultSettings())

	if !*watchOnly {
		events, err := c.Discover(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ddcwatch: discovery failed:", err)
			os.Exit(1)
		}
		for _, ev := range events {
			printEvent(ev)
		}
	}

	c.OnEvent(printEvent)
	c.Watch(ctx, m, watch.AllEventClasses)

	<-ctx.Done()
	c.StopWatch(true)
}

func parseMode(s string) (watch.Mode, error) {
	switch s {
	case "udev":
		return watch.ModeUdev, nil
	case "xevent":
		return watch.ModeXEvent, nil
	case "poll":
		return watch.ModePoll, nil
	case "dynamic":
		return watch.ModeDynamic, nil
	default:
		return 0, fmt.Errorf("unknown watch mode %q", s)
	}
}

func printEvent(ev watch.Event) {
	dispno := -1
	if ev.Dref != nil {
		dispno = ev.Dref.Dispno()
	}
	fmt.Printf("t=%-15d %-14s dispno=%-3d connector=%-12s io=%s\n", ev.TimeNS, ev.Type, dispno, ev.Connector, ev.IOPath)
}
