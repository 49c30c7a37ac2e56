package dref

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rockowitz/go-ddcutil/internal/logging"
)

var phantomLog = logging.For("dref")

// connectorSignals is the three sysfs signals spec §4.F's phantom
// filter checks for an invalid dref's connector: disconnected,
// disabled, and EDID absent.
type connectorSignals struct {
	disconnected bool
	disabled     bool
	edidAbsent   bool
	isMST        bool
}

func readConnectorSignals(connector string) connectorSignals {
	var s connectorSignals
	if connector == "" {
		return s
	}
	dir := filepath.Join(drmClassDirForPhantom, connector)

	if b, err := os.ReadFile(filepath.Join(dir, "status")); err == nil {
		s.disconnected = strings.TrimSpace(string(b)) == "disconnected"
	}
	if b, err := os.ReadFile(filepath.Join(dir, "enabled")); err == nil {
		s.disabled = strings.TrimSpace(string(b)) == "disabled"
	}
	if fi, err := os.Stat(filepath.Join(dir, "edid")); err != nil || fi.Size() == 0 {
		s.edidAbsent = true
	}
	s.isMST = strings.Contains(connector, "DPMST") || strings.Contains(connector, "MST")
	return s
}

const drmClassDirForPhantom = "/sys/class/drm"

// ConnectorLookup resolves a DisplayRef's sysfs connector name, so the
// phantom filter can read its status/enabled/edid attributes. The
// watcher supplies this from its i2cbus.Registry snapshot.
type ConnectorLookup func(busNo int) string

// FilterPhantoms runs the two-pass phantom-display filter (spec
// §4.F) over every non-removed, non-already-phantom dref in r, then
// assigns display numbers to the survivors. It is idempotent: running
// it again after no registry change made no further mutations
// (invariant 6).
func FilterPhantoms(r *Registry, connectorOf ConnectorLookup) {
	drefs := r.List()

	// Pass 1: invalid (DDC-not-working) drefs whose sysfs connector
	// shows all three negative signals, matched by EDID identity
	// against a valid (DDC-working) dref.
	for _, invalid := range drefs {
		s := invalid.snapshot()
		if s.Flags.Has(FlagRemoved) || s.Flags.Has(FlagPhantom) || s.Flags.Has(FlagDDCWorking) {
			continue
		}
		sig := readConnectorSignals(connectorOf(invalid.BusNo))
		if !(sig.disconnected && sig.disabled && sig.edidAbsent) {
			continue
		}
		for _, valid := range drefs {
			if valid.ID == invalid.ID {
				continue
			}
			vs := valid.snapshot()
			if vs.Flags.Has(FlagRemoved) || vs.Flags.Has(FlagPhantom) || !vs.Flags.Has(FlagDDCWorking) {
				continue
			}
			if valid.Identity == invalid.Identity {
				invalid.markPhantom(valid.ID)
				break
			}
		}
	}

	// Pass 2: one MST connector and one non-MST connector reporting
	// identical EDIDs — the non-MST one is phantom in favor of the
	// MST one. Guarded symmetrically for two MST drefs sharing an
	// EDID too (see Open Question in spec §9): that case is logged as
	// ambiguous and left unresolved rather than picked arbitrarily.
	drefs = r.List()
	for i, a := range drefs {
		as := a.snapshot()
		if as.Flags.Has(FlagRemoved) || as.Flags.Has(FlagPhantom) {
			continue
		}
		for j := i + 1; j < len(drefs); j++ {
			b := drefs[j]
			bs := b.snapshot()
			if bs.Flags.Has(FlagRemoved) || bs.Flags.Has(FlagPhantom) {
				continue
			}
			if a.Identity != b.Identity {
				continue
			}
			aMST := readConnectorSignals(connectorOf(a.BusNo)).isMST
			bMST := readConnectorSignals(connectorOf(b.BusNo)).isMST
			switch {
			case aMST && !bMST:
				b.markPhantom(a.ID)
			case bMST && !aMST:
				a.markPhantom(b.ID)
			case aMST && bMST:
				// Two MST drefs with identical EDIDs: ambiguous: the
				// original filter only guarded the non-MST/non-MST
				// case, so there is no principled tiebreaker here.
				// Leave both as-is rather than phantom one arbitrarily.
				phantomLog.Warn("two MST displays share an EDID identity, leaving both unresolved", "bus_a", a.BusNo, "bus_b", b.BusNo)
			}
		}
	}

	r.assignDispnos()
}
