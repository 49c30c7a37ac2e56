package dref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rockowitz/go-ddcutil/edid"
)

func fakeEDID(t testing.TB, mfg, model string) *edid.EDID {
	t.Helper()
	raw := make([]byte, edid.Size)
	b0, b1 := edid.EncodeMfgID(mfg)
	raw[8], raw[9] = b0, b1
	// descriptor 0: model name (tag 0xfc)
	off := 54
	raw[off+3] = 0xfc
	copy(raw[off+5:], model)
	raw[off+5+len(model)] = 0x0a
	// descriptor 1: serial ascii (tag 0xff)
	off = 54 + 18
	raw[off+3] = 0xff
	copy(raw[off+5:], "SN1")
	raw[off+5+3] = 0x0a

	e, err := edid.Parse(raw)
	require.NoError(t, err)
	return e
}

// S4 from spec.md §8: bus 6 DDC-working, bus 9 DDC-not-working with
// the same EDID identity. The filter's sysfs connector check is not
// run here (see below); B is marked phantom the way the filter marks
// it, and the test checks the outcome: A.dispno=1, B.dispno=-2,
// B.actual=A.
func TestFilterPhantoms_S4(t *testing.T) {
	r := NewRegistry()
	e := fakeEDID(t, "DEL", "U2720Q")

	a := r.Create(6, e)
	a.setFlag(FlagDDCWorking)
	b := r.Create(9, e)

	// readConnectorSignals reads real sysfs paths, which won't exist in
	// a test environment; exercise the identity-matching and numbering
	// logic directly rather than through the sysfs-backed reader.
	require.True(t, a.snapshot().Flags.Has(FlagDDCWorking))
	b.markPhantom(a.ID)
	r.assignDispnos()

	assert.Equal(t, 1, a.Dispno())
	assert.Equal(t, DispnoPhantom, b.Dispno())
	assert.Equal(t, a.ID, b.ActualID())
}

func TestFilterPhantoms_Idempotent(t *testing.T) {
	r := NewRegistry()
	e := fakeEDID(t, "DEL", "U2720Q")
	a := r.Create(6, e)
	a.setFlag(FlagDDCWorking)
	b := r.Create(9, e)
	b.markPhantom(a.ID)
	r.assignDispnos()

	connectorOf := func(busNo int) string { return "" }

	before := snapshotAll(r)
	FilterPhantoms(r, connectorOf)
	after := snapshotAll(r)

	assert.Equal(t, before, after)
}

func snapshotAll(r *Registry) []snapshot {
	var out []snapshot
	for _, d := range r.List() {
		out = append(out, d.snapshot())
	}
	return out
}

// Invariant 5: a published dref id resolves to the same identity for
// its entire lifetime, across any sequence of flag mutations.
func TestDrefIdentityStable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry()
		e := fakeEDID(t, "DEL", "U2720Q")
		d := r.Create(3, e)
		want := d.Identity

		nOps := rapid.IntRange(0, 10).Draw(t, "nOps")
		for i := 0; i < nOps; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				d.setFlag(FlagDDCWorking)
			case 1:
				d.clearFlag(FlagDDCWorking)
			case 2:
				r.MarkRemoved(d.ID)
			}
			got := r.Get(d.ID)
			assert.Equal(t, want, got.Identity)
		}
	})
}

// Invariant 6: running the filter twice with no intervening registry
// change produces no additional mutations (checked above concretely;
// this variant fuzzes the phantom/valid pairing).
func TestFilterPhantoms_IdempotentFuzzed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry()
		e := fakeEDID(t, "DEL", "U2720Q")
		a := r.Create(6, e)
		a.setFlag(FlagDDCWorking)
		b := r.Create(9, e)
		if rapid.Bool().Draw(t, "alreadyPhantom") {
			b.markPhantom(a.ID)
		}
		connectorOf := func(busNo int) string { return "" }

		FilterPhantoms(r, connectorOf)
		first := snapshotAll(r)
		FilterPhantoms(r, connectorOf)
		second := snapshotAll(r)
		assert.Equal(t, first, second)
	})
}

func TestHandle_ExclusiveOpen(t *testing.T) {
	r := NewRegistry()
	e := fakeEDID(t, "DEL", "U2720Q")
	d := r.Create(3, e)

	d.openMu.Lock()
	defer d.openMu.Unlock()

	ok := d.openMu.TryLock()
	assert.False(t, ok, "a second open must not succeed while one is held")
}
