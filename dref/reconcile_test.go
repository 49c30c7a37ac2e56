package dref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockowitz/go-ddcutil/i2cbus"
)

func newFakeBusRegistry(infos ...*i2cbus.BusInfo) *i2cbus.Registry {
	r := i2cbus.NewRegistry()
	for _, info := range infos {
		r.Set(info)
	}
	return r
}

// A newly reconciled dref must start DDC-not-working even when its bus
// reports full I2C_FUNC_I2C support: that bit only means the kernel
// driver can carry I2C traffic, not that the monitor answers DDC/CI.
// Only the mandatory-feature VCP probe (spec §4.F step 2) may set
// FlagDDCWorking.
func TestReconcile_NewDrefStartsDDCNotWorking(t *testing.T) {
	e := fakeEDID(t, "DEL", "U2720Q")
	buses := newFakeBusRegistry(&i2cbus.BusInfo{
		BusNo:         6,
		Functionality: i2cbus.FuncI2C,
		EDID:          e,
	})

	r := NewRegistry()
	events := Reconcile(r, buses)

	require.Len(t, events, 1)
	assert.Equal(t, Connected, events[0].Kind)
	assert.False(t, events[0].Dref.Flags().Has(FlagDDCWorking))
}
