package i2cbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusInfo_SupportsI2C(t *testing.T) {
	b := &BusInfo{Functionality: FuncI2C | FuncSMBusRead}
	assert.True(t, b.SupportsI2C())

	b2 := &BusInfo{Functionality: FuncSMBusRead}
	assert.False(t, b2.SupportsI2C())
}

func TestConnectorMatch_String(t *testing.T) {
	cases := map[ConnectorMatch]string{
		ConnectorNotChecked:   "not-checked",
		ConnectorNotFound:     "not-found",
		ConnectorFoundByBusNo: "found-by-busno",
		ConnectorFoundByEDID:  "found-by-edid",
	}
	for m, want := range cases {
		assert.Equal(t, want, m.String())
	}
}

func TestRegistry_SnapshotIsolation(t *testing.T) {
	r := NewRegistry()
	r.buses[3] = &BusInfo{BusNo: 3, Driver: "i2c-nvidia-gpu"}

	snap := r.BusInfo(3)
	require := assert.New(t)
	require.Equal(3, snap.BusNo)

	snap.Driver = "mutated"
	require.Equal("i2c-nvidia-gpu", r.buses[3].Driver, "mutating a snapshot must not affect the registry")
}

func TestRegistry_BusNumbersAndWithEDID(t *testing.T) {
	r := NewRegistry()
	r.buses[1] = &BusInfo{BusNo: 1}
	r.buses[2] = &BusInfo{BusNo: 2, EDID: nil}

	nums := r.BusNumbers()
	assert.Len(t, nums, 2)
	assert.True(t, nums[1])
	assert.True(t, nums[2])

	withEDID := r.WithEDID()
	assert.Len(t, withEDID, 0)
}

func TestConnectorKind(t *testing.T) {
	assert.Equal(t, "DP", connectorKind("card0-DP-1"))
	assert.Equal(t, "HDMI-A", connectorKind("card0-HDMI-A-1"))
}
