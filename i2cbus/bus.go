// package i2cbus enumerates /dev/i2c-N devices, probes them for the
// well-known DDC/CI and EDID slave addresses, and resolves each to
// its sysfs DRM connector when possible. It is the "bus registry" of
// the core (spec §4.E).
package i2cbus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"
	"periph.io/x/host/v3/sysfs"

	"github.com/rockowitz/go-ddcutil/edid"
)

// Kernel I²C functionality bits relevant to DDC/CI; see
// <linux/i2c-dev.h>.
const (
	FuncI2C       = 0x00000001
	FuncSMBusRead = 0x00020000
)

const (
	busDevPattern = "/dev/i2c-%d"
	ioctlFuncs    = 0x0705 // I2C_FUNCS
	ioctlSlave    = 0x0703 // I2C_SLAVE
)

// ConnectorMatch records how (or whether) a bus's DRM connector was
// resolved, for diagnostics.
type ConnectorMatch int

const (
	ConnectorNotChecked ConnectorMatch = iota
	ConnectorNotFound
	ConnectorFoundByBusNo
	ConnectorFoundByEDID
)

func (m ConnectorMatch) String() string {
	switch m {
	case ConnectorNotChecked:
		return "not-checked"
	case ConnectorNotFound:
		return "not-found"
	case ConnectorFoundByBusNo:
		return "found-by-busno"
	case ConnectorFoundByEDID:
		return "found-by-edid"
	}
	return "unknown"
}

// BusInfo is everything the registry knows about one /dev/i2c-N
// device. It is created at enumeration time and refreshed in place;
// it is never destroyed except at process teardown or when the
// device disappears from the registry.
type BusInfo struct {
	BusNo          int
	Functionality  uint32
	EDID           *edid.EDID
	EDIDSource     string // "sysfs", "i2c-direct", or "" if EDID is nil
	Driver         string
	Connector      string
	ConnectorMatch ConnectorMatch
	OpenErrno      error
}

// SupportsI2C reports whether the kernel driver for this bus exposes
// full I2C_FUNC_I2C (as opposed to SMBus-only) functionality.
func (b *BusInfo) SupportsI2C() bool {
	return b.Functionality&FuncI2C != 0
}

// Registry is the ordered set of known I²C buses, keyed by bus
// number. One mutex guards all mutation; readers that cross the set
// take it briefly and copy references out, per spec §5.
type Registry struct {
	mu    sync.Mutex
	buses map[int]*BusInfo
}

// NewRegistry returns an empty bus registry.
func NewRegistry() *Registry {
	return &Registry{buses: make(map[int]*BusInfo)}
}

// Set installs info as the registry's current record for info.BusNo,
// overwriting any existing record. Enumerate is the normal way a
// Registry's contents change; Set exists for callers (tests, fixture
// builders) that synthesize bus state without a real /dev/i2c-N.
func (r *Registry) Set(info *BusInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buses[info.BusNo] = info
}

var busNameRe = regexp.MustCompile(`^i2c-(\d+)$`)

// Enumerate scans /dev for i2c-N devices, probes each, and replaces
// the registry's contents. It returns the discovered bus numbers in
// ascending order.
func (r *Registry) Enumerate(ctx context.Context) ([]int, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, fmt.Errorf("i2cbus: reading /dev: %w", err)
	}

	var busNos []int
	for _, e := range entries {
		m := busNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		busNos = append(busNos, n)
	}
	sort.Ints(busNos)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.buses = make(map[int]*BusInfo, len(busNos))
	for _, n := range busNos {
		info := r.probe(n)
		r.buses[n] = info
	}
	return busNos, nil
}

// probe opens and inspects one bus device: functionality bitmap, then
// EDID via sysfs, falling back to a direct I²C read at 0x50. No third
// avenue is tried.
func (r *Registry) probe(busNo int) *BusInfo {
	info := &BusInfo{BusNo: busNo, ConnectorMatch: ConnectorNotChecked}

	f, err := os.OpenFile(fmt.Sprintf(busDevPattern, busNo), os.O_RDWR, 0)
	if err != nil {
		info.OpenErrno = err
		return info
	}
	defer f.Close()

	if fn, err := unix.IoctlGetInt(int(f.Fd()), ioctlFuncs); err == nil {
		info.Functionality = uint32(fn)
	}

	if e, err := readEDIDViaSysfs(busNo); err == nil {
		info.EDID = e
		info.EDIDSource = "sysfs"
	} else if e, err := readEDIDViaI2C(f); err == nil {
		info.EDID = e
		info.EDIDSource = "i2c-direct"
	}
	// A third, adapter-specific avenue (spec §4.E) is an external
	// collaborator at this boundary; no in-tree implementation exists
	// for it, so it is simply not attempted here.

	info.Driver = driverName(busNo)

	if info.EDID != nil {
		name, match := ResolveConnector(busNo, info.EDID.Bytes[:])
		info.Connector = name
		info.ConnectorMatch = match
	}
	return info
}

// BusInfo returns a snapshot copy of the bus record for busNo, or nil
// if unknown. Taking the lock briefly and returning a copy lets
// callers do I/O without holding the registry mutex.
func (r *Registry) BusInfo(busNo int) *BusInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buses[busNo]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

// List returns a snapshot of every known bus, ordered by bus number.
func (r *Registry) List() []*BusInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*BusInfo, 0, len(r.buses))
	for _, b := range r.buses {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusNo < out[j].BusNo })
	return out
}

// BusNumbers returns the set of attached bus numbers ({n: /dev/i2c-n
// exists}), used by the watcher to diff "attached" against the
// previous snapshot.
func (r *Registry) BusNumbers() map[int]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]bool, len(r.buses))
	for n := range r.buses {
		out[n] = true
	}
	return out
}

// WithEDID returns the set of bus numbers whose EDID is currently
// readable, used by the watcher to diff "with_edid".
func (r *Registry) WithEDID() map[int]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]bool)
	for n, b := range r.buses {
		if b.EDID != nil {
			out[n] = true
		}
	}
	return out
}

// OpenTransport opens a fresh periph.io sysfs I²C connection to
// busNo and wraps it as a ddcio.Transport bound to the DDC slave
// address 0x37.
func OpenTransport(busNo int) (*Transport, error) {
	bus, err := sysfs.NewI2C(busNo)
	if err != nil {
		return nil, fmt.Errorf("i2cbus: opening bus %d: %w", busNo, err)
	}
	return &Transport{bus: bus, addr: 0x37}, nil
}

func driverName(busNo int) string {
	link := fmt.Sprintf("/sys/bus/i2c/devices/i2c-%d/device/driver", busNo)
	target, err := os.Readlink(link)
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}
