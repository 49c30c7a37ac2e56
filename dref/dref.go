// package dref implements the display-reference registry (spec §4.F):
// the durable, never-reused identity of every monitor the process has
// ever seen on an I²C bus, including phantom-display filtering and
// display-number assignment.
package dref

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rockowitz/go-ddcutil/ddcio"
	"github.com/rockowitz/go-ddcutil/edid"
	"github.com/rockowitz/go-ddcutil/i2cbus"
)

// ID is a stable, monotonically increasing arena index. Once issued an
// ID is never reused, even after its DisplayRef is marked removed.
type ID uint64

// Reserved display numbers. Positive values are user-visible display
// numbers assigned in bus-number order; these three are sentinels.
const (
	DispnoInvalid  = -1
	DispnoPhantom  = -2
	DispnoRemoved  = -3
)

// Flags is a bitset of lifecycle state.
type Flags uint32

const (
	FlagDDCWorking Flags = 1 << iota
	FlagTransient
	FlagRemoved
	FlagPhantom
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// DisplayRef is the durable identity record for one detected monitor.
// Fields below the mutex line are mutable and protected by mu; fields
// above are set once at creation and never change.
type DisplayRef struct {
	ID       ID
	BusNo    int
	EDID     *edid.EDID
	Identity edid.Identity

	mu          sync.Mutex
	openMu      sync.Mutex
	dispno      int
	flags       Flags
	mccsVersion string
	capStr      string
	actual      ID // valid only when flags.Has(FlagPhantom)
}

// snapshot is an immutable copy of a DisplayRef's mutable fields,
// returned to callers so they can inspect state without holding a
// lock across I/O.
type snapshot struct {
	Dispno      int
	Flags       Flags
	MCCSVersion string
	Capabilities string
	Actual      ID
}

func (d *DisplayRef) snapshot() snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return snapshot{
		Dispno:       d.dispno,
		Flags:        d.flags,
		MCCSVersion:  d.mccsVersion,
		Capabilities: d.capStr,
		Actual:       d.actual,
	}
}

// Dispno returns the current display number (positive, or one of the
// Dispno* sentinels).
func (d *DisplayRef) Dispno() int { return d.snapshot().Dispno }

// Flags returns the current flag bitset.
func (d *DisplayRef) Flags() Flags { return d.snapshot().Flags }

// MCCSVersion returns the cached MCCS version string, empty if never
// probed.
func (d *DisplayRef) MCCSVersion() string { return d.snapshot().MCCSVersion }

// SetMCCSVersion caches the MCCS version after a successful probe.
func (d *DisplayRef) SetMCCSVersion(v string) {
	d.mu.Lock()
	d.mccsVersion = v
	d.mu.Unlock()
}

// Capabilities returns the lazily cached capabilities string, empty if
// never fetched.
func (d *DisplayRef) Capabilities() string { return d.snapshot().Capabilities }

// SetCapabilities caches a fetched capabilities string.
func (d *DisplayRef) SetCapabilities(s string) {
	d.mu.Lock()
	d.capStr = s
	d.mu.Unlock()
}

// ActualID returns the dref this one shadows, valid only when Phantom
// is set.
func (d *DisplayRef) ActualID() ID { return d.snapshot().Actual }

func (d *DisplayRef) setFlag(bit Flags) {
	d.mu.Lock()
	d.flags |= bit
	d.mu.Unlock()
}

func (d *DisplayRef) clearFlag(bit Flags) {
	d.mu.Lock()
	d.flags &^= bit
	d.mu.Unlock()
}

func (d *DisplayRef) setDispno(n int) {
	d.mu.Lock()
	d.dispno = n
	d.mu.Unlock()
}

func (d *DisplayRef) markPhantom(actual ID) {
	d.mu.Lock()
	d.flags |= FlagPhantom
	d.dispno = DispnoPhantom
	d.actual = actual
	d.mu.Unlock()
}

func (d *DisplayRef) markRemoved() {
	d.mu.Lock()
	d.flags |= FlagRemoved
	d.flags &^= FlagDDCWorking
	d.dispno = DispnoRemoved
	d.mu.Unlock()
}

// Registry is the ordered set of every DisplayRef the process has ever
// created, keyed by ID. One mutex guards insert/removal/iteration;
// each DisplayRef additionally guards its own mutable fields so that
// per-dref updates never block unrelated readers of the registry.
type Registry struct {
	mu     sync.Mutex
	byID   map[ID]*DisplayRef
	order  []ID // creation order, stable for the lifetime of the process
	nextID ID
}

// NewRegistry returns an empty display-reference registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[ID]*DisplayRef)}
}

// Create allocates a new DisplayRef for a bus carrying e, with an
// initially invalid display number. It does not run the phantom
// filter or assign a real display number; call Reconcile for that.
func (r *Registry) Create(busNo int, e *edid.EDID) *DisplayRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	d := &DisplayRef{
		ID:       r.nextID,
		BusNo:    busNo,
		EDID:     e,
		Identity: e.Identity(),
		dispno:   DispnoInvalid,
	}
	r.byID[d.ID] = d
	r.order = append(r.order, d.ID)
	return d
}

// Get returns the DisplayRef for id, or nil if unknown. The returned
// pointer is the live record, not a copy — callers use its accessor
// methods, which take the per-dref lock internally.
func (r *Registry) Get(id ID) *DisplayRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

// ByBus returns the DisplayRef currently bound to busNo that is not
// marked removed, or nil.
func (r *Registry) ByBus(busNo int) *DisplayRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		d := r.byID[id]
		if d.BusNo == busNo && !d.Flags().Has(FlagRemoved) {
			return d
		}
	}
	return nil
}

// List returns every known DisplayRef in creation order, including
// removed ones (spec §4.F invariant iii: published references remain
// resolvable forever).
func (r *Registry) List() []*DisplayRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*DisplayRef, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// MarkRemoved transitions id to the removed state (dispno=-3). It is a
// no-op if id is unknown.
func (r *Registry) MarkRemoved(id ID) {
	r.mu.Lock()
	d := r.byID[id]
	r.mu.Unlock()
	if d != nil {
		d.markRemoved()
	}
}

// MarkDDCWorking sets the DDC-working flag on id and assigns it a
// display number, used by the recheck worker when a delayed probe
// finally succeeds (spec §4.G). It is a no-op if id is unknown.
func (r *Registry) MarkDDCWorking(id ID) {
	r.mu.Lock()
	d := r.byID[id]
	r.mu.Unlock()
	if d == nil {
		return
	}
	d.setFlag(FlagDDCWorking)
	r.assignDispnos()
}

// assignDispnos gives every surviving, DDC-working, non-phantom,
// non-removed dref whose dispno is still invalid the next unused
// positive integer, in
// ascending bus-number order. Already-numbered drefs keep their
// number, preserving invariant (ii): a dispno is unique and, once
// assigned, stable for the dref's lifetime.
func (r *Registry) assignDispnos() {
	r.mu.Lock()
	defer r.mu.Unlock()

	used := make(map[int]bool)
	var pending []*DisplayRef
	for _, id := range r.order {
		d := r.byID[id]
		s := d.snapshot()
		if s.Flags.Has(FlagRemoved) || s.Flags.Has(FlagPhantom) {
			continue
		}
		if s.Dispno <= 0 && !s.Flags.Has(FlagDDCWorking) {
			continue
		}
		if s.Dispno > 0 {
			used[s.Dispno] = true
			continue
		}
		pending = append(pending, d)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].BusNo < pending[j].BusNo })

	next := 1
	for _, d := range pending {
		for used[next] {
			next++
		}
		d.setDispno(next)
		used[next] = true
	}
}

// Handle is a short-lived open binding for a DisplayRef, required to
// perform VCP I/O. At most one Handle may be open for a given dref at
// a time (spec §5, "display lock").
type Handle struct {
	dref      *DisplayRef
	transport ddcio.Transport
	closed    bool
	closeMu   sync.Mutex
}

// ErrAlreadyOpen is returned by Open when the dref's display lock is
// already held.
var ErrAlreadyOpen = fmt.Errorf("dref: display already open")

// Open acquires the per-dref display lock and binds transport for
// VCP I/O. Callers must Close the handle exactly once.
func Open(ctx context.Context, d *DisplayRef, busRegistry *i2cbus.Registry) (*Handle, error) {
	if !d.openMu.TryLock() {
		return nil, ErrAlreadyOpen
	}
	t, err := i2cbus.OpenTransport(d.BusNo)
	if err != nil {
		d.openMu.Unlock()
		return nil, err
	}
	return &Handle{dref: d, transport: t}, nil
}

// Transport returns the handle's bound transport for issuing DDC/CI
// requests.
func (h *Handle) Transport() ddcio.Transport { return h.transport }

// Close releases the display lock. Close is idempotent: a second call
// is a no-op.
func (h *Handle) Close() error {
	h.closeMu.Lock()
	defer h.closeMu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	var err error
	if c, ok := h.transport.(interface{ Close() error }); ok {
		err = c.Close()
	}
	h.dref.openMu.Unlock()
	return err
}
