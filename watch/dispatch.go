package watch

import "sync"

// Callback is a registered consumer of watcher events.
type Callback func(Event)

// DispatchMode selects between spec §4.H's two per-watcher delivery
// modes.
type DispatchMode int

const (
	// DispatchWorker delivers each Dispatch call's events immediately,
	// one goroutine per callback.
	DispatchWorker DispatchMode = iota
	// DispatchQueue appends each Dispatch call's events to a per-callback
	// buffer instead of delivering them; Flush drains the buffers. The
	// watcher calls Flush at the end of every tick (spec §4.G step 6).
	DispatchQueue
)

// Dispatcher holds the registered callbacks, keyed by registration id,
// and delivers events to them (spec §4.H). Callbacks are kept in a map:
// the order in which different callbacks are handed a batch is not
// defined, not even registration order. In DispatchWorker mode, each
// delivery spawns one goroutine per callback, so a slow or blocking
// consumer never stalls discovery and no shared queue exists outside
// the dispatcher itself. In DispatchQueue mode, events are buffered
// per callback until Flush is called.
type Dispatcher struct {
	mu        sync.Mutex
	mode      DispatchMode
	callbacks map[int]Callback
	pending   map[int][]Event
	nextID    int
}

// NewDispatcher returns an empty event dispatcher in DispatchWorker
// mode. Call SetMode to switch to batching.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		callbacks: make(map[int]Callback),
		pending:   make(map[int][]Event),
	}
}

// SetMode changes the dispatcher's delivery discipline. Switching away
// from DispatchQueue silently discards any buffered-but-unflushed
// events, since the new mode no longer has anywhere to drain them
// from; callers that care should Flush first.
func (d *Dispatcher) SetMode(mode DispatchMode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mode != DispatchQueue {
		d.pending = make(map[int][]Event)
	}
	d.mode = mode
}

// Register adds cb to the callback list and returns an id for later
// Unregister. Registration is a single map insert and expected to be
// rare.
func (d *Dispatcher) Register(cb Callback) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.callbacks[id] = cb
	return id
}

// Unregister removes a previously registered callback. It is a no-op
// if id is unknown.
func (d *Dispatcher) Unregister(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.callbacks, id)
	delete(d.pending, id)
}

// Dispatch hands events — all produced by one observation cycle — to
// every currently registered callback, either immediately
// (DispatchWorker) or by buffering them for a later Flush
// (DispatchQueue). In DispatchWorker mode one goroutine is spawned per
// callback; within it, events are delivered to that callback in the
// order given (generation order). Because each callback's worker is
// independent, events from two different Dispatch calls (two cycles)
// may be delivered out of step with each other.
func (d *Dispatcher) Dispatch(events ...Event) {
	if len(events) == 0 {
		return
	}
	d.mu.Lock()
	if d.mode == DispatchQueue {
		for id := range d.callbacks {
			d.pending[id] = append(d.pending[id], events...)
		}
		d.mu.Unlock()
		return
	}
	cbs := make([]Callback, 0, len(d.callbacks))
	for _, cb := range d.callbacks {
		cbs = append(cbs, cb)
	}
	d.mu.Unlock()

	for _, cb := range cbs {
		cb := cb
		go func() {
			for _, ev := range events {
				cb(ev)
			}
		}()
	}
}

// Flush delivers every callback's buffered events in DispatchQueue
// mode, preserving each callback's generation order, then clears the
// buffers. It is a no-op in DispatchWorker mode, where Dispatch has
// already delivered everything.
func (d *Dispatcher) Flush() {
	d.mu.Lock()
	if d.mode != DispatchQueue {
		d.mu.Unlock()
		return
	}
	batches := make(map[int][]Event, len(d.pending))
	cbs := make(map[int]Callback, len(d.callbacks))
	for id, evs := range d.pending {
		if len(evs) == 0 {
			continue
		}
		batches[id] = evs
		cbs[id] = d.callbacks[id]
	}
	d.pending = make(map[int][]Event)
	d.mu.Unlock()

	for id, evs := range batches {
		cb := cbs[id]
		if cb == nil {
			continue
		}
		evs := evs
		go func() {
			for _, ev := range evs {
				cb(ev)
			}
		}()
	}
}
