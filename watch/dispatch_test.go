package watch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDispatch_PerCallbackOrdering exercises invariant 7's premise at
// the dispatcher level: within one Dispatch call (one observation
// cycle), a single callback always sees events in the order given.
func TestDispatch_PerCallbackOrdering(t *testing.T) {
	d := NewDispatcher()

	var mu sync.Mutex
	var got []EventType
	done := make(chan struct{})

	d.Register(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	d.Dispatch(
		Event{Type: Connected},
		Event{Type: DDCEnabled},
		Event{Type: Disconnected},
	)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{Connected, DDCEnabled, Disconnected}, got)
}

func TestDispatch_AllCallbacksNotified(t *testing.T) {
	d := NewDispatcher()

	var wg sync.WaitGroup
	wg.Add(2)
	var n1, n2 int
	d.Register(func(ev Event) { n1++; wg.Done() })
	d.Register(func(ev Event) { n2++; wg.Done() })

	d.Dispatch(Event{Type: Connected})

	waitWithTimeout(t, &wg, time.Second)
	assert.Equal(t, 1, n1)
	assert.Equal(t, 1, n2)
}

func TestDispatch_Unregister(t *testing.T) {
	d := NewDispatcher()
	var called bool
	id := d.Register(func(ev Event) { called = true })
	d.Unregister(id)

	d.Dispatch(Event{Type: Connected})
	time.Sleep(50 * time.Millisecond)
	assert.False(t, called)
}

func TestDispatch_QueueModeDefersUntilFlush(t *testing.T) {
	d := NewDispatcher()
	d.SetMode(DispatchQueue)

	var mu sync.Mutex
	var got []EventType
	d.Register(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})

	d.Dispatch(Event{Type: Connected}, Event{Type: DDCEnabled})

	mu.Lock()
	assert.Empty(t, got)
	mu.Unlock()

	d.Flush()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{Connected, DDCEnabled}, got)
}

func TestDispatch_FlushNoopInWorkerMode(t *testing.T) {
	d := NewDispatcher()
	var called bool
	d.Register(func(ev Event) { called = true })
	d.Dispatch(Event{Type: Connected})
	d.Flush()
	time.Sleep(50 * time.Millisecond)
	assert.True(t, called)
}

func waitWithTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for waitgroup")
	}
}
