package watcher

import (
	"sync"

	"github.com/charlie0129/battstatus/pkg/status"
)

// Listener is a consumer of normalized battery status.
//
// OnStatus may run inside Start, for a status the source delivered while
// subscribing. It must not call Start, Stop or Teardown synchronously, nor
// deliver raw events into the same watcher. State, Snapshot and Last are safe.
type Listener interface {
	OnStatus(s status.BatteryStatus) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(s status.BatteryStatus) error

func (f ListenerFunc) OnStatus(s status.BatteryStatus) error { return f(s) }

// ListenerID identifies a registered listener.
type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	l  Listener
}

// registry keeps listeners in registration order. Visible elements of the
// entries slice are never modified in place, so a snapshot stays valid while
// listeners add or remove themselves during a publish.
type registry struct {
	mu      sync.Mutex
	nextID  ListenerID
	entries []listenerEntry
}

func (r *registry) add(l Listener) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.entries = append(r.entries, listenerEntry{id: r.nextID, l: l})
	return r.nextID
}

func (r *registry) remove(id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id == id {
			entries := make([]listenerEntry, 0, len(r.entries)-1)
			entries = append(entries, r.entries[:i]...)
			entries = append(entries, r.entries[i+1:]...)
			r.entries = entries
			return true
		}
	}
	return false
}

func (r *registry) snapshot() []listenerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.entries
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}
