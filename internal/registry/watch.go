package registry

import "github.com/tessro/avctl/internal/core"

const watchBufferSize = 32

// ChangeKind describes what happened to a device.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeUpdated
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeUpdated:
		return "updated"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ChangeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Removal reasons.
const (
	ReasonDeparted = "departed"
	ReasonExpired  = "expired"
)

// Change is a registry notification.
type Change struct {
	Kind   ChangeKind  `json:"kind"`
	Reason string      `json:"reason,omitempty"`
	Device core.Device `json:"device"`
}

// Watcher receives registry changes until Unwatch is called.
type Watcher struct {
	Changes <-chan Change

	ch chan Change
}

// Watch registers a new watcher. Notifications are dropped, not queued,
// when the watcher falls behind.
func (r *Registry) Watch() *Watcher {
	w := &Watcher{ch: make(chan Change, watchBufferSize)}
	w.Changes = w.ch

	r.mu.Lock()
	r.watchers[w] = struct{}{}
	r.mu.Unlock()
	return w
}

// Unwatch removes the watcher and closes its channel.
func (r *Registry) Unwatch(w *Watcher) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.watchers[w]; !ok {
		return
	}
	delete(r.watchers, w)
	close(w.ch)
}

// notifyLocked fans a change out to watchers. Callers hold r.mu.
func (r *Registry) notifyLocked(c Change) {
	for w := range r.watchers {
		select {
		case w.ch <- c:
		default:
			r.stats.Dropped++
		}
	}
}
