// Package tail turns session and registry notifications into a stream of
// human-readable events.
package tail

import (
	"context"
	"time"

	"github.com/tessro/avctl/internal/core"
	"github.com/tessro/avctl/internal/registry"
	"github.com/tessro/avctl/internal/session"
)

// EventType represents the type of event.
type EventType int

const (
	EventTrackChange EventType = iota
	EventPause
	EventResume
	EventStop
	EventFault
	EventRendererChange
	EventDeviceAdded
	EventDeviceRemoved
)

// Event is a notable change in the session or the device set.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Previous  *core.Snapshot
	Current   *core.Snapshot
	// Device is set for device events.
	Device *core.Device
	// Reason explains faults and removals.
	Reason string
}

// StateSource reports session state changes.
type StateSource interface {
	CurrentState() core.Snapshot
	Subscribe() *session.Subscription
	Unsubscribe(sub *session.Subscription)
}

// DeviceSource reports registry changes.
type DeviceSource interface {
	Watch() *registry.Watcher
	Unwatch(w *registry.Watcher)
}

// Watcher follows a session and a registry and emits events.
type Watcher struct {
	states  StateSource
	devices DeviceSource
	events  chan Event
}

// NewWatcher creates a watcher. Either source may be nil.
func NewWatcher(states StateSource, devices DeviceSource) *Watcher {
	return &Watcher{
		states:  states,
		devices: devices,
		events:  make(chan Event, 16),
	}
}

// Events returns the channel of events. It is closed when Start returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start follows the sources until ctx is done or the session closes.
func (w *Watcher) Start(ctx context.Context) error {
	defer close(w.events)

	var changes <-chan registry.Change
	if w.devices != nil {
		rw := w.devices.Watch()
		defer w.devices.Unwatch(rw)
		changes = rw.Changes
	}

	var stateCh <-chan session.StateChange
	var done <-chan struct{}
	var prev *core.Snapshot
	if w.states != nil {
		sub := w.states.Subscribe()
		defer w.states.Unsubscribe(sub)
		stateCh, done = sub.StateChanged, sub.Done

		initial := w.states.CurrentState()
		prev = &initial
		if !w.emit(ctx, diffStates(nil, prev)) {
			return ctx.Err()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return nil
		case c, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if !w.emit(ctx, deviceEvents(c)) {
				return ctx.Err()
			}
		case sc := <-stateCh:
			curr := sc.Snapshot
			if !w.emit(ctx, diffStates(prev, &curr)) {
				return ctx.Err()
			}
			prev = &curr
		}
	}
}

func (w *Watcher) emit(ctx context.Context, events []Event) bool {
	for _, e := range events {
		select {
		case w.events <- e:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func deviceEvents(c registry.Change) []Event {
	d := c.Device
	switch c.Kind {
	case registry.ChangeAdded:
		return []Event{{Type: EventDeviceAdded, Timestamp: time.Now(), Device: &d}}
	case registry.ChangeRemoved:
		return []Event{{Type: EventDeviceRemoved, Timestamp: time.Now(), Device: &d, Reason: c.Reason}}
	default:
		return nil
	}
}

// diffStates compares two snapshots and returns detected events.
func diffStates(prev, curr *core.Snapshot) []Event {
	if curr == nil {
		return nil
	}

	now := time.Now()
	event := func(t EventType) Event {
		return Event{Type: t, Timestamp: now, Previous: prev, Current: curr}
	}

	// First snapshot
	if prev == nil {
		if curr.State.IsActive() && curr.Current() != nil {
			return []Event{event(EventTrackChange)}
		}
		return nil
	}

	var events []Event

	if prev.RendererID != curr.RendererID && curr.RendererID != "" {
		events = append(events, event(EventRendererChange))
	}

	if curr.State == core.StateFaulted {
		if prev.State != core.StateFaulted {
			e := event(EventFault)
			e.Reason = curr.Fault
			events = append(events, e)
		}
		return events
	}

	if curr.State == core.StateLoading && (prev.State != core.StateLoading || trackChanged(prev, curr)) {
		events = append(events, event(EventTrackChange))
	}

	switch {
	case prev.State == core.StatePlaying && curr.State == core.StatePaused:
		events = append(events, event(EventPause))
	case prev.State == core.StatePaused && curr.State == core.StatePlaying:
		events = append(events, event(EventResume))
	case curr.State == core.StateStopped && prev.State != core.StateStopped:
		events = append(events, event(EventStop))
	}

	return events
}

// trackChanged returns true if the item under the cursor changed.
func trackChanged(prev, curr *core.Snapshot) bool {
	p, c := prev.Current(), curr.Current()
	if p == nil && c == nil {
		return false
	}
	if p == nil || c == nil {
		return true
	}
	return prev.Position() != curr.Position() || p.URI != c.URI
}
