// Package registry keeps the live set of UPnP devices seen on the network.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tessro/avctl/internal/core"
	"github.com/tessro/avctl/internal/errors"
)

// DefaultExpiry applies to sightings that carry no usable max-age.
const DefaultExpiry = 1800 * time.Second

// Default bounds for the sweep interval.
const (
	DefaultSweepFloor   = 5 * time.Second
	DefaultSweepCeiling = 60 * time.Second
)

// Sighting is a decoded discovery announcement or search response.
type Sighting struct {
	ID         string
	Capability core.Capability
	Location   string
	Expiry     time.Duration
	Name       string
	Type       string
}

// Options configures a Registry.
type Options struct {
	DefaultExpiry time.Duration
	SweepFloor    time.Duration
	SweepCeiling  time.Duration
	Logger        *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Stats is a point-in-time view of registry counters.
type Stats struct {
	Devices     int    `json:"devices"`
	Sightings   uint64 `json:"sightings"`
	Departures  uint64 `json:"departures"`
	Expirations uint64 `json:"expirations"`
	Malformed   uint64 `json:"malformed"`
	Dropped     uint64 `json:"dropped_notifications"`
}

type entry struct {
	device  core.Device
	ordinal uint64
}

// Registry maps device identifiers to devices. All methods are safe for
// concurrent use; readers only ever receive copies.
type Registry struct {
	mu       sync.RWMutex
	devices  map[string]*entry
	ordinal  uint64
	watchers map[*Watcher]struct{}
	stats    Stats

	defaultExpiry time.Duration
	sweepFloor    time.Duration
	sweepCeiling  time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// New creates an empty registry.
func New(opts Options) *Registry {
	r := &Registry{
		devices:       make(map[string]*entry),
		watchers:      make(map[*Watcher]struct{}),
		defaultExpiry: opts.DefaultExpiry,
		sweepFloor:    opts.SweepFloor,
		sweepCeiling:  opts.SweepCeiling,
		logger:        opts.Logger,
		now:           opts.Now,
	}
	if r.defaultExpiry <= 0 {
		r.defaultExpiry = DefaultExpiry
	}
	if r.sweepFloor <= 0 {
		r.sweepFloor = DefaultSweepFloor
	}
	if r.sweepCeiling < r.sweepFloor {
		r.sweepCeiling = max(DefaultSweepCeiling, r.sweepFloor)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// OnSighting records a device announcement. Repeated sightings refresh the
// existing entry. Sightings without an identifier or location are counted
// and dropped.
func (r *Registry) OnSighting(s Sighting) {
	id := strings.TrimSpace(s.ID)
	loc := strings.TrimSpace(s.Location)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" || loc == "" {
		r.stats.Malformed++
		r.logger.Debug("dropping malformed sighting", "id", id, "location", loc)
		return
	}
	r.stats.Sightings++

	expiry := s.Expiry
	if expiry <= 0 {
		expiry = r.defaultExpiry
	}
	capability := s.Capability
	if capability == "" {
		capability = core.CapabilityOther
	}

	if e, ok := r.devices[id]; ok {
		prev := e.device
		e.device.LastSeen = now
		e.device.Expiry = expiry
		e.device.Location = loc
		e.device.Capability = capability
		if s.Name != "" {
			e.device.Name = s.Name
		}
		if s.Type != "" {
			e.device.Type = s.Type
		}
		if prev.Location != e.device.Location || prev.Capability != e.device.Capability || prev.Name != e.device.Name {
			r.notifyLocked(Change{Kind: ChangeUpdated, Device: e.device})
		}
		return
	}

	r.ordinal++
	e := &entry{
		ordinal: r.ordinal,
		device: core.Device{
			ID:         id,
			Name:       s.Name,
			Type:       s.Type,
			Capability: capability,
			Location:   loc,
			FirstSeen:  now,
			LastSeen:   now,
			Expiry:     expiry,
		},
	}
	r.devices[id] = e
	r.logger.Debug("device added", "id", id, "capability", capability, "location", loc)
	r.notifyLocked(Change{Kind: ChangeAdded, Device: e.device})
}

// Annotate sets descriptive fields learned after the first sighting, such as
// the friendly name from the device description. Unknown IDs are ignored.
func (r *Registry) Annotate(id, name, deviceType string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.devices[id]
	if !ok {
		return
	}
	if e.device.Name == name && (deviceType == "" || e.device.Type == deviceType) {
		return
	}
	e.device.Name = name
	if deviceType != "" {
		e.device.Type = deviceType
	}
	r.notifyLocked(Change{Kind: ChangeUpdated, Device: e.device})
}

// OnDeparture removes a device immediately. Unknown IDs are a no-op.
func (r *Registry) OnDeparture(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.devices[id]
	if !ok {
		return
	}
	delete(r.devices, id)
	r.stats.Departures++
	r.logger.Debug("device departed", "id", id)
	r.notifyLocked(Change{Kind: ChangeRemoved, Reason: ReasonDeparted, Device: e.device})
}

// SweepExpired removes every device whose advertised lifetime has passed
// and returns the removed devices in first-seen order.
func (r *Registry) SweepExpired(now time.Time) []core.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []*entry
	for id, e := range r.devices {
		if e.device.Expired(now) {
			expired = append(expired, e)
			delete(r.devices, id)
		}
	}
	sortEntries(expired)

	removed := make([]core.Device, 0, len(expired))
	for _, e := range expired {
		r.stats.Expirations++
		r.logger.Debug("device expired", "id", e.device.ID, "last_seen", e.device.LastSeen)
		r.notifyLocked(Change{Kind: ChangeRemoved, Reason: ReasonExpired, Device: e.device})
		removed = append(removed, e.device)
	}
	return removed
}

// Snapshot returns a copy of the known devices, optionally restricted to the
// given capabilities, ordered by first sighting.
func (r *Registry) Snapshot(filter ...core.Capability) []core.Device {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.devices))
	for _, e := range r.devices {
		if matches(e.device.Capability, filter) {
			cp := *e
			entries = append(entries, &cp)
		}
	}
	r.mu.RUnlock()

	sortEntries(entries)
	out := make([]core.Device, len(entries))
	for i, e := range entries {
		out[i] = e.device
	}
	return out
}

// Lookup returns a copy of the device with the given ID.
func (r *Registry) Lookup(id string) (core.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.devices[id]
	if !ok {
		return core.Device{}, errors.ErrDeviceNotFound
	}
	return e.device, nil
}

// Resolve finds a device by ID or by case-insensitive friendly name.
func (r *Registry) Resolve(nameOrID string) (core.Device, error) {
	if d, err := r.Lookup(nameOrID); err == nil {
		return d, nil
	}
	for _, d := range r.Snapshot() {
		if strings.EqualFold(d.Name, nameOrID) {
			return d, nil
		}
	}
	return core.Device{}, errors.ErrDeviceNotFound
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Stats returns current counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.stats
	s.Devices = len(r.devices)
	return s
}

// SweepInterval is half the shortest live expiry, clamped to the configured
// floor and ceiling. An empty registry sweeps at the ceiling.
func (r *Registry) SweepInterval() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	shortest := time.Duration(0)
	for _, e := range r.devices {
		if shortest == 0 || e.device.Expiry < shortest {
			shortest = e.device.Expiry
		}
	}
	if shortest == 0 {
		return r.sweepCeiling
	}
	return min(max(shortest/2, r.sweepFloor), r.sweepCeiling)
}

// Run sweeps expired devices until ctx is canceled. The interval is
// recomputed after every sweep.
func (r *Registry) Run(ctx context.Context) {
	timer := time.NewTimer(r.SweepInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if removed := r.SweepExpired(r.now()); len(removed) > 0 {
				r.logger.Info("expired devices removed", "count", len(removed))
			}
			timer.Reset(r.SweepInterval())
		}
	}
}

func matches(c core.Capability, filter []core.Capability) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if c == f {
			return true
		}
	}
	return false
}

func sortEntries(entries []*entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ordinal != entries[j].ordinal {
			return entries[i].ordinal < entries[j].ordinal
		}
		return entries[i].device.ID < entries[j].device.ID
	})
}
