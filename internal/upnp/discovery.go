package upnp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/koron/go-ssdp"

	"github.com/tessro/avctl/internal/core"
	"github.com/tessro/avctl/internal/registry"
)

// Search targets for AV devices.
const (
	TargetMediaRenderer = "urn:schemas-upnp-org:device:MediaRenderer:1"
	TargetMediaServer   = "urn:schemas-upnp-org:device:MediaServer:1"
)

// SightingSink receives decoded announcements.
type SightingSink interface {
	OnSighting(s registry.Sighting)
	OnDeparture(id string)
}

// DiscoveryOptions configures a Discoverer.
type DiscoveryOptions struct {
	Targets []string
	// Wait is how long a search waits for responses.
	Wait time.Duration
	// LocalAddr binds the search socket to one interface when set.
	LocalAddr string
	Logger    *slog.Logger
}

type searchFunc func(searchType string, waitSec int, localAddr string) ([]ssdp.Service, error)

// Discoverer turns SSDP traffic into registry sightings.
type Discoverer struct {
	sink   SightingSink
	opts   DiscoveryOptions
	logger *slog.Logger
	search searchFunc

	mu    sync.Mutex
	known map[string]core.Capability
}

// NewDiscoverer creates a discoverer feeding sink.
func NewDiscoverer(sink SightingSink, opts DiscoveryOptions) *Discoverer {
	if len(opts.Targets) == 0 {
		opts.Targets = []string{TargetMediaRenderer, TargetMediaServer}
	}
	if opts.Wait <= 0 {
		opts.Wait = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Discoverer{
		sink:   sink,
		opts:   opts,
		logger: opts.Logger.With("component", "discovery"),
		search: ssdp.Search,
		known:  make(map[string]core.Capability),
	}
}

// Search sends an M-SEARCH for every target and reports responses as
// sightings. It returns the number of distinct devices that answered.
func (d *Discoverer) Search(ctx context.Context) (int, error) {
	waitSec := max(int(d.opts.Wait/time.Second), 1)
	seen := make(map[string]bool)

	for _, target := range d.opts.Targets {
		if err := ctx.Err(); err != nil {
			return len(seen), err
		}
		services, err := d.search(target, waitSec, d.opts.LocalAddr)
		if err != nil {
			return len(seen), fmt.Errorf("ssdp search %s: %w", target, err)
		}
		for _, svc := range services {
			s, ok := d.sighting(svc.Type, svc.USN, svc.Location, svc.MaxAge())
			if !ok {
				continue
			}
			d.sink.OnSighting(s)
			seen[s.ID] = true
		}
	}
	d.logger.Debug("search complete", "devices", len(seen))
	return len(seen), nil
}

// Monitor listens for alive and byebye announcements until ctx is done.
func (d *Discoverer) Monitor(ctx context.Context) error {
	m := &ssdp.Monitor{
		Alive: d.handleAlive,
		Bye:   d.handleBye,
	}
	if err := m.Start(); err != nil {
		return fmt.Errorf("start ssdp monitor: %w", err)
	}
	<-ctx.Done()
	return m.Close()
}

func (d *Discoverer) handleAlive(m *ssdp.AliveMessage) {
	if s, ok := d.sighting(m.Type, m.USN, m.Location, m.MaxAge()); ok {
		d.sink.OnSighting(s)
	}
}

func (d *Discoverer) handleBye(m *ssdp.ByeMessage) {
	id := extractUUID(m.USN)
	if id == "" {
		return
	}
	d.mu.Lock()
	delete(d.known, id)
	d.mu.Unlock()
	d.sink.OnDeparture(id)
}

// sighting decodes one announcement. Only device-type notifications are
// reported; root device, uuid and service notifications repeat them.
func (d *Discoverer) sighting(nt, usn, location string, maxAge int) (registry.Sighting, bool) {
	if !strings.Contains(nt, ":device:") {
		return registry.Sighting{}, false
	}
	id := extractUUID(usn)
	capability := capabilityOf(nt)

	d.mu.Lock()
	if prev, ok := d.known[id]; ok && capability == core.CapabilityOther {
		capability = prev
	}
	if id != "" {
		d.known[id] = capability
	}
	d.mu.Unlock()

	s := registry.Sighting{
		ID:         id,
		Capability: capability,
		Location:   location,
		Type:       nt,
	}
	if maxAge > 0 {
		s.Expiry = time.Duration(maxAge) * time.Second
	}
	return s, true
}

func capabilityOf(deviceType string) core.Capability {
	switch {
	case strings.Contains(deviceType, ":device:MediaRenderer:"):
		return core.CapabilityRenderer
	case strings.Contains(deviceType, ":device:MediaServer:"):
		return core.CapabilityServer
	default:
		return core.CapabilityOther
	}
}

// extractUUID extracts the device UUID from a USN string.
// e.g., "uuid:4d696e69-444c-164e-9d41-b827eb54e2a1::urn:schemas-upnp-org:device:MediaServer:1"
func extractUUID(usn string) string {
	rest, ok := strings.CutPrefix(usn, "uuid:")
	if !ok {
		return ""
	}
	if idx := strings.Index(rest, "::"); idx > 0 {
		return rest[:idx]
	}
	return rest
}
