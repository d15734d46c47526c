// Package upnp implements the network side of the control point: SSDP
// discovery, device descriptions, SOAP actions and GENA eventing.
package upnp

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tessro/avctl/internal/core"
	"github.com/tessro/avctl/internal/registry"
)

// Devices looks up registry entries.
type Devices interface {
	Lookup(id string) (core.Device, error)
}

// Description is the subset of a UPnP device description the control
// point uses.
type Description struct {
	DeviceType   string
	FriendlyName string
	Manufacturer string
	ModelName    string
	UDN          string
	Services     []ServiceInfo
}

// ServiceInfo locates one service of a device. URLs are absolute.
type ServiceInfo struct {
	ServiceType string
	ServiceID   string
	ControlURL  string
	EventSubURL string
}

type xmlRoot struct {
	URLBase string    `xml:"URLBase"`
	Device  xmlDevice `xml:"device"`
}

type xmlDevice struct {
	DeviceType   string       `xml:"deviceType"`
	FriendlyName string       `xml:"friendlyName"`
	Manufacturer string       `xml:"manufacturer"`
	ModelName    string       `xml:"modelName"`
	UDN          string       `xml:"UDN"`
	Services     []xmlService `xml:"serviceList>service"`
	Devices      []xmlDevice  `xml:"deviceList>device"`
}

type xmlService struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
}

// ParseDescription decodes a device description fetched from location.
// Services of embedded devices are included; relative URLs are resolved
// against URLBase or, when absent, the location.
func ParseDescription(data []byte, location string) (*Description, error) {
	var root xmlRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse description: %w", err)
	}

	base := strings.TrimSpace(root.URLBase)
	if base == "" {
		base = location
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	d := &Description{
		DeviceType:   strings.TrimSpace(root.Device.DeviceType),
		FriendlyName: strings.TrimSpace(root.Device.FriendlyName),
		Manufacturer: strings.TrimSpace(root.Device.Manufacturer),
		ModelName:    strings.TrimSpace(root.Device.ModelName),
		UDN:          strings.TrimSpace(root.Device.UDN),
	}
	var walk func(dev xmlDevice)
	walk = func(dev xmlDevice) {
		for _, s := range dev.Services {
			d.Services = append(d.Services, ServiceInfo{
				ServiceType: strings.TrimSpace(s.ServiceType),
				ServiceID:   strings.TrimSpace(s.ServiceID),
				ControlURL:  resolve(baseURL, s.ControlURL),
				EventSubURL: resolve(baseURL, s.EventSubURL),
			})
		}
		for _, child := range dev.Devices {
			walk(child)
		}
	}
	walk(root.Device)
	return d, nil
}

// Service finds a service by type. A newer version of the same service
// type satisfies a request for an older one.
func (d *Description) Service(serviceType string) (ServiceInfo, bool) {
	for _, s := range d.Services {
		if s.ServiceType == serviceType {
			return s, true
		}
	}
	prefix := versionless(serviceType)
	for _, s := range d.Services {
		if versionless(s.ServiceType) == prefix {
			return s, true
		}
	}
	return ServiceInfo{}, false
}

func versionless(urn string) string {
	if i := strings.LastIndex(urn, ":"); i > 0 {
		return urn[:i]
	}
	return urn
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// Describer fetches and caches device descriptions by device ID.
type Describer struct {
	devices Devices
	client  *http.Client
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]*Description
}

// NewDescriber creates a describer that resolves device locations through
// devices.
func NewDescriber(devices Devices, client *http.Client, logger *slog.Logger) *Describer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Describer{
		devices: devices,
		client:  client,
		logger:  logger.With("component", "describer"),
		cache:   make(map[string]*Description),
	}
}

// Describe returns the description of a device, fetching it on first use.
func (d *Describer) Describe(ctx context.Context, deviceID string) (*Description, error) {
	d.mu.Lock()
	if desc, ok := d.cache[deviceID]; ok {
		d.mu.Unlock()
		return desc, nil
	}
	d.mu.Unlock()

	dev, err := d.devices.Lookup(deviceID)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", deviceID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dev.Location, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch description: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch description: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read description: %w", err)
	}
	desc, err := ParseDescription(data, dev.Location)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cache[deviceID] = desc
	d.mu.Unlock()
	return desc, nil
}

// Forget drops a cached description.
func (d *Describer) Forget(deviceID string) {
	d.mu.Lock()
	delete(d.cache, deviceID)
	d.mu.Unlock()
}

// Annotator is the part of the registry the describer updates.
type Annotator interface {
	Watch() *registry.Watcher
	Unwatch(w *registry.Watcher)
	Snapshot(filter ...core.Capability) []core.Device
	Annotate(id, name, deviceType string)
}

// Follow keeps descriptions in step with the registry until ctx is done:
// new devices are described and named, departed ones are forgotten.
func (d *Describer) Follow(ctx context.Context, reg Annotator) {
	w := reg.Watch()
	defer reg.Unwatch(w)

	for _, dev := range reg.Snapshot() {
		if dev.Name == "" {
			go d.annotate(ctx, reg, dev.ID)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-w.Changes:
			if !ok {
				return
			}
			switch c.Kind {
			case registry.ChangeRemoved:
				d.Forget(c.Device.ID)
			case registry.ChangeUpdated:
				if c.Device.Name != "" {
					continue
				}
				d.Forget(c.Device.ID)
				fallthrough
			case registry.ChangeAdded:
				go d.annotate(ctx, reg, c.Device.ID)
			}
		}
	}
}

func (d *Describer) annotate(ctx context.Context, reg Annotator, id string) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	desc, err := d.Describe(ctx, id)
	if err != nil {
		d.logger.Debug("describe failed", "device", id, "error", err)
		return
	}
	if desc.FriendlyName != "" {
		reg.Annotate(id, desc.FriendlyName, desc.DeviceType)
	}
}
