package core

import "time"

// Capability indicates what a discovered device can do in an AV session.
type Capability string

const (
	CapabilityServer   Capability = "server"
	CapabilityRenderer Capability = "renderer"
	CapabilityOther    Capability = "other"
)

// ParseCapability maps a loose capability tag onto a Capability.
func ParseCapability(s string) Capability {
	switch s {
	case "server", "MediaServer":
		return CapabilityServer
	case "renderer", "MediaRenderer":
		return CapabilityRenderer
	default:
		return CapabilityOther
	}
}

// Device represents a device known to the registry.
type Device struct {
	ID         string        `json:"id"`
	Name       string        `json:"name,omitempty"`
	Type       string        `json:"type,omitempty"`
	Capability Capability    `json:"capability"`
	Location   string        `json:"location"`
	FirstSeen  time.Time     `json:"first_seen"`
	LastSeen   time.Time     `json:"last_seen"`
	Expiry     time.Duration `json:"expiry"`
}

// ExpiresAt returns the instant after which the device is considered gone.
func (d Device) ExpiresAt() time.Time {
	return d.LastSeen.Add(d.Expiry)
}

// Expired reports whether now is past the device's advertised lifetime.
func (d Device) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt())
}

// IsRenderer returns true if the device can render media.
func (d Device) IsRenderer() bool {
	return d.Capability == CapabilityRenderer
}

// IsServer returns true if the device serves media.
func (d Device) IsServer() bool {
	return d.Capability == CapabilityServer
}

// DisplayName returns the friendly name, falling back to the ID.
func (d Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}
