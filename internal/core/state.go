package core

import (
	"strings"
	"time"
)

// TransportState is the renderer-side transport state.
type TransportState int

const (
	TransportUnknown TransportState = iota
	TransportStopped
	TransportPlaying
	TransportPaused
	TransportTransitioning
	TransportNoMedia
)

// String returns the UPnP spelling of the state.
func (s TransportState) String() string {
	switch s {
	case TransportStopped:
		return "STOPPED"
	case TransportPlaying:
		return "PLAYING"
	case TransportPaused:
		return "PAUSED_PLAYBACK"
	case TransportTransitioning:
		return "TRANSITIONING"
	case TransportNoMedia:
		return "NO_MEDIA_PRESENT"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s TransportState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseTransportState maps an AVTransport TransportState value.
func ParseTransportState(v string) TransportState {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "STOPPED":
		return TransportStopped
	case "PLAYING":
		return TransportPlaying
	case "PAUSED_PLAYBACK", "PAUSED_RECORDING", "PAUSED":
		return TransportPaused
	case "TRANSITIONING":
		return TransportTransitioning
	case "NO_MEDIA_PRESENT":
		return TransportNoMedia
	default:
		return TransportUnknown
	}
}

// IsStopped treats NO_MEDIA_PRESENT like STOPPED.
func (s TransportState) IsStopped() bool {
	return s == TransportStopped || s == TransportNoMedia
}

// SessionState is the playback session's own state.
type SessionState int

const (
	StateIdle SessionState = iota
	StateLoading
	StatePlaying
	StatePaused
	StateStopping
	StateStopped
	StateFaulted
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateLoading:
		return "Loading"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsActive returns true while the renderer is expected to be busy.
func (s SessionState) IsActive() bool {
	return s == StateLoading || s == StatePlaying || s == StatePaused || s == StateStopping
}

// TransportEvent is a renderer state report tagged with its delivery sequence.
type TransportEvent struct {
	DeviceID string
	State    TransportState
	// Position is the reported relative track position, if any.
	Position time.Duration
	// HasPosition distinguishes a zero position from an absent one.
	HasPosition bool
	// Fault is set when the renderer reports an error condition.
	Fault string
	Seq   uint64
}

// Snapshot is a read-only copy of a session for presentation layers.
type Snapshot struct {
	ID            string         `json:"id"`
	State         SessionState   `json:"state"`
	Intent        TransportState `json:"intent"`
	Confirmed     TransportState `json:"confirmed"`
	RendererID    string         `json:"renderer_id,omitempty"`
	ServerID      string         `json:"server_id,omitempty"`
	Playlist      *Playlist      `json:"playlist,omitempty"`
	TrackPosition time.Duration  `json:"track_position"`
	Fault         string         `json:"fault,omitempty"`
	Seq           uint64         `json:"seq"`
}

// Current returns the item at the cursor, if any.
func (s Snapshot) Current() *PlaylistItem {
	return s.Playlist.Current()
}

// Position returns the cursor, or -1 when there is no playlist.
func (s Snapshot) Position() int {
	if s.Playlist.IsEmpty() {
		return -1
	}
	return s.Playlist.Position
}
