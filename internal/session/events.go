package session

import (
	"github.com/tessro/avctl/internal/core"
	"github.com/tessro/avctl/internal/didl"
	"github.com/tessro/avctl/internal/eventbus"
)

// AVTransport state variables read from events.
const (
	varTransportState    = "TransportState"
	varTransportStatus   = "TransportStatus"
	varRelativeTime      = "RelativeTimePosition"
	transportStatusError = "ERROR_OCCURRED"
)

// ParseTransportEvent extracts the transport report from a bus event.
func ParseTransportEvent(e eventbus.Event) core.TransportEvent {
	te := core.TransportEvent{DeviceID: e.DeviceID, Seq: e.Seq}
	if v, ok := e.Vars[varTransportState]; ok {
		te.State = core.ParseTransportState(v)
	}
	if e.Vars[varTransportStatus] == transportStatusError {
		te.Fault = transportStatusError
	}
	if v, ok := e.Vars[varRelativeTime]; ok {
		if d, err := didl.ParseDuration(v); err == nil {
			te.Position = d
			te.HasPosition = true
		}
	}
	return te
}

// onEvent is the bus observer for the selected renderer.
func (s *Session) onEvent(e eventbus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if e.DeviceID != s.rendererID || e.Seq <= s.eventFloor {
		s.stats.StaleEvents++
		s.logger.Debug("dropping stale event", "device", e.DeviceID, "seq", e.Seq, "floor", s.eventFloor)
		return
	}
	s.eventFloor = e.Seq

	te := ParseTransportEvent(e)
	if te.HasPosition {
		s.trackPosition = te.Position
	}
	if te.Fault != "" {
		if s.state != core.StateFaulted {
			s.faultLocked("renderer reported " + te.Fault)
		}
		return
	}
	if te.State == core.TransportUnknown {
		return
	}
	s.applyTransportLocked(te.State)
}

// applyTransportLocked reconciles a confirmed renderer state with the
// session state.
func (s *Session) applyTransportLocked(ts core.TransportState) {
	s.confirmed = ts
	if s.matchesIntentLocked(ts) {
		s.timeouts = 0
	}
	prev := s.state

	switch s.state {
	case core.StateLoading:
		// STOPPED while loading is the renderer settling on the new URI.
		switch ts {
		case core.TransportPlaying:
			s.state = core.StatePlaying
		case core.TransportPaused:
			s.state = core.StatePaused
		}
	case core.StatePlaying:
		switch {
		case ts == core.TransportPaused:
			s.state = core.StatePaused
		case ts.IsStopped():
			s.endOfTrackLocked()
			return
		}
	case core.StatePaused:
		switch {
		case ts == core.TransportPlaying:
			s.state = core.StatePlaying
		case ts.IsStopped():
			s.state = core.StateStopped
			s.intent = core.TransportStopped
		}
	case core.StateStopping:
		if ts.IsStopped() {
			s.state = core.StateStopped
		}
	}

	if s.state != prev {
		s.notifyLocked(prev)
	}
}

// endOfTrackLocked handles the renderer stopping on its own while playing.
func (s *Session) endOfTrackLocked() {
	if s.intent == core.TransportPlaying {
		if next := s.playlist.NextPlayable(s.playlist.Position); next >= 0 {
			s.stats.AutoAdvances++
			s.logger.Debug("track ended, advancing", "from", s.playlist.Position, "to", next)
			s.startLoadLocked(next)
			return
		}
		s.logger.Info("playlist finished")
	}

	prev := s.state
	s.supersedeLocked()
	s.state = core.StateStopped
	s.intent = core.TransportStopped
	s.notifyLocked(prev)
}
