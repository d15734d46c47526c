// Package session drives playback of a playlist on a remote renderer and
// reconciles issued commands with the renderer's asynchronous reports.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tessro/avctl/internal/core"
	"github.com/tessro/avctl/internal/errors"
	"github.com/tessro/avctl/internal/eventbus"
	"github.com/tessro/avctl/internal/gateway"
)

// Defaults for Options.
const (
	DefaultActionTimeout = 5 * time.Second
	DefaultMaxTimeouts   = 3
	DefaultRequeryDelay  = 2 * time.Second
)

// Devices looks up devices by identifier.
type Devices interface {
	Lookup(id string) (core.Device, error)
}

// Events delivers sequenced renderer notifications.
type Events interface {
	Subscribe(ctx context.Context, deviceID, service string, obs eventbus.Observer) (func(), error)
	LastSeq(deviceID string) uint64
}

// Options configures a Session.
type Options struct {
	ActionTimeout time.Duration
	// MaxTimeouts is the number of unresolved timeouts that faults the session.
	MaxTimeouts  int
	RequeryDelay time.Duration
	Logger       *slog.Logger
}

// Stats counts events that are dropped rather than surfaced.
type Stats struct {
	Commands      uint64 `json:"commands"`
	StaleResults  uint64 `json:"stale_results"`
	StaleEvents   uint64 `json:"stale_events"`
	Timeouts      uint64 `json:"timeouts"`
	Requeries     uint64 `json:"requeries"`
	AutoAdvances  uint64 `json:"auto_advances"`
	Faults        uint64 `json:"faults"`
	DroppedNotify uint64 `json:"dropped_notifications"`
}

// Session is one playback activity against a renderer. All methods are
// safe for concurrent use; transitions are serialized.
type Session struct {
	id      string
	gw      gateway.ActionGateway
	devices Devices
	events  Events
	opts    Options
	logger  *slog.Logger

	mu         sync.Mutex
	state      core.SessionState
	intent     core.TransportState
	confirmed  core.TransportState
	rendererID string
	serverID   string
	playlist   *core.Playlist
	seq        uint64
	timeouts   int
	// eventFloor is the last renderer event sequence already accounted for.
	eventFloor    uint64
	trackPosition time.Duration
	fault         string
	unsubscribe   func()
	cmdCancel     context.CancelFunc
	subs          map[*Subscription]struct{}
	stats         Stats
	closed        bool

	// wire serializes requests to renderers so a stop never overtakes an
	// earlier command on the network.
	wire   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ core.Player = (*Session)(nil)

// New creates an idle session with no renderer selected.
func New(gw gateway.ActionGateway, devices Devices, events Events, opts Options) *Session {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = DefaultActionTimeout
	}
	if opts.MaxTimeouts <= 0 {
		opts.MaxTimeouts = DefaultMaxTimeouts
	}
	if opts.RequeryDelay <= 0 {
		opts.RequeryDelay = DefaultRequeryDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Session{
		id:      id,
		gw:      gw,
		devices: devices,
		events:  events,
		opts:    opts,
		logger:  opts.Logger.With("component", "session", "session", id),
		intent:  core.TransportStopped,
		subs:    make(map[*Subscription]struct{}),
		wire:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// SelectRenderer targets a new renderer. An active session is stopped on
// the old renderer (best effort) and reset.
func (s *Session) SelectRenderer(ctx context.Context, id string) error {
	var release func()
	defer func() {
		if release != nil {
			release()
		}
	}()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrSessionClosed
	}
	d, err := s.devices.Lookup(id)
	if err != nil {
		return fmt.Errorf("renderer %s: %w", id, err)
	}
	if !d.IsRenderer() {
		return fmt.Errorf("%s: %w", d.DisplayName(), errors.ErrNotRenderer)
	}
	if id == s.rendererID {
		return nil
	}

	unsubscribe, err := s.events.Subscribe(ctx, id, gateway.ServiceAVTransport, s.onEvent)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", d.DisplayName(), err)
	}

	s.abandonLocked()
	release = s.unsubscribe
	s.unsubscribe = unsubscribe
	s.rendererID = id
	s.resetLocked()
	s.logger.Info("renderer selected", "renderer", id, "name", d.DisplayName())
	return nil
}

// SelectServer sets the media server used to resolve relative item URIs.
// An empty id clears it. An active session is stopped and reset.
func (s *Session) SelectServer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrSessionClosed
	}
	if id != "" {
		d, err := s.devices.Lookup(id)
		if err != nil {
			return fmt.Errorf("server %s: %w", id, err)
		}
		if !d.IsServer() {
			return fmt.Errorf("%s: %w", d.DisplayName(), errors.ErrNotServer)
		}
	}
	if id == s.serverID {
		return nil
	}

	s.abandonLocked()
	s.serverID = id
	s.resetLocked()
	return nil
}

// Reset stops any playback (best effort) and discards the playlist.
func (s *Session) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrSessionClosed
	}
	s.abandonLocked()
	s.resetLocked()
	return nil
}

// Close stops background work and releases the event subscription. The
// renderer is left as it is.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.seq++
	s.cancel()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	for sub := range s.subs {
		sub.close()
	}
	s.subs = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.wg.Wait()
	return nil
}

// CurrentState returns a copy of the session state.
func (s *Session) CurrentState() core.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Stats returns current counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Session) snapshotLocked() core.Snapshot {
	return core.Snapshot{
		ID:            s.id,
		State:         s.state,
		Intent:        s.intent,
		Confirmed:     s.confirmed,
		RendererID:    s.rendererID,
		ServerID:      s.serverID,
		Playlist:      s.playlist.Clone(),
		TrackPosition: s.trackPosition,
		Fault:         s.fault,
		Seq:           s.seq,
	}
}

// abandonLocked supersedes outstanding work and, when the renderer may be
// busy, sends it a stop whose outcome is ignored.
func (s *Session) abandonLocked() {
	s.supersedeLocked()
	if s.rendererID == "" || !s.state.IsActive() {
		return
	}
	if _, err := s.devices.Lookup(s.rendererID); err != nil {
		return
	}

	renderer := s.rendererID
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if !s.acquireWire(s.ctx) {
			return
		}
		defer s.releaseWire()

		ctx, cancel := context.WithTimeout(s.ctx, s.opts.ActionTimeout)
		defer cancel()
		if _, err := s.gw.Invoke(ctx, renderer, gateway.ServiceAVTransport, gateway.ActionStop, instanceArgs()); err != nil {
			s.logger.Debug("stop on abandoned renderer failed", "renderer", renderer, "error", err)
		}
	}()
}

// resetLocked returns the session to Idle, keeping the device selection.
func (s *Session) resetLocked() {
	prev := s.state
	s.playlist = nil
	s.state = core.StateIdle
	s.intent = core.TransportStopped
	s.confirmed = core.TransportUnknown
	s.timeouts = 0
	s.trackPosition = 0
	s.fault = ""
	if s.rendererID != "" {
		s.eventFloor = s.events.LastSeq(s.rendererID)
	}
	s.notifyLocked(prev)
}

// supersedeLocked bumps the command sequence so results of earlier
// commands are recognised as stale, and cancels their requests. Timeouts
// of a superseded command no longer count.
func (s *Session) supersedeLocked() uint64 {
	s.seq++
	s.timeouts = 0
	if s.cmdCancel != nil {
		s.cmdCancel()
		s.cmdCancel = nil
	}
	return s.seq
}

func rejectFaulted() error {
	return fmt.Errorf("%w: %w", errors.ErrInvalidTransition, errors.ErrSessionFaulted)
}

func instanceArgs() map[string]string {
	return map[string]string{"InstanceID": "0"}
}
