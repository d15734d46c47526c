package session

import (
	"context"
	"fmt"
	"time"

	"github.com/tessro/avctl/internal/core"
	"github.com/tessro/avctl/internal/didl"
	"github.com/tessro/avctl/internal/errors"
	"github.com/tessro/avctl/internal/gateway"
)

type step struct {
	action string
	args   map[string]string
}

type stepResult int

const (
	stepOK stepResult = iota
	stepInconclusive
	stepAbort
)

// LoadAndPlay replaces the playlist and starts playing the item at start.
// If that entry is a container, playback starts at the next playable item.
// An empty playlist returns the session to Idle without contacting the
// renderer.
func (s *Session) LoadAndPlay(ctx context.Context, items []core.PlaylistItem, start int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrSessionClosed
	}
	if len(items) == 0 {
		s.supersedeLocked()
		s.resetLocked()
		return nil
	}
	if start < 0 || start >= len(items) {
		return fmt.Errorf("%w: %d not in [0, %d)", errors.ErrInvalidPosition, start, len(items))
	}
	if err := s.requireRendererLocked(); err != nil {
		return err
	}

	playlist := core.NewPlaylist(items, start)
	pos := start
	if !items[pos].Playable() {
		if pos = playlist.NextPlayable(start); pos < 0 {
			return fmt.Errorf("%w: nothing playable from position %d", errors.ErrNotPlayable, start)
		}
	}
	s.playlist = playlist
	s.startLoadLocked(pos)
	return nil
}

// Advance moves the cursor to position and plays that item, keeping the
// rest of the playlist.
func (s *Session) Advance(ctx context.Context, position int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkAdvanceLocked(); err != nil {
		return err
	}
	return s.advanceLocked(position)
}

// Next advances to the next playable item.
func (s *Session) Next(ctx context.Context) error {
	return s.skip(ctx, true)
}

// Previous goes back to the previous playable item.
func (s *Session) Previous(ctx context.Context) error {
	return s.skip(ctx, false)
}

// skip picks the neighbouring playable item and advances to it in one
// critical section.
func (s *Session) skip(ctx context.Context, forward bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkAdvanceLocked(); err != nil {
		return err
	}
	pos := s.playlist.PrevPlayable(s.playlist.Position)
	if forward {
		pos = s.playlist.NextPlayable(s.playlist.Position)
	}
	if pos < 0 {
		return fmt.Errorf("%w: no playable item", errors.ErrInvalidPosition)
	}
	return s.advanceLocked(pos)
}

func (s *Session) advanceLocked(position int) error {
	if !s.playlist.InRange(position) {
		return fmt.Errorf("%w: %d not in [0, %d)", errors.ErrInvalidPosition, position, s.playlist.Len())
	}
	if !s.playlist.Items[position].Playable() {
		return fmt.Errorf("%w: position %d", errors.ErrNotPlayable, position)
	}
	if err := s.requireRendererLocked(); err != nil {
		return err
	}
	s.startLoadLocked(position)
	return nil
}

func (s *Session) checkAdvanceLocked() error {
	switch {
	case s.closed:
		return errors.ErrSessionClosed
	case s.state == core.StateFaulted:
		return rejectFaulted()
	case s.state == core.StateLoading:
		return errors.ErrTransitionInProgress
	case s.playlist.IsEmpty():
		return fmt.Errorf("%w: no playlist", errors.ErrInvalidTransition)
	}
	return nil
}

// Pause pauses a playing session. The visible state changes once the
// renderer reports it.
func (s *Session) Pause(ctx context.Context) error {
	return s.transport(ctx, core.StatePlaying, core.TransportPaused,
		step{gateway.ActionPause, instanceArgs()})
}

// Resume continues a paused session.
func (s *Session) Resume(ctx context.Context) error {
	return s.transport(ctx, core.StatePaused, core.TransportPlaying, playStep())
}

func (s *Session) transport(ctx context.Context, from core.SessionState, intent core.TransportState, st step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return errors.ErrSessionClosed
	case s.state == core.StateFaulted:
		return rejectFaulted()
	case s.state != from:
		return fmt.Errorf("%w: %s from %s", errors.ErrInvalidTransition, st.action, s.state)
	}
	if err := s.requireRendererLocked(); err != nil {
		return err
	}

	seq := s.supersedeLocked()
	s.intent = intent
	s.eventFloor = s.events.LastSeq(s.rendererID)
	s.logger.Debug("transport command", "action", st.action, "seq", seq)
	s.runLocked(seq, []step{st}, nil)
	return nil
}

// Stop stops playback. Without a reachable renderer the session is
// stopped immediately.
func (s *Session) Stop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return errors.ErrSessionClosed
	case s.state == core.StateFaulted:
		return rejectFaulted()
	case s.state == core.StateIdle, s.state == core.StateStopped:
		return fmt.Errorf("%w: stop from %s", errors.ErrInvalidTransition, s.state)
	}

	prev := s.state
	seq := s.supersedeLocked()
	s.intent = core.TransportStopped

	if s.requireRendererLocked() != nil {
		s.state = core.StateStopped
		s.notifyLocked(prev)
		return nil
	}

	s.state = core.StateStopping
	s.eventFloor = s.events.LastSeq(s.rendererID)
	s.notifyLocked(prev)
	s.runLocked(seq, []step{{gateway.ActionStop, instanceArgs()}}, func() {
		if s.state == core.StateStopping {
			s.confirmed = core.TransportStopped
			s.state = core.StateStopped
			s.notifyLocked(core.StateStopping)
		}
	})
	return nil
}

func (s *Session) requireRendererLocked() error {
	if s.rendererID == "" {
		return errors.ErrNoRenderer
	}
	if _, err := s.devices.Lookup(s.rendererID); err != nil {
		return fmt.Errorf("renderer %s: %w", s.rendererID, err)
	}
	return nil
}

func (s *Session) serverLocationLocked() string {
	if s.serverID == "" {
		return ""
	}
	d, err := s.devices.Lookup(s.serverID)
	if err != nil {
		return ""
	}
	return d.Location
}

// startLoadLocked issues set-media + play for the item at pos.
func (s *Session) startLoadLocked(pos int) {
	prev := s.state
	seq := s.supersedeLocked()
	s.playlist.Position = pos
	s.intent = core.TransportPlaying
	s.state = core.StateLoading
	s.fault = ""
	s.trackPosition = 0
	s.eventFloor = s.events.LastSeq(s.rendererID)

	item := s.playlist.Items[pos]
	uri := item.ResolveURI(s.serverLocationLocked())
	s.logger.Info("loading item", "position", pos, "uri", uri, "seq", seq)
	s.notifyLocked(prev)
	s.runLocked(seq, []step{
		{gateway.ActionSetAVTransportURI, map[string]string{
			"InstanceID":         "0",
			"CurrentURI":         uri,
			"CurrentURIMetaData": didl.Build(item, uri),
		}},
		playStep(),
	}, nil)
}

// runLocked executes steps in the background for command seq. done runs
// under the session lock if every step succeeded conclusively.
func (s *Session) runLocked(seq uint64, steps []step, done func()) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.cmdCancel = cancel
	s.stats.Commands++
	renderer := s.rendererID

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		inconclusive, ok := s.execute(ctx, seq, renderer, steps)
		if !ok {
			return
		}
		if inconclusive {
			s.requery(ctx, seq, renderer)
			return
		}
		if done != nil {
			s.mu.Lock()
			if !s.closed && seq == s.seq {
				done()
			}
			s.mu.Unlock()
		}
	}()
}

func (s *Session) execute(ctx context.Context, seq uint64, renderer string, steps []step) (inconclusive, ok bool) {
	if !s.acquireWire(ctx) {
		return false, false
	}
	defer s.releaseWire()

	for _, st := range steps {
		if ctx.Err() != nil {
			return false, false
		}
		callCtx, cancel := context.WithTimeout(ctx, s.opts.ActionTimeout)
		_, err := s.gw.Invoke(callCtx, renderer, gateway.ServiceAVTransport, st.action, st.args)
		cancel()

		switch s.complete(seq, st.action, err) {
		case stepInconclusive:
			inconclusive = true
		case stepAbort:
			return false, false
		}
	}
	return inconclusive, true
}

// complete applies the outcome of one action.
func (s *Session) complete(seq uint64, action string, err error) stepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || seq != s.seq {
		s.stats.StaleResults++
		s.logger.Debug("dropping stale result", "action", action, "seq", seq, "current", s.seq)
		return stepAbort
	}

	switch gateway.Classify(err) {
	case gateway.OutcomeSuccess:
		return stepOK
	case gateway.OutcomeCanceled:
		return stepAbort
	case gateway.OutcomeTransient:
		s.logger.Warn("action inconclusive", "action", action, "error", err)
		if s.countTimeoutLocked(action) {
			return stepAbort
		}
		return stepInconclusive
	default:
		s.faultLocked(gateway.FaultReason(action, err))
		return stepAbort
	}
}

// requery polls the renderer's transport state until it matches the intent
// or the unresolved timeout budget is spent.
func (s *Session) requery(ctx context.Context, seq uint64, renderer string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.opts.RequeryDelay):
		}

		if !s.unresolved(seq) {
			return
		}
		if !s.acquireWire(ctx) {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, s.opts.ActionTimeout)
		out, err := s.gw.Invoke(callCtx, renderer, gateway.ServiceAVTransport, gateway.ActionGetTransportInfo, instanceArgs())
		cancel()
		s.releaseWire()

		if !s.resolve(seq, out, err) {
			return
		}
	}
}

// unresolved reports whether command seq is current and still waiting
// for confirmation.
func (s *Session) unresolved(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && seq == s.seq && s.timeouts > 0
}

// resolve applies a re-query answer and reports whether to ask again.
func (s *Session) resolve(seq uint64, out map[string]string, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || seq != s.seq {
		s.stats.StaleResults++
		return false
	}
	if s.timeouts == 0 {
		// An event already confirmed the command.
		return false
	}
	s.stats.Requeries++

	switch gateway.Classify(err) {
	case gateway.OutcomeCanceled:
		return false
	case gateway.OutcomeFault:
		s.faultLocked(gateway.FaultReason(gateway.ActionGetTransportInfo, err))
		return false
	case gateway.OutcomeSuccess:
		if out["CurrentTransportStatus"] == transportStatusError {
			s.faultLocked("renderer reported " + transportStatusError)
			return false
		}
		ts := core.ParseTransportState(out["CurrentTransportState"])
		if s.matchesIntentLocked(ts) {
			s.logger.Debug("re-query resolved command", "state", ts, "seq", seq)
			s.applyTransportLocked(ts)
			return false
		}
	}
	return !s.countTimeoutLocked(gateway.ActionGetTransportInfo)
}

// countTimeoutLocked records an unresolved timeout and faults the session
// once the limit is reached. It reports whether the session faulted.
func (s *Session) countTimeoutLocked(action string) bool {
	s.timeouts++
	s.stats.Timeouts++
	if s.timeouts < s.opts.MaxTimeouts {
		return false
	}
	s.faultLocked(fmt.Sprintf("%s: %d unresolved timeouts", action, s.timeouts))
	return true
}

func (s *Session) matchesIntentLocked(ts core.TransportState) bool {
	if s.intent == core.TransportStopped {
		return ts.IsStopped()
	}
	return ts == s.intent
}

// faultLocked moves the session to Faulted. Only LoadAndPlay leaves it.
func (s *Session) faultLocked(reason string) {
	prev := s.state
	s.supersedeLocked()
	s.state = core.StateFaulted
	s.intent = core.TransportStopped
	s.fault = reason
	s.stats.Faults++
	s.logger.Warn("session faulted", "reason", reason, "previous", prev)
	s.notifyLocked(prev)
	s.notifyFaultLocked(reason)
}

func (s *Session) acquireWire(ctx context.Context) bool {
	select {
	case s.wire <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) releaseWire() {
	<-s.wire
}

func playStep() step {
	return step{gateway.ActionPlay, map[string]string{"InstanceID": "0", "Speed": "1"}}
}
