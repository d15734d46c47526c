package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessro/avctl/internal/core"
	avcerrors "github.com/tessro/avctl/internal/errors"
	"github.com/tessro/avctl/internal/eventbus"
	"github.com/tessro/avctl/internal/gateway"
	"github.com/tessro/avctl/internal/registry"
)

type call struct {
	device string
	action string
	args   map[string]string
}

type fakeGateway struct {
	mu           sync.Mutex
	calls        []call
	gates        map[string]chan struct{}
	respond      func(device, action string) (map[string]string, error)
	subscribed   []string
	unsubscribed []string
}

func (g *fakeGateway) Invoke(_ context.Context, deviceID, _ string, action string, args map[string]string) (map[string]string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, call{deviceID, action, args})
	gate := g.gates[action]
	respond := g.respond
	g.mu.Unlock()

	// Gated calls ignore cancellation so a late result can be modelled.
	if gate != nil {
		<-gate
	}
	if respond != nil {
		return respond(deviceID, action)
	}
	return map[string]string{}, nil
}

func (g *fakeGateway) Subscribe(_ context.Context, deviceID, service string) (gateway.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscribed = append(g.subscribed, deviceID)
	return gateway.Handle{DeviceID: deviceID, Service: service, SID: "uuid:sub-" + deviceID}, nil
}

func (g *fakeGateway) Unsubscribe(_ context.Context, h gateway.Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unsubscribed = append(g.unsubscribed, h.DeviceID)
	return nil
}

func (g *fakeGateway) gate(action string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gates == nil {
		g.gates = make(map[string]chan struct{})
	}
	ch := make(chan struct{})
	g.gates[action] = ch
	return ch
}

func (g *fakeGateway) setRespond(fn func(device, action string) (map[string]string, error)) {
	g.mu.Lock()
	g.respond = fn
	g.mu.Unlock()
}

func (g *fakeGateway) actions(device string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, c := range g.calls {
		if c.device == device {
			out = append(out, c.action)
		}
	}
	return out
}

func (g *fakeGateway) loadedURIs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, c := range g.calls {
		if c.action == gateway.ActionSetAVTransportURI {
			out = append(out, c.args["CurrentURI"])
		}
	}
	return out
}

type fixture struct {
	reg *registry.Registry
	bus *eventbus.Bus
	gw  *fakeGateway
	s   *Session
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	reg := registry.New(registry.Options{})
	reg.OnSighting(registry.Sighting{ID: "tv", Capability: core.CapabilityRenderer, Location: "http://10.0.0.20:49152/desc.xml", Name: "Living Room TV"})
	reg.OnSighting(registry.Sighting{ID: "kitchen", Capability: core.CapabilityRenderer, Location: "http://10.0.0.21:1400/xml/device_description.xml"})
	reg.OnSighting(registry.Sighting{ID: "nas", Capability: core.CapabilityServer, Location: "http://10.0.0.5:8200/rootDesc.xml"})

	gw := &fakeGateway{}
	bus := eventbus.New(gw, nil)
	s := New(gw, reg, bus, opts)
	require.NoError(t, s.SelectRenderer(context.Background(), "tv"))
	return &fixture{reg: reg, bus: bus, gw: gw, s: s}
}

func (f *fixture) report(state string) {
	f.reportFrom("tv", map[string]string{"TransportState": state})
}

func (f *fixture) reportFrom(device string, vars map[string]string) {
	f.bus.Deliver(eventbus.Delivery{DeviceID: device, Service: gateway.ServiceAVTransport, Vars: vars})
}

func (f *fixture) state() core.SessionState {
	return f.s.CurrentState().State
}

func threeItems() []core.PlaylistItem {
	return []core.PlaylistItem{
		core.NewItem("http://10.0.0.5:8200/a.mp3", "A"),
		core.NewItem("http://10.0.0.5:8200/b.mp3", "B"),
		core.NewItem("http://10.0.0.5:8200/c.mp3", "C"),
	}
}

func TestPlaylistEndToEnd(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{})
		defer f.s.Close()
		ctx := context.Background()

		require.NoError(t, f.s.LoadAndPlay(ctx, threeItems(), 0))
		assert.Equal(t, core.StateLoading, f.state())
		synctest.Wait()
		assert.Equal(t, []string{gateway.ActionSetAVTransportURI, gateway.ActionPlay}, f.gw.actions("tv"))
		assert.Equal(t, core.StateLoading, f.state(), "success alone does not confirm playback")

		f.report("STOPPED")
		assert.Equal(t, core.StateLoading, f.state())
		f.report("PLAYING")
		snap := f.s.CurrentState()
		assert.Equal(t, core.StatePlaying, snap.State)
		assert.Equal(t, 0, snap.Position())
		assert.Equal(t, core.TransportPlaying, snap.Confirmed)

		f.report("STOPPED")
		snap = f.s.CurrentState()
		assert.Equal(t, core.StateLoading, snap.State)
		assert.Equal(t, 1, snap.Position())
		synctest.Wait()

		f.report("PLAYING")
		f.report("STOPPED")
		synctest.Wait()
		assert.Equal(t, 2, f.s.CurrentState().Position())

		f.report("PLAYING")
		f.report("STOPPED")
		synctest.Wait()

		snap = f.s.CurrentState()
		assert.Equal(t, core.StateStopped, snap.State)
		assert.Empty(t, snap.Fault)
		assert.Equal(t, []string{
			"http://10.0.0.5:8200/a.mp3",
			"http://10.0.0.5:8200/b.mp3",
			"http://10.0.0.5:8200/c.mp3",
		}, f.gw.loadedURIs())
		assert.Equal(t, uint64(2), f.s.Stats().AutoAdvances)
	})
}

func TestAutoAdvanceSkipsContainers(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{})
		defer f.s.Close()

		items := []core.PlaylistItem{
			core.NewItem("http://h/a.mp3", "A"),
			core.NewContainer("64$2", "Live albums"),
			core.NewItem("http://h/c.mp3", "C"),
		}
		require.NoError(t, f.s.LoadAndPlay(context.Background(), items, 0))
		synctest.Wait()
		f.report("PLAYING")
		f.report("STOPPED")
		synctest.Wait()

		snap := f.s.CurrentState()
		assert.Equal(t, core.StateLoading, snap.State)
		assert.Equal(t, 2, snap.Position())
		assert.Equal(t, []string{"http://h/a.mp3", "http://h/c.mp3"}, f.gw.loadedURIs())
	})
}

func TestStopDiscardsLateLoadResult(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{})
		defer f.s.Close()
		gate := f.gw.gate(gateway.ActionSetAVTransportURI)

		require.NoError(t, f.s.LoadAndPlay(context.Background(), threeItems(), 0))
		synctest.Wait()
		require.NoError(t, f.s.Stop(context.Background()))
		assert.Equal(t, core.StateStopping, f.state())

		close(gate)
		synctest.Wait()

		assert.Equal(t, core.StateStopped, f.state())
		assert.Equal(t, []string{gateway.ActionSetAVTransportURI, gateway.ActionStop}, f.gw.actions("tv"))
		assert.Equal(t, uint64(1), f.s.Stats().StaleResults)

		// A late report from the superseded load does not revive playback.
		f.report("PLAYING")
		assert.Equal(t, core.StateStopped, f.state())
	})
}

func TestFaultedOnlyAcceptsLoadAndPlay(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{})
		defer f.s.Close()
		ctx := context.Background()
		f.gw.setRespond(func(_, action string) (map[string]string, error) {
			if action == gateway.ActionPlay {
				return nil, &gateway.FaultError{Code: 701, Description: "Transition not available"}
			}
			return nil, nil
		})

		require.NoError(t, f.s.LoadAndPlay(ctx, threeItems(), 0))
		synctest.Wait()

		snap := f.s.CurrentState()
		require.Equal(t, core.StateFaulted, snap.State)
		assert.Contains(t, snap.Fault, "701")

		for name, op := range map[string]func(context.Context) error{
			"pause":  f.s.Pause,
			"resume": f.s.Resume,
			"stop":   f.s.Stop,
			"next":   f.s.Next,
			"advance": func(ctx context.Context) error {
				return f.s.Advance(ctx, 1)
			},
		} {
			err := op(ctx)
			assert.ErrorIs(t, err, avcerrors.ErrInvalidTransition, name)
			assert.ErrorIs(t, err, avcerrors.ErrSessionFaulted, name)
		}
		assert.Equal(t, core.StateFaulted, f.state())

		f.gw.setRespond(nil)
		require.NoError(t, f.s.LoadAndPlay(ctx, threeItems(), 1))
		assert.Equal(t, core.StateLoading, f.state())
		assert.Empty(t, f.s.CurrentState().Fault)
	})
}

func TestLoadFaultStopsTheSequence(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{})
		defer f.s.Close()
		f.gw.setRespond(func(_, action string) (map[string]string, error) {
			if action == gateway.ActionSetAVTransportURI {
				return nil, &gateway.FaultError{Code: 716, Description: "Resource not found"}
			}
			return nil, nil
		})

		require.NoError(t, f.s.LoadAndPlay(context.Background(), threeItems(), 0))
		synctest.Wait()

		assert.Equal(t, core.StateFaulted, f.state())
		assert.Equal(t, []string{gateway.ActionSetAVTransportURI}, f.gw.actions("tv"))
		assert.Equal(t, uint64(1), f.s.Stats().Faults)
	})
}

func TestUnresolvedTimeoutsFault(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{MaxTimeouts: 3, RequeryDelay: 2 * time.Second})
		defer f.s.Close()
		f.gw.setRespond(func(_, action string) (map[string]string, error) {
			switch action {
			case gateway.ActionPlay:
				return nil, context.DeadlineExceeded
			case gateway.ActionGetTransportInfo:
				return map[string]string{"CurrentTransportState": "STOPPED"}, nil
			}
			return nil, nil
		})

		require.NoError(t, f.s.LoadAndPlay(context.Background(), threeItems(), 0))
		synctest.Wait()
		assert.Equal(t, core.StateLoading, f.state(), "a timeout is inconclusive")

		time.Sleep(2 * time.Second)
		synctest.Wait()
		assert.Equal(t, core.StateLoading, f.state())

		time.Sleep(2 * time.Second)
		synctest.Wait()

		snap := f.s.CurrentState()
		assert.Equal(t, core.StateFaulted, snap.State)
		assert.Contains(t, snap.Fault, "unresolved timeouts")
		stats := f.s.Stats()
		assert.Equal(t, uint64(3), stats.Timeouts)
		assert.Equal(t, uint64(2), stats.Requeries)
	})
}

func TestStopDoesNotInheritLoadTimeouts(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{MaxTimeouts: 3, RequeryDelay: time.Minute})
		defer f.s.Close()
		f.gw.setRespond(func(_, action string) (map[string]string, error) {
			switch action {
			case gateway.ActionSetAVTransportURI, gateway.ActionPlay, gateway.ActionStop:
				return nil, context.DeadlineExceeded
			}
			return nil, nil
		})

		require.NoError(t, f.s.LoadAndPlay(context.Background(), threeItems(), 0))
		synctest.Wait()
		require.Equal(t, core.StateLoading, f.state())
		require.Equal(t, uint64(2), f.s.Stats().Timeouts)

		require.NoError(t, f.s.Stop(context.Background()))
		synctest.Wait()

		snap := f.s.CurrentState()
		assert.Equal(t, core.StateStopping, snap.State, "one stop timeout stays inconclusive")
		assert.Empty(t, snap.Fault)
		assert.Equal(t, uint64(3), f.s.Stats().Timeouts)

		f.report("STOPPED")
		assert.Equal(t, core.StateStopped, f.state())
	})
}

func TestTimeoutResolvedByRequery(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{RequeryDelay: time.Second})
		defer f.s.Close()
		f.gw.setRespond(func(_, action string) (map[string]string, error) {
			switch action {
			case gateway.ActionPlay:
				return nil, errors.New("read tcp 10.0.0.2:50212->10.0.0.20:49152: i/o timeout")
			case gateway.ActionGetTransportInfo:
				return map[string]string{"CurrentTransportState": "PLAYING", "CurrentTransportStatus": "OK"}, nil
			}
			return nil, nil
		})

		require.NoError(t, f.s.LoadAndPlay(context.Background(), threeItems(), 0))
		synctest.Wait()
		time.Sleep(time.Second)
		synctest.Wait()

		assert.Equal(t, core.StatePlaying, f.state())
		assert.Equal(t, uint64(1), f.s.Stats().Requeries)
	})
}

func TestTimeoutResolvedByEvent(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{RequeryDelay: time.Second})
		defer f.s.Close()
		f.gw.setRespond(func(_, action string) (map[string]string, error) {
			if action == gateway.ActionPlay {
				return nil, context.DeadlineExceeded
			}
			return nil, nil
		})

		require.NoError(t, f.s.LoadAndPlay(context.Background(), threeItems(), 0))
		synctest.Wait()
		f.report("PLAYING")
		time.Sleep(5 * time.Second)
		synctest.Wait()

		assert.Equal(t, core.StatePlaying, f.state())
		assert.NotContains(t, f.gw.actions("tv"), gateway.ActionGetTransportInfo)
	})
}

func TestPauseResumeWaitForConfirmation(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{})
		defer f.s.Close()
		ctx := context.Background()

		require.NoError(t, f.s.LoadAndPlay(ctx, threeItems(), 0))
		synctest.Wait()
		f.report("PLAYING")

		require.NoError(t, f.s.Pause(ctx))
		synctest.Wait()
		snap := f.s.CurrentState()
		assert.Equal(t, core.StatePlaying, snap.State)
		assert.Equal(t, core.TransportPaused, snap.Intent)
		assert.ErrorIs(t, f.s.Resume(ctx), avcerrors.ErrInvalidTransition)

		f.report("PAUSED_PLAYBACK")
		assert.Equal(t, core.StatePaused, f.state())

		require.NoError(t, f.s.Resume(ctx))
		synctest.Wait()
		f.report("PLAYING")
		assert.Equal(t, core.StatePlaying, f.state())
		assert.Equal(t, []string{
			gateway.ActionSetAVTransportURI, gateway.ActionPlay,
			gateway.ActionPause, gateway.ActionPlay,
		}, f.gw.actions("tv"))
	})
}

func TestAdvanceRules(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{})
		defer f.s.Close()
		ctx := context.Background()

		assert.ErrorIs(t, f.s.Advance(ctx, 0), avcerrors.ErrInvalidTransition)

		gate := f.gw.gate(gateway.ActionPlay)
		require.NoError(t, f.s.LoadAndPlay(ctx, threeItems(), 0))
		synctest.Wait()
		assert.ErrorIs(t, f.s.Advance(ctx, 1), avcerrors.ErrTransitionInProgress)
		close(gate)
		synctest.Wait()

		f.report("PLAYING")
		assert.ErrorIs(t, f.s.Advance(ctx, 3), avcerrors.ErrInvalidPosition)
		require.NoError(t, f.s.Advance(ctx, 2))
		assert.Equal(t, 2, f.s.CurrentState().Position())
		synctest.Wait()

		f.report("PLAYING")
		require.NoError(t, f.s.Previous(ctx))
		assert.Equal(t, 1, f.s.CurrentState().Position())
		synctest.Wait()
		assert.Len(t, f.s.CurrentState().Playlist.Items, 3)
	})
}

func TestNextAndPreviousStepFromCursor(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{})
		defer f.s.Close()
		ctx := context.Background()

		assert.ErrorIs(t, f.s.Next(ctx), avcerrors.ErrInvalidTransition)

		require.NoError(t, f.s.LoadAndPlay(ctx, threeItems(), 0))
		synctest.Wait()
		f.report("PLAYING")
		assert.ErrorIs(t, f.s.Previous(ctx), avcerrors.ErrInvalidPosition)

		require.NoError(t, f.s.Next(ctx))
		assert.Equal(t, 1, f.s.CurrentState().Position())
		assert.ErrorIs(t, f.s.Next(ctx), avcerrors.ErrTransitionInProgress)
		synctest.Wait()

		f.report("PLAYING")
		require.NoError(t, f.s.Next(ctx))
		synctest.Wait()
		f.report("PLAYING")
		assert.Equal(t, 2, f.s.CurrentState().Position())
		assert.ErrorIs(t, f.s.Next(ctx), avcerrors.ErrInvalidPosition)
	})
}

func TestLoadAndPlayValidation(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{})
		defer f.s.Close()
		ctx := context.Background()

		assert.ErrorIs(t, f.s.LoadAndPlay(ctx, threeItems(), 3), avcerrors.ErrInvalidPosition)
		assert.ErrorIs(t, f.s.LoadAndPlay(ctx, threeItems(), -1), avcerrors.ErrInvalidPosition)
		assert.ErrorIs(t, f.s.LoadAndPlay(ctx, []core.PlaylistItem{core.NewContainer("1", "Folder")}, 0), avcerrors.ErrNotPlayable)
		assert.Equal(t, core.StateIdle, f.state())

		require.NoError(t, f.s.LoadAndPlay(ctx, nil, 0))
		assert.Equal(t, core.StateIdle, f.state())
		synctest.Wait()
		assert.Empty(t, f.gw.actions("tv"))

		assert.ErrorIs(t, f.s.Pause(ctx), avcerrors.ErrInvalidTransition)
		assert.ErrorIs(t, f.s.Stop(ctx), avcerrors.ErrInvalidTransition)

		lonely := New(f.gw, f.reg, f.bus, Options{})
		defer lonely.Close()
		assert.ErrorIs(t, lonely.LoadAndPlay(ctx, threeItems(), 0), avcerrors.ErrNoRenderer)
	})
}

func TestStopWithDepartedRenderer(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{})
		defer f.s.Close()
		ctx := context.Background()

		require.NoError(t, f.s.LoadAndPlay(ctx, threeItems(), 0))
		synctest.Wait()
		f.report("PLAYING")

		f.reg.OnDeparture("tv")
		require.NoError(t, f.s.Stop(ctx))
		synctest.Wait()

		assert.Equal(t, core.StateStopped, f.state())
		assert.NotContains(t, f.gw.actions("tv"), gateway.ActionStop)
		assert.ErrorIs(t, f.s.LoadAndPlay(ctx, threeItems(), 0), avcerrors.ErrDeviceNotFound)
	})
}

func TestSwitchRendererStopsOldOne(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{})
		defer f.s.Close()
		ctx := context.Background()

		require.NoError(t, f.s.LoadAndPlay(ctx, threeItems(), 0))
		synctest.Wait()
		f.report("PLAYING")

		require.NoError(t, f.s.SelectRenderer(ctx, "kitchen"))
		synctest.Wait()

		snap := f.s.CurrentState()
		assert.Equal(t, core.StateIdle, snap.State)
		assert.Equal(t, "kitchen", snap.RendererID)
		assert.Nil(t, snap.Playlist)
		assert.Equal(t, gateway.ActionStop, f.gw.actions("tv")[2])
		assert.Equal(t, []string{"tv", "kitchen"}, f.gw.subscribed)
		assert.Equal(t, []string{"tv"}, f.gw.unsubscribed)

		// Reports from the abandoned renderer no longer reach the session.
		f.report("STOPPED")
		assert.Equal(t, core.StateIdle, f.state())

		assert.ErrorIs(t, f.s.SelectRenderer(ctx, "nas"), avcerrors.ErrNotRenderer)
		assert.ErrorIs(t, f.s.SelectRenderer(ctx, "ghost"), avcerrors.ErrDeviceNotFound)
		assert.Equal(t, "kitchen", f.s.CurrentState().RendererID)
	})
}

func TestRendererErrorFaults(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{})
		defer f.s.Close()
		sub := f.s.Subscribe()

		require.NoError(t, f.s.LoadAndPlay(context.Background(), threeItems(), 0))
		synctest.Wait()
		f.reportFrom("tv", map[string]string{"TransportState": "STOPPED", "TransportStatus": "ERROR_OCCURRED"})

		assert.Equal(t, core.StateFaulted, f.state())
		fault := <-sub.Faults
		assert.Contains(t, fault.Reason, "ERROR_OCCURRED")

		change := <-sub.StateChanged
		assert.Equal(t, core.StateIdle, change.Previous)
		assert.Equal(t, core.StateLoading, change.Current)
		change = <-sub.StateChanged
		assert.Equal(t, core.StateFaulted, change.Current)
	})
}

func TestRelativeURIsResolveAgainstServer(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{})
		defer f.s.Close()
		ctx := context.Background()

		require.NoError(t, f.s.SelectServer(ctx, "nas"))
		assert.ErrorIs(t, f.s.SelectServer(ctx, "tv"), avcerrors.ErrNotServer)

		item := core.NewItem("/MediaItems/22.flac", "So What")
		require.NoError(t, f.s.LoadAndPlay(ctx, []core.PlaylistItem{item}, 0))
		synctest.Wait()

		assert.Equal(t, []string{"http://10.0.0.5:8200/MediaItems/22.flac"}, f.gw.loadedURIs())
		f.gw.mu.Lock()
		meta := f.gw.calls[0].args["CurrentURIMetaData"]
		f.gw.mu.Unlock()
		assert.Contains(t, meta, "So What")
		assert.Equal(t, "nas", f.s.CurrentState().ServerID)
	})
}

func TestPositionUpdatesFromEvents(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{})
		defer f.s.Close()

		require.NoError(t, f.s.LoadAndPlay(context.Background(), threeItems(), 0))
		synctest.Wait()
		f.reportFrom("tv", map[string]string{"TransportState": "PLAYING", "RelativeTimePosition": "0:01:30"})
		assert.Equal(t, 90*time.Second, f.s.CurrentState().TrackPosition)
	})
}

func TestCloseEndsSession(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, Options{})
		sub := f.s.Subscribe()

		require.NoError(t, f.s.Close())
		<-sub.Done
		assert.ErrorIs(t, f.s.LoadAndPlay(context.Background(), threeItems(), 0), avcerrors.ErrSessionClosed)
		assert.NoError(t, f.s.Close())
		assert.Equal(t, []string{"tv"}, f.gw.unsubscribed)
	})
}

func TestStopAllCollectsFailures(t *testing.T) {
	gw := &fakeGateway{}
	gw.setRespond(func(device, _ string) (map[string]string, error) {
		if device == "kitchen" {
			return nil, &gateway.FaultError{Code: 501, Description: "Action Failed"}
		}
		return nil, nil
	})

	result := StopAll(context.Background(), gw, []string{"tv", "kitchen"})
	assert.Equal(t, []string{"tv"}, result.Data)
	require.True(t, result.HasErrors())
	assert.Contains(t, result.ErrorSummary(), "kitchen")
}
