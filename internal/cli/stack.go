package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/tessro/avctl/internal/config"
	"github.com/tessro/avctl/internal/core"
	"github.com/tessro/avctl/internal/errors"
	"github.com/tessro/avctl/internal/eventbus"
	"github.com/tessro/avctl/internal/registry"
	"github.com/tessro/avctl/internal/session"
	"github.com/tessro/avctl/internal/upnp"
)

// avStack wires the discovery side of avctl and, on request, the eventing
// side needed to drive a session.
type avStack struct {
	cfg  *config.Config
	reg  *registry.Registry
	desc *upnp.Describer
	disc *upnp.Discoverer

	subs *upnp.Subscriptions
	gw   *upnp.Gateway
	bus  *eventbus.Bus
}

func newStack(c *config.Config) *avStack {
	floor, ceiling := c.Discovery.SweepBounds()
	reg := registry.New(registry.Options{
		DefaultExpiry: c.Discovery.DefaultExpiryDuration(),
		SweepFloor:    floor,
		SweepCeiling:  ceiling,
		Logger:        logger,
	})
	desc := upnp.NewDescriber(reg, nil, logger)
	rt := &avStack{
		cfg:  c,
		reg:  reg,
		desc: desc,
		disc: upnp.NewDiscoverer(reg, upnp.DiscoveryOptions{
			Targets: c.Discovery.SearchTargets,
			Wait:    c.Discovery.SearchTimeoutDuration(),
			Logger:  logger,
		}),
	}
	rt.gw = upnp.NewGateway(desc, nil, nil, logger)
	return rt
}

// startDiscovery runs the registry sweeper, the description follower and
// the announcement monitor until ctx is done, then performs one search.
func (rt *avStack) startDiscovery(ctx context.Context) error {
	go rt.reg.Run(ctx)
	go rt.desc.Follow(ctx, rt.reg)
	go func() {
		if err := rt.disc.Monitor(ctx); err != nil {
			logger.Warn("ssdp monitor stopped", "error", err)
		}
	}()

	n, err := rt.disc.Search(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrNetworkError, err)
	}
	logger.Debug("initial search complete", "devices", n)
	return nil
}

// searchEvery repeats the M-SEARCH until ctx is done.
func (rt *avStack) searchEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rt.disc.Search(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("periodic search failed", "error", err)
			}
		}
	}
}

// startEvents opens the notify listener and replaces the gateway with one
// that can subscribe to renderer events.
func (rt *avStack) startEvents(ctx context.Context) error {
	ln, base, err := upnp.Listen(rt.cfg.Events.CallbackHost, rt.cfg.Events.CallbackPort)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrNetworkError, err)
	}

	rt.subs = upnp.NewSubscriptions(rt.desc, base, upnp.SubscriptionOptions{
		Timeout: rt.cfg.Events.SubscriptionTimeoutDuration(),
		Logger:  logger,
		OnResubscribe: func(deviceID, service string) {
			rt.bus.ResetUpstream(deviceID, service)
		},
	})
	rt.gw = upnp.NewGateway(rt.desc, rt.subs, nil, logger)
	rt.bus = eventbus.New(rt.gw, logger)

	notify := upnp.NewNotifyServer(rt.subs, rt.bus, logger)
	go func() {
		if err := notify.Serve(ctx, ln); err != nil {
			logger.Warn("notify server stopped", "error", err)
		}
	}()
	logger.Debug("event callback listening", "url", base)
	return nil
}

// newSession creates a session bound to the eventing stack.
func (rt *avStack) newSession() *session.Session {
	sc := rt.cfg.Session
	return session.New(rt.gw, rt.reg, rt.bus, session.Options{
		ActionTimeout: sc.ActionTimeoutDuration(),
		MaxTimeouts:   sc.MaxUnresolvedTimeouts,
		RequeryDelay:  sc.RequeryDelayDuration(),
		Logger:        logger,
	})
}

// close releases event subscriptions.
func (rt *avStack) close() {
	if rt.subs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rt.subs.Close(ctx); err != nil {
		logger.Debug("close subscriptions", "error", err)
	}
}

type resolver interface {
	Resolve(nameOrID string) (core.Device, error)
	Watch() *registry.Watcher
	Unwatch(w *registry.Watcher)
}

// waitForDevice resolves nameOrID, waiting for discovery and description
// to catch up until timeout.
func waitForDevice(ctx context.Context, reg resolver, nameOrID string, timeout time.Duration) (core.Device, error) {
	w := reg.Watch()
	defer reg.Unwatch(w)

	if d, err := reg.Resolve(nameOrID); err == nil {
		return d, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return core.Device{}, ctx.Err()
		case <-timer.C:
			return core.Device{}, fmt.Errorf("%q: %w", nameOrID, errors.ErrDeviceNotFound)
		case _, ok := <-w.Changes:
			if !ok {
				return core.Device{}, errors.ErrDeviceNotFound
			}
			if d, err := reg.Resolve(nameOrID); err == nil {
				return d, nil
			}
		}
	}
}
