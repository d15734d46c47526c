// Package eventbus fans device event notifications out to observers with a
// per-device delivery order.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"sync"
	"time"

	"github.com/tessro/avctl/internal/gateway"
)

// Subscriber creates and removes upstream event subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, deviceID, service string) (gateway.Handle, error)
	Unsubscribe(ctx context.Context, h gateway.Handle) error
}

// Delivery is a raw notification as received from the network.
type Delivery struct {
	DeviceID  string
	Service   string
	Vars      map[string]string
	ArrivedAt time.Time
	// UpstreamSeq is the GENA SEQ header, valid when HasUpstream is set.
	UpstreamSeq uint32
	HasUpstream bool
}

// Event is a delivery that has been sequenced by the bus.
type Event struct {
	DeviceID  string
	Service   string
	Seq       uint64
	Vars      map[string]string
	ArrivedAt time.Time
}

// Observer handles events for one device service.
type Observer func(Event)

// Stats is a point-in-time view of bus counters.
type Stats struct {
	Delivered     uint64 `json:"delivered"`
	Stale         uint64 `json:"stale"`
	Duplicates    uint64 `json:"duplicates"`
	Unrouted      uint64 `json:"unrouted"`
	Subscriptions int    `json:"subscriptions"`
}

type key struct {
	device  string
	service string
}

type subscription struct {
	handle    gateway.Handle
	refs      int
	observers map[uint64]Observer
	// ready is closed once the upstream subscribe has finished; err holds
	// its failure.
	ready chan struct{}
	err   error
	// lastUpstream is the highest GENA SEQ seen for this subscription.
	lastUpstream uint32
	seenUpstream bool
}

type deviceOrder struct {
	mu            sync.Mutex
	lastDelivered uint64
}

// Bus sequences and routes event deliveries.
type Bus struct {
	mu       sync.Mutex
	subs     map[key]*subscription
	seq      map[string]uint64
	order    map[string]*deviceOrder
	nextObs  uint64
	stats    Stats
	upstream Subscriber
	logger   *slog.Logger
}

// New creates a bus. upstream may be nil when deliveries are fed directly.
func New(upstream Subscriber, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{
		subs:     make(map[key]*subscription),
		seq:      make(map[string]uint64),
		order:    make(map[string]*deviceOrder),
		upstream: upstream,
		logger:   logger.With("component", "eventbus"),
	}
}

// Subscribe registers obs for events from a device service. The first
// observer for a (device, service) pair creates the upstream subscription;
// the returned cancel func releases the reference and the last release
// removes it.
func (b *Bus) Subscribe(ctx context.Context, deviceID, service string, obs Observer) (func(), error) {
	if deviceID == "" || obs == nil {
		return nil, fmt.Errorf("eventbus: device id and observer are required")
	}
	k := key{deviceID, service}

	b.mu.Lock()
	sub, ok := b.subs[k]
	if !ok {
		sub = &subscription{observers: make(map[uint64]Observer), ready: make(chan struct{})}
		b.subs[k] = sub
	}
	sub.refs++
	b.nextObs++
	id := b.nextObs
	sub.observers[id] = obs
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { b.release(k, sub, id, true) })
	}

	// Later observers share the outcome of the first one's upstream call.
	if ok {
		select {
		case <-sub.ready:
		case <-ctx.Done():
			b.release(k, sub, id, false)
			return nil, ctx.Err()
		}
		if sub.err != nil {
			return nil, fmt.Errorf("subscribing to %s on %s: %w", service, deviceID, sub.err)
		}
		return cancel, nil
	}

	if b.upstream == nil {
		close(sub.ready)
		return cancel, nil
	}

	h, err := b.upstream.Subscribe(ctx, deviceID, service)
	b.mu.Lock()
	if err != nil {
		sub.err = err
		if b.subs[k] == sub {
			delete(b.subs, k)
		}
	} else {
		sub.handle = h
	}
	close(sub.ready)
	b.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s on %s: %w", service, deviceID, err)
	}
	b.logger.Debug("upstream subscription created", "device", deviceID, "service", service, "sid", h.SID)
	return cancel, nil
}

// release drops one reference; the last one tears down the upstream
// subscription when unsubscribe is set.
func (b *Bus) release(k key, sub *subscription, id uint64, unsubscribe bool) {
	b.mu.Lock()
	if b.subs[k] != sub {
		b.mu.Unlock()
		return
	}
	delete(sub.observers, id)
	sub.refs--
	if sub.refs > 0 {
		b.mu.Unlock()
		return
	}
	delete(b.subs, k)
	h := sub.handle
	b.mu.Unlock()

	if unsubscribe && b.upstream != nil && h.SID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.upstream.Unsubscribe(ctx, h); err != nil {
			b.logger.Warn("unsubscribe failed", "device", k.device, "service", k.service, "error", err)
		}
	}
}

// ResetUpstream forgets the GENA SEQ history of a subscription, used when
// the upstream subscription is re-created.
func (b *Bus) ResetUpstream(deviceID, service string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[key{deviceID, service}]; ok {
		sub.lastUpstream = 0
		sub.seenUpstream = false
	}
}

// upstreamAfter reports whether GENA SEQ next follows last. The counter
// wraps from math.MaxUint32 back to 1.
func upstreamAfter(next, last uint32) bool {
	if next > last {
		return true
	}
	return last > math.MaxUint32/2 && next < last-math.MaxUint32/2
}

// Deliver sequences d and hands it to every observer of its device service.
// Observers run on the caller's goroutine. It reports whether the delivery
// reached observers.
func (b *Bus) Deliver(d Delivery) bool {
	if d.ArrivedAt.IsZero() {
		d.ArrivedAt = time.Now()
	}
	k := key{d.DeviceID, d.Service}

	b.mu.Lock()
	sub, ok := b.subs[k]
	if !ok {
		b.stats.Unrouted++
		b.mu.Unlock()
		return false
	}
	if d.HasUpstream {
		if sub.seenUpstream && !upstreamAfter(d.UpstreamSeq, sub.lastUpstream) {
			b.stats.Duplicates++
			b.mu.Unlock()
			b.logger.Debug("dropping duplicate notification", "device", d.DeviceID, "upstream_seq", d.UpstreamSeq)
			return false
		}
		sub.lastUpstream = d.UpstreamSeq
		sub.seenUpstream = true
	}
	b.seq[d.DeviceID]++
	seq := b.seq[d.DeviceID]
	observers := make([]Observer, 0, len(sub.observers))
	for _, obs := range sub.observers {
		observers = append(observers, obs)
	}
	order, ok := b.order[d.DeviceID]
	if !ok {
		order = &deviceOrder{}
		b.order[d.DeviceID] = order
	}
	b.mu.Unlock()

	// Concurrent deliveries for one device may race past the bus lock; the
	// per-device order lock drops whichever lost.
	order.mu.Lock()
	defer order.mu.Unlock()
	if seq <= order.lastDelivered {
		b.mu.Lock()
		b.stats.Stale++
		b.mu.Unlock()
		b.logger.Debug("dropping stale notification", "device", d.DeviceID, "seq", seq, "last", order.lastDelivered)
		return false
	}
	order.lastDelivered = seq

	ev := Event{
		DeviceID:  d.DeviceID,
		Service:   d.Service,
		Seq:       seq,
		Vars:      d.Vars,
		ArrivedAt: d.ArrivedAt,
	}
	for _, obs := range observers {
		e := ev
		e.Vars = maps.Clone(ev.Vars)
		obs(e)
	}

	b.mu.Lock()
	b.stats.Delivered++
	b.mu.Unlock()
	return true
}

// LastSeq returns the last sequence number assigned for a device.
func (b *Bus) LastSeq(deviceID string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq[deviceID]
}

// Stats returns current counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Subscriptions = len(b.subs)
	return s
}
