// Package bridge mirrors registry and session state onto MQTT and accepts
// remote session commands.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tessro/avctl/internal/core"
	"github.com/tessro/avctl/internal/mqtt"
	"github.com/tessro/avctl/internal/registry"
	"github.com/tessro/avctl/internal/session"
)

const commandTimeout = 10 * time.Second

// Publisher is the broker side of the bridge.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler mqtt.MessageHandler) error
}

// Devices is the registry side of the bridge.
type Devices interface {
	Snapshot(filter ...core.Capability) []core.Device
	Watch() *registry.Watcher
	Unwatch(w *registry.Watcher)
}

// Controller executes remote commands.
type Controller interface {
	Advance(ctx context.Context, position int) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
}

// StateSource reports session state changes.
type StateSource interface {
	CurrentState() core.Snapshot
	Subscribe() *session.Subscription
	Unsubscribe(sub *session.Subscription)
}

// Command is a remote session command.
type Command struct {
	Action   string `json:"action"`
	Position *int   `json:"position,omitempty"`
}

// FaultMessage is published when the session faults.
type FaultMessage struct {
	Reason string        `json:"reason"`
	State  core.Snapshot `json:"state"`
}

// Bridge publishes state and dispatches commands.
type Bridge struct {
	pub     Publisher
	topics  mqtt.Topics
	devices Devices
	ctrl    Controller
	states  StateSource
	logger  *slog.Logger
}

// New creates a bridge. Either devices or states may be nil to mirror only
// the other; ctrl may be nil to ignore commands.
func New(pub Publisher, topics mqtt.Topics, devices Devices, ctrl Controller, states StateSource, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bridge{
		pub:     pub,
		topics:  topics,
		devices: devices,
		ctrl:    ctrl,
		states:  states,
		logger:  logger.With("component", "bridge"),
	}
}

// Run publishes the current state, then mirrors changes until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	var changes <-chan registry.Change
	if b.devices != nil {
		w := b.devices.Watch()
		defer b.devices.Unwatch(w)
		changes = w.Changes
		for _, d := range b.devices.Snapshot() {
			b.publishDevice(d)
		}
	}

	var stateCh <-chan session.StateChange
	var faultCh <-chan session.FaultEvent
	if b.states != nil {
		sub := b.states.Subscribe()
		defer b.states.Unsubscribe(sub)
		stateCh, faultCh = sub.StateChanged, sub.Faults
		b.publishState(b.states.CurrentState())
	}

	if b.ctrl != nil {
		if err := b.pub.Subscribe(b.topics.SessionCommand(), b.handleCommand); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			b.publishChange(c)
		case sc, ok := <-stateCh:
			if !ok {
				stateCh = nil
				continue
			}
			b.publishState(sc.Snapshot)
		case f, ok := <-faultCh:
			if !ok {
				faultCh = nil
				continue
			}
			b.publishJSON(b.topics.SessionFault(), FaultMessage{Reason: f.Reason, State: f.Snapshot}, false)
		}
	}
}

func (b *Bridge) publishChange(c registry.Change) {
	if c.Kind == registry.ChangeRemoved {
		// An empty retained message clears the topic.
		if err := b.pub.Publish(b.topics.Device(c.Device.ID), nil, true); err != nil {
			b.logger.Warn("publish failed", "topic", b.topics.Device(c.Device.ID), "error", err)
		}
		return
	}
	b.publishDevice(c.Device)
}

func (b *Bridge) publishDevice(d core.Device) {
	b.publishJSON(b.topics.Device(d.ID), d, true)
}

func (b *Bridge) publishState(s core.Snapshot) {
	b.publishJSON(b.topics.SessionState(), s, true)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("encode payload", "topic", topic, "error", err)
		return
	}
	if err := b.pub.Publish(topic, payload, retained); err != nil {
		b.logger.Warn("publish failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) handleCommand(_ string, payload []byte) error {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	b.logger.Info("remote command", "action", cmd.Action)
	return b.Dispatch(ctx, cmd)
}

// Dispatch executes a command against the controller.
func (b *Bridge) Dispatch(ctx context.Context, cmd Command) error {
	if b.ctrl == nil {
		return fmt.Errorf("no controller for %q", cmd.Action)
	}
	switch cmd.Action {
	case "pause":
		return b.ctrl.Pause(ctx)
	case "resume":
		return b.ctrl.Resume(ctx)
	case "stop":
		return b.ctrl.Stop(ctx)
	case "next":
		return b.ctrl.Next(ctx)
	case "previous":
		return b.ctrl.Previous(ctx)
	case "play":
		if cmd.Position == nil {
			return b.ctrl.Resume(ctx)
		}
		return b.ctrl.Advance(ctx, *cmd.Position)
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
}
