package store

import (
	"context"
	"log/slog"

	"github.com/tessro/avctl/internal/core"
	"github.com/tessro/avctl/internal/registry"
	"github.com/tessro/avctl/internal/session"
)

// DeviceSource is a registry that can be watched.
type DeviceSource interface {
	Snapshot(filter ...core.Capability) []core.Device
	Watch() *registry.Watcher
	Unwatch(w *registry.Watcher)
}

// SessionSource is a session that reports state changes.
type SessionSource interface {
	Subscribe() *session.Subscription
	Unsubscribe(sub *session.Subscription)
}

// RecordDevices saves every device the registry learns about until ctx is
// done. Departed devices stay in the store.
func (s *Store) RecordDevices(ctx context.Context, reg DeviceSource, logger *slog.Logger) {
	w := reg.Watch()
	defer reg.Unwatch(w)

	for _, d := range reg.Snapshot() {
		s.saveDevice(ctx, d, logger)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-w.Changes:
			if !ok {
				return
			}
			if c.Kind != registry.ChangeRemoved {
				s.saveDevice(ctx, c.Device, logger)
			}
		}
	}
}

func (s *Store) saveDevice(ctx context.Context, d core.Device, logger *slog.Logger) {
	if err := s.SaveDevice(ctx, d); err != nil && logger != nil {
		logger.Warn("record device", "device", d.ID, "error", err)
	}
}

// RecordQueue saves the playlist each time the session starts loading an
// item, so the queue can be resumed later.
func (s *Store) RecordQueue(ctx context.Context, sess SessionSource, logger *slog.Logger) {
	sub := sess.Subscribe()
	defer sess.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done:
			return
		case sc := <-sub.StateChanged:
			snap := sc.Snapshot
			if sc.Current != core.StateLoading || snap.RendererID == "" || snap.Playlist.IsEmpty() {
				continue
			}
			if err := s.SaveQueue(ctx, snap.RendererID, snap.Playlist); err != nil && logger != nil {
				logger.Warn("record queue", "renderer", snap.RendererID, "error", err)
			}
		}
	}
}
