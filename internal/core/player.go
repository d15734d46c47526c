package core

import "context"

// Player defines the interface for driving a playback session.
type Player interface {
	// Playback control
	LoadAndPlay(ctx context.Context, items []PlaylistItem, start int) error
	Advance(ctx context.Context, position int) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error

	// State queries
	CurrentState() Snapshot
}
