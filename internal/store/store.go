// Package store persists playlists and the last known device list in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/tessro/avctl/internal/core"
)

const dbFileName = "avctl.db"

// Store is a SQLite-backed store. Methods are safe for concurrent use.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the database location under the XDG data directory.
func DefaultPath() (string, error) {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home directory: %w", err)
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "avctl", dbFileName), nil
}

// Open opens (creating if needed) the database at path. ":memory:" opens a
// private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS queues (
			renderer_id TEXT PRIMARY KEY,
			position    INTEGER NOT NULL,
			items_json  TEXT NOT NULL,
			updated_at  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS devices (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			capability TEXT NOT NULL,
			location   TEXT NOT NULL,
			last_seen  INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveQueue stores the playlist last sent to a renderer.
func (s *Store) SaveQueue(ctx context.Context, rendererID string, p *core.Playlist) error {
	if p.IsEmpty() {
		return s.ClearQueue(ctx, rendererID)
	}
	items, err := json.Marshal(p.Items)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queues (renderer_id, position, items_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(renderer_id) DO UPDATE SET
			position = excluded.position,
			items_json = excluded.items_json,
			updated_at = excluded.updated_at
	`, rendererID, p.Position, string(items), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	return nil
}

// LoadQueue returns the saved playlist for a renderer, or nil if there is
// none.
func (s *Store) LoadQueue(ctx context.Context, rendererID string) (*core.Playlist, error) {
	var position int
	var itemsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT position, items_json FROM queues WHERE renderer_id = ?`, rendererID,
	).Scan(&position, &itemsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}

	var items []core.PlaylistItem
	if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	if position < 0 || position >= len(items) {
		position = 0
	}
	return &core.Playlist{Items: items, Position: position}, nil
}

// ClearQueue deletes the saved playlist for a renderer.
func (s *Store) ClearQueue(ctx context.Context, rendererID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM queues WHERE renderer_id = ?`, rendererID); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

// SaveDevice records a device sighting.
func (s *Store) SaveDevice(ctx context.Context, d core.Device) error {
	lastSeen := d.LastSeen
	if lastSeen.IsZero() {
		lastSeen = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, capability, location, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name = '' THEN devices.name ELSE excluded.name END,
			capability = excluded.capability,
			location = excluded.location,
			last_seen = excluded.last_seen
	`, d.ID, d.Name, string(d.Capability), d.Location, lastSeen.Unix())
	if err != nil {
		return fmt.Errorf("save device: %w", err)
	}
	return nil
}

// Devices returns every recorded device, most recently seen first.
func (s *Store) Devices(ctx context.Context) ([]core.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, capability, location, last_seen FROM devices ORDER BY last_seen DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []core.Device
	for rows.Next() {
		var d core.Device
		var capability string
		var lastSeen int64
		if err := rows.Scan(&d.ID, &d.Name, &capability, &d.Location, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		d.Capability = core.ParseCapability(capability)
		d.LastSeen = time.Unix(lastSeen, 0)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
