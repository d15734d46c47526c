package core

import (
	"net/url"
	"strings"
	"time"
)

// MediaClass distinguishes playable items from containers.
type MediaClass string

const (
	ClassItem      MediaClass = "item"
	ClassContainer MediaClass = "container"
)

// PlaylistItem references a piece of media.
type PlaylistItem struct {
	URI      string        `json:"uri"`
	Title    string        `json:"title,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Class    MediaClass    `json:"class"`
	// UPnPClass is the full object class (e.g. object.item.audioItem.musicTrack).
	UPnPClass string `json:"upnp_class,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
}

// NewItem creates a playable item for a URI.
func NewItem(uri, title string) PlaylistItem {
	return PlaylistItem{URI: uri, Title: title, Class: ClassItem}
}

// NewContainer creates a container entry.
func NewContainer(uri, title string) PlaylistItem {
	return PlaylistItem{URI: uri, Title: title, Class: ClassContainer}
}

// Playable returns true if the entry can be handed to a renderer.
func (i PlaylistItem) Playable() bool {
	return i.Class != ClassContainer && strings.TrimSpace(i.URI) != ""
}

// DisplayTitle returns the title, falling back to the last URI segment.
func (i PlaylistItem) DisplayTitle() string {
	if i.Title != "" {
		return i.Title
	}
	if u, err := url.Parse(i.URI); err == nil && u.Path != "" {
		parts := strings.Split(strings.TrimSuffix(u.Path, "/"), "/")
		if last := parts[len(parts)-1]; last != "" {
			return last
		}
	}
	return i.URI
}

// ResolveURI resolves a relative resource URI against a base location.
// Absolute URIs are returned unchanged.
func (i PlaylistItem) ResolveURI(base string) string {
	ref, err := url.Parse(i.URI)
	if err != nil || ref.IsAbs() || base == "" {
		return i.URI
	}
	b, err := url.Parse(base)
	if err != nil {
		return i.URI
	}
	return b.ResolveReference(ref).String()
}
