package core

// Playlist is an ordered sequence of items with a position cursor.
type Playlist struct {
	Items    []PlaylistItem `json:"items"`
	Position int            `json:"position"`
}

// NewPlaylist copies items into a playlist positioned at start.
func NewPlaylist(items []PlaylistItem, start int) *Playlist {
	cp := make([]PlaylistItem, len(items))
	copy(cp, items)
	return &Playlist{Items: cp, Position: start}
}

// Current returns the item at the cursor, or nil if the playlist is empty.
func (p *Playlist) Current() *PlaylistItem {
	if p == nil || !p.InRange(p.Position) {
		return nil
	}
	return &p.Items[p.Position]
}

// Upcoming returns items after the current position.
func (p *Playlist) Upcoming() []PlaylistItem {
	if p == nil || len(p.Items) == 0 || p.Position < 0 || p.Position >= len(p.Items)-1 {
		return nil
	}
	return p.Items[p.Position+1:]
}

// Len returns the total number of items in the playlist.
func (p *Playlist) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Items)
}

// IsEmpty returns true if the playlist has no items.
func (p *Playlist) IsEmpty() bool {
	return p.Len() == 0
}

// InRange reports whether pos is a valid cursor value.
func (p *Playlist) InRange(pos int) bool {
	return pos >= 0 && pos < p.Len()
}

// IsLast reports whether the cursor sits on the final item.
func (p *Playlist) IsLast() bool {
	return p.Len() > 0 && p.Position == p.Len()-1
}

// NextPlayable returns the first playable position strictly after from,
// or -1 when none is left.
func (p *Playlist) NextPlayable(from int) int {
	for i := from + 1; i < p.Len(); i++ {
		if p.Items[i].Playable() {
			return i
		}
	}
	return -1
}

// PrevPlayable returns the last playable position strictly before from,
// or -1 when none exists.
func (p *Playlist) PrevPlayable(from int) int {
	for i := min(from, p.Len()) - 1; i >= 0; i-- {
		if p.Items[i].Playable() {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the playlist.
func (p *Playlist) Clone() *Playlist {
	if p == nil {
		return nil
	}
	return NewPlaylist(p.Items, p.Position)
}
