package tail

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Formatter formats events for output.
type Formatter struct {
	showEmoji     bool
	showTimestamp bool
	template      *template.Template
}

// FormatterOption configures a Formatter.
type FormatterOption func(*Formatter)

// WithEmoji enables emoji output.
func WithEmoji(enabled bool) FormatterOption {
	return func(f *Formatter) {
		f.showEmoji = enabled
	}
}

// WithTimestamp enables timestamp output.
func WithTimestamp(enabled bool) FormatterOption {
	return func(f *Formatter) {
		f.showTimestamp = enabled
	}
}

// WithTemplate sets a custom format template. Invalid templates are
// ignored.
func WithTemplate(tmpl string) FormatterOption {
	return func(f *Formatter) {
		if tmpl != "" {
			t, err := template.New("format").Parse(tmpl)
			if err == nil {
				f.template = t
			}
		}
	}
}

// NewFormatter creates a new formatter with the given options.
func NewFormatter(opts ...FormatterOption) *Formatter {
	f := &Formatter{showEmoji: true}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Format formats an event as a string.
func (f *Formatter) Format(e Event) string {
	if f.template != nil {
		return f.formatTemplate(e)
	}
	return f.formatLine(e)
}

func (f *Formatter) formatLine(e Event) string {
	var parts []string
	if f.showTimestamp {
		parts = append(parts, e.Timestamp.Format("15:04:05"))
	}
	if f.showEmoji {
		parts = append(parts, eventEmoji(e.Type))
	}
	parts = append(parts, eventDescription(e))
	return strings.Join(parts, " ")
}

type templateData struct {
	Type      string
	Emoji     string
	Timestamp time.Time
	Time      string
	State     string
	Title     string
	URI       string
	Position  int
	Renderer  string
	Device    string
	Reason    string
}

func (f *Formatter) formatTemplate(e Event) string {
	data := templateData{
		Type:      eventTypeName(e.Type),
		Emoji:     eventEmoji(e.Type),
		Timestamp: e.Timestamp,
		Time:      e.Timestamp.Format("15:04:05"),
		Reason:    e.Reason,
		Position:  -1,
	}
	if e.Current != nil {
		data.State = e.Current.State.String()
		data.Renderer = e.Current.RendererID
		data.Position = e.Current.Position()
		if item := e.Current.Current(); item != nil {
			data.Title = item.DisplayTitle()
			data.URI = item.URI
		}
	}
	if e.Device != nil {
		data.Device = e.Device.DisplayName()
	}

	var buf bytes.Buffer
	if err := f.template.Execute(&buf, data); err != nil {
		return f.formatLine(e)
	}
	return buf.String()
}

// eventDescription returns a human-readable description of the event.
func eventDescription(e Event) string {
	switch e.Type {
	case EventTrackChange:
		if e.Current != nil {
			if item := e.Current.Current(); item != nil {
				return fmt.Sprintf("Now playing: %s (%d/%d)",
					item.DisplayTitle(), e.Current.Position()+1, e.Current.Playlist.Len())
			}
		}
		return "Track changed"

	case EventPause:
		return "Paused"

	case EventResume:
		return "Resumed"

	case EventStop:
		return "Stopped"

	case EventFault:
		if e.Reason != "" {
			return "Fault: " + e.Reason
		}
		return "Fault"

	case EventRendererChange:
		if e.Current != nil {
			return "Renderer: " + e.Current.RendererID
		}
		return "Renderer changed"

	case EventDeviceAdded:
		if e.Device != nil {
			return fmt.Sprintf("Found %s: %s", e.Device.Capability, e.Device.DisplayName())
		}
		return "Device found"

	case EventDeviceRemoved:
		if e.Device != nil {
			if e.Reason != "" {
				return fmt.Sprintf("Lost %s (%s)", e.Device.DisplayName(), e.Reason)
			}
			return "Lost " + e.Device.DisplayName()
		}
		return "Device lost"

	default:
		return "Unknown event"
	}
}

// eventEmoji returns an emoji for the event type.
func eventEmoji(t EventType) string {
	switch t {
	case EventTrackChange:
		return "🎵"
	case EventPause:
		return "⏸️"
	case EventResume:
		return "▶️"
	case EventStop:
		return "⏹️"
	case EventFault:
		return "⚠️"
	case EventRendererChange:
		return "📺"
	case EventDeviceAdded:
		return "➕"
	case EventDeviceRemoved:
		return "➖"
	default:
		return "❓"
	}
}

// eventTypeName returns the name of the event type.
func eventTypeName(t EventType) string {
	switch t {
	case EventTrackChange:
		return "track_change"
	case EventPause:
		return "pause"
	case EventResume:
		return "resume"
	case EventStop:
		return "stop"
	case EventFault:
		return "fault"
	case EventRendererChange:
		return "renderer_change"
	case EventDeviceAdded:
		return "device_added"
	case EventDeviceRemoved:
		return "device_removed"
	default:
		return "unknown"
	}
}

// String returns the event type name.
func (t EventType) String() string {
	return eventTypeName(t)
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(eventTypeName(t)), nil
}
