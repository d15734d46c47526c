package mqtt

import "strings"

// Topics builds the bridge topic tree under a prefix.
type Topics struct {
	Prefix string
}

func (t Topics) join(parts ...string) string {
	prefix := strings.TrimRight(t.Prefix, "/")
	if prefix == "" {
		prefix = "avctl"
	}
	return prefix + "/" + strings.Join(parts, "/")
}

// Status carries the bridge's online/offline state (retained, LWT).
func (t Topics) Status() string { return t.join("status") }

// Device carries one registry entry (retained, empty when removed).
func (t Topics) Device(id string) string { return t.join("devices", sanitize(id)) }

// AllDevices matches every device topic.
func (t Topics) AllDevices() string { return t.join("devices", "+") }

// SessionState carries playback session snapshots (retained).
func (t Topics) SessionState() string { return t.join("session", "state") }

// SessionFault carries fault notifications.
func (t Topics) SessionFault() string { return t.join("session", "fault") }

// SessionCommand accepts remote commands.
func (t Topics) SessionCommand() string { return t.join("session", "command") }

// sanitize strips characters with meaning in MQTT topic filters.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '_'
		}
		return r
	}, s)
}
