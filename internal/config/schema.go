package config

import "time"

// Config is the root configuration structure.
type Config struct {
	Discovery DiscoveryConfig `toml:"discovery" json:"discovery"`
	Session   SessionConfig   `toml:"session" json:"session"`
	Events    EventsConfig    `toml:"events" json:"events"`
	MQTT      MQTTConfig      `toml:"mqtt" json:"mqtt"`
	Store     StoreConfig     `toml:"store" json:"store"`
	Log       LogConfig       `toml:"log" json:"log"`
}

// DiscoveryConfig holds SSDP discovery and registry settings. Durations
// are in seconds.
type DiscoveryConfig struct {
	SearchTimeout int      `toml:"search_timeout" json:"search_timeout"`
	DefaultExpiry int      `toml:"default_expiry" json:"default_expiry"`
	SweepFloor    int      `toml:"sweep_floor" json:"sweep_floor"`
	SweepCeiling  int      `toml:"sweep_ceiling" json:"sweep_ceiling"`
	SearchTargets []string `toml:"search_targets" json:"search_targets"`
}

// SessionConfig holds playback session settings. Durations are in
// milliseconds.
type SessionConfig struct {
	ActionTimeout         int    `toml:"action_timeout" json:"action_timeout"`
	MaxUnresolvedTimeouts int    `toml:"max_unresolved_timeouts" json:"max_unresolved_timeouts"`
	RequeryDelay          int    `toml:"requery_delay" json:"requery_delay"`
	DefaultRenderer       string `toml:"default_renderer" json:"default_renderer"`
	DefaultServer         string `toml:"default_server" json:"default_server"`
}

// EventsConfig holds GENA event subscription settings.
type EventsConfig struct {
	CallbackHost        string `toml:"callback_host" json:"callback_host"`
	CallbackPort        int    `toml:"callback_port" json:"callback_port"`
	SubscriptionTimeout int    `toml:"subscription_timeout" json:"subscription_timeout"`
}

// MQTTConfig holds the state bridge broker settings.
type MQTTConfig struct {
	Enabled     bool   `toml:"enabled" json:"enabled"`
	Broker      string `toml:"broker" json:"broker"`
	ClientID    string `toml:"client_id" json:"client_id"`
	Username    string `toml:"username" json:"username,omitempty"`
	Password    string `toml:"password" json:"-"`
	TopicPrefix string `toml:"topic_prefix" json:"topic_prefix"`
	QoS         int    `toml:"qos" json:"qos"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Path string `toml:"path" json:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
	File   string `toml:"file" json:"file,omitempty"`
}

// SearchTimeoutDuration returns the M-SEARCH window.
func (c DiscoveryConfig) SearchTimeoutDuration() time.Duration {
	return time.Duration(c.SearchTimeout) * time.Second
}

// DefaultExpiryDuration returns the fallback device lifetime.
func (c DiscoveryConfig) DefaultExpiryDuration() time.Duration {
	return time.Duration(c.DefaultExpiry) * time.Second
}

// SweepBounds returns the sweep interval floor and ceiling.
func (c DiscoveryConfig) SweepBounds() (floor, ceiling time.Duration) {
	return time.Duration(c.SweepFloor) * time.Second, time.Duration(c.SweepCeiling) * time.Second
}

// ActionTimeoutDuration returns the per-action deadline.
func (c SessionConfig) ActionTimeoutDuration() time.Duration {
	return time.Duration(c.ActionTimeout) * time.Millisecond
}

// RequeryDelayDuration returns the wait before re-querying after a timeout.
func (c SessionConfig) RequeryDelayDuration() time.Duration {
	return time.Duration(c.RequeryDelay) * time.Millisecond
}

// SubscriptionTimeoutDuration returns the requested GENA subscription lifetime.
func (c EventsConfig) SubscriptionTimeoutDuration() time.Duration {
	return time.Duration(c.SubscriptionTimeout) * time.Second
}
