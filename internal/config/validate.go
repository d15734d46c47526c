package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Discovery.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("discovery: %w", err))
	}
	if err := c.Session.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("session: %w", err))
	}
	if err := c.Events.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("events: %w", err))
	}
	if err := c.MQTT.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("mqtt: %w", err))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}

	return errors.Join(errs...)
}

// Validate checks DiscoveryConfig for errors.
func (c *DiscoveryConfig) Validate() error {
	var errs []error
	if c.SearchTimeout < 1 || c.SearchTimeout > 120 {
		errs = append(errs, errors.New("search_timeout must be between 1 and 120 seconds"))
	}
	if c.DefaultExpiry < 0 {
		errs = append(errs, errors.New("default_expiry must be non-negative"))
	}
	if c.SweepFloor < 0 || c.SweepCeiling < 0 {
		errs = append(errs, errors.New("sweep bounds must be non-negative"))
	}
	if c.SweepCeiling != 0 && c.SweepCeiling < c.SweepFloor {
		errs = append(errs, fmt.Errorf("sweep_ceiling (%d) is below sweep_floor (%d)", c.SweepCeiling, c.SweepFloor))
	}
	return errors.Join(errs...)
}

// Validate checks SessionConfig for errors.
func (c *SessionConfig) Validate() error {
	var errs []error
	if c.ActionTimeout < 0 {
		errs = append(errs, errors.New("action_timeout must be non-negative"))
	}
	if c.MaxUnresolvedTimeouts < 0 {
		errs = append(errs, errors.New("max_unresolved_timeouts must be non-negative"))
	}
	if c.RequeryDelay < 0 {
		errs = append(errs, errors.New("requery_delay must be non-negative"))
	}
	return errors.Join(errs...)
}

// Validate checks EventsConfig for errors.
func (c *EventsConfig) Validate() error {
	if c.CallbackPort < 0 || c.CallbackPort > 65535 {
		return fmt.Errorf("invalid callback_port: %d", c.CallbackPort)
	}
	if c.SubscriptionTimeout < 0 {
		return errors.New("subscription_timeout must be non-negative")
	}
	return nil
}

// Validate checks MQTTConfig for errors. A disabled bridge is not checked.
func (c *MQTTConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	u, err := url.Parse(c.Broker)
	if err != nil {
		return fmt.Errorf("invalid broker: %w", err)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts":
	default:
		return fmt.Errorf("invalid broker scheme: %q", u.Scheme)
	}
	if c.QoS < 0 || c.QoS > 2 {
		return fmt.Errorf("invalid qos: %d (must be 0, 1, or 2)", c.QoS)
	}
	if c.TopicPrefix == "" {
		return errors.New("topic_prefix must not be empty")
	}
	return nil
}

// Validate checks LogConfig for errors.
func (c *LogConfig) Validate() error {
	switch c.Level {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Level)
	}
	switch c.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Format)
	}
	return nil
}
