package config

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			SearchTimeout: 3,
			DefaultExpiry: 1800,
			SweepFloor:    5,
			SweepCeiling:  60,
			SearchTargets: []string{
				"urn:schemas-upnp-org:device:MediaRenderer:1",
				"urn:schemas-upnp-org:device:MediaServer:1",
			},
		},
		Session: SessionConfig{
			ActionTimeout:         5000,
			MaxUnresolvedTimeouts: 3,
			RequeryDelay:          2000,
		},
		Events: EventsConfig{
			CallbackPort:        0,
			SubscriptionTimeout: 300,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "avctl",
			TopicPrefix: "avctl",
			QoS:         1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ApplyDefaults fills in zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	d := Default()

	// Discovery
	if c.Discovery.SearchTimeout == 0 {
		c.Discovery.SearchTimeout = d.Discovery.SearchTimeout
	}
	if c.Discovery.DefaultExpiry == 0 {
		c.Discovery.DefaultExpiry = d.Discovery.DefaultExpiry
	}
	if c.Discovery.SweepFloor == 0 {
		c.Discovery.SweepFloor = d.Discovery.SweepFloor
	}
	if c.Discovery.SweepCeiling == 0 {
		c.Discovery.SweepCeiling = d.Discovery.SweepCeiling
	}
	if len(c.Discovery.SearchTargets) == 0 {
		c.Discovery.SearchTargets = d.Discovery.SearchTargets
	}

	// Session
	if c.Session.ActionTimeout == 0 {
		c.Session.ActionTimeout = d.Session.ActionTimeout
	}
	if c.Session.MaxUnresolvedTimeouts == 0 {
		c.Session.MaxUnresolvedTimeouts = d.Session.MaxUnresolvedTimeouts
	}
	if c.Session.RequeryDelay == 0 {
		c.Session.RequeryDelay = d.Session.RequeryDelay
	}

	// Events
	if c.Events.SubscriptionTimeout == 0 {
		c.Events.SubscriptionTimeout = d.Events.SubscriptionTimeout
	}

	// MQTT
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = d.MQTT.Broker
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = d.MQTT.ClientID
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = d.MQTT.TopicPrefix
	}

	// Log
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}
