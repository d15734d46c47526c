package mqtt

import (
	"encoding/json"
	"testing"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessro/avctl/internal/config"
)

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "home/av/"}
	assert.Equal(t, "home/av/status", topics.Status())
	assert.Equal(t, "home/av/devices/tv-1", topics.Device("tv-1"))
	assert.Equal(t, "home/av/devices/a_b_c", topics.Device("a/b+c"))
	assert.Equal(t, "home/av/devices/+", topics.AllDevices())
	assert.Equal(t, "home/av/session/state", topics.SessionState())
	assert.Equal(t, "home/av/session/fault", topics.SessionFault())
	assert.Equal(t, "home/av/session/command", topics.SessionCommand())

	assert.Equal(t, "avctl/status", Topics{}.Status())
}

func TestStatusPayload(t *testing.T) {
	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(statusPayload("offline", "avctl", "graceful_shutdown")), &got))
	assert.Equal(t, "offline", got["status"])
	assert.Equal(t, "avctl", got["client_id"])
	assert.Equal(t, "graceful_shutdown", got["reason"])
	assert.NotEmpty(t, got["timestamp"])

	got = nil
	require.NoError(t, json.Unmarshal([]byte(statusPayload("online", "avctl", "")), &got))
	_, hasReason := got["reason"]
	assert.False(t, hasReason)
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker:      "ssl://broker.local:8883",
		ClientID:    "avctl-test",
		Username:    "user",
		Password:    "secret",
		TopicPrefix: "av",
		QoS:         1,
	}
	opts := buildClientOptions(cfg)
	reader := pahomqtt.NewOptionsReader(opts)

	require.Len(t, reader.Servers(), 1)
	assert.Equal(t, "broker.local:8883", reader.Servers()[0].Host)
	assert.Equal(t, "avctl-test", reader.ClientID())
	assert.Equal(t, "user", reader.Username())
	assert.True(t, reader.AutoReconnect())
	assert.True(t, reader.WillEnabled())
	assert.Equal(t, "av/status", reader.WillTopic())
	assert.True(t, reader.WillRetained())
	assert.NotNil(t, reader.TLSConfig())
}

func TestClientQoS(t *testing.T) {
	assert.Equal(t, byte(2), (&Client{cfg: config.MQTTConfig{QoS: 2}}).qos())
	assert.Equal(t, byte(1), (&Client{cfg: config.MQTTConfig{QoS: 7}}).qos())
}
