package upnp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessro/avctl/internal/core"
	"github.com/tessro/avctl/internal/gateway"
	"github.com/tessro/avctl/internal/registry"
)

const rendererDescription = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
    <friendlyName>Living Room TV</friendlyName>
    <manufacturer>Acme</manufacturer>
    <modelName>Screen 9000</modelName>
    <UDN>uuid:tv-1</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:AVTransport</serviceId>
        <controlURL>/AVTransport/control</controlURL>
        <eventSubURL>/AVTransport/event</eventSubURL>
      </service>
    </serviceList>
    <deviceList>
      <device>
        <deviceType>urn:schemas-upnp-org:device:Extra:1</deviceType>
        <UDN>uuid:tv-1-extra</UDN>
        <serviceList>
          <service>
            <serviceType>urn:schemas-upnp-org:service:RenderingControl:2</serviceType>
            <serviceId>urn:upnp-org:serviceId:RenderingControl</serviceId>
            <controlURL>RenderingControl/control</controlURL>
            <eventSubURL></eventSubURL>
          </service>
        </serviceList>
      </device>
    </deviceList>
  </device>
</root>`

// fakeDevice serves a renderer description plus whatever handlers a test
// adds to its mux.
type fakeDevice struct {
	server       *httptest.Server
	mux          *http.ServeMux
	descriptions atomic.Int32
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	d := &fakeDevice{mux: http.NewServeMux()}
	d.mux.HandleFunc("/desc.xml", func(w http.ResponseWriter, r *http.Request) {
		d.descriptions.Add(1)
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(rendererDescription))
	})
	d.server = httptest.NewServer(d.mux)
	t.Cleanup(d.server.Close)
	return d
}

func (d *fakeDevice) location() string {
	return d.server.URL + "/desc.xml"
}

func newTestRegistry(t *testing.T, dev *fakeDevice) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.Options{})
	reg.OnSighting(registry.Sighting{
		ID:         "tv-1",
		Capability: core.CapabilityRenderer,
		Location:   dev.location(),
	})
	return reg
}

func TestParseDescription(t *testing.T) {
	desc, err := ParseDescription([]byte(rendererDescription), "http://10.0.0.9:1400/xml/desc.xml")
	require.NoError(t, err)

	assert.Equal(t, "Living Room TV", desc.FriendlyName)
	assert.Equal(t, "urn:schemas-upnp-org:device:MediaRenderer:1", desc.DeviceType)
	assert.Equal(t, "Acme", desc.Manufacturer)
	assert.Equal(t, "uuid:tv-1", desc.UDN)
	require.Len(t, desc.Services, 2)

	av, ok := desc.Service(gateway.ServiceAVTransport)
	require.True(t, ok)
	assert.Equal(t, "http://10.0.0.9:1400/AVTransport/control", av.ControlURL)
	assert.Equal(t, "http://10.0.0.9:1400/AVTransport/event", av.EventSubURL)

	// Embedded device, relative path, newer version than requested.
	rc, ok := desc.Service(gateway.ServiceRenderingControl)
	require.True(t, ok)
	assert.Equal(t, "http://10.0.0.9:1400/xml/RenderingControl/control", rc.ControlURL)
	assert.Empty(t, rc.EventSubURL)

	_, ok = desc.Service(gateway.ServiceConnectionManage)
	assert.False(t, ok)
}

func TestParseDescription_URLBase(t *testing.T) {
	data := `<root><URLBase>http://192.168.1.20:8200/</URLBase><device>
<deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
<friendlyName>NAS</friendlyName>
<serviceList><service><serviceType>urn:schemas-upnp-org:service:ContentDirectory:1</serviceType>
<controlURL>/ctl/ContentDir</controlURL></service></serviceList>
</device></root>`

	desc, err := ParseDescription([]byte(data), "http://10.0.0.1/ignored.xml")
	require.NoError(t, err)
	svc, ok := desc.Service("urn:schemas-upnp-org:service:ContentDirectory:1")
	require.True(t, ok)
	assert.Equal(t, "http://192.168.1.20:8200/ctl/ContentDir", svc.ControlURL)
}

func TestParseDescription_Malformed(t *testing.T) {
	_, err := ParseDescription([]byte("<root><device>"), "http://10.0.0.1/")
	assert.Error(t, err)
}

func TestDescriber_CachesAndForgets(t *testing.T) {
	dev := newFakeDevice(t)
	reg := newTestRegistry(t, dev)
	d := NewDescriber(reg, dev.server.Client(), nil)

	ctx := context.Background()
	first, err := d.Describe(ctx, "tv-1")
	require.NoError(t, err)
	second, err := d.Describe(ctx, "tv-1")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), dev.descriptions.Load())

	d.Forget("tv-1")
	_, err = d.Describe(ctx, "tv-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), dev.descriptions.Load())
}

func TestDescriber_UnknownDevice(t *testing.T) {
	d := NewDescriber(registry.New(registry.Options{}), nil, nil)
	_, err := d.Describe(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestDescriber_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	reg := registry.New(registry.Options{})
	reg.OnSighting(registry.Sighting{ID: "x", Location: srv.URL + "/desc.xml"})
	d := NewDescriber(reg, srv.Client(), nil)

	_, err := d.Describe(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestDescriber_FollowAnnotatesNames(t *testing.T) {
	dev := newFakeDevice(t)
	reg := newTestRegistry(t, dev)
	d := NewDescriber(reg, dev.server.Client(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Follow(ctx, reg)

	require.Eventually(t, func() bool {
		got, err := reg.Lookup("tv-1")
		return err == nil && got.Name == "Living Room TV"
	}, 2*time.Second, 10*time.Millisecond)

	got, err := reg.Lookup("tv-1")
	require.NoError(t, err)
	assert.Equal(t, "urn:schemas-upnp-org:device:MediaRenderer:1", got.Type)
}
