package upnp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessro/avctl/internal/gateway"
)

const transportInfoResponse = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body>
    <u:GetTransportInfoResponse xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">
      <CurrentTransportState>PLAYING</CurrentTransportState>
      <CurrentTransportStatus>OK</CurrentTransportStatus>
      <CurrentSpeed>1</CurrentSpeed>
    </u:GetTransportInfoResponse>
  </s:Body>
</s:Envelope>`

const faultResponse = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <s:Fault>
      <faultcode>s:Client</faultcode>
      <faultstring>UPnPError</faultstring>
      <detail>
        <UPnPError xmlns="urn:schemas-upnp-org:control-1-0">
          <errorCode>701</errorCode>
          <errorDescription>Transition not available</errorDescription>
        </UPnPError>
      </detail>
    </s:Fault>
  </s:Body>
</s:Envelope>`

func newTestGateway(t *testing.T, dev *fakeDevice) *Gateway {
	t.Helper()
	reg := newTestRegistry(t, dev)
	return NewGateway(NewDescriber(reg, dev.server.Client(), nil), nil, dev.server.Client(), nil)
}

func TestGateway_Invoke(t *testing.T) {
	dev := newFakeDevice(t)
	var soapAction, body string
	dev.mux.HandleFunc("/AVTransport/control", func(w http.ResponseWriter, r *http.Request) {
		soapAction = r.Header.Get("SOAPAction")
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		_, _ = w.Write([]byte(transportInfoResponse))
	})
	gw := newTestGateway(t, dev)

	out, err := gw.Invoke(context.Background(), "tv-1", gateway.ServiceAVTransport, gateway.ActionGetTransportInfo,
		map[string]string{"InstanceID": "0"})
	require.NoError(t, err)

	assert.Equal(t, `"urn:schemas-upnp-org:service:AVTransport:1#GetTransportInfo"`, soapAction)
	assert.Contains(t, body, "<InstanceID>0</InstanceID>")
	assert.Equal(t, "PLAYING", out["CurrentTransportState"])
	assert.Equal(t, "OK", out["CurrentTransportStatus"])
	assert.Equal(t, "1", out["CurrentSpeed"])
}

func TestGateway_InvokeFault(t *testing.T) {
	dev := newFakeDevice(t)
	dev.mux.HandleFunc("/AVTransport/control", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(faultResponse))
	})
	gw := newTestGateway(t, dev)

	_, err := gw.Invoke(context.Background(), "tv-1", gateway.ServiceAVTransport, gateway.ActionPlay,
		map[string]string{"InstanceID": "0", "Speed": "1"})
	require.Error(t, err)

	var fault *gateway.FaultError
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, 701, fault.Code)
	assert.Equal(t, "Transition not available", fault.Description)
	assert.Equal(t, gateway.OutcomeFault, gateway.Classify(err))
}

func TestGateway_InvokeUnreachableIsTransient(t *testing.T) {
	dev := newFakeDevice(t)
	gw := newTestGateway(t, dev)

	// Cache the description, then take the device away.
	_, err := gw.describer.Describe(context.Background(), "tv-1")
	require.NoError(t, err)
	dev.server.Close()

	_, err = gw.Invoke(context.Background(), "tv-1", gateway.ServiceAVTransport, gateway.ActionStop,
		map[string]string{"InstanceID": "0"})
	require.Error(t, err)
	assert.Equal(t, gateway.OutcomeTransient, gateway.Classify(err))
}

func TestGateway_InvokeMissingService(t *testing.T) {
	dev := newFakeDevice(t)
	gw := newTestGateway(t, dev)

	_, err := gw.Invoke(context.Background(), "tv-1", gateway.ServiceConnectionManage, "GetProtocolInfo", nil)
	var fault *gateway.FaultError
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, 401, fault.Code)
}

func TestGateway_SubscribeWithoutEventing(t *testing.T) {
	dev := newFakeDevice(t)
	gw := newTestGateway(t, dev)

	_, err := gw.Subscribe(context.Background(), "tv-1", gateway.ServiceAVTransport)
	assert.Error(t, err)
	assert.NoError(t, gw.Unsubscribe(context.Background(), gateway.Handle{}))
}

func TestBuildSOAPBody_ArgumentOrder(t *testing.T) {
	body := string(buildSOAPBody(gateway.ServiceAVTransport, gateway.ActionSetAVTransportURI, map[string]string{
		"CurrentURIMetaData": "<DIDL-Lite/>",
		"CurrentURI":         "http://nas/a.mp3?x=1&y=2",
		"InstanceID":         "0",
	}))

	i := strings.Index(body, "<InstanceID>")
	u := strings.Index(body, "<CurrentURI>")
	m := strings.Index(body, "<CurrentURIMetaData>")
	assert.True(t, i < u && u < m, "arguments out of order: %s", body)
	assert.Contains(t, body, "http://nas/a.mp3?x=1&amp;y=2")
	assert.Contains(t, body, "&lt;DIDL-Lite/&gt;")
}

func TestOrderedArgs_UnknownAction(t *testing.T) {
	got := orderedArgs("Custom", map[string]string{"Zeta": "", "Alpha": "", "InstanceID": ""})
	assert.Equal(t, []string{"InstanceID", "Alpha", "Zeta"}, got)
}

func TestParseResponse_WrongElement(t *testing.T) {
	_, err := parseResponse([]byte(transportInfoResponse), gateway.ActionPlay)
	assert.Error(t, err)
}

func TestParseFault_NotAFault(t *testing.T) {
	assert.Nil(t, parseFault([]byte("<html>oops</html>")))
}
