package upnp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessro/avctl/internal/gateway"
)

// eventEndpoint records GENA requests made to the fake device.
type eventEndpoint struct {
	mu       sync.Mutex
	requests []*http.Request
	renewal  int
	nextSID  int

	// onSubscribe runs for a fresh SUBSCRIBE before the response is sent.
	onSubscribe func(sid string)
}

func (e *eventEndpoint) handle(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, r)

	switch r.Method {
	case "SUBSCRIBE":
		if sid := r.Header.Get("SID"); sid != "" {
			if e.renewal != http.StatusOK {
				w.WriteHeader(e.renewal)
				return
			}
			w.Header()["SID"] = []string{sid}
		} else {
			e.nextSID++
			newSID := "uuid:sid-" + string(rune('0'+e.nextSID))
			if e.onSubscribe != nil {
				e.onSubscribe(newSID)
			}
			w.Header()["SID"] = []string{newSID}
		}
		w.Header()["TIMEOUT"] = []string{"Second-120"}
	case "UNSUBSCRIBE":
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (e *eventEndpoint) methods() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.requests))
	for i, r := range e.requests {
		out[i] = r.Method
	}
	return out
}

func (e *eventEndpoint) last() *http.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests[len(e.requests)-1]
}

func newTestSubscriptions(t *testing.T, opts SubscriptionOptions) (*Subscriptions, *eventEndpoint) {
	t.Helper()
	dev := newFakeDevice(t)
	ep := &eventEndpoint{renewal: http.StatusOK}
	dev.mux.HandleFunc("/AVTransport/event", ep.handle)

	opts.Client = dev.server.Client()
	reg := newTestRegistry(t, dev)
	subs := NewSubscriptions(NewDescriber(reg, dev.server.Client(), nil), "http://10.0.0.2:49152/", opts)
	t.Cleanup(func() { _ = subs.Close(context.Background()) })
	return subs, ep
}

func TestSubscriptions_Subscribe(t *testing.T) {
	subs, ep := newTestSubscriptions(t, SubscriptionOptions{Timeout: 600 * time.Second})

	h, err := subs.Subscribe(context.Background(), "tv-1", gateway.ServiceAVTransport)
	require.NoError(t, err)
	assert.Equal(t, "uuid:sid-1", h.SID)
	assert.Equal(t, "tv-1", h.DeviceID)
	assert.Equal(t, 1, subs.Len())

	req := ep.last()
	assert.Equal(t, "upnp:event", req.Header.Get("NT"))
	assert.Equal(t, "Second-600", req.Header.Get("TIMEOUT"))
	callback := req.Header.Get("CALLBACK")
	require.True(t, strings.HasPrefix(callback, "<http://10.0.0.2:49152/events/"), callback)
	token := strings.TrimSuffix(strings.TrimPrefix(callback, "<http://10.0.0.2:49152/events/"), ">")

	deviceID, service, sid, ok := subs.Lookup(token)
	require.True(t, ok)
	assert.Equal(t, "tv-1", deviceID)
	assert.Equal(t, gateway.ServiceAVTransport, service)
	assert.Equal(t, "uuid:sid-1", sid)

	// A second subscribe for the same service reuses the subscription.
	again, err := subs.Subscribe(context.Background(), "tv-1", gateway.ServiceAVTransport)
	require.NoError(t, err)
	assert.Equal(t, h, again)
	assert.Equal(t, []string{"SUBSCRIBE"}, ep.methods())
}

func TestSubscriptions_Unsubscribe(t *testing.T) {
	subs, ep := newTestSubscriptions(t, SubscriptionOptions{})

	h, err := subs.Subscribe(context.Background(), "tv-1", gateway.ServiceAVTransport)
	require.NoError(t, err)
	require.NoError(t, subs.Unsubscribe(context.Background(), h))

	assert.Equal(t, []string{"SUBSCRIBE", "UNSUBSCRIBE"}, ep.methods())
	assert.Equal(t, h.SID, ep.last().Header.Get("SID"))
	assert.Equal(t, 0, subs.Len())

	// Unknown handles are ignored.
	require.NoError(t, subs.Unsubscribe(context.Background(), h))
}

func TestSubscriptions_NoEventURL(t *testing.T) {
	subs, _ := newTestSubscriptions(t, SubscriptionOptions{})
	_, err := subs.Subscribe(context.Background(), "tv-1", gateway.ServiceRenderingControl)
	assert.Error(t, err)
	assert.Equal(t, 0, subs.Len())
}

func TestSubscriptions_Renew(t *testing.T) {
	subs, ep := newTestSubscriptions(t, SubscriptionOptions{})
	_, err := subs.Subscribe(context.Background(), "tv-1", gateway.ServiceAVTransport)
	require.NoError(t, err)

	sub := subs.byKey[subKey{"tv-1", gateway.ServiceAVTransport}]
	require.NoError(t, subs.renew(context.Background(), sub))

	req := ep.last()
	assert.Equal(t, "uuid:sid-1", req.Header.Get("SID"))
	assert.Empty(t, req.Header.Get("CALLBACK"))
	assert.Equal(t, "uuid:sid-1", sub.sid)
}

func TestSubscriptions_RenewFallsBackToSubscribe(t *testing.T) {
	var resubscribed []string
	subs, ep := newTestSubscriptions(t, SubscriptionOptions{
		OnResubscribe: func(deviceID, service string) {
			resubscribed = append(resubscribed, deviceID+" "+service)
		},
	})
	_, err := subs.Subscribe(context.Background(), "tv-1", gateway.ServiceAVTransport)
	require.NoError(t, err)

	ep.mu.Lock()
	ep.renewal = http.StatusPreconditionFailed
	ep.mu.Unlock()

	sub := subs.byKey[subKey{"tv-1", gateway.ServiceAVTransport}]
	require.NoError(t, subs.renew(context.Background(), sub))

	assert.Equal(t, "uuid:sid-2", sub.sid)
	assert.Equal(t, []string{"tv-1 " + gateway.ServiceAVTransport}, resubscribed)
	assert.NotEmpty(t, ep.last().Header.Get("CALLBACK"))
}

func TestSubscriptions_RenewalFallbackAcceptsInitialNotify(t *testing.T) {
	var order []string
	subs, ep := newTestSubscriptions(t, SubscriptionOptions{
		OnResubscribe: func(deviceID, service string) {
			order = append(order, "reset")
		},
	})
	_, err := subs.Subscribe(context.Background(), "tv-1", gateway.ServiceAVTransport)
	require.NoError(t, err)
	sub := subs.byKey[subKey{"tv-1", gateway.ServiceAVTransport}]
	token := sub.token

	sink := &recordingSink{}
	srv := NewNotifyServer(subs, sink, nil)
	var initialStatus int

	ep.mu.Lock()
	ep.renewal = http.StatusPreconditionFailed
	ep.onSubscribe = func(newSID string) {
		_, _, pending, ok := subs.Lookup(token)
		assert.True(t, ok)
		assert.Empty(t, pending)

		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, newNotifyRequest(token, newSID, "0", lastChangeBody))
		initialStatus = rec.Code
		order = append(order, "notify")
	}
	ep.mu.Unlock()

	require.NoError(t, subs.renew(context.Background(), sub))

	assert.Equal(t, http.StatusOK, initialStatus)
	assert.Equal(t, []string{"reset", "notify"}, order)
	require.Len(t, sink.deliveries, 1)
	assert.Equal(t, uint32(0), sink.deliveries[0].UpstreamSeq)

	_, _, sid, _ := subs.Lookup(token)
	assert.Equal(t, "uuid:sid-2", sid)
}

func TestParseTimeout(t *testing.T) {
	fallback := 5 * time.Minute
	assert.Equal(t, 1800*time.Second, parseTimeout("Second-1800", fallback))
	assert.Equal(t, 24*time.Hour, parseTimeout("infinite", fallback))
	assert.Equal(t, fallback, parseTimeout("", fallback))
	assert.Equal(t, fallback, parseTimeout("Second-abc", fallback))
	assert.Equal(t, fallback, parseTimeout("Second-0", fallback))
}

func TestRenewAfter(t *testing.T) {
	assert.Equal(t, 270*time.Second, renewAfter(300*time.Second))
	assert.Equal(t, 20*time.Second, renewAfter(40*time.Second))
	assert.Equal(t, time.Second, renewAfter(time.Second))
	assert.Equal(t, time.Second, renewAfter(-time.Minute))
}
