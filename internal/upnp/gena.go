package upnp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tessro/avctl/internal/gateway"
)

const (
	// DefaultSubscriptionTimeout is the subscription lifetime requested
	// from devices.
	DefaultSubscriptionTimeout = 300 * time.Second

	renewMargin  = 30 * time.Second
	retryBackoff = 10 * time.Second
)

// SubscriptionOptions configures Subscriptions.
type SubscriptionOptions struct {
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
	// OnResubscribe is called when a lapsed subscription is about to be
	// re-created; the device restarts its SEQ count for the new SID.
	OnResubscribe func(deviceID, service string)
}

type subKey struct {
	device  string
	service string
}

type genaSub struct {
	token    string
	deviceID string
	service  string
	eventURL string
	sid      string
	expires  time.Time
	cancel   context.CancelFunc
}

// Subscriptions manages GENA subscriptions and keeps them renewed.
type Subscriptions struct {
	describer *Describer
	callback  string
	opts      SubscriptionOptions
	logger    *slog.Logger

	mu      sync.Mutex
	byKey   map[subKey]*genaSub
	byToken map[string]*genaSub
	wg      sync.WaitGroup
}

// NewSubscriptions creates a subscription manager. callbackBase is the URL
// of the notify server, e.g. "http://10.0.0.2:49152".
func NewSubscriptions(describer *Describer, callbackBase string, opts SubscriptionOptions) *Subscriptions {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSubscriptionTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Subscriptions{
		describer: describer,
		callback:  strings.TrimRight(callbackBase, "/"),
		opts:      opts,
		logger:    opts.Logger.With("component", "gena"),
		byKey:     make(map[subKey]*genaSub),
		byToken:   make(map[string]*genaSub),
	}
}

// Subscribe subscribes to a device service's events. Notifications arrive
// at the notify server under a per-subscription token.
func (s *Subscriptions) Subscribe(ctx context.Context, deviceID, service string) (gateway.Handle, error) {
	desc, err := s.describer.Describe(ctx, deviceID)
	if err != nil {
		return gateway.Handle{}, err
	}
	svc, ok := desc.Service(service)
	if !ok || svc.EventSubURL == "" {
		return gateway.Handle{}, fmt.Errorf("service %s of %s has no event url", service, deviceID)
	}

	k := subKey{deviceID, service}
	sub := &genaSub{
		token:    uuid.NewString(),
		deviceID: deviceID,
		service:  service,
		eventURL: svc.EventSubURL,
	}

	// The initial NOTIFY can beat the SUBSCRIBE response, so the token is
	// routable before the request goes out.
	s.mu.Lock()
	if old, ok := s.byKey[k]; ok {
		s.mu.Unlock()
		return gateway.Handle{DeviceID: deviceID, Service: service, SID: old.sid}, nil
	}
	s.byKey[k] = sub
	s.byToken[sub.token] = sub
	s.mu.Unlock()

	sid, timeout, err := s.subscribe(ctx, sub.eventURL, sub.token)
	if err != nil {
		s.mu.Lock()
		delete(s.byKey, k)
		delete(s.byToken, sub.token)
		s.mu.Unlock()
		return gateway.Handle{}, err
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	sub.sid = sid
	sub.expires = time.Now().Add(timeout)
	sub.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.keepAlive(renewCtx, sub)
	}()

	s.logger.Debug("subscribed", "device", deviceID, "service", service, "sid", sid, "timeout", timeout)
	return gateway.Handle{DeviceID: deviceID, Service: service, SID: sid}, nil
}

// Unsubscribe cancels a subscription and stops its renewal.
func (s *Subscriptions) Unsubscribe(ctx context.Context, h gateway.Handle) error {
	k := subKey{h.DeviceID, h.Service}

	s.mu.Lock()
	sub, ok := s.byKey[k]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.byKey, k)
	delete(s.byToken, sub.token)
	sid := sub.sid
	if sub.cancel != nil {
		sub.cancel()
	}
	s.mu.Unlock()

	if sid == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, "UNSUBSCRIBE", sub.eventURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header["SID"] = []string{sid}

	resp, err := s.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unsubscribe: status %d", resp.StatusCode)
	}
	return nil
}

// Lookup returns the subscription a notify token belongs to.
func (s *Subscriptions) Lookup(token string) (deviceID, service, sid string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.byToken[token]
	if !ok {
		return "", "", "", false
	}
	return sub.deviceID, sub.service, sub.sid, true
}

// Len returns the number of live subscriptions.
func (s *Subscriptions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

// Close cancels every subscription.
func (s *Subscriptions) Close(ctx context.Context) error {
	s.mu.Lock()
	handles := make([]gateway.Handle, 0, len(s.byKey))
	for _, sub := range s.byKey {
		handles = append(handles, gateway.Handle{DeviceID: sub.deviceID, Service: sub.service, SID: sub.sid})
	}
	s.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := s.Unsubscribe(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", h.DeviceID, h.Service, err))
		}
	}
	s.wg.Wait()
	return errors.Join(errs...)
}

func (s *Subscriptions) keepAlive(ctx context.Context, sub *genaSub) {
	for {
		s.mu.Lock()
		wait := renewAfter(time.Until(sub.expires))
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := s.renew(ctx, sub); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("subscription lapsed", "device", sub.deviceID, "service", sub.service, "error", err)
			s.mu.Lock()
			sub.expires = time.Now().Add(retryBackoff + renewMargin)
			s.mu.Unlock()
		}
	}
}

// renewAfter returns how long to wait before renewing a subscription that
// expires in remaining.
func renewAfter(remaining time.Duration) time.Duration {
	if remaining > 2*renewMargin {
		return remaining - renewMargin
	}
	if remaining/2 < time.Second {
		return time.Second
	}
	return remaining / 2
}

// renew extends a subscription, falling back to a fresh SUBSCRIBE when
// the device no longer knows the SID.
func (s *Subscriptions) renew(ctx context.Context, sub *genaSub) error {
	s.mu.Lock()
	sid := sub.sid
	s.mu.Unlock()

	timeout, err := s.resubscribe(ctx, sub.eventURL, sid)
	if err == nil {
		s.mu.Lock()
		sub.expires = time.Now().Add(timeout)
		s.mu.Unlock()
		return nil
	}
	s.logger.Debug("renewal failed, subscribing again", "device", sub.deviceID, "sid", sid, "error", err)

	// The device sends its initial NOTIFY before answering the SUBSCRIBE,
	// so the token must accept the new SID and sequence before the request
	// goes out.
	s.mu.Lock()
	sub.sid = ""
	s.mu.Unlock()
	if s.opts.OnResubscribe != nil {
		s.opts.OnResubscribe(sub.deviceID, sub.service)
	}

	newSID, timeout, err := s.subscribe(ctx, sub.eventURL, sub.token)
	if err != nil {
		return err
	}
	s.mu.Lock()
	sub.sid = newSID
	sub.expires = time.Now().Add(timeout)
	s.mu.Unlock()
	return nil
}

func (s *Subscriptions) subscribe(ctx context.Context, eventURL, token string) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", eventURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header["CALLBACK"] = []string{"<" + s.callback + "/events/" + token + ">"}
	req.Header["NT"] = []string{"upnp:event"}
	req.Header["TIMEOUT"] = []string{formatTimeout(s.opts.Timeout)}

	resp, err := s.opts.Client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("subscribe: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("subscribe: status %d", resp.StatusCode)
	}
	sid := resp.Header.Get("SID")
	if sid == "" {
		return "", 0, errors.New("subscribe: response has no SID")
	}
	return sid, parseTimeout(resp.Header.Get("TIMEOUT"), s.opts.Timeout), nil
}

func (s *Subscriptions) resubscribe(ctx context.Context, eventURL, sid string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", eventURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header["SID"] = []string{sid}
	req.Header["TIMEOUT"] = []string{formatTimeout(s.opts.Timeout)}

	resp, err := s.opts.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("renew: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("renew: status %d", resp.StatusCode)
	}
	return parseTimeout(resp.Header.Get("TIMEOUT"), s.opts.Timeout), nil
}

func formatTimeout(d time.Duration) string {
	return "Second-" + strconv.Itoa(int(d/time.Second))
}

// parseTimeout decodes a GENA TIMEOUT header such as "Second-1800".
func parseTimeout(h string, fallback time.Duration) time.Duration {
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "infinite") || strings.EqualFold(h, "Second-infinite") {
		return 24 * time.Hour
	}
	n, ok := strings.CutPrefix(h, "Second-")
	if !ok {
		return fallback
	}
	secs, err := strconv.Atoi(n)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
