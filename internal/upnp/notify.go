package upnp

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tessro/avctl/internal/eventbus"
)

func init() {
	chi.RegisterMethod("NOTIFY")
}

// Sink receives parsed notifications.
type Sink interface {
	Deliver(d eventbus.Delivery) bool
}

// Resolver maps a callback token to its subscription.
type Resolver interface {
	Lookup(token string) (deviceID, service, sid string, ok bool)
}

// NotifyServer accepts GENA NOTIFY requests and forwards their variables
// to a sink.
type NotifyServer struct {
	resolver Resolver
	sink     Sink
	logger   *slog.Logger
	router   chi.Router
}

// NewNotifyServer creates a notify server.
func NewNotifyServer(resolver Resolver, sink Sink, logger *slog.Logger) *NotifyServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &NotifyServer{
		resolver: resolver,
		sink:     sink,
		logger:   logger.With("component", "notify"),
	}
	r := chi.NewRouter()
	r.MethodFunc("NOTIFY", "/events/{token}", s.handleNotify)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *NotifyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve serves notifications on ln until ctx is done.
func (s *NotifyServer) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("notify server: %w", err)
	}
	return nil
}

// Listen opens the notify listener and returns it with the callback base
// URL devices should use. An empty host picks the address of the interface
// that routes to the SSDP multicast group.
func Listen(host string, port int) (net.Listener, string, error) {
	if host == "" {
		ip, err := LocalIP()
		if err != nil {
			return nil, "", err
		}
		host = ip
	}
	ln, err := net.Listen("tcp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, "", fmt.Errorf("listen: %w", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	return ln, fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(addr.Port))), nil
}

// LocalIP returns the local address used to reach the LAN.
func LocalIP() (string, error) {
	conn, err := net.Dial("udp4", "239.255.255.250:1900")
	if err != nil {
		return "", fmt.Errorf("determine local address: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

func (s *NotifyServer) handleNotify(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	if r.Header.Get("NT") != "upnp:event" || r.Header.Get("NTS") != "upnp:propchange" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	deviceID, service, sid, ok := s.resolver.Lookup(token)
	if !ok {
		http.Error(w, "unknown subscription", http.StatusPreconditionFailed)
		return
	}
	if got := r.Header.Get("SID"); got == "" || (sid != "" && got != sid) {
		http.Error(w, "sid mismatch", http.StatusPreconditionFailed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	vars, err := ParsePropertySet(body)
	if err != nil {
		s.logger.Debug("malformed notification", "device", deviceID, "error", err)
		http.Error(w, "malformed propertyset", http.StatusBadRequest)
		return
	}

	d := eventbus.Delivery{
		DeviceID:  deviceID,
		Service:   service,
		Vars:      vars,
		ArrivedAt: time.Now(),
	}
	if seq, err := strconv.ParseUint(strings.TrimSpace(r.Header.Get("SEQ")), 10, 32); err == nil {
		d.UpstreamSeq = uint32(seq)
		d.HasUpstream = true
	}
	s.sink.Deliver(d)
	w.WriteHeader(http.StatusOK)
}

type propertySet struct {
	Properties []struct {
		Vars []struct {
			XMLName xml.Name
			Value   string `xml:",chardata"`
		} `xml:",any"`
	} `xml:"property"`
}

type lastChange struct {
	Instances []struct {
		Vars []struct {
			XMLName xml.Name
			Val     string `xml:"val,attr"`
		} `xml:",any"`
	} `xml:"InstanceID"`
}

// ParsePropertySet decodes a GENA propertyset. A LastChange variable is
// expanded into the state variables it carries.
func ParsePropertySet(data []byte) (map[string]string, error) {
	var ps propertySet
	if err := xml.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("parse propertyset: %w", err)
	}

	vars := make(map[string]string)
	for _, p := range ps.Properties {
		for _, v := range p.Vars {
			name := v.XMLName.Local
			value := strings.TrimSpace(v.Value)
			if name != "LastChange" {
				vars[name] = value
				continue
			}
			if err := expandLastChange(value, vars); err != nil {
				return nil, err
			}
		}
	}
	return vars, nil
}

func expandLastChange(value string, vars map[string]string) error {
	if value == "" {
		return nil
	}
	var lc lastChange
	if err := xml.Unmarshal([]byte(value), &lc); err != nil {
		return fmt.Errorf("parse LastChange: %w", err)
	}
	for _, inst := range lc.Instances {
		for _, v := range inst.Vars {
			vars[v.XMLName.Local] = v.Val
		}
	}
	return nil
}
