package upnp

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tessro/avctl/internal/gateway"
)

// argOrder lists the argument order of known actions. UPnP requires
// in-arguments in the order of the service description.
var argOrder = map[string][]string{
	gateway.ActionSetAVTransportURI: {"InstanceID", "CurrentURI", "CurrentURIMetaData"},
	gateway.ActionPlay:              {"InstanceID", "Speed"},
	"Seek":                          {"InstanceID", "Unit", "Target"},
	"SetVolume":                     {"InstanceID", "Channel", "DesiredVolume"},
	"GetVolume":                     {"InstanceID", "Channel"},
	"Browse":                        {"ObjectID", "BrowseFlag", "Filter", "StartingIndex", "RequestedCount", "SortCriteria"},
}

// Gateway carries actions over SOAP and subscriptions over GENA. It
// implements gateway.ActionGateway.
type Gateway struct {
	describer *Describer
	client    *http.Client
	subs      *Subscriptions
	logger    *slog.Logger
}

// NewGateway creates a gateway. subs may be nil when the caller never
// subscribes to events.
func NewGateway(describer *Describer, subs *Subscriptions, client *http.Client, logger *slog.Logger) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gateway{
		describer: describer,
		client:    client,
		subs:      subs,
		logger:    logger.With("component", "gateway"),
	}
}

var _ gateway.ActionGateway = (*Gateway)(nil)

// Invoke calls an action on a device service and returns its out-arguments.
func (g *Gateway) Invoke(ctx context.Context, deviceID, service, action string, args map[string]string) (map[string]string, error) {
	desc, err := g.describer.Describe(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	svc, ok := desc.Service(service)
	if !ok || svc.ControlURL == "" {
		return nil, &gateway.FaultError{Code: 401, Description: fmt.Sprintf("service %s not offered by %s", service, deviceID)}
	}

	start := time.Now()
	out, err := g.call(ctx, svc.ControlURL, svc.ServiceType, action, args)
	g.logger.Debug("invoke", "device", deviceID, "action", action, "duration", time.Since(start), "error", err)
	return out, err
}

// Subscribe creates a GENA subscription for a device service.
func (g *Gateway) Subscribe(ctx context.Context, deviceID, service string) (gateway.Handle, error) {
	if g.subs == nil {
		return gateway.Handle{}, errors.New("eventing not configured")
	}
	return g.subs.Subscribe(ctx, deviceID, service)
}

// Unsubscribe cancels a subscription created by Subscribe.
func (g *Gateway) Unsubscribe(ctx context.Context, h gateway.Handle) error {
	if g.subs == nil {
		return nil
	}
	return g.subs.Unsubscribe(ctx, h)
}

func (g *Gateway) call(ctx context.Context, controlURL, service, action string, args map[string]string) (map[string]string, error) {
	body := buildSOAPBody(service, action, args)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPAction", fmt.Sprintf("\"%s#%s\"", service, action))

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("soap request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if fault := parseFault(respBody); fault != nil {
			return nil, fault
		}
		return nil, fmt.Errorf("soap error (status %d): %s", resp.StatusCode, truncate(string(respBody), 200))
	}
	return parseResponse(respBody, action)
}

// buildSOAPBody constructs the SOAP envelope.
func buildSOAPBody(service, action string, args map[string]string) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	buf.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`)
	buf.WriteString(`<s:Body>`)
	fmt.Fprintf(&buf, `<u:%s xmlns:u="%s">`, action, service)

	for _, k := range orderedArgs(action, args) {
		fmt.Fprintf(&buf, "<%s>%s</%s>", k, xmlEscape(args[k]), k)
	}

	fmt.Fprintf(&buf, `</u:%s>`, action)
	buf.WriteString(`</s:Body>`)
	buf.WriteString(`</s:Envelope>`)
	return buf.Bytes()
}

// orderedArgs returns the argument names of a call: known names first in
// declared order, then the rest sorted.
func orderedArgs(action string, args map[string]string) []string {
	keys := make([]string, 0, len(args))
	seen := make(map[string]bool, len(args))
	for _, k := range argOrder[action] {
		if _, ok := args[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range args {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	if i := slices.Index(rest, "InstanceID"); i > 0 {
		rest = slices.Delete(rest, i, i+1)
		rest = slices.Insert(rest, 0, "InstanceID")
	}
	return append(keys, rest...)
}

type envelope struct {
	Body struct {
		Inner []byte `xml:",innerxml"`
	} `xml:"Body"`
}

type anyElement struct {
	XMLName xml.Name
	Value   string       `xml:",chardata"`
	Nodes   []anyElement `xml:",any"`
}

// parseResponse extracts out-arguments from an <actionResponse> element.
func parseResponse(data []byte, action string) (map[string]string, error) {
	var env envelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	var resp anyElement
	if err := xml.Unmarshal(env.Body.Inner, &resp); err != nil {
		return nil, fmt.Errorf("parse response body: %w", err)
	}
	if resp.XMLName.Local != action+"Response" {
		return nil, fmt.Errorf("unexpected response element %q", resp.XMLName.Local)
	}

	out := make(map[string]string, len(resp.Nodes))
	for _, n := range resp.Nodes {
		out[n.XMLName.Local] = n.Value
	}
	return out, nil
}

type soapFault struct {
	Body struct {
		Fault struct {
			FaultString string `xml:"faultstring"`
			Detail      struct {
				UPnPError struct {
					ErrorCode        string `xml:"errorCode"`
					ErrorDescription string `xml:"errorDescription"`
				} `xml:"UPnPError"`
			} `xml:"detail"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

// parseFault returns the UPnP error carried by a SOAP fault, or nil when
// data is not one.
func parseFault(data []byte) *gateway.FaultError {
	var f soapFault
	if err := xml.Unmarshal(data, &f); err != nil {
		return nil
	}
	upnpErr := f.Body.Fault.Detail.UPnPError
	code, err := strconv.Atoi(strings.TrimSpace(upnpErr.ErrorCode))
	if err != nil {
		if f.Body.Fault.FaultString == "" {
			return nil
		}
		return &gateway.FaultError{Description: f.Body.Fault.FaultString}
	}
	return &gateway.FaultError{Code: code, Description: strings.TrimSpace(upnpErr.ErrorDescription)}
}

// xmlEscape escapes special XML characters.
func xmlEscape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
