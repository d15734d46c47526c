// Package gateway defines the contract between the control point core and
// whatever transport carries UPnP actions and event subscriptions.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Service types used by the playback session.
const (
	ServiceAVTransport      = "urn:schemas-upnp-org:service:AVTransport:1"
	ServiceRenderingControl = "urn:schemas-upnp-org:service:RenderingControl:1"
	ServiceConnectionManage = "urn:schemas-upnp-org:service:ConnectionManager:1"
)

// AVTransport actions.
const (
	ActionSetAVTransportURI = "SetAVTransportURI"
	ActionPlay              = "Play"
	ActionPause             = "Pause"
	ActionStop              = "Stop"
	ActionGetTransportInfo  = "GetTransportInfo"
	ActionGetPositionInfo   = "GetPositionInfo"
)

// Handle identifies an event subscription created by Subscribe.
type Handle struct {
	DeviceID string
	Service  string
	// SID is the subscription identifier returned by the device.
	SID string
}

// ActionGateway invokes actions on device services and manages event
// subscriptions. Implementations must be safe for concurrent use.
type ActionGateway interface {
	Invoke(ctx context.Context, deviceID, service, action string, args map[string]string) (map[string]string, error)
	Subscribe(ctx context.Context, deviceID, service string) (Handle, error)
	Unsubscribe(ctx context.Context, h Handle) error
}

// FaultError is a device-reported action failure.
type FaultError struct {
	Code        int
	Description string
}

func (e *FaultError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("upnp fault %d", e.Code)
	}
	return fmt.Sprintf("upnp fault %d: %s", e.Code, e.Description)
}

// Outcome is the classification of an action result.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeFault is an authoritative failure.
	OutcomeFault
	// OutcomeTransient is inconclusive: the device may or may not have acted.
	OutcomeTransient
	// OutcomeCanceled means the caller abandoned the call.
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFault:
		return "fault"
	case OutcomeTransient:
		return "transient"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify maps an Invoke error onto an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	var fault *FaultError
	if errors.As(err, &fault) {
		return OutcomeFault
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTransient
	}
	if errors.Is(err, context.Canceled) {
		return OutcomeCanceled
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTransient
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection reset",
		"connection refused",
		"broken pipe",
		"unexpected eof",
		"network is unreachable",
		"no route to host",
		"host is down",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return OutcomeTransient
		}
	}
	return OutcomeFault
}

// FaultReason returns a short description of a failed action.
func FaultReason(action string, err error) string {
	var fault *FaultError
	if errors.As(err, &fault) {
		return fmt.Sprintf("%s: %s", action, fault.Error())
	}
	return fmt.Sprintf("%s: %v", action, err)
}
