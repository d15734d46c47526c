package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "read udp: i/o deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeSuccess},
		{"fault", &FaultError{Code: 701, Description: "Transition not available"}, OutcomeFault},
		{"wrapped fault", fmt.Errorf("play: %w", &FaultError{Code: 714}), OutcomeFault},
		{"deadline", fmt.Errorf("invoke: %w", context.DeadlineExceeded), OutcomeTransient},
		{"canceled", context.Canceled, OutcomeCanceled},
		{"net timeout", timeoutErr{}, OutcomeTransient},
		{"refused", errors.New("dial tcp 10.0.0.2:1400: connect: connection refused"), OutcomeTransient},
		{"unreachable", errors.New("connect: network is unreachable"), OutcomeTransient},
		{"other", errors.New("malformed response envelope"), OutcomeFault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestFaultErrorMessage(t *testing.T) {
	assert.Equal(t, "upnp fault 716: Resource not found", (&FaultError{Code: 716, Description: "Resource not found"}).Error())
	assert.Equal(t, "upnp fault 501", (&FaultError{Code: 501}).Error())
	assert.Equal(t, "Play: upnp fault 701", FaultReason("Play", &FaultError{Code: 701}))
}
