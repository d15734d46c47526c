package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for common failure scenarios.
var (
	ErrDeviceNotFound       = errors.New("device not found")
	ErrNotRenderer          = errors.New("device is not a media renderer")
	ErrNotServer            = errors.New("device is not a media server")
	ErrNoRenderer           = errors.New("no renderer selected")
	ErrInvalidPosition      = errors.New("playlist position out of range")
	ErrNotPlayable          = errors.New("playlist entry is not playable")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrTransitionInProgress = errors.New("transition in progress")
	ErrSessionFaulted       = errors.New("session faulted")
	ErrSessionClosed        = errors.New("session closed")
	ErrTimeout              = errors.New("request timeout")
	ErrNetworkError         = errors.New("network error")
	ErrConfigNotFound       = errors.New("config file not found")
	ErrInvalidConfig        = errors.New("invalid configuration")
)

// AvctlError wraps an error with a user-friendly suggestion.
type AvctlError struct {
	Err        error
	Suggestion string
}

func (e *AvctlError) Error() string {
	return e.Err.Error()
}

func (e *AvctlError) Unwrap() error {
	return e.Err
}

// WithSuggestion wraps an error with a helpful suggestion.
func WithSuggestion(err error, suggestion string) error {
	return &AvctlError{
		Err:        err,
		Suggestion: suggestion,
	}
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetSuggestion returns a suggestion for the given error.
func GetSuggestion(err error) string {
	if err == nil {
		return ""
	}

	var avErr *AvctlError
	if errors.As(err, &avErr) && avErr.Suggestion != "" {
		return avErr.Suggestion
	}

	errStr := strings.ToLower(err.Error())

	// Device errors
	if errors.Is(err, ErrDeviceNotFound) || errors.Is(err, ErrNoRenderer) {
		return "Run 'avctl devices' to see available devices"
	}
	if errors.Is(err, ErrNotRenderer) {
		return "Run 'avctl devices --renderers' to list devices that can play media"
	}
	if errors.Is(err, ErrNotServer) {
		return "Run 'avctl devices --servers' to list media servers"
	}

	// Session errors
	if errors.Is(err, ErrSessionFaulted) {
		return "Start playback again with 'avctl play' to recover"
	}
	if errors.Is(err, ErrTransitionInProgress) {
		return "Wait for the renderer to confirm the previous command"
	}
	if errors.Is(err, ErrInvalidPosition) {
		return "Check the playlist length with 'avctl queue show'"
	}

	// Network errors
	if errors.Is(err, ErrNetworkError) || errors.Is(err, ErrTimeout) ||
		strings.Contains(errStr, "timeout") || strings.Contains(errStr, "connection refused") {
		return "Check that the device is powered on and reachable on the local network"
	}

	// Config errors
	if errors.Is(err, ErrConfigNotFound) || errors.Is(err, ErrInvalidConfig) {
		return "Run 'avctl config init' to create a configuration file"
	}

	return ""
}

// Format returns a formatted error message with suggestion if available.
func Format(err error) string {
	if err == nil {
		return ""
	}

	suggestion := GetSuggestion(err)
	if suggestion != "" {
		return fmt.Sprintf("Error: %s\n\nSuggestion: %s", err.Error(), suggestion)
	}

	return fmt.Sprintf("Error: %s", err.Error())
}

// PartialResult represents a result that may have partial failures.
type PartialResult[T any] struct {
	Data   T
	Errors []error
}

// HasErrors returns true if there were any errors.
func (p *PartialResult[T]) HasErrors() bool {
	return len(p.Errors) > 0
}

// AddError adds an error to the partial result.
func (p *PartialResult[T]) AddError(err error) {
	if err != nil {
		p.Errors = append(p.Errors, err)
	}
}

// Err joins all collected errors, or returns nil.
func (p *PartialResult[T]) Err() error {
	return errors.Join(p.Errors...)
}

// ErrorSummary returns a summary of all errors.
func (p *PartialResult[T]) ErrorSummary() string {
	if len(p.Errors) == 0 {
		return ""
	}
	if len(p.Errors) == 1 {
		return p.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(p.Errors)))
	for i, err := range p.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}
