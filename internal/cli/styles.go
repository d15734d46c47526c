package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/tessro/avctl/internal/core"
)

var (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorSuccess = lipgloss.Color("#10B981")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
	colorInfo    = lipgloss.Color("#3B82F6")
	colorMuted   = lipgloss.Color("#9CA3AF")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	errorStyle = lipgloss.NewStyle().Foreground(colorError)
)

// stateLabel renders a session state in its color.
func stateLabel(s core.SessionState) string {
	style := lipgloss.NewStyle()
	switch s {
	case core.StatePlaying:
		style = style.Foreground(colorSuccess)
	case core.StatePaused, core.StateLoading, core.StateStopping:
		style = style.Foreground(colorWarning)
	case core.StateFaulted:
		style = style.Foreground(colorError)
	default:
		style = style.Foreground(colorMuted)
	}
	return style.Render(s.String())
}

// capabilityLabel renders a device capability in its color.
func capabilityLabel(c core.Capability) string {
	style := lipgloss.NewStyle()
	switch c {
	case core.CapabilityRenderer:
		style = style.Foreground(colorSuccess)
	case core.CapabilityServer:
		style = style.Foreground(colorInfo)
	default:
		style = style.Foreground(colorMuted)
	}
	return style.Render(string(c))
}
