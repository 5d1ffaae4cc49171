// Package ui provides terminal styling for changegate CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Mobizinc/changegate/internal/types"
)

var (
	// Semantic status colors (Ayu theme - adaptive light/dark)
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// RenderVerdict styles an overall verdict status.
func RenderVerdict(status types.OverallStatus) string {
	switch status {
	case types.VerdictPassed:
		return PassStyle.Render(string(status))
	case types.VerdictFailed:
		return FailStyle.Render(string(status))
	case types.VerdictWarning:
		return WarnStyle.Render(string(status))
	default:
		return MutedStyle.Render(string(status))
	}
}

// RenderStatus styles a request lifecycle status.
func RenderStatus(status types.Status) string {
	switch status {
	case types.StatusCompleted:
		return PassStyle.Render(string(status))
	case types.StatusFailed:
		return FailStyle.Render(string(status))
	case types.StatusProcessing:
		return AccentStyle.Render(string(status))
	default:
		return MutedStyle.Render(string(status))
	}
}
