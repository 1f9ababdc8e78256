// Package ui renders CLI status output.
package ui

import (
	"os"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#81c784"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffb74d"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#e57373"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#64b5f6"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#616161", Dark: "#9e9e9e"}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	LabelStyle  = lipgloss.NewStyle().Width(12).Foreground(ColorMuted)
)

var colorEnabled atomic.Bool

func init() {
	colorEnabled.Store(ShouldUseColor())
}

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor reports whether output should be styled: stdout is a
// terminal and NO_COLOR is unset.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return IsTerminal()
}

// SetColor forces styling on or off.
func SetColor(on bool) {
	colorEnabled.Store(on)
}

func render(style lipgloss.Style, s string) string {
	if !colorEnabled.Load() {
		return s
	}
	return style.Render(s)
}

// RenderPass renders a success marker or message.
func RenderPass(s string) string { return render(PassStyle, s) }

// RenderWarn renders a warning marker or message.
func RenderWarn(s string) string { return render(WarnStyle, s) }

// RenderFail renders a failure marker or message.
func RenderFail(s string) string { return render(FailStyle, s) }

// RenderAccent renders highlighted text.
func RenderAccent(s string) string { return render(AccentStyle, s) }

// RenderMuted renders secondary text.
func RenderMuted(s string) string { return render(MutedStyle, s) }

// RenderHeader renders a section header.
func RenderHeader(s string) string { return render(HeaderStyle, s) }

// RenderField renders a "label value" line with an aligned label.
func RenderField(label, value string) string {
	if !colorEnabled.Load() {
		return label + ": " + value
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, LabelStyle.Render(label), value)
}
