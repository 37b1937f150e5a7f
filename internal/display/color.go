// Package display renders listing output, diagnostics and history tables on
// terminals.
package display

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/sys/unix"
)

// ColorMode selects when output is colored.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// ParseColorMode validates a --color value.
func ParseColorMode(s string) (ColorMode, error) {
	switch m := ColorMode(s); m {
	case ColorAuto, ColorAlways, ColorNever:
		return m, nil
	default:
		return "", fmt.Errorf("invalid color mode %q (want auto, always, or never)", s)
	}
}

// NewRenderer returns a lipgloss renderer for w honoring mode. In auto mode
// the profile comes from the environment (NO_COLOR, CLICOLOR_FORCE, TERM)
// and whether w is a terminal.
func NewRenderer(w io.Writer, mode ColorMode) *lipgloss.Renderer {
	r := lipgloss.NewRenderer(w)
	switch mode {
	case ColorNever:
		r.SetColorProfile(termenv.Ascii)
	case ColorAlways:
		r.SetColorProfile(termenv.ANSI256)
	default:
		r.SetColorProfile(termenv.NewOutput(w).EnvColorProfile())
	}
	return r
}

// Styles are the styles shared by both commands.
type Styles struct {
	Error  lipgloss.Style
	OK     lipgloss.Style
	Dim    lipgloss.Style
	Header lipgloss.Style
}

// NewStyles builds Styles bound to r.
func NewStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Error:  r.NewStyle().Foreground(lipgloss.Color("196")),
		OK:     r.NewStyle().Foreground(lipgloss.Color("42")),
		Dim:    r.NewStyle().Foreground(lipgloss.Color("241")),
		Header: r.NewStyle().Bold(true),
	}
}

// IsTerminal reports whether f refers to a terminal.
func IsTerminal(f *os.File) bool {
	_, err := unix.IoctlGetWinsize(int(f.Fd()), unix.TIOCGWINSZ)
	return err == nil
}

// TerminalWidth returns the column count of f, or 0 if unavailable.
func TerminalWidth(f *os.File) int {
	ws, err := unix.IoctlGetWinsize(int(f.Fd()), unix.TIOCGWINSZ)
	if err != nil || ws.Col == 0 {
		return 0
	}
	return int(ws.Col)
}
