package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorPass   = 114 // green
	colorWarn   = 179 // amber
	colorFail   = 203 // red
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderStatus colors a claim or broadcast status: green for settled
// outcomes, amber for in-flight ones, red for failures. Unknown values are
// returned unstyled.
func RenderStatus(status string) string {
	switch status {
	case "reconciled", "success":
		return paint(colorPass, status)
	case "pending", "paid":
		return paint(colorWarn, status)
	case "failed", "fail":
		return paint(colorFail, status)
	}
	return status
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
