package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// colorPolicy is the outcome of the color environment variables alone.
type colorPolicy int

const (
	policyAuto colorPolicy = iota
	policyNever
	policyAlways
)

// policyFromEnv follows https://no-color.org and the CLICOLOR conventions.
// NO_COLOR beats CLICOLOR_FORCE, which beats CLICOLOR.
func policyFromEnv(getenv func(string) string) colorPolicy {
	switch {
	case getenv("NO_COLOR") != "":
		return policyNever
	case strings.TrimSpace(getenv("CLICOLOR_FORCE")) == "1":
		return policyAlways
	case strings.TrimSpace(getenv("CLICOLOR")) == "0":
		return policyNever
	}
	return policyAuto
}

// ColorEnabled reports whether output written to f should carry ANSI colors.
func ColorEnabled(f *os.File) bool {
	switch policyFromEnv(os.Getenv) {
	case policyNever:
		return false
	case policyAlways:
		return true
	}
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// ShouldUseColor is ColorEnabled for stdout.
func ShouldUseColor() bool { return ColorEnabled(os.Stdout) }
