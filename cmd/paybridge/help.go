package main

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/paybridge/internal/ui"
)

// Patterns applied to Cobra's plain help text.
var (
	// Group headers such as "Claims:" or "Flags:".
	reGroupHeader = regexp.MustCompile(`(?m)^([A-Z][^\n]*:)[ \t]*$`)

	// Two-space indented command name followed by its description.
	reCommand = regexp.MustCompile(`(?m)^(  )(\S+)(  )`)

	// Flag value types, e.g. "--http-url string".
	reFlagType = regexp.MustCompile(`(--?\S+\s+)(string|int|duration|strings)\b`)

	reDefault = regexp.MustCompile(`\(default "[^"]*"\)`)
)

// colorizedHelpFunc renders usage through colorizeHelp when stdout supports
// color and falls back to Cobra's plain output otherwise.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelp(buf.String()))
	}
}

func colorizeHelp(s string) string {
	s = reGroupHeader.ReplaceAllString(s, ui.RenderAccent("$1"))
	s = reCommand.ReplaceAllStringFunc(s, func(m string) string {
		p := reCommand.FindStringSubmatch(m)
		return p[1] + ui.RenderCommand(p[2]) + p[3]
	})
	s = reFlagType.ReplaceAllStringFunc(s, func(m string) string {
		p := reFlagType.FindStringSubmatch(m)
		return p[1] + ui.RenderMuted(p[2])
	})
	return reDefault.ReplaceAllStringFunc(s, ui.RenderMuted)
}
