package ui

import "testing"

func TestRenderStatus(t *testing.T) {
	saved := noColor
	defer func() { noColor = saved }()
	noColor = false

	tests := []struct {
		status string
		code   string
	}{
		{"reconciled", "114"},
		{"success", "114"},
		{"pending", "179"},
		{"paid", "179"},
		{"failed", "203"},
		{"fail", "203"},
	}
	for _, tt := range tests {
		want := "\x1b[38;5;" + tt.code + "m" + tt.status + "\x1b[0m"
		if got := RenderStatus(tt.status); got != want {
			t.Errorf("RenderStatus(%q) = %q, want %q", tt.status, got, want)
		}
	}
	if got := RenderStatus("weird"); got != "weird" {
		t.Errorf("unknown status styled: %q", got)
	}
}

func TestForceNoColor(t *testing.T) {
	saved := noColor
	defer func() { noColor = saved }()

	ForceNoColor()
	if got := RenderStatus("failed"); got != "failed" {
		t.Errorf("RenderStatus with no color = %q", got)
	}
	if got := RenderAccent("x"); got != "x" {
		t.Errorf("RenderAccent with no color = %q", got)
	}
}

func TestShouldUseColor_NoColorEnv(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("CLICOLOR_FORCE", "1")
	if ShouldUseColor() {
		t.Error("NO_COLOR should win over CLICOLOR_FORCE")
	}
}

func TestShouldUseColor_Force(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR_FORCE", "1")
	if !ShouldUseColor() {
		t.Error("CLICOLOR_FORCE=1 should enable color")
	}
}

func TestPolicyFromEnv(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want colorPolicy
	}{
		{"empty", nil, policyAuto},
		{"no color", map[string]string{"NO_COLOR": "yes"}, policyNever},
		{"force", map[string]string{"CLICOLOR_FORCE": " 1 "}, policyAlways},
		{"clicolor off", map[string]string{"CLICOLOR": "0"}, policyNever},
		{"force beats clicolor", map[string]string{"CLICOLOR": "0", "CLICOLOR_FORCE": "1"}, policyAlways},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policyFromEnv(func(k string) string { return tt.env[k] })
			if got != tt.want {
				t.Errorf("policyFromEnv = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestColorEnabled_NilFile(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR_FORCE", "")
	t.Setenv("CLICOLOR", "")
	if ColorEnabled(nil) {
		t.Error("nil file should not be treated as a terminal")
	}
}
