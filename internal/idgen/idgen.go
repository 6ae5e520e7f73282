// Package idgen generates short identifiers for nodes and requests.
package idgen

import (
	"fmt"
	"strings"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	alphabet     = "abcdefghijklmnopqrstuvwxyz0123456789"
	nodeLength   = 8
	requestLen   = 12
	maxHostChars = 24
)

// NodeID returns an id for this process, e.g. "payroll-1-x7k2m9qa". It is
// stamped on every broadcast envelope so a node can ignore its own messages.
// host may be empty.
func NodeID(host string) (string, error) {
	suffix, err := nanoid.Generate(alphabet, nodeLength)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	if h := sanitize(host); h != "" {
		return h + "-" + suffix, nil
	}
	return "node-" + suffix, nil
}

// RequestID returns a random id for correlating one HTTP request in logs.
func RequestID() string {
	id, err := nanoid.Generate(alphabet, requestLen)
	if err != nil {
		return "unknown"
	}
	return "req-" + id
}

// sanitize keeps the lowercase alphanumerics and dashes of host.
func sanitize(host string) string {
	host, _, _ = strings.Cut(strings.ToLower(host), ".")
	var b strings.Builder
	for _, r := range host {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
		if b.Len() == maxHostChars {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
