// Package registry maps payee ledger addresses to payment-rail destinations.
package registry

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// file is the on-disk layout shared by every supported format:
//
//	[employees]
//	"0x5B38Da6a701c568545dCfcB03FcB875f56beddC4" = "acct_1Nv0FGQ9RKHgCVdK"
//
// JSON and YAML files may instead use the legacy layout keyed by address at
// the top level:
//
//	{"0x5b38...": {"connectedAccountId": "acct_1Nv0FGQ9RKHgCVdK"}}
type file struct {
	Employees map[string]string `toml:"employees" yaml:"employees"`
}

type legacyEntry struct {
	ConnectedAccountID string `yaml:"connectedAccountId"`
}

// Registry is an immutable, case-insensitive address lookup.
type Registry struct {
	byAddr map[string]string
}

// New builds a registry from address -> destination pairs. Addresses may be
// lowercase or EIP-55 checksummed.
func New(entries map[string]string) (*Registry, error) {
	r := &Registry{byAddr: make(map[string]string, len(entries))}
	for addr, dest := range entries {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("registry: invalid address %q", addr)
		}
		dest = strings.TrimSpace(dest)
		if dest == "" {
			return nil, fmt.Errorf("registry: empty destination for %s", addr)
		}
		key := normalize(addr)
		if prev, ok := r.byAddr[key]; ok && prev != dest {
			return nil, fmt.Errorf("registry: conflicting destinations for %s", addr)
		}
		r.byAddr[key] = dest
	}
	return r, nil
}

// Load reads a registry file. The format is chosen by extension: .toml, or
// .yaml/.yml/.json (JSON is parsed as YAML).
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(filepath.Ext(path), data)
}

// Parse decodes registry data in the format named by ext.
func Parse(ext string, data []byte) (*Registry, error) {
	var f file
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&f); err != nil {
			return nil, fmt.Errorf("parse registry toml: %w", err)
		}
	case ".yaml", ".yml", ".json":
		var top map[string]yaml.Node
		if err := yaml.Unmarshal(data, &top); err != nil {
			return nil, fmt.Errorf("parse registry yaml: %w", err)
		}
		if _, ok := top["employees"]; !ok && len(top) > 0 {
			return parseLegacy(data)
		}
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse registry yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("registry: unsupported format %q", ext)
	}
	return New(f.Employees)
}

func parseLegacy(data []byte) (*Registry, error) {
	var legacy map[string]legacyEntry
	if err := yaml.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("parse legacy registry: %w", err)
	}
	entries := make(map[string]string, len(legacy))
	for addr, e := range legacy {
		entries[addr] = e.ConnectedAccountID
	}
	return New(entries)
}

// Lookup returns the destination for addr, matching case-insensitively.
func (r *Registry) Lookup(addr string) (string, bool) {
	if r == nil {
		return "", false
	}
	dest, ok := r.byAddr[normalize(addr)]
	return dest, ok
}

// Len returns the number of registered employees.
func (r *Registry) Len() int {
	return len(r.byAddr)
}

func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
