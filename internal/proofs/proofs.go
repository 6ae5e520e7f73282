// Package proofs registers sealed output artifacts found on disk.
package proofs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alfredjeanlab/paybridge/internal/model"
)

// Extension marks a sealed artifact.
const Extension = ".encrypted"

// URLPrefix is where artifacts are served from.
const URLPrefix = "/artifacts/"

// Inserter records a proof name; inserted is false when it was already known.
type Inserter interface {
	InsertProof(ctx context.Context, name string) (inserted bool, err error)
}

// Sync inserts every *.encrypted file in dir and returns how many were new.
// A missing directory is not an error.
func Sync(ctx context.Context, store Inserter, dir string, logger *slog.Logger) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug("artifacts directory missing, nothing to sync", "dir", dir)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read artifacts dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), Extension) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	added := 0
	for _, name := range names {
		inserted, err := store.InsertProof(ctx, name)
		if err != nil {
			return added, fmt.Errorf("insert proof %s: %w", name, err)
		}
		if inserted {
			added++
			logger.Info("proof registered", "name", name)
		}
	}
	return added, nil
}

// WithURLs fills in the public URL of each proof.
func WithURLs(list []*model.Proof) []*model.Proof {
	for _, p := range list {
		p.URL = URLPrefix + filepath.Base(p.Name)
	}
	return list
}
