package registry

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// File is a registry backed by a file on disk. Lookup re-reads the file
// when its size or modification time changes, so an operator can add a
// missing employee and retry the payout without a restart. A file that no
// longer parses keeps the last good contents in effect.
type File struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	current *Registry
	modTime time.Time
	size    int64
}

// Open loads path. Unlike later reloads, the first load must succeed.
func Open(path string, logger *slog.Logger) (*File, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	r, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &File{path: path, logger: logger, current: r, modTime: st.ModTime(), size: st.Size()}, nil
}

// Lookup resolves addr against the current file contents.
func (f *File) Lookup(addr string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh()
	return f.current.Lookup(addr)
}

// Len returns the number of employees in the last good load.
func (f *File) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.Len()
}

// must be called with mu held
func (f *File) refresh() {
	st, err := os.Stat(f.path)
	if err != nil {
		f.logger.Warn("registry file unreadable, keeping previous entries", "path", f.path, "err", err)
		return
	}
	if st.ModTime().Equal(f.modTime) && st.Size() == f.size {
		return
	}
	// Remember the version even when it fails to parse, so a broken file is
	// reported once rather than on every lookup.
	f.modTime, f.size = st.ModTime(), st.Size()

	r, err := Load(f.path)
	if err != nil {
		f.logger.Error("registry reload failed, keeping previous entries", "path", f.path, "err", err)
		return
	}
	f.current = r
	f.logger.Info("registry reloaded", "path", f.path, "entries", r.Len())
}
