// Package banned maintains the registry of filenames that are excluded
// from all repackaged output. The registry is backed by a flat reference
// directory: every regular file's lowercase name is a banned entry, and
// the file itself is kept as a sample of what was removed.
package banned

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Registry is safe for concurrent reads; Reload and AddReference serialize
// against readers internally.
type Registry struct {
	dir string
	log zerolog.Logger

	mu    sync.RWMutex
	names map[string]struct{}
}

// Open loads the registry from dir, creating the directory if needed.
func Open(dir string, log zerolog.Logger) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating banned reference directory: %w", err)
	}
	r := &Registry{dir: dir, log: log}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the reference directory path.
func (r *Registry) Dir() string { return r.dir }

// Reload fully replaces the in-memory set from disk. Use it when an
// external process has changed the reference directory between runs.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading banned reference directory: %w", err)
	}

	names := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names[strings.ToLower(e.Name())] = struct{}{}
		}
	}

	r.mu.Lock()
	r.names = names
	r.mu.Unlock()

	r.log.Debug().Int("count", len(names)).Str("dir", r.dir).Msg("loaded banned file registry")
	return nil
}

// IsBanned reports whether the file name (case-insensitive, base name
// only) is banned.
func (r *Registry) IsBanned(name string) bool {
	key := strings.ToLower(filepath.Base(name))
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[key]
	return ok
}

// Len returns the number of banned entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// Names returns the banned entries in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// AddReference copies path into the reference directory and registers its
// name. Returns false when a reference copy already exists (the name is
// still registered in that case).
func (r *Registry) AddReference(path string) (bool, error) {
	name := filepath.Base(path)
	target := filepath.Join(r.dir, name)

	if _, err := os.Stat(target); err == nil {
		r.register(name)
		return false, nil
	}

	if err := copyFile(path, target); err != nil {
		return false, fmt.Errorf("copying banned reference %s: %w", name, err)
	}
	r.register(name)
	r.log.Info().Str("file", name).Msg("added banned file reference")
	return true, nil
}

func (r *Registry) register(name string) {
	r.mu.Lock()
	r.names[strings.ToLower(name)] = struct{}{}
	r.mu.Unlock()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
