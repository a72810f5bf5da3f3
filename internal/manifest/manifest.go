// Package manifest records the artifacts a repackaging run produced so a
// later invocation can verify they are still intact on disk.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Entry struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Format    string    `json:"format"`
	SizeBytes int64     `json:"size_bytes"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"created_at"`
}

// Build creates one entry per artifact path, hashing each file.
func Build(paths []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		sum, err := ComputeSHA256(p)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			Path:      p,
			Name:      filepath.Base(p),
			Format:    formatLabel(p),
			SizeBytes: info.Size(),
			SHA256:    sum,
			CreatedAt: time.Now().UTC(),
		})
	}
	return entries, nil
}

// Write serializes entries as indented JSON.
func Write(w io.Writer, entries []Entry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

// Save writes entries to path, creating parent directories.
func Save(path string, entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, entries); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a manifest file.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Verify re-hashes every entry's file and returns an error naming the
// first missing or altered artifact.
func Verify(entries []Entry) error {
	for _, e := range entries {
		info, err := os.Stat(e.Path)
		if err != nil {
			return fmt.Errorf("artifact %s: %w", e.Name, err)
		}
		if info.Size() != e.SizeBytes {
			return fmt.Errorf("artifact %s: size changed from %d to %d bytes", e.Name, e.SizeBytes, info.Size())
		}
		sum, err := ComputeSHA256(e.Path)
		if err != nil {
			return fmt.Errorf("artifact %s: %w", e.Name, err)
		}
		if sum != e.SHA256 {
			return fmt.Errorf("artifact %s: checksum mismatch", e.Name)
		}
	}
	return nil
}

// ComputeSHA256 calculates SHA256 hash of a file
func ComputeSHA256(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func formatLabel(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "NONE"
	}
	return strings.ToUpper(ext)
}
