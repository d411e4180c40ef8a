// Package patchstore persists accepted patch payloads as individual JSON
// files on the local filesystem.
//
// The raw decoded payload is written verbatim so fields beyond the
// validated set survive the round trip to downstream consumers.
package patchstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Store writes and reads patch files under a single directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// FileInfo describes one stored patch file.
type FileInfo struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// NewStore creates the store and its directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating patches directory %s: %w", dir, err)
	}
	return &Store{
		dir:    dir,
		logger: slog.Default().With("component", "patch-store"),
	}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// SanitizeID makes a patch ID safe for use in a filename.
func SanitizeID(id string) string {
	id = strings.ReplaceAll(id, "/", "_")
	id = strings.ReplaceAll(id, " ", "_")
	return id
}

// Save writes the payload as pretty-printed JSON named
// <sanitized-id>_<UTC timestamp>.json and returns the full path.
func (s *Store) Save(payload map[string]any, id string, now time.Time) (string, error) {
	name := fmt.Sprintf("%s_%s.json", SanitizeID(id), now.UTC().Format("20060102_150405"))
	path := filepath.Join(s.dir, name)

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding patch %s: %w", id, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing patch file %s: %w", path, err)
	}

	s.logger.Info("Patch saved", "patch_id", id, "path", path)
	return path, nil
}

// List returns the stored patch files, newest first.
func (s *Store) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading patches directory: %w", err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:       entry.Name(),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModifiedAt.After(files[j].ModifiedAt)
	})
	return files, nil
}

// Read loads one stored patch payload by file name. The name must not
// escape the store directory.
func (s *Store) Read(name string) (map[string]any, error) {
	if filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid patch file name %q", name)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("reading patch file %s: %w", name, err)
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decoding patch file %s: %w", name, err)
	}
	return payload, nil
}

// Writable reports whether the store directory accepts writes. Used by
// the health probes.
func (s *Store) Writable() bool {
	f, err := os.CreateTemp(s.dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
