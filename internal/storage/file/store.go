// Package file provides JSON-file persistence with atomic replace
// semantics and generational backups.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// snapshot is the on-disk layout: the full record collection keyed by id
// plus write metadata.
type snapshot[T any] struct {
	Records  map[string]T `json:"records"`
	Metadata metadata     `json:"metadata"`
}

type metadata struct {
	SavedAt time.Time `json:"saved_at"`
	Version string    `json:"version"`
	Total   int       `json:"total"`
}

const layoutVersion = "1"

// store persists a record collection in a single JSON file. Every save
// backs the previous generation up first and replaces the live file
// atomically (temp write, fsync, rename), so a crash mid-write never
// leaves a half-written live file observable.
type store[T any] struct {
	path      string
	retention int
	validate  func(id string, rec T) error

	mu sync.Mutex
}

func newStore[T any](path string, retention int, validate func(id string, rec T) error) (*store[T], error) {
	if retention < 1 {
		return nil, fmt.Errorf("backup retention must be >= 1, got %d", retention)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &store[T]{path: path, retention: retention, validate: validate}, nil
}

// Load reads the full record collection. On corruption it falls back
// through backup generations, newest first; when every generation is
// exhausted it returns an empty collection and logs at error severity
// rather than failing startup.
func (s *store[T]) Load(_ context.Context) (map[string]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAndValidate(s.path)
	if err == nil {
		return records, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]T), nil
	}

	slog.Warn("store file unreadable, falling back to backups", "path", s.path, "error", err)

	for _, backup := range s.backupsNewestFirst() {
		records, backupErr := s.readAndValidate(backup)
		if backupErr != nil {
			slog.Warn("backup generation unreadable", "path", backup, "error", backupErr)
			continue
		}
		slog.Info("recovered store from backup", "path", backup, "records", len(records))
		return records, nil
	}

	slog.Error("store corrupted and all backup generations exhausted, initializing empty store",
		"path", s.path,
		"error", err,
	)
	return make(map[string]T), nil
}

// Save atomically replaces the full record collection, backing up the
// previous generation first.
func (s *store[T]) Save(_ context.Context, records map[string]T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backup(); err != nil {
		// A failed backup must not block the write, but it is worth noise.
		slog.Warn("failed to back up store before save", "path", s.path, "error", err)
	}

	snap := snapshot[T]{
		Records: records,
		Metadata: metadata{
			SavedAt: time.Now().UTC(),
			Version: layoutVersion,
			Total:   len(records),
		},
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}

	slog.Debug("store saved", "path", s.path, "records", len(records))
	return nil
}

func (s *store[T]) readAndValidate(path string) (map[string]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var snap snapshot[T]
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if snap.Records == nil {
		return nil, fmt.Errorf("decode %s: missing records collection", path)
	}

	for id, rec := range snap.Records {
		if err := s.validate(id, rec); err != nil {
			return nil, fmt.Errorf("validate record %s: %w", id, err)
		}
	}
	return snap.Records, nil
}

// backup copies the live file to the next backup generation and prunes
// the oldest generations beyond the retention count.
func (s *store[T]) backup() error {
	src, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer src.Close()

	generations := s.backupGenerations()
	next := 1
	if len(generations) > 0 {
		next = generations[len(generations)-1] + 1
	}

	dstPath := fmt.Sprintf("%s.bak.%d", s.path, next)
	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create backup %s: %w", dstPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copy backup %s: %w", dstPath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close backup %s: %w", dstPath, err)
	}

	generations = append(generations, next)
	for len(generations) > s.retention {
		oldest := generations[0]
		generations = generations[1:]
		old := fmt.Sprintf("%s.bak.%d", s.path, oldest)
		if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to prune backup generation", "path", old, "error", err)
		}
	}
	return nil
}

// backupGenerations returns the existing generation numbers, oldest first.
func (s *store[T]) backupGenerations() []int {
	prefix := filepath.Base(s.path) + ".bak."
	entries, err := os.ReadDir(filepath.Dir(s.path))
	if err != nil {
		return nil
	}

	var generations []int
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
		if err != nil {
			continue
		}
		generations = append(generations, n)
	}
	sort.Ints(generations)
	return generations
}

func (s *store[T]) backupsNewestFirst() []string {
	generations := s.backupGenerations()
	paths := make([]string, 0, len(generations))
	for i := len(generations) - 1; i >= 0; i-- {
		paths = append(paths, fmt.Sprintf("%s.bak.%d", s.path, generations[i]))
	}
	return paths
}
