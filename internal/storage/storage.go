// Package storage persists the runtime's state as a tree of JSON
// documents under a single root directory. A document is addressed by a
// key path like ["session", id] or ["message", sessionID, msgID]; the
// last segment names the document, the preceding ones its bucket
// directories. Writes are atomic (write-then-rename) and serialized per
// document, both within this process and across processes sharing the
// same root.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when no document exists at the key.
var ErrNotFound = errors.New("not found")

const docSuffix = ".json"

// Storage is a document store rooted at one directory. The zero value
// is not usable; construct with New.
type Storage struct {
	root string

	guardMu sync.Mutex
	guards  map[string]*docGuard
}

// docGuard serializes access to one document: an in-process mutex for
// goroutines in this process, an flock for other processes.
type docGuard struct {
	mu sync.Mutex
}

// New creates a Storage rooted at root. The directory need not exist
// yet; buckets are created on first write.
func New(root string) *Storage {
	return &Storage{
		root:   root,
		guards: make(map[string]*docGuard),
	}
}

// docFile resolves a key path to the document's file location.
func (s *Storage) docFile(key []string) string {
	return filepath.Join(append([]string{s.root}, key...)...) + docSuffix
}

// bucketDir resolves a key path to a bucket directory.
func (s *Storage) bucketDir(key []string) string {
	return filepath.Join(append([]string{s.root}, key...)...)
}

// withDocLock runs fn while holding both the in-process guard and the
// on-disk flock for the document at file.
func (s *Storage) withDocLock(file string, fn func() error) error {
	s.guardMu.Lock()
	g, ok := s.guards[file]
	if !ok {
		g = &docGuard{}
		s.guards[file] = g
	}
	s.guardMu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	release, err := flockAcquire(file + ".lock")
	if err != nil {
		return fmt.Errorf("lock %s: %w", file, err)
	}
	defer release()

	return fn()
}

// Get reads the document at key into v. A missing document reports
// ErrNotFound; a present-but-corrupt one reports the decode error.
func (s *Storage) Get(ctx context.Context, key []string, v any) error {
	raw, err := os.ReadFile(s.docFile(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// Put writes v as the document at key, replacing any previous content.
// The document becomes visible atomically: the bytes land in a sibling
// temp file first and are renamed over the destination, so a reader
// never observes a half-written document.
func (s *Storage) Put(ctx context.Context, key []string, v any) error {
	file := s.docFile(key)
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}

	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	return s.withDocLock(file, func() error {
		tmp := file + ".tmp"
		if err := os.WriteFile(tmp, raw, 0o644); err != nil {
			return fmt.Errorf("stage document: %w", err)
		}
		if err := os.Rename(tmp, file); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("publish document: %w", err)
		}
		return nil
	})
}

// Delete removes the document at key. Deleting a document that doesn't
// exist is a no-op, so Delete is idempotent.
func (s *Storage) Delete(ctx context.Context, key []string) error {
	file := s.docFile(key)
	if _, err := os.Stat(filepath.Dir(file)); os.IsNotExist(err) {
		return nil
	}
	return s.withDocLock(file, func() error {
		err := os.Remove(file)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove document: %w", err)
		}
		return nil
	})
}

// List names everything directly under the bucket at key: document
// names (without their extension) and child bucket names, sorted. A
// bucket that was never written to lists as empty.
func (s *Storage) List(ctx context.Context, key []string) ([]string, error) {
	entries, err := os.ReadDir(s.bucketDir(key))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read bucket: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.IsDir():
			names = append(names, e.Name())
		case strings.HasSuffix(e.Name(), docSuffix):
			names = append(names, strings.TrimSuffix(e.Name(), docSuffix))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Scan visits every document directly under the bucket at key, in name
// order, handing fn the document's name and raw bytes. fn returning an
// error stops the scan and propagates it; unreadable documents are
// skipped rather than aborting the walk.
func (s *Storage) Scan(ctx context.Context, key []string, fn func(name string, raw json.RawMessage) error) error {
	dir := s.bucketDir(key)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read bucket: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), docSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if err := fn(strings.TrimSuffix(name, docSuffix), json.RawMessage(raw)); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether a document is present at key.
func (s *Storage) Exists(ctx context.Context, key []string) bool {
	_, err := os.Stat(s.docFile(key))
	return err == nil
}
