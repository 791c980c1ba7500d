// Package jsonfile keeps keyed JSON documents on the local filesystem.
//
// A Document is a single JSON object whose top-level keys are owned by
// different callers (one key per user). Updates are read-modify-write of the
// whole object inside a mutex, and every write goes to a temporary file in
// the same directory that is fsynced and renamed over the original, so a
// crash never leaves a half-written document behind.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"finman/internal/core"
)

// Entries is the decoded top level of a document. Values stay raw so that
// entries not touched by an update are written back unchanged (modulo
// whitespace).
type Entries map[string]json.RawMessage

// Document is a JSON object stored in a single file.
type Document struct {
	mu   sync.Mutex
	path string
	perm fs.FileMode
}

// NewDocument returns a document backed by path. The file is created on the
// first update; its parent directory is created as needed.
func NewDocument(path string) *Document {
	return &Document{path: path, perm: 0o600}
}

// Path returns the file location.
func (d *Document) Path() string {
	return d.path
}

// Read returns all entries. A missing file is an empty document.
func (d *Document) Read(ctx context.Context) (Entries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.read()
}

// Update loads the document, lets fn modify the entries and writes the
// result back atomically. If fn returns an error nothing is written.
func (d *Document) Update(ctx context.Context, fn func(Entries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := d.read()
	if err != nil {
		if errors.Is(err, core.ErrCorruptStore) {
			return err
		}
		return fmt.Errorf("%w: %v", core.ErrPersistFailed, err)
	}
	if err := fn(entries); err != nil {
		return err
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", core.ErrPersistFailed, d.path, err)
	}
	if err := WriteFileAtomic(d.path, data, d.perm); err != nil {
		return fmt.Errorf("%w: %v", core.ErrPersistFailed, err)
	}
	return nil
}

func (d *Document) read() (Entries, error) {
	data, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Entries{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", d.path, err)
	}
	entries := Entries{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrCorruptStore, d.path, err)
	}
	if entries == nil {
		// "null" decodes without error into a nil map
		entries = Entries{}
	}
	return entries, nil
}

// WriteFileAtomic writes data to a temporary file next to path, flushes it
// to disk and renames it over path.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}
	committed = true
	return nil
}
