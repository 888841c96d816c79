// Package snapshot persists the item set of each cycle and tracks which
// snapshot is the latest one.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aluiziolira/go-shop-tracker/errs"
	"github.com/aluiziolira/go-shop-tracker/models"
)

const (
	// PointerFile holds the file name of the latest snapshot.
	PointerFile = "latest-snapshot.ptr"

	filePrefix = "snap_"
	fileSuffix = ".json"
	timeLayout = "2006-01-02-15:04:05"
)

// Clock abstracts time retrieval so snapshot names are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Store reads and writes snapshots in a directory.
type Store struct {
	dir   string
	clock Clock
}

// New returns a store rooted at dir.
func New(dir string, clock Clock) *Store {
	if clock == nil {
		clock = RealClock{}
	}
	return &Store{dir: dir, clock: clock}
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// FileName returns the snapshot file name for t, in UTC.
func FileName(t time.Time) string {
	return filePrefix + t.UTC().Format(timeLayout) + fileSuffix
}

// LoadLatest returns the items of the snapshot named by the pointer file.
// A missing pointer means no snapshot was ever written and reports false.
// A pointer naming a missing or unreadable file is an error.
func (s *Store) LoadLatest(ctx context.Context) ([]models.Item, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	pointerPath := filepath.Join(s.dir, PointerFile)
	raw, err := os.ReadFile(pointerPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &errs.PersistenceError{Op: "read pointer", Path: pointerPath, Err: err}
	}

	name := strings.TrimSpace(string(raw))
	if name == "" || filepath.Base(name) != name {
		return nil, false, &errs.PersistenceError{Op: "read pointer", Path: pointerPath, Err: fmt.Errorf("invalid snapshot name %q", name)}
	}

	snapPath := filepath.Join(s.dir, name)
	data, err := os.ReadFile(snapPath)
	if err != nil {
		return nil, false, &errs.PersistenceError{Op: "read snapshot", Path: snapPath, Err: err}
	}
	var items []models.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, false, &errs.PersistenceError{Op: "decode snapshot", Path: snapPath, Err: err}
	}
	return items, true, nil
}

// WriteNew writes items as a new snapshot and then points the pointer file
// at it. The pointer is only replaced once the snapshot is durable, so a
// crash leaves at worst an orphaned snapshot. Returns the file name.
func (s *Store) WriteNew(ctx context.Context, items []models.Item) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", &errs.PersistenceError{Op: "create storage dir", Path: s.dir, Err: err}
	}

	sorted := make([]models.Item, len(items))
	copy(sorted, items)
	models.SortItems(sorted)

	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	name := FileName(s.clock.Now())
	if err := writeAtomic(s.dir, name, data); err != nil {
		return "", &errs.PersistenceError{Op: "write snapshot", Path: filepath.Join(s.dir, name), Err: err}
	}
	if err := writeAtomic(s.dir, PointerFile, []byte(name)); err != nil {
		return "", &errs.PersistenceError{Op: "write pointer", Path: filepath.Join(s.dir, PointerFile), Err: err}
	}
	return name, nil
}

// List returns the snapshot file names in the directory, oldest first.
func (s *Store) List() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, err
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = filepath.Base(m)
	}
	return names, nil
}

func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems refuse fsync on directories; the rename already happened.
	_ = d.Sync()
	return nil
}
