// Package writer persists labelled snapshots into day archive files and
// ships closed days to object storage.
package writer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"depthflow/internal/archive"
	"depthflow/internal/timestamp"
	"depthflow/logger"
	"depthflow/models"
)

// ErrDuplicateTimestamp is returned when the target file already holds a
// group with the same label. Nothing is written.
var ErrDuplicateTimestamp = errors.New("duplicate timestamp label")

// Mode tells whether a write created the day file or extended it.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeAppend Mode = "append"
)

// StorageError is an I/O or encoding failure on the archive.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("archive %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Result describes one successful Persist.
type Result struct {
	Path      string
	Date      string
	Mode      Mode
	Rows      int // rows added by this write
	TotalRows int // rows in the file after the write
	// Rollover is set when Date differs from the previous write of this
	// writer; Previous then holds the closed date.
	Rollover bool
	Previous string
}

// ArchiveWriter writes snapshots into <dir>/<date>.db. A writer is owned
// by one worker run and is not safe for concurrent use.
type ArchiveWriter struct {
	dir      string
	lastDate string
	log      *logger.Log
}

// NewArchiveWriter returns a writer rooted at dir.
func NewArchiveWriter(dir string) *ArchiveWriter {
	return &ArchiveWriter{dir: dir, log: logger.GetLogger()}
}

// Dir returns the archive directory.
func (w *ArchiveWriter) Dir() string { return w.dir }

// Persist adds snap as the group label to the file of label's date. A new
// day file is built under a temp name and renamed into place. An existing
// file gets the group in a single transaction that either commits in full
// or leaves the file as it was; earlier groups are never rewritten.
func (w *ArchiveWriter) Persist(ctx context.Context, snap *models.Snapshot, label timestamp.Label) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := snap.Validate(); err != nil {
		return Result{}, fmt.Errorf("refusing to persist snapshot %s: %w", label.Text, err)
	}

	start := time.Now()
	path := archive.Path(w.dir, label.Time)
	date := label.Date()
	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"path":  path,
		"label": label.Text,
	})

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return Result{}, &StorageError{Op: "mkdir", Path: w.dir, Err: err}
	}

	group := archive.GroupFromSnapshot(snap, label.Text)
	var (
		mode  Mode
		stats archive.Stats
		err   error
	)
	switch _, statErr := os.Stat(path); {
	case statErr == nil:
		mode = ModeAppend
		stats, err = appendGroup(path, group)
	case errors.Is(statErr, os.ErrNotExist):
		mode = ModeCreate
		stats, err = createFile(path, group)
	default:
		return Result{}, &StorageError{Op: "stat", Path: path, Err: statErr}
	}
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Path:      path,
		Date:      date,
		Mode:      mode,
		Rows:      group.Rows(),
		TotalRows: int(stats.Rows),
	}
	if w.lastDate != "" && w.lastDate != date {
		res.Rollover = true
		res.Previous = w.lastDate
	}
	w.lastDate = date

	logger.LogPerformanceEntry(log, "archive_writer", "persist", time.Since(start), logger.Fields{
		"mode":   string(mode),
		"rows":   res.Rows,
		"groups": stats.Groups,
	})
	logger.LogDataFlowEntry(log, "depth_fetcher", "archive_writer", res.Rows, "depth_rows")
	return res, nil
}

func appendGroup(path string, g archive.Group) (archive.Stats, error) {
	f, err := archive.Open(path)
	if err != nil {
		return archive.Stats{}, &StorageError{Op: "open", Path: path, Err: err}
	}
	stats, err := f.AddGroup(g)
	closeErr := f.Close()
	if errors.Is(err, archive.ErrGroupExists) {
		return archive.Stats{}, fmt.Errorf("%w: %s already in %s", ErrDuplicateTimestamp, g.Label, path)
	}
	if err != nil {
		return archive.Stats{}, &StorageError{Op: "write", Path: path, Err: err}
	}
	if closeErr != nil {
		return archive.Stats{}, &StorageError{Op: "close", Path: path, Err: closeErr}
	}
	return stats, nil
}

// createFile writes the first group of a day into a temp file next to path
// and renames it into place, so a day file only ever appears complete.
func createFile(path string, g archive.Group) (archive.Stats, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return archive.Stats{}, &StorageError{Op: "create", Path: path, Err: err}
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return archive.Stats{}, &StorageError{Op: "create", Path: tmpPath, Err: err}
	}

	f, err := archive.Open(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return archive.Stats{}, &StorageError{Op: "open", Path: tmpPath, Err: err}
	}
	stats, err := f.AddGroup(g)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return archive.Stats{}, &StorageError{Op: "write", Path: tmpPath, Err: err}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return archive.Stats{}, &StorageError{Op: "rename", Path: path, Err: err}
	}
	if err := syncDir(dir); err != nil {
		return archive.Stats{}, &StorageError{Op: "sync", Path: dir, Err: err}
	}
	return stats, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
