// Package archive defines the on-disk layout of the depth archive. Every
// calendar date has one bbolt file. Inside it each snapshot is a bucket named
// by its timestamp label, holding one nested bucket per side, and each side
// bucket holds a compressed price/quantity dataset.
package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"depthflow/internal/timestamp"
)

// FileExt is the extension of day files.
const FileExt = ".db"

// ErrGroupExists is returned by AddGroup when the label is already stored.
var ErrGroupExists = errors.New("timestamp group already exists")

const (
	// statsBucket holds running totals; labels never start with '_'.
	statsBucket = "_stats"
	keyGroups   = "groups"
	keyRows     = "rows"

	lockTimeout = 5 * time.Second
)

// FileName returns the file name for date (YYYY-MM-DD).
func FileName(date string) string {
	return date + FileExt
}

// Path returns the day file that holds snapshots labelled at t.
func Path(dir string, t time.Time) string {
	return filepath.Join(dir, FileName(t.Format(timestamp.DateLayout)))
}

// DateOf extracts the date from a day file path, or "" when path is not a
// day file.
func DateOf(path string) string {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, FileExt) || strings.HasPrefix(base, ".") {
		return ""
	}
	date := strings.TrimSuffix(base, FileExt)
	if _, err := time.Parse(timestamp.DateLayout, date); err != nil {
		return ""
	}
	return date
}

// Dates lists the dates of all day files in dir in ascending order. A
// missing directory yields no dates.
func Dates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list archive dir %s: %w", dir, err)
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if date := DateOf(e.Name()); date != "" {
			dates = append(dates, date)
		}
	}
	return dates, nil
}

// Stats are the running totals of a day file.
type Stats struct {
	Groups int64
	Rows   int64
}

// File is an open day file. Handles are short lived: the writer opens one per
// snapshot and the reader one per load.
type File struct {
	db   *bolt.DB
	path string
}

// Open opens the day file at path for writing. A missing or empty file is
// initialised.
func Open(path string) (*File, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		return nil, fmt.Errorf("open day file %s: %w", path, err)
	}
	return &File{db: db, path: path}, nil
}

// OpenReadOnly opens an existing day file for reading. When the file does
// not exist the error wraps os.ErrNotExist.
func OpenReadOnly(path string) (*File, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open day file: %w", err)
	}
	db, err := bolt.Open(path, 0o444, &bolt.Options{Timeout: lockTimeout, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open day file %s: %w", path, err)
	}
	return &File{db: db, path: path}, nil
}

// Path returns the file path.
func (f *File) Path() string { return f.path }

// Close releases the file.
func (f *File) Close() error { return f.db.Close() }

// HasGroup reports whether label is stored in the file.
func (f *File) HasGroup(label string) (bool, error) {
	found := false
	err := f.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket([]byte(label)) != nil
		return nil
	})
	return found, err
}

// AddGroup stores g in one transaction and returns the totals after the
// write. Existing groups are never touched; a label already present yields
// ErrGroupExists and leaves the file unchanged.
func (f *File) AddGroup(g Group) (Stats, error) {
	if g.Label == "" || strings.HasPrefix(g.Label, "_") {
		return Stats{}, fmt.Errorf("invalid group label %q", g.Label)
	}

	var st Stats
	err := f.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(g.Label)) != nil {
			return fmt.Errorf("%w: %s", ErrGroupExists, g.Label)
		}
		gb, err := tx.CreateBucket([]byte(g.Label))
		if err != nil {
			return fmt.Errorf("create group %s: %w", g.Label, err)
		}
		for _, side := range g.SideLabels() {
			sb, err := gb.CreateBucket([]byte(side))
			if err != nil {
				return fmt.Errorf("create side %s/%s: %w", g.Label, side, err)
			}
			if err := putDataset(sb, g.Sides[side]); err != nil {
				return fmt.Errorf("write dataset %s/%s: %w", g.Label, side, err)
			}
		}
		st, err = addStats(tx, 1, int64(g.Rows()))
		return err
	})
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// Stats returns the running totals without reading any dataset.
func (f *File) Stats() (Stats, error) {
	var st Stats
	err := f.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(statsBucket)); b != nil {
			st.Groups = counter(b, keyGroups)
			st.Rows = counter(b, keyRows)
		}
		return nil
	})
	return st, err
}

// Walk calls fn for every group in label order. Only one group is decoded at
// a time.
func (f *File) Walk(fn func(Group) error) error {
	return f.db.View(func(tx *bolt.Tx) error {
		c := tx.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if v != nil || bytes.HasPrefix(k, []byte("_")) {
				continue
			}
			g, err := readGroup(string(k), tx.Bucket(k))
			if err != nil {
				return err
			}
			if err := fn(g); err != nil {
				return err
			}
		}
		return nil
	})
}

func readGroup(label string, b *bolt.Bucket) (Group, error) {
	g := Group{Label: label, Sides: make(map[string][][2]float64)}
	err := b.ForEach(func(k, v []byte) error {
		if v != nil {
			return nil
		}
		side := string(k)
		m, err := readDataset(b.Bucket(k))
		if err != nil {
			return fmt.Errorf("read dataset %s/%s: %w", label, side, err)
		}
		g.Sides[side] = m
		return nil
	})
	return g, err
}

func addStats(tx *bolt.Tx, groups, rows int64) (Stats, error) {
	b, err := tx.CreateBucketIfNotExists([]byte(statsBucket))
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Groups: counter(b, keyGroups) + groups,
		Rows:   counter(b, keyRows) + rows,
	}
	if err := putCounter(b, keyGroups, st.Groups); err != nil {
		return Stats{}, err
	}
	if err := putCounter(b, keyRows, st.Rows); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func counter(b *bolt.Bucket, key string) int64 {
	v := b.Get([]byte(key))
	if len(v) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(v))
}

func putCounter(b *bolt.Bucket, key string, n int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return b.Put([]byte(key), buf)
}
