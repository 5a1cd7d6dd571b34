// Package metadata keeps the local record of day files shipped to object
// storage.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// FileName is the manifest file name inside the archive directory.
const FileName = "_manifest.json"

// ShippedFile describes one uploaded day file.
type ShippedFile struct {
	Date        string         `json:"date"`
	Path        string         `json:"path"`
	FileSize    int64          `json:"file_size_in_bytes"`
	RecordCount int64          `json:"record_count"`
	Partition   map[string]any `json:"partition"`
	ShippedAt   time.Time      `json:"shipped_at"`
}

// Manifest lists shipped files, one entry per date.
type Manifest struct {
	FormatVersion int           `json:"format-version"`
	ManifestUUID  string        `json:"manifest-uuid"`
	Location      string        `json:"location"`
	Symbol        string        `json:"symbol"`
	Files         []ShippedFile `json:"files"`

	path string
}

// Open reads the manifest in dir or starts an empty one when none exists.
func Open(dir, location, symbol string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	m := &Manifest{path: path}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		m.FormatVersion = 1
		m.ManifestUUID = uuid.NewString()
		m.Location = location
		m.Symbol = symbol
		return m, nil
	case err != nil:
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	if err := json.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.ManifestUUID == "" {
		m.ManifestUUID = uuid.NewString()
	}
	return m, nil
}

// Path returns where the manifest is stored.
func (m *Manifest) Path() string { return m.path }

// Shipped reports whether date has been recorded.
func (m *Manifest) Shipped(date string) bool {
	_, ok := m.Lookup(date)
	return ok
}

// Lookup returns the entry of date.
func (m *Manifest) Lookup(date string) (ShippedFile, bool) {
	for _, f := range m.Files {
		if f.Date == date {
			return f, true
		}
	}
	return ShippedFile{}, false
}

// Add records f, replacing an existing entry of the same date, and saves.
func (m *Manifest) Add(f ShippedFile) error {
	replaced := false
	for i := range m.Files {
		if m.Files[i].Date == f.Date {
			m.Files[i] = f
			replaced = true
			break
		}
	}
	if !replaced {
		m.Files = append(m.Files, f)
	}
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Date < m.Files[j].Date })
	return m.Save()
}

// Save writes the manifest through a temp file and rename.
func (m *Manifest) Save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
