package archive

import (
	"fmt"
	"path/filepath"
	"sort"

	"depthflow/models"
)

// Group is one snapshot of a day file.
type Group struct {
	Label string
	// Sides maps side label to a price/quantity matrix, best level first.
	Sides map[string][][2]float64
}

// SideLabels returns the group's side labels in sorted order.
func (g Group) SideLabels() []string {
	labels := make([]string, 0, len(g.Sides))
	for label := range g.Sides {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Rows returns the number of price levels across all sides.
func (g Group) Rows() int {
	n := 0
	for _, m := range g.Sides {
		n += len(m)
	}
	return n
}

// GroupFromSnapshot returns the group storing snap under label. An empty
// side keeps its label with an empty matrix.
func GroupFromSnapshot(snap *models.Snapshot, label string) Group {
	g := Group{Label: label, Sides: make(map[string][][2]float64, len(snap.Sides))}
	for _, side := range snap.SideLabels() {
		g.Sides[side] = snap.Matrix(side)
	}
	return g
}

// Day is the content of one day file.
type Day struct {
	Date   string
	Path   string
	Groups []Group
}

// Group returns the group labelled label.
func (d *Day) Group(label string) (Group, bool) {
	i := sort.Search(len(d.Groups), func(i int) bool { return d.Groups[i].Label >= label })
	if i < len(d.Groups) && d.Groups[i].Label == label {
		return d.Groups[i], true
	}
	return Group{}, false
}

// Load opens the day file of date in dir read-only and materialises every
// group in label order. When the file does not exist the error wraps
// os.ErrNotExist.
func Load(dir, date string) (*Day, error) {
	path := filepath.Join(dir, FileName(date))
	f, err := OpenReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", date, err)
	}
	defer f.Close()

	day := &Day{Date: date, Path: path}
	err = f.Walk(func(g Group) error {
		day.Groups = append(day.Groups, g)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", date, err)
	}
	return day, nil
}
