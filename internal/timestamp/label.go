// Package timestamp assigns the millisecond labels that key snapshot groups
// inside a day archive.
package timestamp

import (
	"fmt"
	"time"
)

// Layout is the label format: second resolution plus a millisecond suffix.
const Layout = "2006-01-02 15:04:05.000"

// DateLayout names the day a label belongs to.
const DateLayout = "2006-01-02"

// Label is the identity of one persisted snapshot.
type Label struct {
	Time time.Time // millisecond-truncated instant in the archive location
	Text string
}

// Date returns the calendar date of the label in the archive location.
func (l Label) Date() string {
	return l.Time.Format(DateLayout)
}

func (l Label) String() string { return l.Text }

// Assigner derives labels from fetch completion instants. It is owned by a
// single worker run and is not safe for concurrent use.
type Assigner struct {
	loc  *time.Location
	last time.Time
}

// NewAssigner returns an assigner producing labels in loc (UTC when nil).
func NewAssigner(loc *time.Location) *Assigner {
	if loc == nil {
		loc = time.UTC
	}
	return &Assigner{loc: loc}
}

// Assign formats instant once. Labels from one assigner are strictly
// increasing: an instant at or before the previous label is moved to one
// millisecond after it.
func (a *Assigner) Assign(instant time.Time) Label {
	t := instant.In(a.loc).Truncate(time.Millisecond)
	if !a.last.IsZero() && !t.After(a.last) {
		t = a.last.Add(time.Millisecond)
	}
	a.last = t
	return Label{Time: t, Text: t.Format(Layout)}
}

// Location returns the location labels are produced in.
func (a *Assigner) Location() *time.Location { return a.loc }

// Parse turns label text back into a Label in loc (UTC when nil).
func Parse(text string, loc *time.Location) (Label, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(Layout, text, loc)
	if err != nil {
		return Label{}, fmt.Errorf("parse timestamp label %q: %w", text, err)
	}
	return Label{Time: t, Text: text}, nil
}

// ParseDate validates a YYYY-MM-DD date string.
func ParseDate(date string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	return t, nil
}
