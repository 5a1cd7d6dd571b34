package models

import (
	"fmt"
	"sort"
)

// Conventional side labels returned by depth endpoints.
const (
	SideBids = "bids"
	SideAsks = "asks"
)

// Level represents a single price level in the orderbook
type Level struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Snapshot is one point-in-time depth view of a symbol's order book. Sides
// maps a side label to its levels, best level first.
type Snapshot struct {
	Symbol string             `json:"symbol"`
	Sides  map[string][]Level `json:"sides"`
}

// NewSnapshot returns a snapshot for symbol with no sides.
func NewSnapshot(symbol string) *Snapshot {
	return &Snapshot{Symbol: symbol, Sides: make(map[string][]Level)}
}

// SideLabels returns the snapshot's side labels in sorted order.
func (s *Snapshot) SideLabels() []string {
	labels := make([]string, 0, len(s.Sides))
	for label := range s.Sides {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// LevelCount returns the total number of levels across all sides.
func (s *Snapshot) LevelCount() int {
	n := 0
	for _, levels := range s.Sides {
		n += len(levels)
	}
	return n
}

// Matrix returns the levels of side as price/quantity rows.
func (s *Snapshot) Matrix(side string) [][2]float64 {
	levels := s.Sides[side]
	out := make([][2]float64, len(levels))
	for i, l := range levels {
		out[i] = [2]float64{l.Price, l.Quantity}
	}
	return out
}

// Validate checks that the snapshot has at least one side and that no side
// label is empty.
func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("snapshot is nil")
	}
	if len(s.Sides) == 0 {
		return fmt.Errorf("snapshot for %s has no sides", s.Symbol)
	}
	for label := range s.Sides {
		if label == "" {
			return fmt.Errorf("snapshot for %s has an empty side label", s.Symbol)
		}
	}
	return nil
}
