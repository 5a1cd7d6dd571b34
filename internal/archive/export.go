package archive

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
	pqgzip "github.com/parquet-go/parquet-go/compress/gzip"
)

// MarkerLevel is the level of the placeholder row exported for a side that
// is present but empty.
const MarkerLevel = 0

// exportFlushGroups bounds how many groups are buffered per row group.
const exportFlushGroups = 256

// Row is one price level in the flat export schema.
type Row struct {
	Timestamp string  `parquet:"timestamp"`
	Side      string  `parquet:"side"`
	Level     int32   `parquet:"level"`
	Price     float64 `parquet:"price"`
	Quantity  float64 `parquet:"quantity"`
}

// IsMarker reports whether r only records the presence of an empty side.
func (r Row) IsMarker() bool { return r.Level == MarkerLevel }

var exportCodec = &pqgzip.Codec{Level: pqgzip.BestCompression}

// FlatRows flattens g, sides in sorted order and levels numbered from 1.
func (g Group) FlatRows() []Row {
	rows := make([]Row, 0, g.Rows()+len(g.Sides))
	for _, side := range g.SideLabels() {
		m := g.Sides[side]
		if len(m) == 0 {
			rows = append(rows, Row{Timestamp: g.Label, Side: side, Level: MarkerLevel})
			continue
		}
		for i, pq := range m {
			rows = append(rows, Row{
				Timestamp: g.Label,
				Side:      side,
				Level:     int32(i + 1),
				Price:     pq[0],
				Quantity:  pq[1],
			})
		}
	}
	return rows
}

// ExportParquet streams every group of f into w as a parquet file of Rows
// and returns the number of rows written.
func ExportParquet(w io.Writer, f *File) (int64, error) {
	pw := parquet.NewGenericWriter[Row](w, parquet.Compression(exportCodec))

	var total int64
	groups := 0
	err := f.Walk(func(g Group) error {
		rows := g.FlatRows()
		if _, err := pw.Write(rows); err != nil {
			return fmt.Errorf("write rows of %s: %w", g.Label, err)
		}
		total += int64(len(rows))
		groups++
		if groups%exportFlushGroups == 0 {
			return pw.Flush()
		}
		return nil
	})
	if err != nil {
		pw.Close()
		return total, err
	}
	if err := pw.Close(); err != nil {
		return total, fmt.Errorf("close parquet writer: %w", err)
	}
	return total, nil
}
