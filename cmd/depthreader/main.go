// Command depthreader prints the content of one day archive file.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"depthflow/internal/archive"
	"depthflow/internal/timestamp"
	"depthflow/logger"
)

func main() {
	log := logger.GetLogger()

	dataDir := flag.String("data", "data", "Archive directory")
	date := flag.String("date", "", "Date to read (YYYY-MM-DD)")
	format := flag.String("format", "summary", "Output format: json, summary or parquet (flat rows, binary)")
	flag.Parse()

	if err := run(os.Stdout, *dataDir, *date, *format); err != nil {
		log.WithComponent("depthreader").WithError(err).Error("failed to read archive")
		if errors.Is(err, os.ErrNotExist) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(w io.Writer, dir, date, format string) error {
	if _, err := timestamp.ParseDate(date, nil); err != nil {
		return err
	}

	switch format {
	case "parquet":
		return writeParquet(w, dir, date)
	case "json", "summary":
	default:
		return fmt.Errorf("unknown format %q (want json, summary or parquet)", format)
	}

	day, err := archive.Load(dir, date)
	if err != nil {
		return err
	}
	if format == "json" {
		return writeJSON(w, day)
	}
	return writeSummary(w, day)
}

// writeParquet streams the day as flat rows without loading it.
func writeParquet(w io.Writer, dir, date string) error {
	f, err := archive.OpenReadOnly(filepath.Join(dir, archive.FileName(date)))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = archive.ExportParquet(w, f)
	return err
}

// writeJSON prints {label: {side: [[price, quantity], ...]}}.
func writeJSON(w io.Writer, day *archive.Day) error {
	out := make(map[string]map[string][][2]float64, len(day.Groups))
	for _, g := range day.Groups {
		out[g.Label] = g.Sides
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeSummary(w io.Writer, day *archive.Day) error {
	if _, err := fmt.Fprintf(w, "%s: %d snapshots\n", day.Path, len(day.Groups)); err != nil {
		return err
	}
	for _, g := range day.Groups {
		line := g.Label
		for _, side := range g.SideLabels() {
			levels := g.Sides[side]
			if len(levels) == 0 {
				line += fmt.Sprintf("  %s=0", side)
				continue
			}
			line += fmt.Sprintf("  %s=%d best=%g@%g", side, len(levels), levels[0][0], levels[0][1])
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
