package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"
	bolt "go.etcd.io/bbolt"
)

// Columns is the width of every dataset: price, quantity.
const Columns = 2

var (
	keyShape = []byte("shape")
	keyData  = []byte("data")
)

// putDataset stores m as a shape record (rows, columns as big endian
// uint32) and the gzip compressed little endian float64 matrix, row major.
func putDataset(b *bolt.Bucket, m [][2]float64) error {
	shape := make([]byte, 8)
	binary.BigEndian.PutUint32(shape[0:4], uint32(len(m)))
	binary.BigEndian.PutUint32(shape[4:8], Columns)

	data, err := compressMatrix(m)
	if err != nil {
		return err
	}
	if err := b.Put(keyShape, shape); err != nil {
		return err
	}
	return b.Put(keyData, data)
}

func readDataset(b *bolt.Bucket) ([][2]float64, error) {
	if b == nil {
		return nil, fmt.Errorf("dataset missing")
	}
	shape := b.Get(keyShape)
	if len(shape) != 8 {
		return nil, fmt.Errorf("dataset shape missing")
	}
	rows := int(binary.BigEndian.Uint32(shape[0:4]))
	if cols := binary.BigEndian.Uint32(shape[4:8]); cols != Columns {
		return nil, fmt.Errorf("dataset has %d columns, want %d", cols, Columns)
	}

	zr, err := gzip.NewReader(bytes.NewReader(b.Get(keyData)))
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress dataset: %w", err)
	}
	if len(raw) != rows*Columns*8 {
		return nil, fmt.Errorf("dataset holds %d bytes, shape needs %d", len(raw), rows*Columns*8)
	}

	m := make([][2]float64, rows)
	for i := range m {
		off := i * Columns * 8
		m[i][0] = math.Float64frombits(binary.LittleEndian.Uint64(raw[off:]))
		m[i][1] = math.Float64frombits(binary.LittleEndian.Uint64(raw[off+8:]))
	}
	return m, nil
}

func compressMatrix(m [][2]float64) ([]byte, error) {
	raw := make([]byte, len(m)*Columns*8)
	for i, row := range m {
		off := i * Columns * 8
		binary.LittleEndian.PutUint64(raw[off:], math.Float64bits(row[0]))
		binary.LittleEndian.PutUint64(raw[off+8:], math.Float64bits(row[1]))
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return nil, fmt.Errorf("compress dataset: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress dataset: %w", err)
	}
	return buf.Bytes(), nil
}
