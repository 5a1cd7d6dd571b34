package writer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "depthflow/config"
	"depthflow/internal/metadata"
	"depthflow/internal/timestamp"
)

type fakePutter struct {
	mu       sync.Mutex
	keys     []string
	size     []int
	lengths  []int64
	streamed []bool
	err      error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.keys = append(f.keys, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	f.size = append(f.size, len(body))
	f.lengths = append(f.lengths, aws.ToInt64(in.ContentLength))
	_, isFile := in.Body.(*os.File)
	f.streamed = append(f.streamed, isFile)
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func shipperConfig(dir string) *appconfig.Config {
	cfg := appconfig.Default()
	cfg.Source.Symbol = "BTCUSDT"
	cfg.Archive.Dir = dir
	cfg.Storage.S3.Enabled = true
	cfg.Storage.S3.Bucket = "depth-archive"
	cfg.Storage.S3.Prefix = "/raw/"
	return &cfg
}

func writeDays(t *testing.T, dir string, days ...time.Time) {
	t.Helper()
	w := NewArchiveWriter(dir)
	a := timestamp.NewAssigner(time.UTC)
	for _, d := range days {
		if _, err := w.Persist(context.Background(), testSnapshot(1), a.Assign(d)); err != nil {
			t.Fatalf("persist: %v", err)
		}
	}
}

func TestObjectKey(t *testing.T) {
	s, err := NewShipper(&fakePutter{}, shipperConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("new shipper: %v", err)
	}
	key, err := s.ObjectKey("2024-05-04")
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if key != "raw/symbol=BTCUSDT/year=2024/month=05/day=04/2024-05-04.db" {
		t.Fatalf("unexpected key: %s", key)
	}
	if _, err := s.ObjectKey("yesterday"); err == nil {
		t.Fatal("expected error for invalid date")
	}
}

func TestShipRecordsManifestOnce(t *testing.T) {
	dir := t.TempDir()
	writeDays(t, dir, time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC))
	putter := &fakePutter{}
	s, err := NewShipper(putter, shipperConfig(dir))
	if err != nil {
		t.Fatalf("new shipper: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.Ship(context.Background(), "2024-05-14"); err != nil {
			t.Fatalf("ship: %v", err)
		}
	}
	if len(putter.keys) != 1 {
		t.Fatalf("expected one upload, got %v", putter.keys)
	}
	if putter.keys[0] != "depth-archive/raw/symbol=BTCUSDT/year=2024/month=05/day=14/2024-05-14.db" {
		t.Fatalf("unexpected key: %s", putter.keys[0])
	}

	m, err := metadata.Open(dir, "", "")
	if err != nil {
		t.Fatalf("open manifest: %v", err)
	}
	entry, ok := m.Lookup("2024-05-14")
	if !ok {
		t.Fatal("date not recorded")
	}
	if entry.RecordCount != 3 || entry.FileSize != int64(putter.size[0]) {
		t.Fatalf("unexpected manifest entry: %+v", entry)
	}
	info, err := os.Stat(filepath.Join(dir, "2024-05-14.db"))
	if err != nil {
		t.Fatal(err)
	}
	if putter.lengths[0] != info.Size() || entry.FileSize != info.Size() {
		t.Fatalf("size mismatch: content length %d, manifest %d, file %d", putter.lengths[0], entry.FileSize, info.Size())
	}
	if !putter.streamed[0] {
		t.Fatal("day file should be streamed from disk")
	}
}

func TestShipPendingSkipsCurrentDay(t *testing.T) {
	dir := t.TempDir()
	writeDays(t, dir,
		time.Date(2024, 5, 13, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC),
	)
	putter := &fakePutter{}
	s, err := NewShipper(putter, shipperConfig(dir))
	if err != nil {
		t.Fatalf("new shipper: %v", err)
	}

	if n := s.ShipPending(context.Background(), "2024-05-15"); n != 2 {
		t.Fatalf("expected 2 shipped, got %d", n)
	}
	if s.Shipped("2024-05-15") {
		t.Fatal("current day must not be shipped")
	}
	if n := s.ShipPending(context.Background(), "2024-05-15"); n != 0 {
		t.Fatalf("expected nothing left to ship, got %d", n)
	}
}

func TestShipFailureNotRecorded(t *testing.T) {
	dir := t.TempDir()
	writeDays(t, dir, time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC))
	s, err := NewShipper(&fakePutter{err: errors.New("access denied")}, shipperConfig(dir))
	if err != nil {
		t.Fatalf("new shipper: %v", err)
	}

	if err := s.Ship(context.Background(), "2024-05-14"); err == nil {
		t.Fatal("expected upload error")
	}
	if s.Shipped("2024-05-14") {
		t.Fatal("failed upload recorded as shipped")
	}
	if n := s.ShipPending(context.Background(), "2024-05-15"); n != 0 {
		t.Fatalf("expected 0 shipped, got %d", n)
	}
}
