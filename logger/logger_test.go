package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/sirupsen/logrus"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureReportLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("report", "text", "stderr", 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("report level should map to info, got %v", log.GetLevel())
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "logs", "collector.log")
	log := Logger()
	if err := log.Configure("info", "json", path, 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	log.WithComponent("test").Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var line map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(data), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, data)
	}
	if line["message"] != "hello" || line["component"] != "test" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestWarnCountsPerComponent(t *testing.T) {
	log := Logger()
	log.SetOutput(&bytes.Buffer{})

	before := counts(&warnsByComponent)["warn_counter_test"]
	log.WithComponent("warn_counter_test").Warn("first")
	log.WithComponent("warn_counter_test").Warn("second")

	if got := counts(&warnsByComponent)["warn_counter_test"]; got != before+2 {
		t.Fatalf("expected %d warnings, got %d", before+2, got)
	}
}

type fakePublisher struct {
	calls int32
}

func (f *fakePublisher) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	atomic.AddInt32(&f.calls, 1)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func (f *fakePublisher) PutDashboard(ctx context.Context, params *cloudwatch.PutDashboardInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutDashboardOutput, error) {
	return &cloudwatch.PutDashboardOutput{}, nil
}

func TestLogMetricPublishesNumericValues(t *testing.T) {
	fake := &fakePublisher{}
	setPublisher(fake, "Test", "Test")
	defer setPublisher(nil, "", "")

	log := Logger()
	log.SetOutput(&bytes.Buffer{})
	log.LogMetric("collector", "snapshots_written", int64(1), "counter", nil)
	log.LogMetric("collector", "label", "not-a-number", "gauge", nil)

	if got := atomic.LoadInt32(&fake.calls); got != 1 {
		t.Fatalf("expected one publish, got %d", got)
	}
}

func TestReportFieldsIncludeCounters(t *testing.T) {
	before := reportFields()["snapshots_written"].(int64)
	IncrementSnapshotWritten(10)
	if got := reportFields()["snapshots_written"].(int64); got != before+1 {
		t.Fatalf("expected %d snapshots, got %d", before+1, got)
	}
}
