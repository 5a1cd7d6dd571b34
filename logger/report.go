package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

var (
	snapshotsWritten  int64
	rowsWritten       int64
	cyclesSkipped     int64
	workerRestarts    int64
	fetchBytes        int64
	warnsByComponent  sync.Map // map[string]*int64
	errorsByComponent sync.Map // map[string]*int64
)

func bump(m *sync.Map, component string) {
	v, _ := m.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordWarn(component string) {
	bump(&warnsByComponent, component)
}

func recordError(component string) {
	bump(&errorsByComponent, component)
}

// IncrementSnapshotWritten counts one persisted snapshot of rows archive rows.
func IncrementSnapshotWritten(rows int) {
	atomic.AddInt64(&snapshotsWritten, 1)
	atomic.AddInt64(&rowsWritten, int64(rows))
}

// IncrementCycleSkipped counts one poll cycle skipped after retry exhaustion.
func IncrementCycleSkipped() {
	atomic.AddInt64(&cyclesSkipped, 1)
}

// IncrementWorkerRestart counts one supervisor restart.
func IncrementWorkerRestart() {
	atomic.AddInt64(&workerRestarts, 1)
}

// IncrementFetchBytes records the size of one depth response body.
func IncrementFetchBytes(size int) {
	atomic.AddInt64(&fetchBytes, int64(size))
}

func counts(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

// StartReport begins periodic logging of collector counters and runtime
// statistics until ctx is cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func reportFields() Fields {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Fields{
		"snapshots_written": atomic.LoadInt64(&snapshotsWritten),
		"rows_written":      atomic.LoadInt64(&rowsWritten),
		"cycles_skipped":    atomic.LoadInt64(&cyclesSkipped),
		"worker_restarts":   atomic.LoadInt64(&workerRestarts),
		"fetch_bytes":       atomic.LoadInt64(&fetchBytes),
		"warns":             counts(&warnsByComponent),
		"errors":            counts(&errorsByComponent),
		"goroutines":        runtime.NumGoroutine(),
		"heap_mb":           int64(mem.HeapAlloc) / 1024 / 1024,
	}
}

func logReport(ctx context.Context, log *Log) {
	fields := reportFields()
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	datum := func(name string, unit cwtypes.StandardUnit, v float64) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{MetricName: aws.String(name), Unit: unit, Value: aws.Float64(v)}
	}
	data := []cwtypes.MetricDatum{
		datum("SnapshotsWrittenTotal", cwtypes.StandardUnitCount, float64(fields["snapshots_written"].(int64))),
		datum("RowsWrittenTotal", cwtypes.StandardUnitCount, float64(fields["rows_written"].(int64))),
		datum("CyclesSkippedTotal", cwtypes.StandardUnitCount, float64(fields["cycles_skipped"].(int64))),
		datum("WorkerRestartsTotal", cwtypes.StandardUnitCount, float64(fields["worker_restarts"].(int64))),
		datum("FetchBytesTotal", cwtypes.StandardUnitBytes, float64(fields["fetch_bytes"].(int64))),
		datum("HeapMB", cwtypes.StandardUnitMegabytes, float64(fields["heap_mb"].(int64))),
	}
	publishMetrics(ctx, data)
}
