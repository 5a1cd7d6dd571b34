package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"depthflow/config"
	"depthflow/internal/archive"
	"depthflow/internal/clock"
	"depthflow/reader"
	"depthflow/reader/binance"
)

func TestNewSourceKinds(t *testing.T) {
	cfg := config.Default().Source

	src, err := NewSource(cfg)
	if err != nil {
		t.Fatalf("rest source: %v", err)
	}
	if _, ok := src.(*reader.RESTSource); !ok {
		t.Fatalf("expected RESTSource, got %T", src)
	}

	cfg.Kind = config.SourceKindBinance
	src, err = NewSource(cfg)
	if err != nil {
		t.Fatalf("binance source: %v", err)
	}
	if _, ok := src.(*binance.DepthSource); !ok {
		t.Fatalf("expected DepthSource, got %T", src)
	}

	cfg.Kind = "websocket"
	if _, err := NewSource(cfg); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

// End to end: BTCUSDT at depth 5, the endpoint drops the first two
// connections and serves depth on the third attempt out of five. Exactly two
// retry sleeps happen and one group holding the third response is written.
func TestFactoryWorkerAgainstFlakyEndpoint(t *testing.T) {
	var calls int32
	var query atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		query.Store(r.URL.RawQuery)
		fmt.Fprintf(w, `{"lastUpdateId":%d,"bids":[["100.0","1.5"],["99.9","0.25"]],"asks":[["100.1","2.0"]]}`, n)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Source.URL = srv.URL + "/api/v3/depth"
	cfg.Source.Symbol = "BTCUSDT"
	cfg.Source.DepthLimit = 5
	cfg.Collector.SleepTime = 5 * time.Second
	cfg.Collector.MaxRetries = 5
	cfg.Collector.RetryDelay = time.Second
	cfg.Archive.Dir = t.TempDir()

	clk := clock.NewFake(time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelAfter(clk, cancel, 5*time.Second, 1)

	factory, err := NewFactory(&cfg, clk, nil)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	runner, err := factory(0)
	if err != nil {
		t.Fatalf("build worker: %v", err)
	}
	if err := runner.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	sleeps := clk.Sleeps()
	if len(sleeps) != 3 || sleeps[0] != time.Second || sleeps[1] != time.Second || sleeps[2] != 5*time.Second {
		t.Fatalf("unexpected sleeps: %v", sleeps)
	}
	day, err := archive.Load(cfg.Archive.Dir, "2024-05-14")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(day.Groups) != 1 || day.Groups[0].Label != "2024-05-14 10:00:02.000" {
		t.Fatalf("unexpected groups: %+v", day.Groups)
	}
	g := day.Groups[0]
	if !reflect.DeepEqual(g.Sides["bids"], [][2]float64{{100, 1.5}, {99.9, 0.25}}) {
		t.Fatalf("unexpected bids: %v", g.Sides["bids"])
	}
	if !reflect.DeepEqual(g.Sides["asks"], [][2]float64{{100.1, 2}}) {
		t.Fatalf("unexpected asks: %v", g.Sides["asks"])
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 requests, got %d", got)
	}
	if q, _ := query.Load().(string); q != "limit=5&symbol=BTCUSDT" && q != "symbol=BTCUSDT&limit=5" {
		t.Fatalf("unexpected query: %q", q)
	}
}
