package reader

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
	"depthflow/models"
)

func sourceConfig(url string) config.SourceConfig {
	cfg := config.Default().Source
	cfg.URL = url
	cfg.Timeout = 2 * time.Second
	return cfg
}

func TestRESTSourceFetchDepth(t *testing.T) {
	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.RawQuery)
		w.Header().Set("X-MBX-USED-WEIGHT-1m", "5")
		fmt.Fprint(w, `{"lastUpdateId":1027024,"bids":[["4.00000000","431.00000000"]],"asks":[["4.00000200","12.00000000"],[4.5,1]]}`)
	}))
	defer srv.Close()

	src, err := NewRESTSource(sourceConfig(srv.URL + "/api/v3/depth"))
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	snap, err := src.FetchDepth(context.Background(), "BTCUSDT", 5)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if q := gotQuery.Load().(string); q != "limit=5&symbol=BTCUSDT" {
		t.Fatalf("unexpected query: %s", q)
	}
	if !reflect.DeepEqual(snap.SideLabels(), []string{"asks", "bids"}) {
		t.Fatalf("unexpected sides: %v", snap.SideLabels())
	}
	if !reflect.DeepEqual(snap.Matrix("asks"), [][2]float64{{4.000002, 12}, {4.5, 1}}) {
		t.Fatalf("unexpected asks: %v", snap.Matrix("asks"))
	}
}

func TestRESTSourceStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	}))
	defer srv.Close()

	src, err := NewRESTSource(sourceConfig(srv.URL))
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	_, err = src.FetchDepth(context.Background(), "NOPE", 5)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected StatusError 400, got %v", err)
	}
	if IsConnectivity(err) {
		t.Fatal("status errors must not be retried")
	}
}

func TestRESTSourceConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	src, err := NewRESTSource(sourceConfig(addr))
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	_, err = src.FetchDepth(context.Background(), "BTCUSDT", 5)
	if !IsConnectivity(err) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
}

func TestFetcherAgainstFlakyServer(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("hijacking not supported")
				return
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		fmt.Fprint(w, `{"lastUpdateId":1,"bids":[["1","1"]],"asks":[["2","1"]]}`)
	}))
	defer srv.Close()

	src, err := NewRESTSource(sourceConfig(srv.URL))
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	clk := newFakeClock()
	f := NewFetcher(src, 3, time.Second, clk)

	snap, err := f.Fetch(context.Background(), "BTCUSDT", 5)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if snap.LevelCount() != 2 {
		t.Fatalf("unexpected levels: %d", snap.LevelCount())
	}
	if got := clk.Sleeps(); len(got) != 2 {
		t.Fatalf("expected exactly two retry sleeps, got %v", got)
	}
}

func TestParseDepthMalformed(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"not json", `<html>`, ""},
		{"array body", `[1,2]`, ""},
		{"missing sequence", `{"bids":[["1","1"]]}`, "lastUpdateId"},
		{"no sides", `{"lastUpdateId":1}`, ""},
		{"side not array", `{"lastUpdateId":1,"bids":"x"}`, "bids"},
		{"side null", `{"lastUpdateId":1,"bids":null}`, "bids"},
		{"three elements", `{"lastUpdateId":1,"bids":[["1","2","3"]]}`, "bids"},
		{"pair not array", `{"lastUpdateId":1,"asks":[5]}`, "asks"},
		{"non numeric", `{"lastUpdateId":1,"asks":[["abc","1"]]}`, "asks"},
		{"bool quantity", `{"lastUpdateId":1,"asks":[["1",true]]}`, "asks"},
		{"nan", `{"lastUpdateId":1,"asks":[["NaN","1"]]}`, "asks"},
	}
	for _, c := range cases {
		_, err := ParseDepth([]byte(c.body), "BTCUSDT", "lastUpdateId")
		var m *MalformedResponseError
		if !errors.As(err, &m) {
			t.Errorf("%s: expected MalformedResponseError, got %v", c.name, err)
			continue
		}
		if m.Field != c.field {
			t.Errorf("%s: field %q, want %q", c.name, m.Field, c.field)
		}
	}
}

func TestParseDepthCustomSides(t *testing.T) {
	snap, err := ParseDepth([]byte(`{"seq":9,"bids":[],"asks":[["1","2"]],"mids":[[1.5,0]]}`), "X", "seq")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(snap.SideLabels(), []string{"asks", "bids", "mids"}) {
		t.Fatalf("unexpected sides: %v", snap.SideLabels())
	}
	if levels, ok := snap.Sides["bids"]; !ok || len(levels) != 0 {
		t.Fatalf("empty side should be kept: %v", levels)
	}
	if _, ok := snap.Sides[models.SideBids]; !ok {
		t.Fatal("bids missing")
	}
}

func TestNewRESTSourceInvalidURL(t *testing.T) {
	if _, err := NewRESTSource(sourceConfig("not a url")); err == nil {
		t.Fatal("expected error")
	}
}
