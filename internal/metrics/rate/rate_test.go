package rate

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus"

	"depthflow/logger"
)

func TestUsedWeight(t *testing.T) {
	header := http.Header{}
	if _, ok := UsedWeight(header); ok {
		t.Fatal("missing header should not parse")
	}
	header.Set(UsedWeightHeader, "nope")
	if _, ok := UsedWeight(header); ok {
		t.Fatal("non-numeric header should not parse")
	}
	header.Set(UsedWeightHeader, " 42 ")
	used, ok := UsedWeight(header)
	if !ok || used != 42 {
		t.Fatalf("expected 42, got %d (%v)", used, ok)
	}
}

// captureLog returns a debug level logger writing JSON lines into a buffer.
func captureLog(t *testing.T) (*logger.Log, *bytes.Buffer) {
	t.Helper()
	log := logger.Logger()
	buf := &bytes.Buffer{}
	log.SetOutput(buf)
	log.SetLevel(logrus.DebugLevel)
	return log, buf
}

// metricLines decodes the logged metric lines keyed by metric name.
func metricLines(t *testing.T, buf *bytes.Buffer) map[string]map[string]interface{} {
	t.Helper()
	out := make(map[string]map[string]interface{})
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(raw) == 0 {
			continue
		}
		var line map[string]interface{}
		if err := json.Unmarshal(raw, &line); err != nil {
			t.Fatalf("log line is not JSON: %v (%s)", err, raw)
		}
		if name, ok := line["metric"].(string); ok {
			out[name] = line
		}
	}
	return out
}

func TestReportSnapshotWeight(t *testing.T) {
	log, buf := captureLog(t)
	header := http.Header{}
	header.Set(UsedWeightHeader, "20")
	ReportSnapshotWeight(log, header, "BTCUSDT", "10.0.0.1")

	line, ok := metricLines(t, buf)["used_weight"]
	if !ok {
		t.Fatalf("used_weight not logged: %s", buf.String())
	}
	if line["value"] != float64(20) || line["metric_type"] != "gauge" {
		t.Fatalf("unexpected used_weight line: %v", line)
	}
	if line["symbol"] != "BTCUSDT" || line["ip"] != "10.0.0.1" || line["component"] != "depth_fetcher" {
		t.Fatalf("unexpected used_weight fields: %v", line)
	}

	buf.Reset()
	ReportSnapshotWeight(log, http.Header{}, "BTCUSDT", "")
	if buf.Len() != 0 {
		t.Fatalf("nothing should be logged without the header: %s", buf.String())
	}
}

func TestReportLimitFromResponse(t *testing.T) {
	log, buf := captureLog(t)
	ReportLimitFromResponse(log, "BTCUSDT", "10.0.0.1", http.StatusTooManyRequests, "")
	metrics := metricLines(t, buf)
	line, ok := metrics["rate_limit_exceeded"]
	if !ok {
		t.Fatalf("rate_limit_exceeded not logged: %s", buf.String())
	}
	if line["value"] != float64(1) || line["metric_type"] != "counter" || line["symbol"] != "BTCUSDT" {
		t.Fatalf("unexpected rate_limit_exceeded line: %v", line)
	}
	if _, ok := metrics["ip_ban"]; ok {
		t.Fatal("429 must not be reported as a ban")
	}

	buf.Reset()
	ReportLimitFromResponse(log, "BTCUSDT", "10.0.0.1", http.StatusTeapot, "")
	metrics = metricLines(t, buf)
	line, ok = metrics["ip_ban"]
	if !ok {
		t.Fatalf("ip_ban not logged: %s", buf.String())
	}
	if line["value"] != float64(1) || line["ip"] != "10.0.0.1" {
		t.Fatalf("unexpected ip_ban line: %v", line)
	}
	if _, ok := metrics["rate_limit_exceeded"]; ok {
		t.Fatal("418 must not be reported as a rate limit")
	}

	buf.Reset()
	ReportLimitFromResponse(log, "BTCUSDT", "", http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`)
	if len(metricLines(t, buf)) != 0 {
		t.Fatalf("unexpected metrics for a plain 400: %s", buf.String())
	}
}

func TestDetectLimit(t *testing.T) {
	cases := []struct {
		status int
		msg    string
		rate   bool
		ban    bool
	}{
		{http.StatusTooManyRequests, "", true, false},
		{http.StatusTeapot, "", false, true},
		{http.StatusForbidden, "Way too many requests; IP banned until 1700000000000.", false, true},
		{http.StatusBadRequest, "Too many requests queued.", true, false},
		{http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`, false, false},
	}
	for _, c := range cases {
		rl, ban := detectLimit(c.status, c.msg)
		if rl != c.rate {
			t.Errorf("status %d %q: expected rateLimit %v got %v", c.status, c.msg, c.rate, rl)
		}
		if ban != c.ban {
			t.Errorf("status %d %q: expected ipBan %v got %v", c.status, c.msg, c.ban, ban)
		}
	}
}
