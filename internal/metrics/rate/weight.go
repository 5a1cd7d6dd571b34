package rate

import (
	"net/http"
	"strconv"
	"strings"

	"depthflow/logger"
)

// UsedWeightHeader carries the request weight consumed in the current minute.
const UsedWeightHeader = "X-MBX-USED-WEIGHT-1m"

// UsedWeight parses the used weight header. ok is false when the header is
// absent or not an integer.
func UsedWeight(header http.Header) (used int64, ok bool) {
	v := strings.TrimSpace(header.Get(UsedWeightHeader))
	if v == "" {
		return 0, false
	}
	used, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return used, true
}

// ReportSnapshotWeight emits a `used_weight` gauge for symbol when the
// response carries the used weight header.
func ReportSnapshotWeight(log *logger.Log, header http.Header, symbol, ip string) {
	used, ok := UsedWeight(header)
	if !ok {
		return
	}
	l := log.WithComponent("depth_fetcher")
	fields := logger.Fields{"symbol": symbol}
	if ip != "" {
		fields["ip"] = ip
	}
	l.LogMetric("depth_fetcher", "used_weight", used, "gauge", fields)
}
