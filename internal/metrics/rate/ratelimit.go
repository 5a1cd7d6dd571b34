package rate

import (
	"net/http"
	"strings"

	"depthflow/logger"
)

// ReportRateLimitExceeded counts a rejected request and logs a warning.
func ReportRateLimitExceeded(log *logger.Log, symbol, ip string) {
	l := log.WithComponent("depth_fetcher")
	fields := logger.Fields{"symbol": symbol, "ip": ip}
	l.LogMetric("depth_fetcher", "rate_limit_exceeded", int64(1), "counter", fields)
	l.WithFields(fields).Warn("rate limit exceeded")
}

// ReportIPBan counts an IP ban and logs an error.
func ReportIPBan(log *logger.Log, symbol, ip string) {
	l := log.WithComponent("depth_fetcher")
	fields := logger.Fields{"symbol": symbol, "ip": ip}
	l.LogMetric("depth_fetcher", "ip_ban", int64(1), "counter", fields)
	l.WithFields(fields).Error("ip banned")
}

// detectLimit classifies a rejected response by status code first and by the
// wording of its body second.
func detectLimit(status int, msg string) (rateLimit bool, ipBan bool) {
	switch status {
	case http.StatusTeapot:
		return false, true
	case http.StatusTooManyRequests:
		return true, false
	}
	lowerMsg := strings.ToLower(msg)
	ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	rateLimit = !ipBan && (strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit"))
	return
}

// ReportLimitFromResponse records rate limit or ban metrics for a rejected
// response. Nothing is recorded when neither applies.
func ReportLimitFromResponse(log *logger.Log, symbol, ip string, status int, msg string) {
	rateLimit, ipBan := detectLimit(status, msg)
	if rateLimit {
		ReportRateLimitExceeded(log, symbol, ip)
	}
	if ipBan {
		ReportIPBan(log, symbol, ip)
	}
}
