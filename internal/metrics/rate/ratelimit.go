// Package rate turns exchange throttling responses into rate_limit_exceeded
// and ip_ban metrics.
package rate

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"marketsync/logger"
	"marketsync/reader"
)

// ReportRateLimitExceeded increments the rate limit exceeded counter for the
// given exchange and operation and emits the metric to CloudWatch.
func ReportRateLimitExceeded(log *logger.Log, exchange, symbol, op string) {
	component := fmt.Sprintf("%s_%s", strings.ToLower(exchange), strings.ToLower(op))
	l := log.WithComponent(component)
	fields := logger.Fields{
		"exchange": strings.ToLower(exchange),
		"symbol":   symbol,
		"type":     strings.ToLower(op),
	}
	l.LogMetric(component, "rate_limit_exceeded", int64(1), "counter", fields)
	l.WithFields(fields).Warn("rate limit exceeded")
}

// ReportIPBan increments the IP ban counter. bannedUntil is the epoch ms the
// exchange reported, or 0 when it did not say.
func ReportIPBan(log *logger.Log, exchange, symbol, op string, bannedUntil int64) {
	component := fmt.Sprintf("%s_%s", strings.ToLower(exchange), strings.ToLower(op))
	l := log.WithComponent(component)
	fields := logger.Fields{
		"exchange": strings.ToLower(exchange),
		"symbol":   symbol,
		"type":     strings.ToLower(op),
	}
	if bannedUntil > 0 {
		fields["banned_until"] = bannedUntil
	}
	l.LogMetric(component, "ip_ban", int64(1), "counter", fields)
	l.WithFields(fields).Error("ip banned")
}

// detectLimit inspects the message returned from an exchange and determines
// whether it signals a rate limit exceed or an IP ban. Each exchange words
// these differently.
func detectLimit(exchange, msg string) (rateLimit bool, ipBan bool) {
	lowerMsg := strings.ToLower(msg)
	switch strings.ToLower(exchange) {
	case "binance":
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	case "okx":
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "frequency limit")
		ipBan = strings.Contains(lowerMsg, "ip") && (strings.Contains(lowerMsg, "blocked") || strings.Contains(lowerMsg, "ban"))
	case "kucoin":
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "limit") && strings.Contains(lowerMsg, "triggered")
	case "bybit":
		ipBan = strings.Contains(lowerMsg, "ip rate limit") || (strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban"))
		rateLimit = !ipBan && (strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "too many visits"))
	case "gate":
		rateLimit = strings.Contains(lowerMsg, "too_many_requests") || strings.Contains(lowerMsg, "too many requests")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "forbidden")
	case "bitget", "bitmart", "mexc":
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit") ||
			strings.Contains(lowerMsg, "request too frequent") || strings.Contains(lowerMsg, "frequency")
		ipBan = strings.Contains(lowerMsg, "ip") && (strings.Contains(lowerMsg, "ban") || strings.Contains(lowerMsg, "blocked"))
	default:
		rateLimit = strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	}
	return
}

// ReportLimit classifies a failed source call and records the matching
// metrics. HTTP 429 always counts as a rate limit and 418 as an IP ban, the
// codes Binance-style APIs use; otherwise the error text is matched. It
// reports whether anything was recorded.
func ReportLimit(log *logger.Log, exchange, symbol, op string, err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	rateLimit, ipBan := detectLimit(exchange, msg)

	var httpErr *reader.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests:
			rateLimit = true
		case http.StatusTeapot:
			ipBan = true
		}
	}

	if ipBan {
		until, _ := bannedUntil(msg)
		ReportIPBan(log, exchange, symbol, op, until)
		return true
	}
	if rateLimit {
		ReportRateLimitExceeded(log, exchange, symbol, op)
		return true
	}
	return false
}
