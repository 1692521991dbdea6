package rate

import (
	"errors"
	"fmt"
	"testing"

	"marketsync/logger"
	"marketsync/reader"
)

func TestDetectLimit(t *testing.T) {
	cases := []struct {
		exchange string
		msg      string
		rate     bool
		ban      bool
	}{
		{"binance", "Too many requests", true, false},
		{"okx", "IP has been blocked for 60 seconds", false, true},
		{"kucoin", "429 Too Many Requests", true, false},
		{"bybit", "IP rate limit reached", false, true},
		{"gate", "label=TOO_MANY_REQUESTS", true, false},
		{"bitget", "Request too frequent", true, false},
		{"unknown", "hello world", false, false},
	}
	for _, c := range cases {
		rl, ban := detectLimit(c.exchange, c.msg)
		if rl != c.rate {
			t.Errorf("exchange %s: expected rateLimit %v got %v", c.exchange, c.rate, rl)
		}
		if ban != c.ban {
			t.Errorf("exchange %s: expected ipBan %v got %v", c.exchange, c.ban, ban)
		}
	}
}

func TestReportLimitFromHTTPStatus(t *testing.T) {
	log := logger.GetLogger()
	throttled := reader.Unavailable("mexc_spot", "klines", &reader.HTTPError{StatusCode: 429, Body: "{}"})
	if !ReportLimit(log, "mexc", "BTCUSDT", "klines", throttled) {
		t.Error("429 should be reported")
	}
	banned := reader.Unavailable("binance_spot", "klines", &reader.HTTPError{StatusCode: 418, Body: "{}"})
	if !ReportLimit(log, "binance", "BTCUSDT", "klines", banned) {
		t.Error("418 should be reported")
	}
	if ReportLimit(log, "binance", "BTCUSDT", "klines", errors.New("connection reset")) {
		t.Error("unrelated errors must not be reported")
	}
	if ReportLimit(log, "binance", "BTCUSDT", "klines", nil) {
		t.Error("nil error must not be reported")
	}
}

func TestBannedUntil(t *testing.T) {
	msg := fmt.Sprintf("code=-1003, msg=Way too many requests; IP(1.2.3.4) banned until %d.", int64(1735689600000))
	until, ok := bannedUntil(msg)
	if !ok || until != 1735689600000 {
		t.Errorf("bannedUntil = %d, %v", until, ok)
	}
	if _, ok := bannedUntil("no timestamp here 42"); ok {
		t.Error("expected no timestamp")
	}
}

func TestExtractInts(t *testing.T) {
	got := extractInts("a12b345c")
	if len(got) != 2 || got[0] != 12 || got[1] != 345 {
		t.Errorf("extractInts = %v", got)
	}
}
