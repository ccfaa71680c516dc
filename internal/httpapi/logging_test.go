package httpapi

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"":      LevelOff,
		"off":   LevelOff,
		"error": LevelError,
		"INFO":  LevelInfo,
		"debug": LevelDebug,
		"weird": LevelInfo, // default
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRequestLogLevel_Overrides(t *testing.T) {
	r := httptest.NewRequest("GET", "/x?log=debug", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("query override failed: %v", got)
	}
	r = httptest.NewRequest("GET", "/x?log=1", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("shorthand query override failed: %v", got)
	}
	r = httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("X-Log-Level", "error")
	if got := requestLogLevel(r); got != LevelError {
		t.Fatalf("header override failed: %v", got)
	}
}

func TestLogEnd_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))
	defer SetLogger(zerolog.Logger{})
	r := httptest.NewRequest("POST", "/query", nil)

	logEnd(r, LevelError, 200, time.Now(), nil, nil)
	if buf.Len() != 0 {
		t.Fatalf("success must not log at error level: %q", buf.String())
	}
	logEnd(r, LevelError, 500, time.Now(), errors.New("boom"), nil)
	if !strings.Contains(buf.String(), `"status":500`) || !strings.Contains(buf.String(), "boom") {
		t.Fatalf("missing failure line: %q", buf.String())
	}
	buf.Reset()
	logEnd(r, LevelDebug, 200, time.Now(), nil, func(ev *zerolog.Event) { ev.Str("model", "m1") })
	if !strings.Contains(buf.String(), `"model":"m1"`) {
		t.Fatalf("debug fields missing: %q", buf.String())
	}
	buf.Reset()
	logEnd(r, LevelOff, 500, time.Now(), errors.New("boom"), nil)
	if buf.Len() != 0 {
		t.Fatalf("off must not log: %q", buf.String())
	}
}
