package httpapi

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// zlog is the structured logger for the HTTP layer. If unset the global
// zerolog logger is used.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

func reqLogger() *zerolog.Logger {
	if zlog != nil {
		return zlog
	}
	return &log.Logger
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// defaultLogLevel is read once from MODELROUTER_HTTP_LOG.
var defaultLogLevel = parseLevel(os.Getenv("MODELROUTER_HTTP_LOG"))

// requestLogLevel honors ?log= and X-Log-Level overrides for one request.
func requestLogLevel(r *http.Request) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// logEnd logs the outcome of a query request at the request's level.
// Failures are logged from LevelError, successes from LevelInfo.
func logEnd(r *http.Request, lvl LogLevel, status int, start time.Time, err error, fields func(*zerolog.Event)) {
	if lvl == LevelOff || (err == nil && lvl < LevelInfo) {
		return
	}
	ev := reqLogger().Info()
	if err != nil {
		ev = reqLogger().Warn().Err(err)
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	if fields != nil && lvl >= LevelDebug {
		fields(ev)
	}
	ev.Str("path", r.URL.Path).Int("status", status).Dur("dur", time.Since(start)).Msg("query end")
}
