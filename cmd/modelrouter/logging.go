package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"modelrouter/internal/config"
)

// newLogger builds the process logger: human readable on a terminal, JSON
// otherwise, plus an optional rotated file. It also becomes the global
// zerolog logger.
func newLogger(cfg config.Config, out *os.File) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	switch strings.ToLower(cfg.LogLevel) {
	case "off", "disabled":
		level = zerolog.Disabled
	case "":
	default:
		l, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level: %w", err)
		}
		level = l
	}

	var console io.Writer = out
	format := strings.ToLower(cfg.LogFormat)
	if format == "console" || (format == "" && isatty.IsTerminal(out.Fd())) {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	w := console
	if cfg.LogFile != "" {
		w = zerolog.MultiLevelWriter(console, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	return logger, nil
}
