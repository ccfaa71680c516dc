package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"modelrouter/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app carries state shared by every subcommand once flags are parsed.
type app struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
	logFile    string

	cfg config.Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "modelrouter",
		Short:         "Route questions to subject-specialized local language models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "Config file (.json, .yaml or .toml)")
	pf.StringVar(&a.envFile, "env-file", ".env", "Environment file loaded before reading configuration")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	pf.StringVar(&a.logFormat, "log-format", "", "Log format: console|json (default: console on a terminal)")
	pf.StringVar(&a.logFile, "log-file", "", "Also write JSON logs to this file, rotated")

	root.AddCommand(newServeCmd(a), newModelsCmd(a), newCacheCmd(a))
	return root
}

// init loads .env, resolves configuration and configures logging.
func (a *app) init() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
	}
	cfg, err := config.Resolve(a.configPath, os.Getenv)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}
	if a.logFile != "" {
		cfg.LogFile = a.logFile
	}
	a.cfg = cfg
	a.log, err = newLogger(cfg, os.Stderr)
	return err
}

// splitCSV splits a comma separated flag value, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
