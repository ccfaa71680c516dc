// Package config holds the service configuration document and its defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"modelrouter/internal/cache"
	"modelrouter/internal/classifier"
	"modelrouter/internal/common/fsutil"
	"modelrouter/internal/embedding"
	"modelrouter/internal/manager"
	"modelrouter/internal/router"
)

// Defaults for fields left unset.
const (
	DefaultAddr                   = ":8080"
	DefaultModelsDir              = "~/models/llm"
	DefaultCacheDirectory         = "~/.cache/modelrouter"
	DefaultMaxModelsInMemory      = 3
	DefaultMaxMemoryUsageMB       = 8192
	DefaultModelIdleTimeoutSec    = 1800
	DefaultMemoryCheckIntervalSec = 60
	DefaultLoadTimeoutSec         = 300
	DefaultMaxCacheSizeGB         = 20
	DefaultMaxCacheEntries        = 10
	DefaultMaxLength              = 150
	DefaultTemperature            = 0.7
	DefaultLogLevel               = "info"
	DefaultMaxBodyBytes           = 1 << 20
	stateDBName                   = "modelrouter.db"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr      string   `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir string   `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	ExtraDirs []string `json:"extra_model_dirs,omitempty" yaml:"extra_model_dirs,omitempty" toml:"extra_model_dirs,omitempty"`
	// StateDB is the sqlite catalogue; defaults to <cache_directory>/modelrouter.db.
	StateDB string `json:"state_db,omitempty" yaml:"state_db,omitempty" toml:"state_db,omitempty"`

	MaxModelsInMemory      int      `json:"max_models_in_memory" yaml:"max_models_in_memory" toml:"max_models_in_memory"`
	MaxMemoryUsageMB       int      `json:"max_memory_usage_mb" yaml:"max_memory_usage_mb" toml:"max_memory_usage_mb"`
	ModelIdleTimeoutSec    int      `json:"model_idle_timeout_sec" yaml:"model_idle_timeout_sec" toml:"model_idle_timeout_sec"`
	PreloadSubjects        []string `json:"preload_subjects" yaml:"preload_subjects" toml:"preload_subjects"`
	MemoryCheckIntervalSec int      `json:"memory_check_interval_sec" yaml:"memory_check_interval_sec" toml:"memory_check_interval_sec"`
	LoadTimeoutSec         int      `json:"load_timeout_sec" yaml:"load_timeout_sec" toml:"load_timeout_sec"`
	InUseWindowSec         int      `json:"in_use_window_sec,omitempty" yaml:"in_use_window_sec,omitempty" toml:"in_use_window_sec,omitempty"`
	HostMemoryCheck        *bool    `json:"host_memory_check,omitempty" yaml:"host_memory_check,omitempty" toml:"host_memory_check,omitempty"`
	MaxQueueDepth          int      `json:"max_queue_depth,omitempty" yaml:"max_queue_depth,omitempty" toml:"max_queue_depth,omitempty"`
	MaxConcurrency         int      `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty" toml:"max_concurrency,omitempty"`
	MaxWaitMS              int      `json:"max_wait_ms,omitempty" yaml:"max_wait_ms,omitempty" toml:"max_wait_ms,omitempty"`
	LlamaContextSize       int      `json:"llama_context_size,omitempty" yaml:"llama_context_size,omitempty" toml:"llama_context_size,omitempty"`
	LlamaThreads           int      `json:"llama_threads,omitempty" yaml:"llama_threads,omitempty" toml:"llama_threads,omitempty"`

	CacheEnabled        *bool   `json:"cache_enabled,omitempty" yaml:"cache_enabled,omitempty" toml:"cache_enabled,omitempty"`
	CacheDirectory      string  `json:"cache_directory" yaml:"cache_directory" toml:"cache_directory"`
	MaxCacheSizeGB      float64 `json:"max_cache_size_gb" yaml:"max_cache_size_gb" toml:"max_cache_size_gb"`
	MaxCacheEntries     int     `json:"max_cache_entries" yaml:"max_cache_entries" toml:"max_cache_entries"`
	CacheVerifySchedule string  `json:"cache_verify_schedule,omitempty" yaml:"cache_verify_schedule,omitempty" toml:"cache_verify_schedule,omitempty"`

	Classifier classifier.Config `json:"classifier" yaml:"classifier" toml:"classifier"`
	Embedding  embedding.Config  `json:"embedding" yaml:"embedding" toml:"embedding"`
	Router     router.Config     `json:"router" yaml:"router" toml:"router"`
	HTTP       HTTPConfig        `json:"http" yaml:"http" toml:"http"`

	DefaultMaxLength   int     `json:"default_max_length,omitempty" yaml:"default_max_length,omitempty" toml:"default_max_length,omitempty"`
	DefaultTemperature float64 `json:"default_temperature,omitempty" yaml:"default_temperature,omitempty" toml:"default_temperature,omitempty"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty" toml:"log_format,omitempty"`
	LogFile   string `json:"log_file,omitempty" yaml:"log_file,omitempty" toml:"log_file,omitempty"`
}

// HTTPConfig tunes the HTTP surface.
type HTTPConfig struct {
	MaxBodyBytes       int64    `json:"max_body_bytes,omitempty" yaml:"max_body_bytes,omitempty" toml:"max_body_bytes,omitempty"`
	QueryTimeoutSec    int64    `json:"query_timeout_sec,omitempty" yaml:"query_timeout_sec,omitempty" toml:"query_timeout_sec,omitempty"`
	RateLimitRPS       float64  `json:"rate_limit_rps,omitempty" yaml:"rate_limit_rps,omitempty" toml:"rate_limit_rps,omitempty"`
	RateLimitBurst     int      `json:"rate_limit_burst,omitempty" yaml:"rate_limit_burst,omitempty" toml:"rate_limit_burst,omitempty"`
	CORSEnabled        bool     `json:"cors_enabled,omitempty" yaml:"cors_enabled,omitempty" toml:"cors_enabled,omitempty"`
	CORSOrigins        []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty" toml:"cors_origins,omitempty"`
	ShutdownTimeoutSec int      `json:"shutdown_timeout_sec,omitempty" yaml:"shutdown_timeout_sec,omitempty" toml:"shutdown_timeout_sec,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// WithDefaults returns a copy with every unset field defaulted.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.MaxModelsInMemory == 0 {
		c.MaxModelsInMemory = DefaultMaxModelsInMemory
	}
	if c.MaxMemoryUsageMB == 0 {
		c.MaxMemoryUsageMB = DefaultMaxMemoryUsageMB
	}
	if c.ModelIdleTimeoutSec == 0 {
		c.ModelIdleTimeoutSec = DefaultModelIdleTimeoutSec
	}
	if c.MemoryCheckIntervalSec == 0 {
		c.MemoryCheckIntervalSec = DefaultMemoryCheckIntervalSec
	}
	if c.LoadTimeoutSec == 0 {
		c.LoadTimeoutSec = DefaultLoadTimeoutSec
	}
	if c.HostMemoryCheck == nil {
		c.HostMemoryCheck = boolPtr(true)
	}
	if c.CacheEnabled == nil {
		c.CacheEnabled = boolPtr(true)
	}
	if c.CacheDirectory == "" {
		c.CacheDirectory = DefaultCacheDirectory
	}
	if c.MaxCacheSizeGB == 0 {
		c.MaxCacheSizeGB = DefaultMaxCacheSizeGB
	}
	if c.MaxCacheEntries == 0 {
		c.MaxCacheEntries = DefaultMaxCacheEntries
	}
	if c.CacheVerifySchedule == "" {
		c.CacheVerifySchedule = cache.DefaultVerifySchedule
	}
	if c.StateDB == "" {
		c.StateDB = filepath.Join(c.CacheDirectory, stateDBName)
	}
	if c.DefaultMaxLength == 0 {
		c.DefaultMaxLength = DefaultMaxLength
	}
	if c.DefaultTemperature == 0 {
		c.DefaultTemperature = DefaultTemperature
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.HTTP.MaxBodyBytes == 0 {
		c.HTTP.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.HTTP.ShutdownTimeoutSec == 0 {
		c.HTTP.ShutdownTimeoutSec = 5
	}
	return c
}

// Environment knobs.
const (
	EnvAddr        = "MODELROUTER_ADDR"
	EnvModelsDir   = "MODELROUTER_MODELS_DIR"
	EnvCacheDir    = "MODELROUTER_CACHE_DIR"
	EnvMaxMemoryMB = "MODELROUTER_MAX_MEMORY_MB"
	EnvMaxModels   = "MODELROUTER_MAX_MODELS"
	EnvIdleTimeout = "MODELROUTER_IDLE_TIMEOUT_SEC"
	EnvLogLevel    = "MODELROUTER_LOG_LEVEL"
)

// ApplyEnv overrides fields from environment variables. Empty values are
// ignored; malformed numbers are an error.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		return nil
	}
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	str(EnvAddr, &c.Addr)
	str(EnvModelsDir, &c.ModelsDir)
	if v := strings.TrimSpace(getenv(EnvCacheDir)); v != "" {
		// the state db follows the cache dir unless set explicitly
		if c.StateDB == filepath.Join(c.CacheDirectory, stateDBName) {
			c.StateDB = filepath.Join(v, stateDBName)
		}
		c.CacheDirectory = v
	}
	num(EnvMaxMemoryMB, &c.MaxMemoryUsageMB)
	num(EnvMaxModels, &c.MaxModelsInMemory)
	num(EnvIdleTimeout, &c.ModelIdleTimeoutSec)
	str(EnvLogLevel, &c.LogLevel)
	return errors.Join(errs...)
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.MaxModelsInMemory < 1 {
		errs = append(errs, fmt.Errorf("max_models_in_memory must be >= 1"))
	}
	if c.MaxMemoryUsageMB < 1 {
		errs = append(errs, fmt.Errorf("max_memory_usage_mb must be >= 1"))
	}
	if c.ModelIdleTimeoutSec < 0 || c.MemoryCheckIntervalSec < 0 || c.LoadTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("timeouts and intervals must not be negative"))
	}
	if c.MaxCacheSizeGB < 0 || c.MaxCacheEntries < 0 {
		errs = append(errs, fmt.Errorf("cache limits must not be negative"))
	}
	if c.DefaultTemperature < 0 || c.DefaultTemperature > 2 {
		errs = append(errs, fmt.Errorf("default_temperature must be within [0, 2]"))
	}
	if t := c.Router.Threshold(); t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("router.confidence_threshold must be within [0, 1]"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "error", "off", "disabled":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// ModelDirs returns the directories scanned for models, home-expanded.
func (c Config) ModelDirs() []string {
	var out []string
	for _, d := range append([]string{c.ModelsDir}, c.ExtraDirs...) {
		if strings.TrimSpace(d) == "" {
			continue
		}
		if p, err := fsutil.ExpandHome(d); err == nil {
			d = p
		}
		out = append(out, d)
	}
	return out
}

// ManagerConfig converts the document to lifecycle manager settings.
func (c Config) ManagerConfig() manager.Config {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return manager.Config{
		MaxModelsInMemory:   c.MaxModelsInMemory,
		MaxMemoryUsageMB:    c.MaxMemoryUsageMB,
		ModelIdleTimeout:    sec(c.ModelIdleTimeoutSec),
		MemoryCheckInterval: sec(c.MemoryCheckIntervalSec),
		LoadTimeout:         sec(c.LoadTimeoutSec),
		InUseWindow:         sec(c.InUseWindowSec),
		HostMemoryCheck:     c.HostMemoryCheck != nil && *c.HostMemoryCheck,
		MaxQueueDepth:       c.MaxQueueDepth,
		MaxConcurrency:      c.MaxConcurrency,
		MaxWait:             time.Duration(c.MaxWaitMS) * time.Millisecond,
		LlamaContextSize:    c.LlamaContextSize,
		LlamaThreads:        c.LlamaThreads,
	}
}

// CacheOn reports whether the model snapshot cache is enabled.
func (c Config) CacheOn() bool { return c.CacheEnabled == nil || *c.CacheEnabled }

// CacheConfig converts the document to model cache settings.
func (c Config) CacheConfig() cache.Config {
	dir := c.CacheDirectory
	if p, err := fsutil.ExpandHome(dir); err == nil {
		dir = p
	}
	return cache.Config{Dir: filepath.Join(dir, "blobs"), MaxSizeGB: c.MaxCacheSizeGB, MaxEntries: c.MaxCacheEntries}
}

// StatePath is the home-expanded sqlite path.
func (c Config) StatePath() string {
	if p, err := fsutil.ExpandHome(c.StateDB); err == nil {
		return p
	}
	return c.StateDB
}
