package manager

import "time"

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxModels            = 3
	defaultMaxMemoryMB          = 8192
	defaultIdleTimeout          = 30 * time.Minute
	defaultCheckInterval        = 60 * time.Second
	defaultLoadTimeout          = 300 * time.Second
	defaultInUseWindow          = 30 * time.Second
	defaultPressureThreshold    = 0.85
	defaultMaxQueueDepth        = 32
	defaultMaxConcurrency       = 1
	defaultMaxWait              = 30 * time.Second
	defaultDrainTimeout         = 5 * time.Second
	defaultContextSize          = 2048
	defaultServerRequestTimeout = 120 * time.Second
)

// Config holds the manager tunables. It is read once at construction.
type Config struct {
	MaxModelsInMemory int
	MaxMemoryUsageMB  int
	// ModelIdleTimeout applies to models without their own MaxIdleSec.
	ModelIdleTimeout    time.Duration
	MemoryCheckInterval time.Duration
	LoadTimeout         time.Duration
	// InUseWindow protects recently used models from explicit unloads.
	InUseWindow       time.Duration
	PressureThreshold float64
	// HostMemoryCheck adds host memory utilisation to the pressure check.
	HostMemoryCheck bool
	MaxQueueDepth   int
	MaxConcurrency  int
	MaxWait         time.Duration
	DrainTimeout    time.Duration
	// In-process llama settings
	LlamaContextSize int
	LlamaThreads     int
	// llama_server settings
	ServerRequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxModelsInMemory <= 0 {
		c.MaxModelsInMemory = defaultMaxModels
	}
	if c.MaxMemoryUsageMB <= 0 {
		c.MaxMemoryUsageMB = defaultMaxMemoryMB
	}
	if c.ModelIdleTimeout <= 0 {
		c.ModelIdleTimeout = defaultIdleTimeout
	}
	if c.MemoryCheckInterval <= 0 {
		c.MemoryCheckInterval = defaultCheckInterval
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = defaultLoadTimeout
	}
	if c.InUseWindow < 0 {
		c.InUseWindow = 0
	} else if c.InUseWindow == 0 {
		c.InUseWindow = defaultInUseWindow
	}
	if c.PressureThreshold <= 0 || c.PressureThreshold > 1 {
		c.PressureThreshold = defaultPressureThreshold
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = defaultMaxQueueDepth
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	}
	if c.MaxWait <= 0 {
		c.MaxWait = defaultMaxWait
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.LlamaContextSize <= 0 {
		c.LlamaContextSize = defaultContextSize
	}
	if c.ServerRequestTimeout <= 0 {
		c.ServerRequestTimeout = defaultServerRequestTimeout
	}
	return c
}
