package config

import (
	"path/filepath"
	"strings"
	"testing"

	"modelrouter/internal/router"
)

func TestLoad_NonexistentFile(t *testing.T) {
	if _, err := Load("/definitely/not/a/real/file-12345.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.yaml", "addr: :8080\n: broken\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected YAML unmarshal error")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.json", `{ "addr": ":8080", "models_dir": }`)
	if _, err := Load(p); err == nil {
		t.Fatalf("expected JSON unmarshal error")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.toml", "addr=:8080\nmodels_dir\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected TOML unmarshal error")
	}
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestApplyEnv_Overrides(t *testing.T) {
	cfg := Config{}.WithDefaults()
	err := cfg.ApplyEnv(envMap(map[string]string{
		EnvAddr:        ":9000",
		EnvModelsDir:   "/srv/models",
		EnvCacheDir:    "/var/cache/mr",
		EnvMaxMemoryMB: "4096",
		EnvMaxModels:   "2",
		EnvIdleTimeout: "60",
		EnvLogLevel:    "debug",
	}))
	if err != nil { t.Fatalf("apply env: %v", err) }
	if cfg.Addr != ":9000" || cfg.ModelsDir != "/srv/models" || cfg.MaxMemoryUsageMB != 4096 || cfg.MaxModelsInMemory != 2 || cfg.ModelIdleTimeoutSec != 60 || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.CacheDirectory != "/var/cache/mr" || cfg.StateDB != filepath.Join("/var/cache/mr", "modelrouter.db") {
		t.Fatalf("cache dir override did not carry the state db: %+v", cfg)
	}
}

func TestApplyEnv_BadNumber(t *testing.T) {
	cfg := Config{}.WithDefaults()
	err := cfg.ApplyEnv(envMap(map[string]string{EnvMaxModels: "three"}))
	if err == nil || !strings.Contains(err.Error(), EnvMaxModels) {
		t.Fatalf("expected error naming %s, got %v", EnvMaxModels, err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.MaxModelsInMemory = -1 },
		func(c *Config) { c.MaxMemoryUsageMB = -5 },
		func(c *Config) { c.LoadTimeoutSec = -1 },
		func(c *Config) { c.DefaultTemperature = 3 },
		func(c *Config) { c.Router.ConfidenceThreshold = router.Threshold(1.5) },
		func(c *Config) { c.LogLevel = "verbose" },
	}
	for i, mutate := range cases {
		cfg := Config{}.WithDefaults()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestResolve_FileThenEnv(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "max_models_in_memory: 5\nlog_level: warn\n")
	cfg, err := Resolve(p, envMap(map[string]string{EnvMaxModels: "1"}))
	if err != nil { t.Fatalf("resolve: %v", err) }
	if cfg.MaxModelsInMemory != 1 || cfg.LogLevel != "warn" || cfg.MaxMemoryUsageMB != DefaultMaxMemoryUsageMB {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if _, err := Resolve("", nil); err != nil { t.Fatalf("resolve without file: %v", err) }
}

func TestModelDirs_ExpandsHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	cfg := Config{ModelsDir: "~/models", ExtraDirs: []string{"", "/opt/models"}}
	dirs := cfg.ModelDirs()
	if len(dirs) != 2 || dirs[0] != "/home/tester/models" || dirs[1] != "/opt/models" {
		t.Fatalf("dirs=%v", dirs)
	}
}
