package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9999\nmodels_dir: /tmp\nmax_memory_usage_mb: 123\nmax_models_in_memory: 2\npreload_subjects: [math]\nclassifier:\n  strategy: keyword\n")
	cfg, err := Load(p)
	if err != nil { t.Fatalf("load: %v", err) }
	if cfg.Addr != ":9999" || cfg.ModelsDir != "/tmp" || cfg.MaxMemoryUsageMB != 123 || cfg.MaxModelsInMemory != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.PreloadSubjects) != 1 || cfg.PreloadSubjects[0] != "math" || cfg.Classifier.Strategy != "keyword" {
		t.Fatalf("unexpected nested cfg: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","models_dir":"/m","model_idle_timeout_sec":42,"cache_enabled":false,"router":{"strategy":"cascade","confidence_threshold":0.5}}`)
	cfg, err := Load(p)
	if err != nil { t.Fatalf("load: %v", err) }
	if cfg.Addr != ":7070" || cfg.ModelsDir != "/m" || cfg.ModelIdleTimeoutSec != 42 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.CacheEnabled == nil || *cfg.CacheEnabled || cfg.Router.Strategy != "cascade" || cfg.Router.Threshold() != 0.5 {
		t.Fatalf("unexpected nested cfg: %+v", cfg)
	}
}

func TestLoadYAML_ZeroThresholdKept(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.yaml", "router:\n  confidence_threshold: 0\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg = cfg.WithDefaults()
	if cfg.Router.ConfidenceThreshold == nil || cfg.Router.Threshold() != 0 {
		t.Fatalf("explicit zero threshold lost: %v", cfg.Router.ConfidenceThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nmodels_dir=\"/x\"\nmax_cache_entries=4\n[embedding]\nprovider=\"ollama\"\n")
	cfg, err := Load(p)
	if err != nil { t.Fatalf("load: %v", err) }
	if cfg.Addr != ":8081" || cfg.ModelsDir != "/x" || cfg.MaxCacheEntries != 4 || cfg.Embedding.Provider != "ollama" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil { t.Fatalf("expected error on empty path") }
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil { t.Fatalf("expected unsupported extension error") }
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.MaxModelsInMemory != 3 || cfg.MaxMemoryUsageMB != 8192 || cfg.ModelIdleTimeoutSec != 1800 || cfg.MemoryCheckIntervalSec != 60 {
		t.Fatalf("unexpected manager defaults: %+v", cfg)
	}
	if cfg.CacheEnabled == nil || !*cfg.CacheEnabled || cfg.CacheDirectory != DefaultCacheDirectory {
		t.Fatalf("unexpected cache defaults: %+v", cfg)
	}
	if len(cfg.PreloadSubjects) != 0 || cfg.DefaultMaxLength != 150 || cfg.DefaultTemperature != 0.7 {
		t.Fatalf("unexpected query defaults: %+v", cfg)
	}
	if cfg.StateDB != filepath.Join(DefaultCacheDirectory, "modelrouter.db") {
		t.Fatalf("state db=%q", cfg.StateDB)
	}
	if err := cfg.Validate(); err != nil { t.Fatalf("defaults must validate: %v", err) }

	mc := cfg.ManagerConfig()
	if mc.ModelIdleTimeout.Minutes() != 30 || !mc.HostMemoryCheck {
		t.Fatalf("unexpected manager config: %+v", mc)
	}
}
