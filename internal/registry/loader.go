package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"modelrouter/internal/common/fsutil"
)

// Manifest describes a model served by an external llama.cpp-compatible
// server. Manifests live next to gguf files as *.json.
type Manifest struct {
	ID         string `json:"id,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Endpoint   string `json:"endpoint"`
	Model      string `json:"model,omitempty"`
	APIKeyEnv  string `json:"api_key_env,omitempty"`
	Priority   int    `json:"priority,omitempty"`
	MemoryMB   int    `json:"memory_mb,omitempty"`
	MaxIdleSec int    `json:"max_idle_sec,omitempty"`
}

// ReadManifest parses a manifest file.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("manifest %s: %w", filepath.Base(path), err)
	}
	if strings.TrimSpace(m.Endpoint) == "" {
		return m, fmt.Errorf("manifest %s: endpoint is required", filepath.Base(path))
	}
	return m, nil
}

// Scanner discovers models below one or more root directories.
//
// Layout: <root>/<subject>/<name>.gguf becomes a llama model for <subject>;
// <root>/<subject>/<name>.json is a llama_server manifest. Files directly in
// <root> belong to the general subject unless a manifest names one.
type Scanner struct{}

// NewScanner returns a scanner.
func NewScanner() *Scanner { return &Scanner{} }

// Scan walks every directory concurrently and returns descriptors sorted by id.
// Unparseable manifests are reported in skipped and do not fail the scan.
func (s *Scanner) Scan(dirs ...string) (found []Descriptor, skipped []error, err error) {
	results := make([][]Descriptor, len(dirs))
	problems := make([][]error, len(dirs))
	var g errgroup.Group
	for i, dir := range dirs {
		g.Go(func() error {
			d, p, err := scanDir(dir)
			results[i], problems[i] = d, p
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	for i := range dirs {
		found = append(found, results[i]...)
		skipped = append(skipped, problems[i]...)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	return found, skipped, nil
}

// LoadDir scans a single directory.
func LoadDir(dir string) ([]Descriptor, error) {
	found, _, err := NewScanner().Scan(dir)
	return found, err
}

func scanDir(dir string) ([]Descriptor, []error, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, nil, err
	}
	root, err := filepath.Abs(base)
	if err != nil {
		return nil, nil, fmt.Errorf("abs path: %w", err)
	}
	if _, err := os.Stat(root); err != nil {
		return nil, nil, fmt.Errorf("read dir: %w", err)
	}

	var (
		models  []Descriptor
		skipped []error
	)
	walkErr := filepath.WalkDir(root, func(p string, e os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			// subject directories are one level deep
			if p != root && filepath.Dir(p) != root {
				return filepath.SkipDir
			}
			return nil
		}
		subject := GeneralSubject
		if parent := filepath.Dir(p); parent != root {
			subject = strings.ToLower(filepath.Base(parent))
		}
		name := e.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		switch strings.ToLower(filepath.Ext(name)) {
		case ".gguf":
			models = append(models, Descriptor{ID: stem, Subject: subject, Location: p, Kind: KindLlama, Priority: 1})
		case ".json":
			m, err := ReadManifest(p)
			if err != nil {
				skipped = append(skipped, err)
				return nil
			}
			d := Descriptor{ID: stem, Subject: subject, Location: p, Kind: KindLlamaServer, Priority: 1,
				MaxIdleSec: m.MaxIdleSec, MemoryHintMB: m.MemoryMB}
			if m.ID != "" {
				d.ID = m.ID
			}
			if m.Subject != "" {
				d.Subject = strings.ToLower(m.Subject)
			}
			if m.Priority != 0 {
				d.Priority = m.Priority
			}
			models = append(models, d)
		}
		return nil
	})
	if walkErr != nil {
		return nil, nil, walkErr
	}
	return models, skipped, nil
}
