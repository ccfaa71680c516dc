package manager

import "sort"

// SanityReport describes which runtimes this build can actually serve.
type SanityReport struct {
	LlamaBuilt bool     `json:"llama_built"`
	Runtimes   []string `json:"runtimes"`
	Cache      bool     `json:"cache_enabled"`
}

// SanityCheck reports runtime availability. It does not mutate state and is
// safe to call at any time.
func (m *Manager) SanityCheck() SanityReport {
	r := SanityReport{LlamaBuilt: llamaBuilt, Cache: m.cache != nil}
	for kind, rt := range m.runtimes {
		if rt != nil {
			r.Runtimes = append(r.Runtimes, kind)
		}
	}
	sort.Strings(r.Runtimes)
	return r
}
