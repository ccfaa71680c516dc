package service

import (
	"modelrouter/internal/manager"
	"modelrouter/pkg/types"
)

// Status values reported by GET /status.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusStopped  = "stopped"
)

// Status summarizes the service. detailed adds per-model state, routing and
// cache statistics.
func (s *Service) Status(detailed bool) types.StatusResponse {
	rep := s.mgr.Status()
	out := types.StatusResponse{
		Status:         StatusHealthy,
		ServiceRunning: s.running.Load(),
		ModelsLoaded:   rep.ModelsLoaded,
	}
	if out.ServiceRunning {
		out.UptimeSeconds = int64(s.now().Sub(s.startedAt).Seconds())
	} else {
		out.Status = StatusStopped
	}
	for _, m := range rep.Models {
		if m.State == manager.StateError && out.ServiceRunning {
			out.Status = StatusDegraded
			break
		}
	}
	if !detailed {
		return out
	}

	d := &types.StatusDetail{
		Memory: types.MemoryStatus{
			UsedMB:            rep.UsedMemoryMB,
			MaxMB:             rep.MaxMemoryMB,
			MaxModels:         rep.MaxModels,
			HostMemoryPercent: rep.HostMemoryPercent,
			Loads:             rep.Loads,
			Evictions:         rep.Evictions,
			LoadErrors:        rep.LoadErrors,
			CacheHits:         rep.CacheHits,
		},
		Models:   make([]types.Model, 0, len(rep.Models)),
		Subjects: make(map[string]types.SubjectStats),
	}
	for _, m := range rep.Models {
		d.Models = append(d.Models, toModel(m))
	}
	rs := s.rtr.Stats()
	d.Routing = types.RoutingStats{
		TotalQueries:     rs.TotalQueries,
		SuccessfulRoutes: rs.SuccessfulRoutes,
		FallbackRoutes:   rs.FallbackRoutes,
		FallbacksUsed:    rs.FallbacksUsed,
	}
	for name, st := range rs.Subjects {
		d.Subjects[name] = types.SubjectStats{Hits: st.Hits, Successes: st.Successes, Errors: st.Errors, AvgMS: st.EWMAms}
	}
	if s.cache != nil {
		cs := s.cache.Stats()
		d.Cache = &types.CacheStats{
			Entries:       cs.Entries,
			MaxEntries:    cs.MaxEntries,
			SizeMB:        bytesToMB(cs.SizeBytes),
			MaxSizeMB:     bytesToMB(cs.MaxBytes),
			Utilization:   cs.Utilization,
			Hits:          cs.Hits,
			Misses:        cs.Misses,
			Evictions:     cs.Evictions,
			Invalidations: cs.Invalidations,
		}
	}
	out.Detail = d
	return out
}

func bytesToMB(n int64) float64 { return float64(n) / (1 << 20) }
