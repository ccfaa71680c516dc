package service

import (
	"context"

	"modelrouter/internal/manager"
	"modelrouter/internal/registry"
	"modelrouter/pkg/types"
)

// Register adds an operator supplied model to the catalogue.
func (s *Service) Register(ctx context.Context, req types.RegisterModelRequest) (types.Model, error) {
	d, err := s.reg.Register(ctx, registry.Descriptor{
		ID:           req.ID,
		Subject:      req.Subject,
		Location:     req.Location,
		Kind:         req.Kind,
		Priority:     req.Priority,
		MemoryHintMB: req.MemoryHintMB,
		MaxIdleSec:   req.MaxIdleSec,
	})
	if err != nil {
		return types.Model{}, err
	}
	st, ok := s.mgr.ModelStatus(d.ID)
	if !ok {
		return types.Model{ID: d.ID, Subject: d.Subject, Location: d.Location, Kind: d.Kind, Priority: d.Priority, State: string(manager.StateUnloaded)}, nil
	}
	return toModel(st), nil
}

// Models lists every registered model with its runtime state.
func (s *Service) Models() []types.Model {
	sts := s.mgr.Models(registry.Filter{})
	out := make([]types.Model, 0, len(sts))
	for _, st := range sts {
		out = append(out, toModel(st))
	}
	return out
}

// LoadModel loads id explicitly, evicting others if needed.
func (s *Service) LoadModel(ctx context.Context, id string) (types.ModelActionResponse, error) {
	if _, err := s.mgr.LoadModel(ctx, id, false); err != nil {
		return types.ModelActionResponse{}, err
	}
	return s.action(id, true), nil
}

// UnloadModel unloads id. Without force a model that is in use stays loaded
// and OK is false.
func (s *Service) UnloadModel(ctx context.Context, id string, force bool) (types.ModelActionResponse, error) {
	if _, ok := s.reg.Get(id); !ok {
		return types.ModelActionResponse{}, manager.ErrModelNotFound(id)
	}
	ok := s.mgr.UnloadModel(ctx, id, force)
	return s.action(id, ok), nil
}

func (s *Service) action(id string, ok bool) types.ModelActionResponse {
	st, _ := s.mgr.State(id)
	return types.ModelActionResponse{ID: id, State: string(st), OK: ok}
}

func toModel(st manager.ModelStatus) types.Model {
	m := types.Model{
		ID:                st.ID,
		Subject:           st.Subject,
		Location:          st.Location,
		Kind:              st.Kind,
		Priority:          st.Priority,
		State:             string(st.State),
		MemoryFootprintMB: st.MemoryFootprintMB,
		UsageCount:        st.UsageCount,
		LoadTimeMS:        st.LoadTimeMS,
		LoadedFromCache:   st.LoadedFromCache,
		QueueLen:          st.QueueLen,
		Inflight:          st.Inflight,
		ErrorMessage:      st.ErrorMessage,
	}
	if !st.LastUsedAt.IsZero() {
		m.LastUsed = st.LastUsedAt.Unix()
	}
	return m
}
