package manager

import (
	"context"
	"strings"
	"time"
)

// Infer loads id if needed, waits for admission and runs one generation.
// Usage statistics are updated before it returns.
func (m *Manager) Infer(ctx context.Context, id, prompt string, params InferParams, onToken func(string) error) (FinalResult, error) {
	h, release, err := m.acquire(ctx, id)
	if err != nil {
		return FinalResult{}, err
	}
	defer release()

	var b strings.Builder
	onTok := func(tok string) error {
		b.WriteString(tok)
		if onToken != nil {
			return onToken(tok)
		}
		return nil
	}
	start := time.Now()
	final, err := h.Generate(ctx, prompt, params, onTok)
	inferDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		inferTotal.WithLabelValues("error").Inc()
		m.log.Warn().Err(err).Str("event", "infer_error").Str("model", id).Msg("generation failed")
		return FinalResult{}, err
	}
	inferTotal.WithLabelValues("ok").Inc()
	if final.Content == "" {
		final.Content = b.String()
	}
	return final, nil
}

// acquire returns a loaded handle holding an admission slot. A model evicted
// between load and admission is loaded once more.
func (m *Manager) acquire(ctx context.Context, id string) (Handle, func(), error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if _, err := m.GetModel(ctx, id, true); err != nil {
			return nil, nil, err
		}
		release, err := m.BeginInference(ctx, id)
		if err != nil {
			lastErr = err
			if st, _ := m.State(id); IsTooBusy(err) && st == StateUnloaded {
				continue
			}
			return nil, nil, err
		}
		m.mu.Lock()
		h := m.instances[id].handle
		m.mu.Unlock()
		return h, release, nil
	}
	return nil, nil, lastErr
}
