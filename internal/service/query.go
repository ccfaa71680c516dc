package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"modelrouter/internal/manager"
	"modelrouter/internal/router"
	"modelrouter/pkg/types"
)

// ProcessQuery routes a query and answers it with the chosen model, walking
// the fallback list when a model fails. Every model attempt is reported to
// the router's statistics before returning.
func (s *Service) ProcessQuery(ctx context.Context, q types.QueryRequest) (types.QueryResponse, error) {
	start := s.now()
	text := strings.TrimSpace(q.Query)
	if text == "" {
		return types.QueryResponse{}, ErrEmptyQuery
	}
	if s.reg.Len() == 0 {
		return types.QueryResponse{}, ErrNoModels
	}
	userCtx := contextText(q.UserContext)

	d, err := s.rtr.Route(ctx, text, userCtx)
	if err != nil {
		return types.QueryResponse{}, err
	}
	resp := types.QueryResponse{Confidence: d.Confidence, Reasoning: d.Reasoning}
	finish := func(r types.QueryResponse) types.QueryResponse {
		r.ProcessingTime = s.now().Sub(start).Seconds()
		return r
	}
	if d.IsGeneral() {
		resp.ModelUsed = router.GeneralModel
		resp.Response = generalResponse(d)
		return finish(resp), nil
	}

	params := s.inferParams(q)
	prompt := buildPrompt(text, userCtx)
	var attempts []Attempt
	for i, id := range append([]string{d.PrimaryModel}, d.FallbackModels...) {
		if err := ctx.Err(); err != nil {
			return types.QueryResponse{}, err
		}
		if id == router.GeneralModel {
			s.rtr.RecordFallbackUsed()
			resp.ModelUsed = router.GeneralModel
			resp.Response = generalResponse(d)
			resp.FallbackUsed = true
			return finish(resp), nil
		}
		out, err := s.invoke(ctx, id, prompt, params)
		if err != nil {
			attempts = append(attempts, Attempt{ModelID: id, Err: err})
			if ctx.Err() != nil {
				return types.QueryResponse{}, ctx.Err()
			}
			s.log.Warn().Err(err).Str("model", id).Int("attempt", i+1).Msg("model failed; trying next target")
			continue
		}
		if i > 0 {
			s.rtr.RecordFallbackUsed()
			resp.FallbackUsed = true
		}
		resp.ModelUsed = id
		resp.Response = out
		return finish(resp), nil
	}
	return types.QueryResponse{}, &AllModelsFailedError{Attempts: attempts}
}

// invoke runs one model and reports the outcome to the router.
func (s *Service) invoke(ctx context.Context, id, prompt string, params manager.InferParams) (string, error) {
	subject := ""
	if st, ok := s.mgr.ModelStatus(id); ok {
		subject = st.Subject
	}
	t0 := s.now()
	res, err := s.mgr.Infer(ctx, id, prompt, params, nil)
	if err == nil && strings.TrimSpace(res.Content) == "" {
		err = fmt.Errorf("model %s returned an empty response", id)
	}
	s.rtr.ObserveResult(id, subject, s.now().Sub(t0), err)
	if err != nil {
		return "", err
	}
	s.log.Debug().
		Str("model", id).
		Int("completion_tokens", res.Usage.CompletionTokens).
		Str("finish_reason", res.FinishReason).
		Dur("elapsed", s.now().Sub(t0)).
		Msg("query answered")
	return strings.TrimSpace(res.Content), nil
}

func (s *Service) inferParams(q types.QueryRequest) manager.InferParams {
	p := manager.InferParams{MaxTokens: q.MaxLength, Temperature: float32(s.cfg.DefaultTemperature)}
	if p.MaxTokens <= 0 {
		p.MaxTokens = s.cfg.DefaultMaxLength
	}
	if q.Temperature != nil {
		p.Temperature = float32(*q.Temperature)
	}
	return p
}

// contextText renders the caller supplied context for the prompt. JSON
// strings are unquoted; other values are compacted.
func contextText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return strings.TrimSpace(str)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func buildPrompt(query, userCtx string) string {
	var b strings.Builder
	if userCtx != "" {
		b.WriteString("Context: ")
		b.WriteString(userCtx)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\nAnswer:")
	return b.String()
}

// generalResponse is the canned answer for queries no specialized model
// takes on.
func generalResponse(d router.Decision) string {
	subject := d.Classification.PredictedSubject
	if subject == "" {
		return "I could not match this question to a specialized model. Please rephrase it or add more detail."
	}
	return fmt.Sprintf("This looks like a %s question (confidence %.0f%%), but no specialized %s model could answer it right now. Please rephrase it or try again later.",
		subject, d.Confidence*100, subject)
}
