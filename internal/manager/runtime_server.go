package manager

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"modelrouter/internal/common/fsutil"
	"modelrouter/internal/registry"
)

// serverRuntime talks to an already running llama.cpp compatible server over
// HTTP. "Loading" verifies the server answers; the model lives in that process.
type serverRuntime struct {
	reqTimeout time.Duration
	httpClient *http.Client
}

// NewServerRuntime constructs the llama_server runtime.
func NewServerRuntime(reqTimeout time.Duration) Runtime {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every request carries a context deadline instead.
	return &serverRuntime{reqTimeout: reqTimeout, httpClient: &http.Client{Transport: tr}}
}

type serverHandle struct {
	rt        *serverRuntime
	baseURL   string
	model     string
	apiKey    string
	footprint int
}

// resolveServer turns a descriptor location (URL or manifest path) into an endpoint.
func resolveServer(d registry.Descriptor) (base, model, apiKey string, memMB int, err error) {
	if fsutil.IsRemote(d.Location) {
		return strings.TrimRight(d.Location, "/"), "", "", d.MemoryHintMB, nil
	}
	man, err := registry.ReadManifest(d.Location)
	if err != nil {
		return "", "", "", 0, err
	}
	if man.APIKeyEnv != "" {
		apiKey = os.Getenv(man.APIKeyEnv)
	}
	memMB = d.MemoryHintMB
	if memMB == 0 {
		memMB = man.MemoryMB
	}
	return strings.TrimRight(man.Endpoint, "/"), man.Model, apiKey, memMB, nil
}

func (r *serverRuntime) Load(ctx context.Context, d registry.Descriptor) (Handle, error) {
	base, model, apiKey, memMB, err := resolveServer(d)
	if err != nil {
		return nil, err
	}
	h := &serverHandle{rt: r, baseURL: base, model: model, apiKey: apiKey, footprint: memMB}
	if err := h.healthy(ctx); err != nil {
		return nil, fmt.Errorf("llama server %s: %w", base, err)
	}
	return h, nil
}

// healthy checks /health and falls back to /v1/models for servers without it.
func (h *serverHandle) healthy(ctx context.Context) error {
	var lastErr error
	for _, path := range []string{"/health", "/v1/models"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
		if err != nil {
			return err
		}
		h.authorize(req)
		resp, err := h.rt.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = errors.New("unhealthy: " + resp.Status)
	}
	return lastErr
}

func (h *serverHandle) authorize(req *http.Request) {
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
}

func (h *serverHandle) FootprintMB() int { return h.footprint }

func (h *serverHandle) Close() error {
	h.rt.httpClient.CloseIdleConnections()
	return nil
}

// completionRequest is the payload for /v1/completions.
type completionRequest struct {
	Model         string   `json:"model,omitempty"`
	Prompt        string   `json:"prompt"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   float32  `json:"temperature,omitempty"`
	TopP          float32  `json:"top_p,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	Seed          int      `json:"seed,omitempty"`
	Stream        bool     `json:"stream"`
	RepeatPenalty float32  `json:"repeat_penalty,omitempty"`
}

func (h *serverHandle) Generate(ctx context.Context, prompt string, params InferParams, onToken func(string) error) (FinalResult, error) {
	if h.rt.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.rt.reqTimeout)
		defer cancel()
	}
	body, _ := json.Marshal(completionRequest{
		Model:         h.model,
		Prompt:        prompt,
		MaxTokens:     params.MaxTokens,
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		TopK:          params.TopK,
		Stop:          params.Stop,
		Seed:          params.Seed,
		Stream:        true,
		RepeatPenalty: params.RepeatPenalty,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return FinalResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	h.authorize(req)
	resp, err := h.rt.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return FinalResult{}, ctx.Err()
		}
		return FinalResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return FinalResult{}, errors.New("llama server http error: " + resp.Status + ": " + string(b))
	}
	return readStream(ctx, resp.Body, onToken)
}

// readStream parses server-sent events ("data: {...}") as well as bare JSON
// lines. Token text is taken from OpenAI completion, chat delta or native
// llama.cpp fields, whichever is present.
func readStream(ctx context.Context, body io.Reader, onToken func(string) error) (FinalResult, error) {
	r := bufio.NewReader(body)
	var (
		final FinalResult
		b     strings.Builder
	)
	for {
		line, err := r.ReadString('\n')
		if data, ok := streamPayload(line); ok {
			if data == "[DONE]" {
				break
			}
			if !gjson.Valid(data) {
				zlog.Debug().Str("runtime", "llama_server").Str("line", data).Msg("unknown stream line")
			} else {
				res := gjson.Parse(data)
				tok := firstString(res, "choices.0.text", "choices.0.delta.content", "content")
				if tok != "" {
					b.WriteString(tok)
					if onToken != nil {
						if cbErr := onToken(tok); cbErr != nil {
							return final, cbErr
						}
					}
				}
				if fr := res.Get("choices.0.finish_reason").String(); fr != "" {
					final.FinishReason = fr
				} else if res.Get("stop").Bool() {
					final.FinishReason = "stop"
				}
				if u := res.Get("usage"); u.Exists() {
					final.Usage = Usage{
						PromptTokens:     int(u.Get("prompt_tokens").Int()),
						CompletionTokens: int(u.Get("completion_tokens").Int()),
						TotalTokens:      int(u.Get("total_tokens").Int()),
					}
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return final, ctx.Err()
			}
			return final, err
		}
	}
	final.Content = b.String()
	return final, nil
}

func streamPayload(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, ":") {
		return "", false
	}
	if len(line) >= 5 && strings.EqualFold(line[:5], "data:") {
		return strings.TrimSpace(line[5:]), true
	}
	return line, true
}

func firstString(res gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := res.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
