package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"modelrouter/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ProcessQuery(ctx context.Context, req types.QueryRequest) (types.QueryResponse, error)
	Models() []types.Model
	Register(ctx context.Context, req types.RegisterModelRequest) (types.Model, error)
	LoadModel(ctx context.Context, id string) (types.ModelActionResponse, error)
	UnloadModel(ctx context.Context, id string, force bool) (types.ModelActionResponse, error)
	Status(detailed bool) types.StatusResponse
	Ready() bool
}

// NewMux builds the HTTP handler for svc.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: orDefault(corsAllowedOrigins, []string{"*"}),
			AllowedMethods: orDefault(corsAllowedMethods, []string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Content-Type", "X-Log-Level"}),
			MaxAge:         300,
		}))
	}

	h := &handlers{svc: svc}
	r.Post("/query", rateLimit(h.query))
	r.Get("/status", h.status)
	r.Get("/models", h.listModels)
	r.Post("/models", h.registerModel)
	r.Post("/models/{id}/load", h.loadModel)
	r.Post("/models/{id}/unload", h.unloadModel)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no models"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

type handlers struct {
	svc Service
}

// query godoc
// @Summary      Answer a query
// @Description  Classifies the query, routes it to the best specialized model and returns its answer.
// @Tags         query
// @Accept       json
// @Produce      json
// @Param        request  body      types.QueryRequest  true  "Query"
// @Success      200      {object}  types.QueryResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      415      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Failure      500      {object}  types.ErrorResponse
// @Router       /query [post]
func (h *handlers) query(w http.ResponseWriter, r *http.Request) {
	var req types.QueryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSONError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.MaxLength < 0 {
		writeJSONError(w, http.StatusBadRequest, "max_length must not be negative")
		return
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		writeJSONError(w, http.StatusBadRequest, "temperature must be between 0 and 2")
		return
	}

	lvl := requestLogLevel(r)
	start := time.Now()
	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	if queryTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, time.Duration(queryTimeout)*time.Second)
		defer tcancel()
	}

	resp, err := h.svc.ProcessQuery(ctx, req)
	if err != nil {
		if r.Context().Err() != nil {
			// client went away
			return
		}
		if serverBaseCtx.Err() != nil {
			writeJSONError(w, http.StatusServiceUnavailable, "server shutting down")
			return
		}
		status := writeError(w, err)
		logEnd(r, lvl, status, start, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	logEnd(r, lvl, http.StatusOK, start, nil, func(ev *zerolog.Event) {
		ev.Str("model", resp.ModelUsed).Float64("confidence", resp.Confidence).Bool("fallback", resp.FallbackUsed)
	})
}

// status godoc
// @Summary      Service status
// @Tags         status
// @Produce      json
// @Param        detail  query     bool  false  "Include per-model, routing and cache detail"
// @Success      200     {object}  types.StatusResponse
// @Router       /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status(flag(r, "detail")))
}

// listModels godoc
// @Summary      List registered models
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /models [get]
func (h *handlers) listModels(w http.ResponseWriter, r *http.Request) {
	models := h.svc.Models()
	if models == nil {
		models = []types.Model{}
	}
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: models})
}

// registerModel godoc
// @Summary      Register a model
// @Tags         models
// @Accept       json
// @Produce      json
// @Param        request  body      types.RegisterModelRequest  true  "Model"
// @Success      201      {object}  types.Model
// @Failure      400      {object}  types.ErrorResponse
// @Failure      409      {object}  types.ErrorResponse
// @Router       /models [post]
func (h *handlers) registerModel(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterModelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Location) == "" {
		writeJSONError(w, http.StatusBadRequest, "subject and location are required")
		return
	}
	m, err := h.svc.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// loadModel godoc
// @Summary      Load a model
// @Tags         models
// @Produce      json
// @Param        id   path      string  true  "Model id"
// @Success      200  {object}  types.ModelActionResponse
// @Failure      404  {object}  types.ErrorResponse
// @Failure      429  {object}  types.ErrorResponse
// @Failure      503  {object}  types.ErrorResponse
// @Router       /models/{id}/load [post]
func (h *handlers) loadModel(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.LoadModel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// unloadModel godoc
// @Summary      Unload a model
// @Description  Without force a model that is serving or was used recently stays loaded and 409 is returned.
// @Tags         models
// @Produce      json
// @Param        id     path      string  true   "Model id"
// @Param        force  query     bool    false  "Drain and unload even if in use"
// @Success      200    {object}  types.ModelActionResponse
// @Failure      404    {object}  types.ErrorResponse
// @Failure      409    {object}  types.ModelActionResponse
// @Router       /models/{id}/unload [post]
func (h *handlers) unloadModel(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.UnloadModel(r.Context(), chi.URLParam(r, "id"), flag(r, "force"))
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if !res.OK {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}

// decodeJSON enforces the JSON content type and body limit and decodes into
// v. It writes the error response and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// flag reads a boolean query parameter; "1" and "true" enable it.
func flag(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
