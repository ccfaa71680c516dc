package types

import "encoding/json"

// QueryRequest is the payload for POST /query.
type QueryRequest struct {
	// Required question text.
	// example: What is 15 + 27?
	Query string `json:"query" example:"What is 15 + 27?"`
	// Optional free-form context supplied by the caller (any JSON value).
	UserContext json.RawMessage `json:"user_context,omitempty" swaggertype:"object"`
	// Maximum number of tokens to generate (default 150).
	// example: 150
	MaxLength int `json:"max_length,omitempty" example:"150"`
	// Sampling temperature (default 0.7).
	// example: 0.7
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
}

// QueryResponse is returned by POST /query.
type QueryResponse struct {
	// Generated answer text.
	Response string `json:"response" example:"15 + 27 = 42"`
	// Model that produced the answer, or "general" for the canned fallback.
	// example: math-qwen
	ModelUsed string `json:"model_used" example:"math-qwen"`
	// Classifier confidence for the chosen subject.
	// example: 0.93
	Confidence float64 `json:"confidence" example:"0.93"`
	// Human readable explanation of the routing decision.
	Reasoning string `json:"reasoning"`
	// Wall time spent serving the query in seconds.
	// example: 0.42
	ProcessingTime float64 `json:"processing_time" example:"0.42"`
	// True when a fallback target answered instead of the primary model.
	// example: false
	FallbackUsed bool `json:"fallback_used" example:"false"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// RegisterModelRequest is the payload for POST /models.
type RegisterModelRequest struct {
	// Optional id; generated from the subject when empty.
	// example: math-qwen
	ID string `json:"id,omitempty" example:"math-qwen"`
	// Subject the model specializes in.
	// example: math
	Subject string `json:"subject" example:"math"`
	// Filesystem path or http(s) URL.
	// example: /models/math/qwen.gguf
	Location string `json:"location" example:"/models/math/qwen.gguf"`
	// Runtime kind: llama or llama_server. Inferred from location when empty.
	// example: llama
	Kind string `json:"kind,omitempty" example:"llama"`
	// Higher priority models are evicted last.
	// example: 2
	Priority int `json:"priority,omitempty" example:"2"`
	// Declared memory footprint in MB.
	// example: 4200
	MemoryHintMB int `json:"memory_hint_mb,omitempty" example:"4200"`
	// Idle timeout override in seconds.
	// example: 600
	MaxIdleSec int `json:"max_idle_sec,omitempty" example:"600"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// ModelActionResponse is returned by the load and unload endpoints.
type ModelActionResponse struct {
	// example: math-qwen
	ID string `json:"id" example:"math-qwen"`
	// example: loaded
	State string `json:"state" example:"loaded"`
	// False when an unload was refused because the model is in use.
	// example: true
	OK bool `json:"ok" example:"true"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// example: true
	ServiceRunning bool `json:"service_running" example:"true"`
	// example: 2
	ModelsLoaded int `json:"models_loaded" example:"2"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Present only with ?detail=1.
	Detail *StatusDetail `json:"detail,omitempty"`
}

// StatusDetail is the expanded status report.
type StatusDetail struct {
	Memory   MemoryStatus            `json:"memory"`
	Models   []Model                 `json:"models"`
	Routing  RoutingStats            `json:"routing"`
	Subjects map[string]SubjectStats `json:"subjects"`
	Cache    *CacheStats             `json:"cache,omitempty"`
}

// MemoryStatus summarizes manager accounting.
type MemoryStatus struct {
	UsedMB            int     `json:"used_mb"`
	MaxMB             int     `json:"max_mb"`
	MaxModels         int     `json:"max_models"`
	HostMemoryPercent float64 `json:"host_memory_percent"`
	Loads             int64   `json:"loads_total"`
	Evictions         int64   `json:"evictions_total"`
	LoadErrors        int64   `json:"load_errors_total"`
	CacheHits         int64   `json:"cache_hits_total"`
}

// RoutingStats are the router's running totals.
type RoutingStats struct {
	TotalQueries     int64 `json:"total_queries"`
	SuccessfulRoutes int64 `json:"successful_routes"`
	FallbackRoutes   int64 `json:"fallback_routes"`
	FallbacksUsed    int64 `json:"fallbacks_used"`
}

// SubjectStats are per-subject routing and serving counters.
type SubjectStats struct {
	Hits      int64   `json:"hits"`
	Successes int64   `json:"successes"`
	Errors    int64   `json:"errors"`
	AvgMS     float64 `json:"avg_response_ms"`
}

// CacheStats reports model cache utilisation.
type CacheStats struct {
	Entries       int     `json:"entries"`
	MaxEntries    int     `json:"max_entries"`
	SizeMB        float64 `json:"size_mb"`
	MaxSizeMB     float64 `json:"max_size_mb"`
	Utilization   float64 `json:"utilization"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Evictions     int64   `json:"evictions"`
	Invalidations int64   `json:"invalidations"`
}
