package types

// Model is the public view of one registered model and its runtime state.
type Model struct {
	// Stable identifier for the model.
	// example: math-qwen
	ID string `json:"id" example:"math-qwen"`
	// example: math
	Subject string `json:"subject" example:"math"`
	// Path or URL the model is materialized from.
	// example: /home/user/models/math/qwen.gguf
	Location string `json:"location" example:"/home/user/models/math/qwen.gguf"`
	// example: llama
	Kind string `json:"kind" example:"llama"`
	// example: 1
	Priority int `json:"priority" example:"1"`
	// Lifecycle state: unloaded, loading, loaded, unloading or error.
	// example: loaded
	State string `json:"state" example:"loaded"`
	// example: 4200
	MemoryFootprintMB int `json:"memory_footprint_mb" example:"4200"`
	// example: 17
	UsageCount int64 `json:"usage_count" example:"17"`
	// Last time this model served a request (unix seconds, 0 if never).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// example: 1532
	LoadTimeMS int64 `json:"load_time_ms,omitempty" example:"1532"`
	// example: false
	LoadedFromCache bool `json:"loaded_from_cache,omitempty" example:"false"`
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Last load error, kept while the model is in the error state.
	ErrorMessage string `json:"error_message,omitempty"`
}
