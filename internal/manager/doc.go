// Package manager owns the load/unload lifecycle of registered models. It is
// structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, getters and Close.
//   - config.go: Config and package defaults.
//   - types.go: lifecycle states, the per-model instance record, ModelStatus.
//   - errors.go: error types and helpers (IsTooBusy, IsModelNotFound, ...).
//   - load.go: LoadModel/GetModel, the load timeout and model cache use.
//   - evict.go: the priority-weighted LRU eviction plan.
//   - unload.go: UnloadModel with in-use refusal and drain.
//   - admission.go: per-model queueing and concurrency slots.
//   - inference.go: Infer, the single entry point used by the service.
//   - monitor.go, memsample.go: idle unloading and memory pressure relief.
//   - usage.go: hands usage statistics back to the catalogue for persistence.
//   - status_report.go: Status/Models reporting.
//
// Runtimes:
//
//   - llama (in-process): go-llama.cpp, enabled with `-tags=llama`.
//     Files: runtime_llama.go, llama_cgo.go. A no-CGO stub is compiled
//     when the tag is not set: runtime_llama_stub.go.
//   - llama_server: talks to an already running llama.cpp compatible server
//     described by a JSON manifest or URL. File: runtime_server.go.
//
// All state transitions happen under one mutex. Loads run outside it after a
// reservation so two different models may load concurrently while the decision
// to admit a load stays serialized.
package manager
