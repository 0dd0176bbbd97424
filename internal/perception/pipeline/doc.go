// Package pipeline provides orchestration for the deviation evaluation flow.
//
// It wires the object filter, the deviation engine and the adapter sinks
// (recording, persistence) into a coherent processing loop for both live
// ingest and replay use cases. The pipeline owns no domain logic; it
// delegates to the perception packages and the configured sinks.
package pipeline
