// Package obdstream ingests live vehicle telemetry from an OBD-II WebSocket
// bridge, keeps a rolling per-channel history, and serves throttled readings
// over HTTP with optional relay of every frame onto NATS.
//
// The main packages are:
//   - stream: reconnecting WebSocket connection manager
//   - telemetry: payload normalization and the channel catalog
//   - history: windowed per-channel sample store
//   - render: power profiles and latest-value throttling
//   - pipeline: wires the above into one ingestion pipeline
//   - gateway/http: read-only HTTP and SSE surface
//
// The obdstream command in cmd/obdstream runs the whole stack.
package obdstream
