// Package api implements the HTTP REST API and WebSocket server for
// Brewpilot Core.
//
// This package provides:
//   - REST endpoints for process and task CRUD
//   - Step jump submission for manual operator intervention
//   - WebSocket hub broadcasting the active-state snapshot each tick
//   - Optional JWT bearer authentication on mutating routes
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API server sits between user interfaces and the automation
// engine. Templates posted here become running processes; jumps are
// queued fire-and-forget and consumed by the next engine tick; state
// flows back to clients through the WebSocket hub, which the engine
// also feeds directly.
//
// # Validation Boundary
//
// This layer rejects malformed templates and tasks before they reach
// the engine. The one check it delegates is transition-target
// resolution, which process instantiation performs itself.
//
// # Graceful Degradation
//
// The server operates without authentication (empty auth secret) for
// trusted-network deployments, and without a telemetry recorder.
package api
