// Package api hosts the operator HTTP surface. Routes:
//   - GET /healthz for liveness.
//   - GET /readyz, ready once the scheduler finished its first cycle.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status with the scheduler's cycle counters.
//
// Handlers only read scheduler state published through atomics; nothing here
// touches the watchdog store.
package api
