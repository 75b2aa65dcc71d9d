// Package api hosts the read-only status server for scan runs. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/live for the counters of the run in progress.
//   - GET /v1/runs, /v1/runs/{run_id} and /v1/runs/{run_id}/units for run
//     history via the store.RunRepository interface.
package api
