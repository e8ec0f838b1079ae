// Package brick2 is the data access backend of the BRICK 2 ad orchestrator.
//
// It serves users, campaigns, ads, performance records and leads over HTTP
// and reaches the relational store through a bounded connection pool.
//
// # Architecture
//
// Every request follows the same path:
//
//	HTTP handler (pkg/api)
//	  -> repository (pkg/repository) builds a dal.Operation
//	  -> dispatcher (internal/dispatcher) admits it against max_in_flight
//	  -> connection pool (pkg/connpool) leases one connection
//	  -> executor (pkg/dal) runs the statement under its deadline and
//	     decodes rows into records (pkg/models)
//	  -> the connection is released before the handler responds
//
// Drivers for PostgreSQL (pgx), MySQL, SQLite and an in-process simulator
// live under pkg/driver. The simulator backs the tests and the load harness
// (pkg/loadtest), which drives the dispatcher with a weighted operation mix
// and checks latency, memory and pool budgets.
//
// # Quick Start
//
// Serve the API against a local PostgreSQL:
//
//	brick2 serve --config brick2.yaml
//
// Run the load harness against the simulator:
//
//	brick2 loadtest --driver sim --concurrency 64 --requests 50000
//
// Configuration is read from YAML, then BRICK2_* environment variables
// (see pkg/config). Metrics are exported at /metrics and live dispatcher
// state at /debug/stats.
package brick2
