// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Push connection state, reconnect attempts and heartbeats
//   - Inbound message rates by type and decode failures
//   - Live event buffer length
//   - Fetch outcomes, latencies and discarded stale results
//   - Archive writer throughput
//
// Each Metrics value registers against the Registerer it is given, so tests
// and multiple facades in one process do not collide on the default registry.
package metrics
