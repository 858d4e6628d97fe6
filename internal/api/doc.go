// Package api provides the request/response client for the fraud monitoring
// service.
//
// Endpoints live under a configurable base URL
// (default http://localhost:8080/api/v1), for example:
//   - GET /dashboard/metrics
//   - GET /transactions?limit=100
//   - GET /alerts?timeRange=24h
//
// Responses are JSON of arbitrary shape and are returned undecoded.
package api
