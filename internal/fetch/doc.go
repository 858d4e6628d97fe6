// Package fetch implements the Fetch Manager.
//
// The Fetch Manager:
//   - Issues requests against the request/response API per subscription
//   - Re-issues them on an optional refresh interval
//   - Re-fetches on demand with fresh parameters, or when dependencies change
//   - Retains the last good payload when a fetch fails
//   - Applies only the most recently initiated fetch (generation tokens)
//
// All state changes run on a dispatch.Queue; requests run on their own
// goroutines and post their completion back to the queue.
package fetch
