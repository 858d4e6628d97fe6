// Package dispatch provides the serialized execution context shared by the
// synchronization components.
//
// Every state transition (network callbacks, timer expiry, request
// completion) is posted to a Queue and runs on its single goroutine, so no
// two handlers for the same facade ever execute concurrently. Posting never
// blocks: the mailbox grows instead.
package dispatch
