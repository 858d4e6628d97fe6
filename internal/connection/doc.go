// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns exactly one persistent WebSocket connection per instance
//   - Sends a {"type":"heartbeat"} keep-alive every 30s while open
//   - Reconnects with capped exponential backoff (1s, 2s, 4s, 8s, 16s) and
//     stops after five automatic attempts
//   - Decodes inbound JSON messages and fans them out to subscribers
//   - Pushes high-priority events into the live event buffer before dispatch
//
// State machine:
//
//	Idle -> Connecting -> Open -> Closing -> Closed
//	Connecting|Open -(failure)-> Reconnecting -(timer)-> Connecting
//	Reconnecting -(attempts exhausted)-> Failed
//
// All transitions run on a dispatch.Queue. Network I/O happens on separate
// goroutines and reports back through the queue; results from a superseded
// session are discarded.
package connection
