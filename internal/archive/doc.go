// Package archive persists live events to PostgreSQL.
//
// The Writer batches events received from the synchronization facade and
// inserts them into live_events with append-only semantics: an event ID that
// is already stored is skipped (ON CONFLICT DO NOTHING), so replays after a
// reconnect do not duplicate rows.
package archive
