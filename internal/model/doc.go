// Package model defines the data types shared by the synchronization core.
//
// Conventions:
//   - Wire messages are JSON objects tagged by a "type" field
//   - Risk scores are probabilities in [0, 1]
//   - Timestamps are decoded leniently (RFC 3339, zone-less ISO 8601 as
//     UTC, epoch numbers); an unparseable timestamp never drops an event
package model
