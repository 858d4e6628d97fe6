// Package database provides the PostgreSQL connection pool used by the live
// event archive.
package database
