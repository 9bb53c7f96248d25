// Package database provides the PostgreSQL connection pool used by the delta
// journal.
//
// The journal is optional: the pool is only opened when database.host is set.
package database
