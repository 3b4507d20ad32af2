// Package database opens the PostgreSQL pool used by the postgres
// credential store.
package database
