// Package postgres provides the PostgreSQL implementation of the store
// interfaces. Schema migrations live in the migrations subdirectory and
// are applied with goose at startup.
package postgres
