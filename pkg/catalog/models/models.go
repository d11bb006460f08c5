// Package models defines the persistent entities of the ingestion service:
// upload sessions, their chunks, published catalog entries, and periodic
// platform statistics.
package models

// AllModels returns every model for schema auto-migration.
func AllModels() []any {
	return []any{
		&Upload{},
		&Chunk{},
		&CatalogEntry{},
		&PlatformStat{},
	}
}
