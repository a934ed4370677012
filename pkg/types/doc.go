// Package types provides the shared entity model for the code index.
//
// Every component exchanges these values: parsing strategies produce
// Symbols, a FileMeta and PendingRelations; the relational store persists
// FileMeta, Symbol and Relation; queries return Symbols and SearchResults.
//
// # Identity
//
// A symbol id is derived from the project-relative file path and the
// qualified name, so re-indexing an unchanged symbol yields the same id:
//
//	id := types.SymbolID("pkg/server.go", "Server.Start")
//
// # Relations
//
// Relations are directed edges between stored symbols. Inverse edges
// (called-by, imported-by) are derived by querying with DirectionIn rather
// than stored. A PendingRelation names its target instead of referencing an
// id; the indexer resolves it after all files of a pass are persisted.
package types
