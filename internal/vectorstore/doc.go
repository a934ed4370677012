// Package vectorstore keeps embedding vectors keyed by symbol id.
//
// Vectors live in their own SQLite database under the state directory so the
// semantic index can be deleted and rebuilt without touching the structural
// index. Built with the sqlite_vec tag, distances are computed in SQL by the
// sqlite-vec extension; otherwise cosine similarity is computed in Go.
package vectorstore
