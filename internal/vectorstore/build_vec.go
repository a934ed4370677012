//go:build sqlite_vec && !purego
// +build sqlite_vec,!purego

package vectorstore

// Compiled with the sqlite_vec tag: the sqlite-vec extension is registered
// on every go-sqlite3 connection and distances are computed in SQL.

import (
	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	sqlite_vec.Auto()
}

// ExtensionAvailable reports whether vec_distance_cosine is usable in SQL
const ExtensionAvailable = true

func encodeQuery(v []float32) ([]byte, error) {
	return sqlite_vec.SerializeFloat32(v)
}
