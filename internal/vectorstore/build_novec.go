//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package vectorstore

// ExtensionAvailable reports whether vec_distance_cosine is usable in SQL
const ExtensionAvailable = false

func encodeQuery(v []float32) ([]byte, error) {
	return serializeVector(v), nil
}
