// Package fingerprint tracks a 64-bit xxhash per indexed file so the indexer
// can skip files whose bytes did not change since the previous pass.
//
// The cache is persisted as a small JSON file next to the index database.
// It is mutated only by the indexer of a single process; cross-process
// exclusion is the caller's job.
package fingerprint
