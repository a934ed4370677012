// Package watcher re-runs incremental indexing when project files change.
//
// Events are filtered through the project's exclude patterns and debounced,
// so an editor save or a checkout triggers one update instead of one per
// file. Newly created directories are watched as they appear.
package watcher
