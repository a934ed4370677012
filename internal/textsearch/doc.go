// Package textsearch implements raw content and file path search over a
// project tree, independent of the structural index.
//
// Content search shells out to ripgrep (`rg --json`) when it is on PATH and
// otherwise scans files in-process with a compiled regular expression. The
// in-process scanner enumerates files through the discovery package, so it
// honors the same git ignore rules and exclude patterns as indexing.
package textsearch
