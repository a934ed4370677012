// Package discovery enumerates the source files of a project.
//
// Discover asks git for tracked and untracked-but-not-ignored files and falls
// back to a filesystem walk that skips hidden directories. Both paths apply
// the same doublestar include/exclude patterns, a maximum file size and a
// binary-content check, and return project-relative slash-separated paths in
// sorted order.
package discovery
