package fingerprint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ErrCorrupt is returned by Load when the cache file cannot be decoded.
// The cache is left empty, so the next pass re-parses everything.
var ErrCorrupt = errors.New("fingerprint cache is corrupt")

const cacheVersion = 1

// Cache maps project-relative paths to content hashes. It only short-circuits
// work: a missing or stale entry costs a redundant parse, never a wrong result.
type Cache struct {
	path string

	mu      sync.RWMutex
	entries map[string]string
	dirty   bool
}

type cacheFile struct {
	Version int               `json:"version"`
	Entries map[string]string `json:"entries"`
}

// New creates an empty cache persisted at path
func New(path string) *Cache {
	return &Cache{
		path:    path,
		entries: make(map[string]string),
	}
}

// Get returns the recorded hash for a path
func (c *Cache) Get(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.entries[path]
	return h, ok
}

// Update records the hash for a path
func (c *Cache) Update(path, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[path] != hash {
		c.entries[path] = hash
		c.dirty = true
	}
}

// Remove forgets a path
func (c *Cache) Remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[path]; ok {
		delete(c.entries, path)
		c.dirty = true
	}
}

// Paths returns the cached paths in sorted order
func (c *Cache) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	paths := make([]string, 0, len(c.entries))
	for p := range c.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Load replaces the in-memory entries with the persisted ones.
// A missing file yields an empty cache and no error.
func (c *Cache) Load() error {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		c.reset()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read fingerprint cache: %w", err)
	}

	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil || cf.Version != cacheVersion {
		c.reset()
		return fmt.Errorf("%w: %s", ErrCorrupt, c.path)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = cf.Entries
	if c.entries == nil {
		c.entries = make(map[string]string)
	}
	c.dirty = false
	return nil
}

// Save writes the cache atomically (temp file + rename). It is a no-op
// when nothing changed since the last Load or Save.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		if _, err := os.Stat(c.path); err == nil {
			return nil
		}
	}

	data, err := json.Marshal(cacheFile{Version: cacheVersion, Entries: c.entries})
	if err != nil {
		return fmt.Errorf("encode fingerprint cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".fingerprints-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write fingerprint cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close fingerprint cache: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		return fmt.Errorf("replace fingerprint cache: %w", err)
	}

	c.dirty = false
	return nil
}

func (c *Cache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]string)
	c.dirty = false
}

// Sum returns the fingerprint of raw file bytes
func Sum(content []byte) string {
	return strconv.FormatUint(xxhash.Sum64(content), 16)
}

// File streams a file through the hasher and returns its fingerprint and size
func File(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	h := xxhash.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return strconv.FormatUint(h.Sum64(), 16), n, nil
}
