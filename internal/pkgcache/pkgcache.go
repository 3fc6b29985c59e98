// Package pkgcache is a read-through local cache of unit package metadata:
// version, architecture, runtime and archive filename, keyed by unit name. It
// mirrors the layout of a local tar.gz package cache for bootstrap kernel
// distribution (~/.config/conceptkernel/cache/) without fetching or
// unpacking archives itself — this domain only needs the metadata index.
package pkgcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"ckcore/internal/ckerrors"
	"ckcore/internal/logging"
)

// Info is one unit's package metadata.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Arch      string `json:"arch"`
	Runtime   string `json:"runtime"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt string `json:"created_at"`
}

// Cache is a read-through, disk-backed map of unit name to Info. Safe for
// concurrent use; writes are deferred until Save, matching the dirty-flag
// discipline the rest of this codebase uses for manifest-style caches.
type Cache struct {
	mu      sync.RWMutex
	path    string
	entries map[string]Info
	dirty   bool
}

// Open loads (or initializes) the cache manifest at root/.ckcore/cache/manifest.json.
func Open(root string) (*Cache, error) {
	path := filepath.Join(root, ".ckcore", "cache", "manifest.json")
	c := &Cache{path: path, entries: map[string]Info{}}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) load() error {
	log := logging.Get(logging.CategoryBuild)

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("pkgcache: no existing manifest at %s, starting fresh", c.path)
			return nil
		}
		return ckerrors.Wrap(ckerrors.CodeIO, c.path, err)
	}

	var entries map[string]Info
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Warn("pkgcache: corrupt manifest, starting fresh: %v", err)
		return nil
	}
	c.entries = entries
	return nil
}

// Save persists the cache if it has unsaved changes.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return ckerrors.Wrap(ckerrors.CodeIO, c.path, err)
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return ckerrors.Wrap(ckerrors.CodeJson, c.path, err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return ckerrors.Wrap(ckerrors.CodeIO, c.path, err)
	}
	c.dirty = false
	return nil
}

// Get returns the cached metadata for a unit, if present.
func (c *Cache) Get(unit string) (Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.entries[unit]
	return info, ok
}

// Put records or replaces metadata for a unit.
func (c *Cache) Put(unit string, info Info) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[unit] = info
	c.dirty = true
}

// Invalidate removes a unit's cached metadata, forcing the next Get to miss.
func (c *Cache) Invalidate(unit string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[unit]; ok {
		delete(c.entries, unit)
		c.dirty = true
	}
}

// Len reports how many units currently have cached metadata.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
