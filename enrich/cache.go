package enrich

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Cache stores search results by case-folded canonical name so repeated
// runs do not re-query the search API. Save failures are logged, never
// fatal.
type Cache struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*SearchResults
}

// LoadCache reads the cache file at path. A missing or corrupt file
// yields an empty cache.
func LoadCache(path string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{path: path, logger: logger, entries: make(map[string]*SearchResults)}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("enrichment cache unreadable, starting empty", "path", path, "error", err)
		}
		return c
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		logger.Warn("enrichment cache corrupt, starting empty", "path", path, "error", err)
		c.entries = make(map[string]*SearchResults)
	}
	return c
}

func cacheKey(canonicalName string) string {
	return strings.ToLower(strings.TrimSpace(canonicalName))
}

// Get returns the cached results for a name, if present.
func (c *Cache) Get(canonicalName string) (*SearchResults, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sr, ok := c.entries[cacheKey(canonicalName)]
	return sr, ok
}

// Put stores results and persists the cache best-effort.
func (c *Cache) Put(canonicalName string, sr *SearchResults) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(canonicalName)] = sr
	c.saveLocked()
}

// saveLocked writes the cache file atomically: temp file in the same
// directory, then rename over the target. Callers must hold the lock.
func (c *Cache) saveLocked() {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		c.logger.Warn("encoding enrichment cache failed", "error", err)
		return
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".cache_*.tmp")
	if err != nil {
		c.logger.Warn("saving enrichment cache failed", "path", c.path, "error", err)
		return
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		c.logger.Warn("saving enrichment cache failed", "path", c.path, "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		c.logger.Warn("saving enrichment cache failed", "path", c.path, "error", err)
		return
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		c.logger.Warn("saving enrichment cache failed", "path", c.path, "error", err)
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
