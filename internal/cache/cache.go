// Package cache keeps the last-known content of recently used paths so
// the registry can skip redundant disk reads. It is a soft layer: a miss
// only costs a read.
package cache

import (
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 50

// Entry is the cached view of a file.
type Entry struct {
	Content    string
	Encoding   string
	LineEnding string
}

// Content is a bounded LRU map from path to Entry. It is safe for
// concurrent use.
type Content struct {
	lru *lru.Cache[string, Entry]
}

// New creates a cache holding at most capacity entries.
func New(capacity int, logger *slog.Logger) *Content {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	c, err := lru.NewWithEvict(capacity, func(path string, _ Entry) {
		logger.Debug("cache: evicted", slog.String("path", path))
	})
	if err != nil {
		// Only returned for a non-positive size, which is ruled out above.
		panic(err)
	}
	return &Content{lru: c}
}

// Get returns the entry for path and marks it most recently used.
func (c *Content) Get(path string) (Entry, bool) {
	return c.lru.Get(path)
}

// Set stores e for path, evicting the least recently used entry when the
// cache is full and path is new.
func (c *Content) Set(path string, e Entry) {
	c.lru.Add(path, e)
}

// Delete drops path.
func (c *Content) Delete(path string) {
	c.lru.Remove(path)
}

// Move re-keys an entry after a rename or first save.
func (c *Content) Move(oldPath, newPath string) {
	if e, ok := c.lru.Peek(oldPath); ok {
		c.lru.Remove(oldPath)
		c.lru.Add(newPath, e)
	}
}

// Clear drops every entry.
func (c *Content) Clear() {
	c.lru.Purge()
}

// Len returns the number of cached paths.
func (c *Content) Len() int {
	return c.lru.Len()
}

// Keys returns cached paths from least to most recently used.
func (c *Content) Keys() []string {
	return c.lru.Keys()
}
