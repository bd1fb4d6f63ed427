// Package titles maintains the catalog of installable title files served to
// the client: a bounded, ordered mapping from display name to filesystem path,
// rebuilt from a root directory on demand.
package titles

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/nxtools/dbibridge/internal/logger"
)

// DefaultMaxEntries bounds the cache size when the caller does not.
const DefaultMaxEntries = 1024

// DefaultExtensions is the allow-list of installable title file extensions.
var DefaultExtensions = []string{".nsp", ".xci", ".nsz"}

// Entry maps one display name to its resolvable path.
type Entry struct {
	DisplayName string
	FullPath    string
}

// Cache is an ordered, capacity-bounded collection of title entries.
//
// Display names are not guaranteed unique; Resolve returns the first match in
// scan order. The cache is owned by a single session loop and is never
// accessed concurrently, so it carries no locking.
type Cache struct {
	entries   []Entry
	truncated bool
}

// ScanOptions controls a catalog scan.
type ScanOptions struct {
	// Extensions is the case-insensitive allow-list of file extensions.
	// Empty means DefaultExtensions.
	Extensions []string

	// MaxEntries caps the number of entries collected; files found after the
	// cap is reached are silently dropped. Zero means DefaultMaxEntries.
	MaxEntries int
}

// Scan walks root depth-first without a depth bound and collects every
// regular file whose extension is on the allow-list, in walk order, up to
// the entry cap.
//
// Unreadable directories are logged and skipped; a scan never fails, it just
// yields what it could see.
func Scan(root string, opts ScanOptions) *Cache {
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	cache := &Cache{entries: make([]Entry, 0, 16)}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Error("Failed to scan directory entry", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			logger.Debug("Scanning directory", "path", path)
			return nil
		}
		if !d.Type().IsRegular() || !matchesExtension(d.Name(), exts) {
			return nil
		}
		if len(cache.entries) >= maxEntries {
			cache.truncated = true
			logger.Debug("Title cache full, dropping remaining entries", "max", maxEntries)
			return fs.SkipAll
		}

		logger.Debug("Found title", "name", d.Name())
		cache.entries = append(cache.entries, Entry{
			DisplayName: d.Name(),
			FullPath:    path,
		})
		return nil
	})
	if err != nil {
		logger.Error("Title scan failed", "root", root, "error", err)
	}

	return cache
}

func matchesExtension(name string, exts []string) bool {
	ext := filepath.Ext(name)
	for _, allowed := range exts {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}

// Resolve returns the path of the first entry whose display name matches.
//
// When no entry matches, the queried name is returned unchanged so the caller
// can attempt it as a direct path. That fallback is deliberate: it keeps a
// stale or empty cache from refusing transfers the filesystem could serve.
func (c *Cache) Resolve(displayName string) string {
	for _, e := range c.entries {
		if e.DisplayName == displayName {
			return e.FullPath
		}
	}
	return displayName
}

// Names returns the display names in scan order.
func (c *Cache) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.DisplayName
	}
	return names
}

// Entries returns the cached entries in scan order.
func (c *Cache) Entries() []Entry {
	return c.entries
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Truncated reports whether the last scan hit the entry cap.
func (c *Cache) Truncated() bool {
	return c.truncated
}
