// Package cache implements the two-tier content cache: a TTL-bounded
// in-memory map in front of a durable filesystem tree. Memory entries
// expire; filesystem entries live until overwritten or evicted.
package cache

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sitefront/sitefront/internal/domain"
	"github.com/sitefront/sitefront/internal/netutil"
)

// Cache is safe for concurrent use. Entries are immutable once written; an
// update is a full replacement, so a reader never observes a half-written
// value.
type Cache struct {
	root string
	ttl  time.Duration
	log  *slog.Logger

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	data              []byte
	expiresAtUnixNano int64
}

// New creates a Cache rooted at dir with the given memory-tier TTL.
func New(dir string, ttl time.Duration, logger *slog.Logger) (*Cache, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Cache{
		root:    abs,
		ttl:     ttl,
		log:     logger,
		entries: make(map[string]memoryEntry),
	}, nil
}

// Get returns the cached bytes for (site, path). It checks the memory tier
// first; on miss or expiry it falls through to the filesystem tier and, on a
// filesystem hit, repopulates memory.
func (c *Cache) Get(site domain.Site, rawPath string) ([]byte, bool) {
	key := c.memKey(site, rawPath)
	nowUnix := time.Now().UnixNano()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		if nowUnix <= e.expiresAtUnixNano {
			return e.data, true
		}
		c.mu.Lock()
		if stale, exists := c.entries[key]; exists && nowUnix > stale.expiresAtUnixNano {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}

	path, err := c.filePath(site, rawPath)
	if err != nil {
		c.log.Warn("cache key rejected", "site", site.Domain, "path", rawPath, "err", err)
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.log.Warn("cache file read failed", "site", site.Domain, "path", path, "err", err)
		}
		return nil, false
	}
	c.setMemory(key, data)
	return data, true
}

// Put stores bytes for (site, path) in both tiers. A filesystem write
// failure is logged and does not fail the logical write; the memory tier
// still serves reads within TTL.
func (c *Cache) Put(site domain.Site, rawPath string, data []byte) {
	key := c.memKey(site, rawPath)
	c.setMemory(key, data)

	path, err := c.filePath(site, rawPath)
	if err != nil {
		c.log.Warn("cache key rejected", "site", site.Domain, "path", rawPath, "err", err)
		return
	}
	if err := writeFileAtomic(path, data); err != nil {
		c.log.Error("cache file write failed", "site", site.Domain, "path", path, "err", err)
	}
}

// Evict removes the entry for (site, path) from both tiers.
func (c *Cache) Evict(site domain.Site, rawPath string) {
	key := c.memKey(site, rawPath)
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	path, err := c.filePath(site, rawPath)
	if err != nil {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.Warn("cache file remove failed", "site", site.Domain, "path", path, "err", err)
	}
}

// Sweep removes expired memory entries. Filesystem entries are not
// time-expired.
func (c *Cache) Sweep() {
	nowUnix := time.Now().UnixNano()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if nowUnix > e.expiresAtUnixNano {
			delete(c.entries, key)
		}
	}
}

// Root returns the absolute cache root directory.
func (c *Cache) Root() string {
	return c.root
}

func (c *Cache) setMemory(key string, data []byte) {
	c.mu.Lock()
	c.entries[key] = memoryEntry{
		data:              data,
		expiresAtUnixNano: time.Now().Add(c.ttl).UnixNano(),
	}
	c.mu.Unlock()
}

func (c *Cache) memKey(site domain.Site, rawPath string) string {
	return netutil.NormalizeHost(site.Domain) + "\x00" + Key(rawPath)
}

// filePath maps (site, path) to an absolute file path and enforces the
// containment invariant: the result must stay under the cache root.
func (c *Cache) filePath(site domain.Site, rawPath string) (string, error) {
	siteDir := netutil.NormalizeHost(site.Domain)
	if siteDir == "" {
		return "", errors.New("empty site domain")
	}
	full := filepath.Join(c.root, siteDir, filepath.FromSlash(Key(rawPath)))
	full = filepath.Clean(full)
	if !strings.HasPrefix(full, c.root+string(filepath.Separator)) {
		return "", errors.New("cache path escapes root")
	}
	return full, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
