package cache

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Asout3/audit-agent/internal/util"
)

// Cache kinds map to subdirectories, one file per content-hash key.
const (
	KindStatic = "static"
	KindLLM    = "llm"
)

// Cache is the file-backed cache layer for the embedding snapshot and for
// expensive per-artifact results. Corrupted or missing entries are always a
// miss; the next successful write heals them.
type Cache struct {
	dir      string
	maxBytes int64

	mu     sync.Mutex
	hits   int
	misses int
}

func New(dir string, maxBytes int64) (*Cache, error) {
	for _, sub := range []string{"", KindStatic, KindLLM} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	if maxBytes <= 0 {
		maxBytes = 100 * 1024 * 1024
	}
	return &Cache{dir: dir, maxBytes: maxBytes}, nil
}

// Key hashes arbitrary parts into a cache filename.
func Key(parts ...string) string { return util.ContentHash(parts...) }

type entry struct {
	Timestamp time.Time       `json:"timestamp"`
	TTLHours  int             `json:"ttlHours"`
	Mtime     int64           `json:"mtime,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

func (c *Cache) entryPath(kind, key string) string {
	return filepath.Join(c.dir, kind, key+".json")
}

// Put stores a payload under kind/key with a TTL. mtime carries the source
// file's modification time for file-derived entries; pass 0 otherwise.
func (c *Cache) Put(kind, key string, payload any, ttlHours int, mtime int64) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode cache payload: %w", err)
	}
	b, err := json.Marshal(entry{Timestamp: time.Now(), TTLHours: ttlHours, Mtime: mtime, Payload: raw})
	if err != nil {
		return err
	}
	return os.WriteFile(c.entryPath(kind, key), b, 0o644)
}

// Get loads a payload. Expired entries are removed and reported as a miss,
// as are entries whose recorded mtime no longer matches and entries that
// fail to decode.
func (c *Cache) Get(kind, key string, out any, mtime int64) bool {
	path := c.entryPath(kind, key)
	b, err := os.ReadFile(path)
	if err != nil {
		c.miss()
		return false
	}
	var e entry
	if err := json.Unmarshal(b, &e); err != nil {
		c.miss()
		return false
	}
	if e.TTLHours > 0 && time.Since(e.Timestamp) > time.Duration(e.TTLHours)*time.Hour {
		_ = os.Remove(path)
		c.miss()
		return false
	}
	if mtime != 0 && e.Mtime != mtime {
		c.miss()
		return false
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		c.miss()
		return false
	}
	c.hit()
	return true
}

// PutFileResult caches a per-file analysis result keyed by the file's
// content and mtime.
func (c *Cache) PutFileResult(path string, payload any, ttlHours int) error {
	key, mtime, err := fileKey(path)
	if err != nil {
		return err
	}
	return c.Put(KindStatic, key, payload, ttlHours, mtime)
}

func (c *Cache) GetFileResult(path string, out any) bool {
	key, mtime, err := fileKey(path)
	if err != nil {
		c.miss()
		return false
	}
	return c.Get(KindStatic, key, out, mtime)
}

func fileKey(path string) (string, int64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, err
	}
	mtime := info.ModTime().UnixNano()
	return Key(string(b), fmt.Sprint(mtime)), mtime, nil
}

// SaveBlob serializes one snapshot blob at the cache root. Snapshots carry
// no automatic staleness detection; Reload refreshes them.
func (c *Cache) SaveBlob(name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return os.WriteFile(filepath.Join(c.dir, name+".json"), b, 0o644)
}

func (c *Cache) LoadBlob(name string, out any) bool {
	b, err := os.ReadFile(filepath.Join(c.dir, name+".json"))
	if err != nil {
		c.miss()
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		c.miss()
		return false
	}
	c.hit()
	return true
}

// EnforceLimit evicts least-recently-modified entries until total usage is
// at or below 80% of the byte cap.
func (c *Cache) EnforceLimit() error {
	total := c.Size()
	if total <= c.maxBytes {
		return nil
	}
	type cacheFile struct {
		path string
		mod  time.Time
		size int64
	}
	var files []cacheFile
	_ = filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, cacheFile{path: path, mod: info.ModTime(), size: info.Size()})
		return nil
	})
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	limit := c.maxBytes * 8 / 10
	for _, f := range files {
		if total <= limit {
			break
		}
		if err := os.Remove(f.path); err == nil {
			total -= f.size
		}
	}
	return nil
}

func (c *Cache) Size() int64 {
	var total int64
	_ = filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// Clear removes entries of one kind, or everything for kind "all".
func (c *Cache) Clear(kind string) error {
	if kind == "all" {
		for _, k := range []string{KindStatic, KindLLM} {
			if err := c.Clear(k); err != nil {
				return err
			}
		}
		entries, _ := filepath.Glob(filepath.Join(c.dir, "*.json"))
		for _, e := range entries {
			_ = os.Remove(e)
		}
		c.mu.Lock()
		c.hits, c.misses = 0, 0
		c.mu.Unlock()
		return nil
	}
	entries, err := filepath.Glob(filepath.Join(c.dir, kind, "*.json"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		_ = os.Remove(e)
	}
	return nil
}

type Stats struct {
	Hits   int   `json:"hits"`
	Misses int   `json:"misses"`
	Size   int64 `json:"size"`
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	hits, misses := c.hits, c.misses
	c.mu.Unlock()
	return Stats{Hits: hits, Misses: misses, Size: c.Size()}
}

func (c *Cache) hit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Cache) miss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}
