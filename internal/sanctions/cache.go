package sanctions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mbd888/walletrisk/internal/risk"
)

// CacheFile is the on-disk form of a snapshot.
type CacheFile struct {
	Addresses  []risk.Address `json:"addresses"`
	LastUpdate time.Time      `json:"lastUpdate"`
	Count      int            `json:"count"`
}

// FileCache persists snapshots as JSON. Writes go to a temp file in the
// same directory and are renamed into place, so a reader sees either the
// old file or the new one. An empty path disables the cache.
type FileCache struct {
	path string
}

// NewFileCache creates a cache at path.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// Path returns the cache file location.
func (c *FileCache) Path() string { return c.path }

// Load reads the cache. A missing file returns (nil, nil).
func (c *FileCache) Load() (*CacheFile, error) {
	if c == nil || c.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sanctions cache: %w", err)
	}
	var cf CacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse sanctions cache %s: %w", c.path, err)
	}
	for i, a := range cf.Addresses {
		cf.Addresses[i] = risk.NormalizeAddress(string(a))
	}
	return &cf, nil
}

// Save writes addresses sorted, with the count and timestamp.
func (c *FileCache) Save(addrs []risk.Address, lastUpdate time.Time) error {
	if c == nil || c.path == "" {
		return nil
	}
	sorted := append([]risk.Address(nil), addrs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	data, err := json.MarshalIndent(CacheFile{
		Addresses:  sorted,
		LastUpdate: lastUpdate.UTC(),
		Count:      len(sorted),
	}, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".sanctions-*.json")
	if err != nil {
		return fmt.Errorf("write sanctions cache: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write sanctions cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write sanctions cache: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write sanctions cache: %w", err)
	}
	return nil
}

// LoadOverrides reads the local override file: a JSON array of entries.
// A missing file yields no overrides. Entries without an address are
// dropped.
func LoadOverrides(path string) ([]Entry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator-configured path
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sanctions overrides: %w", err)
	}
	var raw []Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse sanctions overrides %s: %w", path, err)
	}
	out := make([]Entry, 0, len(raw))
	for _, e := range raw {
		e.Address = risk.NormalizeAddress(string(e.Address))
		if e.Address == "" {
			continue
		}
		e.Origin = "override"
		out = append(out, e)
	}
	return out, nil
}
