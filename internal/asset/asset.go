// Package asset resolves display names for the external assets devices are
// assigned to track.
package asset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/patrickmn/go-cache"
	"gopkg.in/yaml.v3"

	"devicetrack/internal/model"
)

// Resolver looks up the display name of an asset. ok is false when the
// asset is unknown, which is not an error.
type Resolver interface {
	ResolveDisplayName(ctx context.Context, kind model.AssetType, id string) (name string, ok bool, err error)
}

// Asset is one catalog entry.
type Asset struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Email       string `yaml:"email,omitempty"`
}

// Catalog holds assets keyed by kind and id.
type Catalog struct {
	assets map[string]Asset
}

func assetKey(kind model.AssetType, id string) string {
	return string(kind) + "\x00" + id
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{assets: make(map[string]Asset)}
}

// Add inserts or replaces an asset.
func (c *Catalog) Add(kind model.AssetType, a Asset) {
	c.assets[assetKey(kind, a.ID)] = a
}

// Lookup finds an asset by kind and id.
func (c *Catalog) Lookup(kind model.AssetType, id string) (Asset, bool) {
	a, ok := c.assets[assetKey(kind, id)]
	return a, ok
}

// Len returns the number of assets.
func (c *Catalog) Len() int {
	return len(c.assets)
}

// ResolveDisplayName implements Resolver.
func (c *Catalog) ResolveDisplayName(_ context.Context, kind model.AssetType, id string) (string, bool, error) {
	a, ok := c.Lookup(kind, id)
	if !ok {
		return "", false, nil
	}
	return a.Name, true, nil
}

// catalogFile is the YAML structure of files in the assets directory.
type catalogFile struct {
	Hardware []Asset `yaml:"hardware,omitempty"`
	Persons  []Asset `yaml:"persons,omitempty"`
}

// LoadCatalogDir reads all *.yaml files from a directory into a Catalog.
// Returns an empty Catalog (not an error) if the directory doesn't exist or
// is empty.
func LoadCatalogDir(dir string, logger *slog.Logger) (*Catalog, error) {
	c := NewCatalog()

	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return c, fmt.Errorf("glob assets dir: %w", err)
	}
	if len(matches) == 0 {
		logger.Info("no asset catalog files found", "dir", dir)
		return c, nil
	}

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read %s: %w", path, err)
		}

		var cf catalogFile
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return c, fmt.Errorf("parse %s: %w", path, err)
		}

		for _, a := range cf.Hardware {
			c.Add(model.AssetHardware, a)
		}
		for _, a := range cf.Persons {
			c.Add(model.AssetPerson, a)
		}
		logger.Info("loaded asset file", "path", filepath.Base(path),
			"hardware", len(cf.Hardware), "persons", len(cf.Persons))
	}

	logger.Info("asset catalog loaded", "files", len(matches), "assets", c.Len())
	return c, nil
}

// CachingResolver memoizes another resolver's answers, including misses,
// for a fixed TTL.
type CachingResolver struct {
	next  Resolver
	cache *cache.Cache
}

type cached struct {
	name string
	ok   bool
}

// NewCachingResolver wraps next. A ttl <= 0 caches entries until restart.
func NewCachingResolver(next Resolver, ttl time.Duration) *CachingResolver {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &CachingResolver{next: next, cache: cache.New(ttl, 10*time.Minute)}
}

// ResolveDisplayName implements Resolver. Errors are not cached.
func (r *CachingResolver) ResolveDisplayName(ctx context.Context, kind model.AssetType, id string) (string, bool, error) {
	key := assetKey(kind, id)
	if v, found := r.cache.Get(key); found {
		c := v.(cached)
		return c.name, c.ok, nil
	}
	name, ok, err := r.next.ResolveDisplayName(ctx, kind, id)
	if err != nil {
		return "", false, err
	}
	r.cache.SetDefault(key, cached{name: name, ok: ok})
	return name, ok, nil
}

// Flush drops every cached answer.
func (r *CachingResolver) Flush() {
	r.cache.Flush()
}
