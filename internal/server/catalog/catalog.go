// Package catalog holds the development host's per-site widget material:
// banner markup, consent categories, and policy documents.
package catalog

import (
	"sort"
	"sync"
)

// Category is a consent category definition served to the widget.
type Category struct {
	ID          string `koanf:"id" json:"id"`
	Name        string `koanf:"name" json:"name"`
	Description string `koanf:"description" json:"description"`
	Essential   bool   `koanf:"isEssential" json:"isEssential"`
	SortOrder   int    `koanf:"sortOrder" json:"sortOrder"`
}

// Site is one site's widget material. Policies maps document type
// (privacy, cookie, terms) to rendered markup.
type Site struct {
	SiteID       string            `koanf:"siteId"`
	BannerMarkup string            `koanf:"bannerMarkup"`
	BannerStyle  string            `koanf:"bannerStyle"`
	Categories   []Category        `koanf:"categories"`
	Policies     map[string]string `koanf:"policies"`
}

// SortedCategories returns the categories ordered for display.
func (s Site) SortedCategories() []Category {
	out := append([]Category(nil), s.Categories...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

// Catalog is the swappable site registry. Replace installs a full snapshot,
// which is how the file watcher applies reloads.
type Catalog struct {
	mu    sync.RWMutex
	sites map[string]Site
}

// New builds an empty catalog.
func New() *Catalog {
	return &Catalog{sites: make(map[string]Site)}
}

// Replace swaps in a complete new site set.
func (c *Catalog) Replace(sites []Site) {
	next := make(map[string]Site, len(sites))
	for _, site := range sites {
		if site.SiteID == "" {
			continue
		}
		next[site.SiteID] = site
	}
	c.mu.Lock()
	c.sites = next
	c.mu.Unlock()
}

// Site looks up one site by id.
func (c *Catalog) Site(id string) (Site, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	site, ok := c.sites[id]
	return site, ok
}

// Len reports how many sites are registered.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sites)
}
