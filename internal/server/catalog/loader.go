package catalog

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/consentry/consentry/internal/config"
)

// Source names where site definitions come from. Exactly one of File or
// Folder is set.
type Source struct {
	File   string
	Folder string
}

func (s Source) empty() bool { return s.File == "" && s.Folder == "" }

var policyTypes = map[string]struct{}{"privacy": {}, "cookie": {}, "terms": {}}

// Load reads every site definition from the source. Folder sources merge all
// supported files; a site id defined twice is an error.
func Load(src Source) ([]Site, error) {
	if src.empty() {
		return nil, fmt.Errorf("catalog: no sites source configured")
	}
	if src.File != "" {
		return loadFile(src.File)
	}

	var paths []string
	err := filepath.WalkDir(src.Folder, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && isSupportedFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: walk %s: %w", src.Folder, err)
	}
	sort.Strings(paths)

	var sites []Site
	seen := map[string]string{}
	for _, path := range paths {
		loaded, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		for _, site := range loaded {
			if prev, dup := seen[site.SiteID]; dup {
				return nil, fmt.Errorf("catalog: site %s defined in both %s and %s", site.SiteID, prev, path)
			}
			seen[site.SiteID] = path
			sites = append(sites, site)
		}
	}
	return sites, nil
}

func loadFile(path string) ([]Site, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), config.ParserForPath(path)); err != nil {
		return nil, fmt.Errorf("catalog: load %s: %w", path, err)
	}
	var doc struct {
		Sites []Site `koanf:"sites"`
	}
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("catalog: unmarshal %s: %w", path, err)
	}
	for _, site := range doc.Sites {
		if err := validateSite(site); err != nil {
			return nil, fmt.Errorf("catalog: %s: %w", path, err)
		}
	}
	return doc.Sites, nil
}

func validateSite(site Site) error {
	if strings.TrimSpace(site.SiteID) == "" {
		return fmt.Errorf("site with empty siteId")
	}
	if len(site.Categories) == 0 {
		return fmt.Errorf("site %s has no categories", site.SiteID)
	}
	for _, cat := range site.Categories {
		if strings.TrimSpace(cat.ID) == "" {
			return fmt.Errorf("site %s has a category with empty id", site.SiteID)
		}
	}
	for docType := range site.Policies {
		if _, ok := policyTypes[docType]; !ok {
			return fmt.Errorf("site %s has unknown policy type %q", site.SiteID, docType)
		}
	}
	return nil
}

func isSupportedFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json", ".toml":
		return true
	}
	return false
}
