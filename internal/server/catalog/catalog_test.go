package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sitesYAML = `sites:
  - siteId: site-a
    bannerMarkup: "<p>cookies</p>"
    categories:
      - id: essential
        name: Essential
        isEssential: true
        sortOrder: 1
      - id: analytics
        name: Analytics
        sortOrder: 2
    policies:
      privacy: "<h1>Privacy</h1>"
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sites.yaml", sitesYAML)

	sites, err := Load(Source{File: path})
	require.NoError(t, err)
	require.Len(t, sites, 1)
	require.Equal(t, "site-a", sites[0].SiteID)
	require.Equal(t, "<h1>Privacy</h1>", sites[0].Policies["privacy"])

	cats := sites[0].SortedCategories()
	require.Equal(t, "essential", cats[0].ID)
	require.True(t, cats[0].Essential)
}

func TestLoadFromJSONFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sites.json", `{
  "sites": [
    {
      "siteId": "site-b",
      "categories": [{"id": "essential", "name": "Essential", "isEssential": true}]
    }
  ]
}`)

	sites, err := Load(Source{File: path})
	require.NoError(t, err)
	require.Len(t, sites, 1)
	require.Equal(t, "site-b", sites[0].SiteID)
}

func TestLoadFolderMergesAndRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", sitesYAML)
	writeFile(t, dir, "b.yaml", `sites:
  - siteId: site-b
    categories:
      - id: essential
        name: Essential
        isEssential: true
`)

	sites, err := Load(Source{Folder: dir})
	require.NoError(t, err)
	require.Len(t, sites, 2)

	writeFile(t, dir, "c.yaml", sitesYAML)
	_, err = Load(Source{Folder: dir})
	require.Error(t, err)
	require.Contains(t, err.Error(), "defined in both")
}

func TestLoadRejectsInvalidSites(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing site id", content: "sites:\n  - categories:\n      - id: essential\n        name: Essential\n"},
		{name: "no categories", content: "sites:\n  - siteId: site-x\n"},
		{name: "unknown policy type", content: sitesYAML + "      tracking: \"<p>nope</p>\"\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "sites.yaml", tc.content)
			_, err := Load(Source{File: path})
			require.Error(t, err)
		})
	}
}

func TestCatalogReplaceAndLookup(t *testing.T) {
	c := New()
	require.Equal(t, 0, c.Len())

	c.Replace([]Site{{SiteID: "site-a"}, {SiteID: "site-b"}, {SiteID: ""}})
	require.Equal(t, 2, c.Len())

	_, ok := c.Site("site-a")
	require.True(t, ok)
	_, ok = c.Site("missing")
	require.False(t, ok)

	c.Replace([]Site{{SiteID: "site-b"}})
	_, ok = c.Site("site-a")
	require.False(t, ok)
}

func TestWatchDeliversInitialAndReloadedSnapshots(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sites.yaml", sitesYAML)

	updates := make(chan []Site, 8)
	w, err := Watch(context.Background(), Source{File: path},
		func(sites []Site) { updates <- sites },
		func(error) {})
	require.NoError(t, err)
	defer w.Stop()

	select {
	case sites := <-updates:
		require.Len(t, sites, 1)
	case <-time.After(time.Second):
		t.Fatal("initial snapshot never arrived")
	}

	writeFile(t, dir, "sites.yaml", sitesYAML+`  - siteId: site-b
    categories:
      - id: essential
        name: Essential
        isEssential: true
`)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case sites := <-updates:
			if len(sites) == 2 {
				return
			}
		case <-deadline:
			t.Fatal("reload never delivered the second site")
		}
	}
}
