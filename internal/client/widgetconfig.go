package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Category is a server-supplied consent category definition. Immutable for
// the lifetime of a page load.
type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Essential   bool   `json:"isEssential"`
	SortOrder   int    `json:"sortOrder"`
}

// WidgetConfig is the configuration payload the config delivery service
// returns for a site.
type WidgetConfig struct {
	BannerMarkup    string     `json:"bannerMarkup"`
	BannerStyle     string     `json:"bannerStyle"`
	Categories      []Category `json:"categories"`
	ConsentEndpoint string     `json:"consentEndpoint"`
	PolicyBaseURL   string     `json:"policyBaseUrl"`
}

// EssentialIDs returns the ids of every essential category.
func (c WidgetConfig) EssentialIDs() []string {
	var ids []string
	for _, cat := range c.Categories {
		if cat.Essential {
			ids = append(ids, cat.ID)
		}
	}
	return ids
}

// CategoryIDs returns every known category id in display order.
func (c WidgetConfig) CategoryIDs() []string {
	ids := make([]string, 0, len(c.Categories))
	for _, cat := range c.Categories {
		ids = append(ids, cat.ID)
	}
	return ids
}

// ConfigClient fetches widget configuration from the config delivery service.
type ConfigClient struct {
	baseURL string
	client  Doer
}

// NewConfigClient builds a client against the service base URL.
func NewConfigClient(baseURL string, doer Doer) *ConfigClient {
	if doer == nil {
		doer = DefaultDoer()
	}
	return &ConfigClient{baseURL: strings.TrimRight(baseURL, "/"), client: doer}
}

// Fetch retrieves the configuration for a site. Any transport error or
// non-success status is returned to the caller; initialization treats these
// as fatal.
func (c *ConfigClient) Fetch(ctx context.Context, siteID string) (WidgetConfig, error) {
	if strings.TrimSpace(siteID) == "" {
		return WidgetConfig{}, errors.New("client: site id required")
	}
	endpoint := fmt.Sprintf("%s/widget/%s", c.baseURL, url.PathEscape(siteID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return WidgetConfig{}, fmt.Errorf("client: widget config request build: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return WidgetConfig{}, fmt.Errorf("client: widget config request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return WidgetConfig{}, fmt.Errorf("client: widget config status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return WidgetConfig{}, fmt.Errorf("client: widget config read: %w", err)
	}

	var cfg WidgetConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return WidgetConfig{}, fmt.Errorf("client: widget config decode: %w", err)
	}
	if len(cfg.Categories) == 0 {
		return WidgetConfig{}, errors.New("client: widget config has no categories")
	}
	sort.SliceStable(cfg.Categories, func(i, j int) bool {
		return cfg.Categories[i].SortOrder < cfg.Categories[j].SortOrder
	})
	return cfg, nil
}
