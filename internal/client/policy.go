package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// PolicyClient fetches rendered legal-document markup from the policy
// rendering service.
type PolicyClient struct {
	client Doer
}

// NewPolicyClient builds a policy content client.
func NewPolicyClient(doer Doer) *PolicyClient {
	if doer == nil {
		doer = DefaultDoer()
	}
	return &PolicyClient{client: doer}
}

// DocumentURL returns the address a degraded modal navigates to directly.
func (c *PolicyClient) DocumentURL(baseURL, siteID, policyType string) string {
	return fmt.Sprintf("%s/policy/%s?type=%s",
		strings.TrimRight(baseURL, "/"), url.PathEscape(siteID), url.QueryEscape(policyType))
}

// Fetch performs a single attempt against the policy rendering service. An
// empty or unparseable payload counts as a failure so the modal's retry
// logic treats it like any other fetch error.
func (c *PolicyClient) Fetch(ctx context.Context, baseURL, siteID, policyType string) (string, error) {
	endpoint := c.DocumentURL(baseURL, siteID, policyType)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("client: policy request build: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("client: policy request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("client: policy status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("client: policy read: %w", err)
	}
	var decoded struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("client: policy decode: %w", err)
	}
	if strings.TrimSpace(decoded.Content) == "" {
		return "", errors.New("client: policy content empty")
	}
	return decoded.Content, nil
}
