package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Submission is the consent decision posted to the persistence service.
type Submission struct {
	SiteID     string    `json:"siteId"`
	Categories []string  `json:"categories"`
	DecidedAt  time.Time `json:"decidedAt"`
}

// ConsentClient submits consent decisions to the consent persistence
// service. Submission failures are recoverable by design: the runtime logs
// them and proceeds on local state.
type ConsentClient struct {
	client Doer
}

// NewConsentClient builds a submission client.
func NewConsentClient(doer Doer) *ConsentClient {
	if doer == nil {
		doer = DefaultDoer()
	}
	return &ConsentClient{client: doer}
}

// Submit posts the decision to the endpoint announced in the widget
// configuration and returns the server-issued consent id.
func (c *ConsentClient) Submit(ctx context.Context, endpoint string, sub Submission) (string, error) {
	if strings.TrimSpace(endpoint) == "" {
		return "", errors.New("client: consent endpoint required")
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		return "", fmt.Errorf("client: consent marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("client: consent request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("client: consent request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("client: consent status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("client: consent read: %w", err)
	}
	var decoded struct {
		ConsentID string `json:"consentId"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("client: consent decode: %w", err)
	}
	return decoded.ConsentID, nil
}
