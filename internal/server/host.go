package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/consentry/consentry/internal/server/catalog"
	"github.com/consentry/consentry/internal/storage"
)

const maxBodyBytes = 1 << 20

// Host is the development host behind the router: it plays the widget's
// three collaborating services against the site catalog. Consent submissions
// live in memory only.
type Host struct {
	catalog *catalog.Catalog
	kv      storage.KV
	logger  *slog.Logger

	mu          sync.Mutex
	submissions map[string]StoredSubmission
}

// StoredSubmission is one consent decision the stub persistence accepted.
type StoredSubmission struct {
	ConsentID  string    `json:"consentId"`
	SiteID     string    `json:"siteId"`
	Categories []string  `json:"categories"`
	DecidedAt  time.Time `json:"decidedAt"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// NewHost builds the host over a catalog. Submissions are written through to
// the key-value backend so a shared backend outlives the process.
func NewHost(cat *catalog.Catalog, kv storage.KV, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		catalog:     cat,
		kv:          kv,
		logger:      logger.With(slog.String("component", "host")),
		submissions: make(map[string]StoredSubmission),
	}
}

// ServeWidgetConfig returns the widget configuration payload for a site.
func (h *Host) ServeWidgetConfig(w http.ResponseWriter, r *http.Request, siteID string) {
	site, ok := h.catalog.Site(siteID)
	if !ok {
		h.WriteError(w, http.StatusNotFound, "unknown site")
		return
	}
	base := "http://" + r.Host
	payload := map[string]any{
		"bannerMarkup":    site.BannerMarkup,
		"bannerStyle":     site.BannerStyle,
		"categories":      site.SortedCategories(),
		"consentEndpoint": base + "/consent",
		"policyBaseUrl":   base,
	}
	h.writeJSON(w, http.StatusOK, payload)
}

// ServeConsent accepts a consent decision and issues a consent id.
func (h *Host) ServeConsent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	var sub struct {
		SiteID     string    `json:"siteId"`
		Categories []string  `json:"categories"`
		DecidedAt  time.Time `json:"decidedAt"`
	}
	if err := json.Unmarshal(body, &sub); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(sub.SiteID) == "" || len(sub.Categories) == 0 {
		h.WriteError(w, http.StatusUnprocessableEntity, "siteId and categories required")
		return
	}
	if _, ok := h.catalog.Site(sub.SiteID); !ok {
		h.WriteError(w, http.StatusNotFound, "unknown site")
		return
	}

	stored := StoredSubmission{
		ConsentID:  uuid.NewString(),
		SiteID:     sub.SiteID,
		Categories: sub.Categories,
		DecidedAt:  sub.DecidedAt,
		ReceivedAt: time.Now().UTC(),
	}
	h.mu.Lock()
	h.submissions[stored.ConsentID] = stored
	h.mu.Unlock()
	h.persist(r, stored)

	h.logger.Info("consent recorded",
		"siteId", stored.SiteID, "consentId", stored.ConsentID, "categories", stored.Categories)
	h.writeJSON(w, http.StatusCreated, map[string]string{"consentId": stored.ConsentID})
}

// ServePolicy returns the rendered policy document for a site and type.
func (h *Host) ServePolicy(w http.ResponseWriter, r *http.Request, siteID string) {
	site, ok := h.catalog.Site(siteID)
	if !ok {
		h.WriteError(w, http.StatusNotFound, "unknown site")
		return
	}
	docType := r.URL.Query().Get("type")
	content, ok := site.Policies[docType]
	if !ok || content == "" {
		h.WriteError(w, http.StatusNotFound, "unknown policy document")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"content": content})
}

// ServeHealth reports host liveness and catalog size.
func (h *Host) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	submissions := len(h.submissions)
	h.mu.Unlock()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"sites":       h.catalog.Len(),
		"submissions": submissions,
	})
}

// WriteError emits the host's JSON error shape.
func (h *Host) WriteError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// Submissions returns everything the stub persistence accepted so far.
func (h *Host) Submissions() []StoredSubmission {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]StoredSubmission, 0, len(h.submissions))
	for _, sub := range h.submissions {
		out = append(out, sub)
	}
	return out
}

func (h *Host) persist(r *http.Request, stored StoredSubmission) {
	if h.kv == nil {
		return
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		h.logger.Warn("submission marshal failed", "consentId", stored.ConsentID, "error", err)
		return
	}
	key := "consentry:v1:submission:" + stored.ConsentID
	if err := h.kv.Store(r.Context(), key, raw); err != nil {
		h.logger.Warn("submission persistence failed", "consentId", stored.ConsentID, "error", err)
	}
}

func (h *Host) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("response write failed", "error", err)
	}
}
