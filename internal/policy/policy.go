// Package policy drives the legal-document modal: shell validation, content
// fetching with retry and caching, and open/close lifecycle.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/consentry/consentry/internal/metrics"
	"github.com/consentry/consentry/internal/page"
)

// Type identifies a legal document kind.
type Type string

const (
	TypePrivacy Type = "privacy"
	TypeCookie  Type = "cookie"
	TypeTerms   Type = "terms"
)

// ParseType maps a raw string onto the closed document enumeration.
func ParseType(raw string) (Type, bool) {
	switch Type(raw) {
	case TypePrivacy, TypeCookie, TypeTerms:
		return Type(raw), true
	}
	return "", false
}

// Shell element ids the host page must provide for the in-page modal.
const (
	ModalID    = "consentry-modal"
	TitleID    = "consentry-modal-title"
	LoadingID  = "consentry-modal-loading"
	ContentID  = "consentry-modal-content"
	ErrorID    = "consentry-modal-error"
	BackdropID = "consentry-modal-backdrop"
)

const scrollLockAttr = "data-consentry-scroll-locked"

var shellIDs = []string{ModalID, TitleID, LoadingID, ContentID, ErrorID, BackdropID}

var titles = map[Type]string{
	TypePrivacy: "Privacy Policy",
	TypeCookie:  "Cookie Policy",
	TypeTerms:   "Terms of Service",
}

const errorMessage = "The document could not be loaded. Please try again later."

// State describes what the modal is currently showing.
type State string

const (
	StateClosed  State = "closed"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// Fetcher retrieves rendered policy content.
type Fetcher interface {
	Fetch(ctx context.Context, baseURL, siteID, policyType string) (string, error)
	DocumentURL(baseURL, siteID, policyType string) string
}

// Navigator is the degraded path used when the page lacks modal markup: the
// document is opened in a separate browsing context instead.
type Navigator interface {
	Navigate(url string)
}

// Options tune fetch behavior. Zero values take the defaults.
type Options struct {
	FetchTimeout time.Duration
	RetryBackoff time.Duration
	CacheTTL     time.Duration
}

func (o Options) withDefaults() Options {
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 10 * time.Second
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 5 * time.Minute
	}
	return o
}

// Manager owns the policy modal. Shell markup is verified once at
// construction; when it is incomplete the manager permanently degrades to
// external navigation.
type Manager struct {
	siteID    string
	baseURL   string
	doc       *page.Document
	fetcher   Fetcher
	navigator Navigator
	logger    *slog.Logger
	recorder  *metrics.Recorder
	cache     *contentCache
	opts      Options

	// sleep is swapped in tests so retry backoff does not stall them.
	sleep func(ctx context.Context, d time.Duration) error

	fallback  bool
	state     State
	prevFocus string
}

// New builds the manager and performs the one-time shell check.
func New(siteID, baseURL string, doc *page.Document, fetcher Fetcher, navigator Navigator,
	logger *slog.Logger, recorder *metrics.Recorder, opts Options) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	m := &Manager{
		siteID:    siteID,
		baseURL:   baseURL,
		doc:       doc,
		fetcher:   fetcher,
		navigator: navigator,
		logger:    logger,
		recorder:  recorder,
		cache:     newContentCache(opts.CacheTTL),
		opts:      opts,
		sleep:     sleepContext,
		state:     StateClosed,
	}
	for _, id := range shellIDs {
		if doc.ElementByID(id) == nil {
			logger.Warn("modal shell incomplete, policy links will navigate externally", "missing", id)
			m.fallback = true
			break
		}
	}
	return m
}

// State reports what the modal currently shows.
func (m *Manager) State() State { return m.state }

// Fallback reports whether the manager degraded to external navigation.
func (m *Manager) Fallback() bool { return m.fallback }

// Open shows the requested document. An unknown type is logged and ignored.
// In fallback mode the document opens in a separate browsing context. A
// content fetch failure ends in a visible in-modal error state, not an error
// to the caller.
func (m *Manager) Open(ctx context.Context, t Type) {
	if _, ok := ParseType(string(t)); !ok {
		m.logger.Warn("unknown policy document type requested", "type", string(t))
		return
	}
	if m.fallback {
		if m.navigator != nil {
			m.navigator.Navigate(m.fetcher.DocumentURL(m.baseURL, m.siteID, string(t)))
		}
		return
	}

	if m.state == StateClosed {
		m.prevFocus = m.doc.FocusedID()
	}
	m.showShell(t)
	m.setState(StateLoading)
	m.doc.Focus(ModalID)

	content, err := m.fetchContent(ctx, t)
	if err != nil {
		m.logger.Warn("policy content unavailable", "type", string(t), "error", err)
		m.setState(StateError)
		return
	}
	if err := m.doc.ElementByID(ContentID).SetHTML(content); err != nil {
		m.logger.Warn("policy content rejected by renderer", "type", string(t), "error", err)
		m.setState(StateError)
		return
	}
	m.setState(StateReady)
}

// Close tears the modal down. The close control, the backdrop, and the
// escape key all arrive here so teardown happens exactly one way.
func (m *Manager) Close() {
	if m.fallback || m.state == StateClosed {
		return
	}
	m.doc.ElementByID(ModalID).SetHidden(true)
	m.doc.ElementByID(BackdropID).SetHidden(true)
	if body := m.doc.Body(); body != nil {
		body.RemoveAttr(scrollLockAttr)
	}
	m.doc.Focus(m.prevFocus)
	m.prevFocus = ""
	m.state = StateClosed
}

// HandleBackdropClick closes the modal.
func (m *Manager) HandleBackdropClick() { m.Close() }

// HandleEscape closes the modal.
func (m *Manager) HandleEscape() { m.Close() }

func (m *Manager) showShell(t Type) {
	m.doc.ElementByID(ModalID).SetHidden(false)
	m.doc.ElementByID(BackdropID).SetHidden(false)
	m.doc.ElementByID(TitleID).SetText(titles[t])
	if body := m.doc.Body(); body != nil {
		body.SetAttr(scrollLockAttr, "true")
	}
}

func (m *Manager) setState(s State) {
	m.state = s
	m.doc.ElementByID(LoadingID).SetHidden(s != StateLoading)
	m.doc.ElementByID(ContentID).SetHidden(s != StateReady)
	errEl := m.doc.ElementByID(ErrorID)
	errEl.SetHidden(s != StateError)
	if s == StateError {
		errEl.SetText(errorMessage)
	}
}

// fetchContent serves from cache when possible, otherwise performs one
// attempt, waits out the backoff, and retries exactly once.
func (m *Manager) fetchContent(ctx context.Context, t Type) (string, error) {
	if content, ok := m.cache.lookup(t); ok {
		m.recorder.ObserveContentLookup(string(t), metrics.ContentLookupHit)
		return content, nil
	}
	m.recorder.ObserveContentLookup(string(t), metrics.ContentLookupMiss)

	content, err := m.attempt(ctx, t)
	if err != nil {
		if serr := m.sleep(ctx, m.opts.RetryBackoff); serr != nil {
			return "", fmt.Errorf("policy: retry wait: %w", serr)
		}
		content, err = m.attempt(ctx, t)
	}
	if err != nil {
		return "", err
	}
	m.cache.store(t, content)
	return content, nil
}

func (m *Manager) attempt(ctx context.Context, t Type) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
	defer cancel()

	start := time.Now()
	content, err := m.fetcher.Fetch(attemptCtx, m.baseURL, m.siteID, string(t))
	if err != nil {
		m.recorder.ObservePolicyFetch(string(t), "failure", time.Since(start))
		return "", err
	}
	m.recorder.ObservePolicyFetch(string(t), "success", time.Since(start))
	return content, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
