// Package reopen manages the floating control that lets a visitor revisit
// their consent decision after the banner is gone.
package reopen

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/consentry/consentry/internal/page"
	"github.com/consentry/consentry/internal/runtime/store"
	"github.com/consentry/consentry/internal/storage"
)

// ControlID is the element id of the floating re-open control.
const ControlID = "consentry-reopen"

const controlMarkup = `<button id="` + ControlID + `" type="button" aria-label="Cookie settings">Cookie settings</button>`

// Affordance keeps the re-open control in sync with stored consent. The
// control exists exactly while a valid decision exists, and stays hidden
// while the banner itself is on screen.
type Affordance struct {
	siteID string
	doc    *page.Document
	st     *store.Store
	kv     storage.KV
	logger *slog.Logger

	// OnActivate is invoked when the visitor triggers the control.
	OnActivate func()

	mu            sync.Mutex
	bannerVisible bool
	cancelWatch   func()
}

// New builds the affordance. It does not touch the page until Sync runs.
func New(siteID string, doc *page.Document, st *store.Store, kv storage.KV, logger *slog.Logger) *Affordance {
	if logger == nil {
		logger = slog.Default()
	}
	return &Affordance{siteID: siteID, doc: doc, st: st, kv: kv, logger: logger}
}

// Sync evaluates stored consent and reconciles control presence. Safe to
// call repeatedly; the last evaluation wins.
func (a *Affordance) Sync(ctx context.Context) {
	_, present := a.st.Load(ctx)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reconcileLocked(present)
}

// SyncBannerVisible records banner visibility. The control is suppressed
// while the banner is visible so the two never compete for attention.
func (a *Affordance) SyncBannerVisible(visible bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bannerVisible = visible
	if el := a.doc.ElementByID(ControlID); el != nil {
		el.SetHidden(visible)
	}
}

// StartWatch subscribes to consent-key change notifications so decisions made
// in another same-origin context are reflected here.
func (a *Affordance) StartWatch(ctx context.Context) error {
	cancel, err := a.kv.Watch(ctx, store.Key(a.siteID), func(storage.Event) {
		a.Sync(ctx)
	})
	if err != nil {
		return fmt.Errorf("reopen: watch consent key: %w", err)
	}
	a.mu.Lock()
	a.cancelWatch = cancel
	a.mu.Unlock()
	return nil
}

// Stop releases the storage subscription.
func (a *Affordance) Stop() {
	a.mu.Lock()
	cancel := a.cancelWatch
	a.cancelWatch = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Activate fires the registered hook, if any.
func (a *Affordance) Activate() {
	if a.OnActivate != nil {
		a.OnActivate()
	}
}

// Present reports whether the control currently exists in the page.
func (a *Affordance) Present() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.doc.ElementByID(ControlID) != nil
}

func (a *Affordance) reconcileLocked(consentPresent bool) {
	el := a.doc.ElementByID(ControlID)
	switch {
	case consentPresent && el == nil:
		body := a.doc.Body()
		if body == nil {
			a.logger.Warn("page has no body, cannot place re-open control")
			return
		}
		if err := body.AppendHTML(controlMarkup); err != nil {
			a.logger.Warn("re-open control injection failed", "error", err)
			return
		}
		if created := a.doc.ElementByID(ControlID); created != nil {
			created.SetHidden(a.bannerVisible)
		}
	case !consentPresent && el != nil:
		el.Remove()
	case el != nil:
		el.SetHidden(a.bannerVisible)
	}
}
