// Package runtime hosts the consent runtime controller: the state machine
// that loads widget configuration, shows the banner, records decisions, and
// keeps script gating and the re-open control in line with stored consent.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/consentry/consentry/internal/client"
	"github.com/consentry/consentry/internal/metrics"
	"github.com/consentry/consentry/internal/page"
	"github.com/consentry/consentry/internal/runtime/gating"
	"github.com/consentry/consentry/internal/runtime/reopen"
	"github.com/consentry/consentry/internal/runtime/store"
	"github.com/consentry/consentry/internal/templates"
)

// State names the controller's lifecycle position.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateConfigLoading State = "configLoading"
	StateBannerShown   State = "bannerShown"
	StateConsentSaving State = "consentSaving"
	StateEnforced      State = "enforced"
	StateFailed        State = "failed"
)

// BannerID is the element id of the banner container. The controller creates
// the container when the host page does not provide one.
const BannerID = "consentry-banner"

const bannerStyleID = "consentry-banner-style"

// ErrNotBannerShown gates decision calls to the one state that accepts them.
var ErrNotBannerShown = errors.New("runtime: no banner awaiting a decision")

// Decision kinds recorded against the decisions counter.
const (
	DecisionAcceptAll = "acceptAll"
	DecisionRejectAll = "rejectAll"
	DecisionCustom    = "custom"
)

// ConfigFetcher retrieves the widget configuration for a site.
type ConfigFetcher interface {
	Fetch(ctx context.Context, siteID string) (client.WidgetConfig, error)
}

// ConsentSubmitter posts a decision to the consent persistence service.
type ConsentSubmitter interface {
	Submit(ctx context.Context, endpoint string, sub client.Submission) (string, error)
}

// bannerData is what the banner markup template renders against.
type bannerData struct {
	SiteID     string
	Categories []client.Category
}

// Controller is the consent runtime state machine for one page load.
type Controller struct {
	siteID        string
	submitTimeout time.Duration

	doc      *page.Document
	configs  ConfigFetcher
	consents ConsentSubmitter
	store    *store.Store
	gater    *gating.Gater
	reopen   *reopen.Affordance
	renderer *templates.Renderer
	logger   *slog.Logger
	recorder *metrics.Recorder

	mu     sync.Mutex
	state  State
	widget client.WidgetConfig
}

// Deps carries the controller's collaborators.
type Deps struct {
	Doc      *page.Document
	Configs  ConfigFetcher
	Consents ConsentSubmitter
	Store    *store.Store
	Gater    *gating.Gater
	Reopen   *reopen.Affordance
	Logger   *slog.Logger
	Recorder *metrics.Recorder
}

// NewController builds the controller in the uninitialized state.
func NewController(siteID string, submitTimeout time.Duration, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if submitTimeout <= 0 {
		submitTimeout = 10 * time.Second
	}
	c := &Controller{
		siteID:        siteID,
		submitTimeout: submitTimeout,
		doc:           deps.Doc,
		configs:       deps.Configs,
		consents:      deps.Consents,
		store:         deps.Store,
		gater:         deps.Gater,
		reopen:        deps.Reopen,
		renderer:      templates.NewRenderer(),
		logger:        logger,
		recorder:      deps.Recorder,
		state:         StateUninitialized,
	}
	c.reopen.OnActivate = func() { c.ReopenBanner() }
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Initialize loads configuration and brings the page to its resting state:
// enforcement when a valid decision exists, the banner otherwise. Calling it
// again after the first attempt is a no-op.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUninitialized {
		c.logger.Debug("initialize called again, ignoring", "state", string(c.state))
		return nil
	}
	c.state = StateConfigLoading

	widget, err := c.configs.Fetch(ctx, c.siteID)
	if err != nil {
		c.state = StateFailed
		c.logger.Error("widget configuration unavailable, runtime disabled",
			"siteId", c.siteID, "error", err)
		return fmt.Errorf("runtime: load widget configuration: %w", err)
	}
	c.widget = widget

	if rec, ok := c.store.Load(ctx); ok {
		c.gater.Apply(c.doc, rec.GrantedSet())
		c.state = StateEnforced
		c.reopen.SyncBannerVisible(false)
		c.reopen.Sync(ctx)
		c.startWatch(ctx)
		c.logger.Info("stored consent enforced", "siteId", c.siteID, "granted", rec.Granted)
		return nil
	}

	// Undecided visitors get essential categories only until they choose.
	c.gater.Apply(c.doc, toSet(widget.EssentialIDs()))
	if err := c.showBanner(); err != nil {
		c.state = StateFailed
		return err
	}
	c.state = StateBannerShown
	c.reopen.SyncBannerVisible(true)
	c.reopen.Sync(ctx)
	c.startWatch(ctx)
	return nil
}

// Decide records an explicit category selection. Only valid while the banner
// is awaiting a decision.
func (c *Controller) Decide(ctx context.Context, categories []string) error {
	return c.decide(ctx, categories, DecisionCustom)
}

// AcceptAll grants every category the site defines.
func (c *Controller) AcceptAll(ctx context.Context) error {
	c.mu.Lock()
	all := c.widget.CategoryIDs()
	c.mu.Unlock()
	return c.decide(ctx, all, DecisionAcceptAll)
}

// RejectAll grants only the essential categories.
func (c *Controller) RejectAll(ctx context.Context) error {
	return c.decide(ctx, nil, DecisionRejectAll)
}

// ReopenBanner re-shows the banner so an enforced decision can be revised.
// A returning visitor never had the banner rendered, so it is built from the
// fetched configuration on first activation.
func (c *Controller) ReopenBanner() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateEnforced {
		return
	}
	banner := c.doc.ElementByID(BannerID)
	if banner == nil {
		if err := c.showBanner(); err != nil {
			c.logger.Warn("banner render on reopen failed", "siteId", c.siteID, "error", err)
			return
		}
	} else {
		banner.SetHidden(false)
	}
	c.reopen.SyncBannerVisible(true)
	c.state = StateBannerShown
}

// Snapshot is the controller's observable state for diagnostics.
type Snapshot struct {
	SiteID    string     `json:"siteId"`
	State     State      `json:"state"`
	Granted   []string   `json:"granted,omitempty"`
	DecidedAt *time.Time `json:"decidedAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Snapshot reports current state without touching storage.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{SiteID: c.siteID, State: c.state}
	if rec, ok := c.store.Current(); ok {
		snap.Granted = append([]string(nil), rec.Granted...)
		decided, expires := rec.DecidedAt, rec.ExpiresAt
		snap.DecidedAt = &decided
		snap.ExpiresAt = &expires
	}
	return snap
}

func (c *Controller) decide(ctx context.Context, requested []string, kind string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateBannerShown {
		return fmt.Errorf("%w (state %s)", ErrNotBannerShown, c.state)
	}
	c.state = StateConsentSaving

	granted := c.grantedUnion(requested)
	rec := c.store.NewRecord(granted)

	remoteOK := c.submitRemote(ctx, rec)
	c.recorder.ObserveDecision(c.siteID, kind, remoteOK)

	// Local persistence happens regardless of the remote outcome, and always
	// before enforcement, so a reload sees the same decision being enforced.
	if err := c.store.Save(ctx, rec); err != nil {
		c.logger.Warn("consent record not persisted, enforcing from memory",
			"siteId", c.siteID, "error", err)
	}

	if banner := c.doc.ElementByID(BannerID); banner != nil {
		banner.SetHidden(true)
	}
	c.gater.Apply(c.doc, rec.GrantedSet())
	c.reopen.SyncBannerVisible(false)
	c.reopen.Sync(ctx)
	c.state = StateEnforced
	c.logger.Info("consent decision enforced",
		"siteId", c.siteID, "kind", kind, "granted", granted, "remoteOk", remoteOK)
	return nil
}

// grantedUnion returns requested ∪ essential in the site's display order.
func (c *Controller) grantedUnion(requested []string) []string {
	want := toSet(requested)
	var granted []string
	for _, cat := range c.widget.Categories {
		if cat.Essential || want[cat.ID] {
			granted = append(granted, cat.ID)
		}
	}
	return granted
}

func (c *Controller) submitRemote(ctx context.Context, rec store.Record) bool {
	submitCtx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()
	consentID, err := c.consents.Submit(submitCtx, c.widget.ConsentEndpoint, client.Submission{
		SiteID:     c.siteID,
		Categories: rec.Granted,
		DecidedAt:  rec.DecidedAt,
	})
	if err != nil {
		c.logger.Warn("consent submission failed, continuing on local state",
			"siteId", c.siteID, "error", err)
		return false
	}
	c.logger.Debug("consent submitted", "siteId", c.siteID, "consentId", consentID)
	return true
}

func (c *Controller) showBanner() error {
	tmpl, err := c.renderer.CompileInline("banner", c.widget.BannerMarkup)
	if err != nil {
		return fmt.Errorf("runtime: compile banner markup: %w", err)
	}
	rendered := ""
	if tmpl != nil {
		rendered, err = tmpl.Render(bannerData{SiteID: c.siteID, Categories: c.widget.Categories})
		if err != nil {
			return fmt.Errorf("runtime: render banner markup: %w", err)
		}
	}

	banner := c.doc.ElementByID(BannerID)
	if banner == nil {
		body := c.doc.Body()
		if body == nil {
			return errors.New("runtime: page has no body for banner")
		}
		if err := body.AppendHTML(`<div id="` + BannerID + `"></div>`); err != nil {
			return fmt.Errorf("runtime: create banner container: %w", err)
		}
		banner = c.doc.ElementByID(BannerID)
	}
	if err := banner.SetHTML(rendered); err != nil {
		return fmt.Errorf("runtime: inject banner markup: %w", err)
	}
	banner.SetHidden(false)
	c.injectBannerStyle()
	return nil
}

func (c *Controller) injectBannerStyle() {
	if c.widget.BannerStyle == "" || c.doc.ElementByID(bannerStyleID) != nil {
		return
	}
	body := c.doc.Body()
	if body == nil {
		return
	}
	if err := body.AppendHTML(`<style id="` + bannerStyleID + `"></style>`); err != nil {
		c.logger.Warn("banner style injection failed", "error", err)
		return
	}
	if style := c.doc.ElementByID(bannerStyleID); style != nil {
		style.SetText(c.widget.BannerStyle)
	}
}

func (c *Controller) startWatch(ctx context.Context) {
	if err := c.reopen.StartWatch(ctx); err != nil {
		c.logger.Warn("consent change watch unavailable", "siteId", c.siteID, "error", err)
	}
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
