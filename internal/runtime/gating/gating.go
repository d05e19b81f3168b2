// Package gating enforces consent over annotated script elements by
// rewriting their type attribute.
package gating

import (
	"log/slog"

	"github.com/consentry/consentry/internal/metrics"
	"github.com/consentry/consentry/internal/page"
)

const (
	// AttrCategory marks a script as consent-managed and names its category.
	AttrCategory = "data-consent-category"
	// AttrBlocked marks a script the gater has neutralized.
	AttrBlocked = "data-consent-blocked"
	// AttrSavedType preserves the script's original type across blocking.
	AttrSavedType = "data-consent-type"

	blockedType = "text/plain"
)

// Summary reports what one reconciliation pass changed.
type Summary struct {
	Blocked int
	Enabled int
}

// Gater reconciles managed scripts against the granted category set.
type Gater struct {
	siteID   string
	logger   *slog.Logger
	recorder *metrics.Recorder
}

// New builds a gater for a site.
func New(siteID string, logger *slog.Logger, recorder *metrics.Recorder) *Gater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gater{siteID: siteID, logger: logger, recorder: recorder}
}

// Apply walks every managed script and moves it to the state the granted set
// requires. Scripts already in the right state are left untouched, so the
// pass is idempotent and safe to repeat after new scripts appear.
func (g *Gater) Apply(doc *page.Document, granted map[string]bool) Summary {
	var sum Summary
	for _, script := range doc.Scripts() {
		category, ok := script.Attr(AttrCategory)
		if !ok || category == "" {
			continue
		}
		blocked := isBlocked(script)
		switch {
		case granted[category] && blocked:
			g.enable(script)
			sum.Enabled++
			g.recorder.ObserveGating(g.siteID, metrics.GatingActionEnabled)
		case !granted[category] && !blocked:
			g.block(script)
			sum.Blocked++
			g.recorder.ObserveGating(g.siteID, metrics.GatingActionBlocked)
		default:
			g.recorder.ObserveGating(g.siteID, metrics.GatingActionUnchanged)
		}
	}
	if sum.Blocked > 0 || sum.Enabled > 0 {
		g.logger.Debug("script gating applied",
			"siteId", g.siteID, "blocked", sum.Blocked, "enabled", sum.Enabled)
	}
	return sum
}

func isBlocked(script *page.Element) bool {
	v, _ := script.Attr(AttrBlocked)
	return v == "true"
}

func (g *Gater) block(script *page.Element) {
	original, _ := script.Attr("type")
	script.SetAttr(AttrSavedType, original)
	script.SetAttr("type", blockedType)
	script.SetAttr(AttrBlocked, "true")
}

func (g *Gater) enable(script *page.Element) {
	original, saved := script.Attr(AttrSavedType)
	if saved && original != "" {
		script.SetAttr("type", original)
	} else {
		script.RemoveAttr("type")
	}
	script.RemoveAttr(AttrSavedType)
	script.RemoveAttr(AttrBlocked)
}
