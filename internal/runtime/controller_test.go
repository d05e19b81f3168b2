package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/consentry/consentry/internal/client"
	"github.com/consentry/consentry/internal/page"
	"github.com/consentry/consentry/internal/runtime/gating"
	"github.com/consentry/consentry/internal/runtime/reopen"
	"github.com/consentry/consentry/internal/runtime/store"
	"github.com/consentry/consentry/internal/storage"
)

const hostMarkup = `<!DOCTYPE html>
<html><head>
<script id="boot" src="/boot.js" data-consent-category="essential"></script>
<script id="stats" src="/stats.js" data-consent-category="analytics"></script>
<script id="ads" src="/ads.js" data-consent-category="marketing"></script>
</head><body><p>host page</p></body></html>`

func testWidgetConfig() client.WidgetConfig {
	return client.WidgetConfig{
		BannerMarkup: `<p>We use cookies on {{ .SiteID }}</p>
{{- range .Categories }}
<label>{{ .Name }}</label>
{{- end }}`,
		BannerStyle: "#consentry-banner{position:fixed}",
		Categories: []client.Category{
			{ID: "essential", Name: "Essential", Essential: true, SortOrder: 1},
			{ID: "analytics", Name: "Analytics", SortOrder: 2},
			{ID: "marketing", Name: "Marketing", SortOrder: 3},
		},
		ConsentEndpoint: "https://api.example.com/consent",
		PolicyBaseURL:   "https://api.example.com",
	}
}

type stubConfigs struct {
	cfg   client.WidgetConfig
	err   error
	calls int
}

func (s *stubConfigs) Fetch(context.Context, string) (client.WidgetConfig, error) {
	s.calls++
	return s.cfg, s.err
}

type stubConsents struct {
	err      error
	calls    int
	lastSub  client.Submission
	endpoint string
}

func (s *stubConsents) Submit(_ context.Context, endpoint string, sub client.Submission) (string, error) {
	s.calls++
	s.endpoint = endpoint
	s.lastSub = sub
	if s.err != nil {
		return "", s.err
	}
	return "consent-1", nil
}

type fixture struct {
	ctrl     *Controller
	doc      *page.Document
	kv       storage.KV
	store    *store.Store
	configs  *stubConfigs
	consents *stubConsents
}

func newFixture(t *testing.T, configs *stubConfigs, consents *stubConsents) *fixture {
	t.Helper()
	doc, err := page.ParseString(hostMarkup)
	require.NoError(t, err)
	kv := storage.NewMemory()
	t.Cleanup(func() { _ = kv.Close(context.Background()) })
	st := store.New("site-a", kv, time.Hour, nil)
	ctrl := NewController("site-a", time.Second, Deps{
		Doc:      doc,
		Configs:  configs,
		Consents: consents,
		Store:    st,
		Gater:    gating.New("site-a", nil, nil),
		Reopen:   reopen.New("site-a", doc, st, kv, nil),
	})
	return &fixture{ctrl: ctrl, doc: doc, kv: kv, store: st, configs: configs, consents: consents}
}

func scriptType(t *testing.T, doc *page.Document, id string) string {
	t.Helper()
	el := doc.ElementByID(id)
	require.NotNil(t, el)
	typ, _ := el.Attr("type")
	return typ
}

func TestFirstVisitShowsBannerAndBlocksNonEssential(t *testing.T) {
	f := newFixture(t, &stubConfigs{cfg: testWidgetConfig()}, &stubConsents{})
	ctx := context.Background()

	require.NoError(t, f.ctrl.Initialize(ctx))
	require.Equal(t, StateBannerShown, f.ctrl.State())

	banner := f.doc.ElementByID(BannerID)
	require.NotNil(t, banner)
	require.False(t, banner.Hidden())
	require.Contains(t, banner.Text(), "site-a")
	require.Contains(t, banner.Text(), "Analytics")

	require.Equal(t, "", scriptType(t, f.doc, "boot"))
	require.Equal(t, "text/plain", scriptType(t, f.doc, "stats"))
	require.Equal(t, "text/plain", scriptType(t, f.doc, "ads"))

	// No re-open control while the banner is up and nothing is decided.
	require.Nil(t, f.doc.ElementByID(reopen.ControlID))
}

func TestAcceptAllEnforcesEverything(t *testing.T) {
	f := newFixture(t, &stubConfigs{cfg: testWidgetConfig()}, &stubConsents{})
	ctx := context.Background()

	require.NoError(t, f.ctrl.Initialize(ctx))
	require.NoError(t, f.ctrl.AcceptAll(ctx))

	require.Equal(t, StateEnforced, f.ctrl.State())
	require.True(t, f.doc.ElementByID(BannerID).Hidden())
	require.NotEqual(t, "text/plain", scriptType(t, f.doc, "stats"))
	require.NotEqual(t, "text/plain", scriptType(t, f.doc, "ads"))

	require.Equal(t, 1, f.consents.calls)
	require.Equal(t, "https://api.example.com/consent", f.consents.endpoint)
	require.Equal(t, []string{"essential", "analytics", "marketing"}, f.consents.lastSub.Categories)

	rec, ok := f.store.Load(ctx)
	require.True(t, ok)
	require.Equal(t, []string{"essential", "analytics", "marketing"}, rec.Granted)

	require.NotNil(t, f.doc.ElementByID(reopen.ControlID))
	require.False(t, f.doc.ElementByID(reopen.ControlID).Hidden())
}

func TestReturningVisitorSkipsBanner(t *testing.T) {
	configs := &stubConfigs{cfg: testWidgetConfig()}
	f := newFixture(t, configs, &stubConsents{})
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, f.store.NewRecord([]string{"essential", "analytics"})))

	require.NoError(t, f.ctrl.Initialize(ctx))
	require.Equal(t, StateEnforced, f.ctrl.State())

	require.Nil(t, f.doc.ElementByID(BannerID))
	require.NotEqual(t, "text/plain", scriptType(t, f.doc, "stats"))
	require.Equal(t, "text/plain", scriptType(t, f.doc, "ads"))
	require.NotNil(t, f.doc.ElementByID(reopen.ControlID))
}

func TestExpiredConsentShowsBannerAgain(t *testing.T) {
	f := newFixture(t, &stubConfigs{cfg: testWidgetConfig()}, &stubConsents{})
	ctx := context.Background()

	expired := `{"siteId":"site-a","granted":["essential","analytics"],` +
		`"decidedAt":"2026-01-01T00:00:00Z","expiresAt":"2026-01-01T00:00:01Z"}`
	require.NoError(t, f.kv.Store(ctx, store.Key("site-a"), []byte(expired)))

	require.NoError(t, f.ctrl.Initialize(ctx))
	require.Equal(t, StateBannerShown, f.ctrl.State())
	require.NotNil(t, f.doc.ElementByID(BannerID))

	// The expired record was purged, not just ignored.
	_, found, err := f.kv.Lookup(ctx, store.Key("site-a"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestDecideUnionsEssentials(t *testing.T) {
	f := newFixture(t, &stubConfigs{cfg: testWidgetConfig()}, &stubConsents{})
	ctx := context.Background()

	require.NoError(t, f.ctrl.Initialize(ctx))
	require.NoError(t, f.ctrl.Decide(ctx, []string{"analytics"}))

	rec, ok := f.store.Load(ctx)
	require.True(t, ok)
	require.Equal(t, []string{"essential", "analytics"}, rec.Granted)
	require.NotEqual(t, "text/plain", scriptType(t, f.doc, "stats"))
	require.Equal(t, "text/plain", scriptType(t, f.doc, "ads"))
}

func TestRemoteSubmitFailureIsNonFatal(t *testing.T) {
	consents := &stubConsents{err: errors.New("service down")}
	f := newFixture(t, &stubConfigs{cfg: testWidgetConfig()}, consents)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Initialize(ctx))
	require.NoError(t, f.ctrl.RejectAll(ctx))

	require.Equal(t, StateEnforced, f.ctrl.State())
	rec, ok := f.store.Load(ctx)
	require.True(t, ok)
	require.Equal(t, []string{"essential"}, rec.Granted)
	require.Equal(t, "text/plain", scriptType(t, f.doc, "stats"))
}

func TestConfigFailureIsFatal(t *testing.T) {
	f := newFixture(t, &stubConfigs{err: errors.New("gateway unreachable")}, &stubConsents{})
	ctx := context.Background()

	err := f.ctrl.Initialize(ctx)
	require.Error(t, err)
	require.Equal(t, StateFailed, f.ctrl.State())
	require.Nil(t, f.doc.ElementByID(BannerID))

	// All managed scripts stay exactly as the page shipped them.
	require.Equal(t, "", scriptType(t, f.doc, "stats"))

	// Later calls stay no-ops: the failure is terminal.
	require.NoError(t, f.ctrl.Initialize(ctx))
	require.Equal(t, StateFailed, f.ctrl.State())
	require.Equal(t, 1, f.configs.calls)
}

func TestInitializeIsIdempotent(t *testing.T) {
	f := newFixture(t, &stubConfigs{cfg: testWidgetConfig()}, &stubConsents{})
	ctx := context.Background()

	require.NoError(t, f.ctrl.Initialize(ctx))
	require.NoError(t, f.ctrl.Initialize(ctx))
	require.Equal(t, 1, f.configs.calls)
	require.Equal(t, StateBannerShown, f.ctrl.State())
}

func TestDecideRejectedOutsideBannerShown(t *testing.T) {
	f := newFixture(t, &stubConfigs{cfg: testWidgetConfig()}, &stubConsents{})
	ctx := context.Background()

	err := f.ctrl.Decide(ctx, []string{"analytics"})
	require.ErrorIs(t, err, ErrNotBannerShown)

	require.NoError(t, f.ctrl.Initialize(ctx))
	require.NoError(t, f.ctrl.AcceptAll(ctx))
	require.ErrorIs(t, f.ctrl.Decide(ctx, nil), ErrNotBannerShown)
}

func TestReopenBannerAllowsRevision(t *testing.T) {
	f := newFixture(t, &stubConfigs{cfg: testWidgetConfig()}, &stubConsents{})
	ctx := context.Background()

	require.NoError(t, f.ctrl.Initialize(ctx))
	require.NoError(t, f.ctrl.AcceptAll(ctx))

	// The floating control puts the banner back on screen.
	f.ctrl.reopen.Activate()
	require.Equal(t, StateBannerShown, f.ctrl.State())
	require.False(t, f.doc.ElementByID(BannerID).Hidden())
	require.True(t, f.doc.ElementByID(reopen.ControlID).Hidden())

	require.NoError(t, f.ctrl.RejectAll(ctx))
	require.Equal(t, StateEnforced, f.ctrl.State())
	require.Equal(t, "text/plain", scriptType(t, f.doc, "stats"))

	rec, ok := f.store.Load(ctx)
	require.True(t, ok)
	require.Equal(t, []string{"essential"}, rec.Granted)
}

func TestReopenAfterStoredConsentRendersBanner(t *testing.T) {
	f := newFixture(t, &stubConfigs{cfg: testWidgetConfig()}, &stubConsents{})
	ctx := context.Background()

	// A returning visitor: consent already stored, so Initialize never
	// renders the banner.
	require.NoError(t, f.store.Save(ctx, f.store.NewRecord([]string{"essential", "analytics"})))
	require.NoError(t, f.ctrl.Initialize(ctx))
	require.Equal(t, StateEnforced, f.ctrl.State())
	require.Nil(t, f.doc.ElementByID(BannerID))

	f.ctrl.reopen.Activate()
	require.Equal(t, StateBannerShown, f.ctrl.State())

	banner := f.doc.ElementByID(BannerID)
	require.NotNil(t, banner)
	require.False(t, banner.Hidden())
	require.Contains(t, banner.Text(), "Analytics")
	require.True(t, f.doc.ElementByID(reopen.ControlID).Hidden())

	require.NoError(t, f.ctrl.RejectAll(ctx))
	require.Equal(t, StateEnforced, f.ctrl.State())
	require.Equal(t, "text/plain", scriptType(t, f.doc, "stats"))
}

func TestSnapshotReflectsDecision(t *testing.T) {
	f := newFixture(t, &stubConfigs{cfg: testWidgetConfig()}, &stubConsents{})
	ctx := context.Background()

	snap := f.ctrl.Snapshot()
	require.Equal(t, StateUninitialized, snap.State)
	require.Empty(t, snap.Granted)

	require.NoError(t, f.ctrl.Initialize(ctx))
	require.NoError(t, f.ctrl.Decide(ctx, []string{"marketing"}))

	snap = f.ctrl.Snapshot()
	require.Equal(t, StateEnforced, snap.State)
	require.Equal(t, []string{"essential", "marketing"}, snap.Granted)
	require.NotNil(t, snap.DecidedAt)
	require.NotNil(t, snap.ExpiresAt)
}
