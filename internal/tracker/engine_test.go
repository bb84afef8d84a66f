package tracker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Guizzs26/go-track/internal/config"
	"github.com/Guizzs26/go-track/internal/db"
	"github.com/Guizzs26/go-track/internal/delivery"
	"github.com/Guizzs26/go-track/internal/models"
	"github.com/Guizzs26/go-track/internal/store"
	"github.com/Guizzs26/go-track/pkg/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	route  delivery.Route
	record models.Record
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeTransport) Send(_ context.Context, route delivery.Route, r models.Record) (*delivery.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{route: route, record: r})
	if f.err != nil {
		return nil, f.err
	}
	return &delivery.Response{Success: true}, nil
}

func (f *fakeTransport) records() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

// hookEnv is a StaticEnvironment that also exposes every optional hook.
type hookEnv struct {
	StaticEnvironment
	mu       sync.Mutex
	navigate []func()
	click    []func(ClickTarget)
	hide     []func()
	removed  int
}

func (h *hookEnv) OnNavigate(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.navigate = append(h.navigate, fn)
	return h.unsubscribe
}

func (h *hookEnv) OnClick(fn func(ClickTarget)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.click = append(h.click, fn)
	return h.unsubscribe
}

func (h *hookEnv) OnHide(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hide = append(h.hide, fn)
	return h.unsubscribe
}

func (h *hookEnv) unsubscribe() {
	h.mu.Lock()
	h.removed++
	h.mu.Unlock()
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.APIEndpoint = "http://collector.test"
	cfg.AutoPageView = false
	cfg.BatchInterval = time.Hour
	cfg.RetryDelay = time.Millisecond
	cfg.MaxRetries = 0
	return cfg
}

func newEngine(t *testing.T, cfg *config.Config, opts ...Option) (*Engine, *fakeTransport, *store.Store) {
	t.Helper()
	tr := &fakeTransport{}
	s := store.New(db.NewMemoryBackend(), cfg.StoragePrefix, infra.Discard())
	opts = append([]Option{WithTransport(tr), WithStore(s), WithLogger(infra.Discard())}, opts...)
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(e.Destroy)
	return e, tr, s
}

func TestNew_RequiresEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.APIEndpoint = ""
	_, err := New(cfg)
	assert.ErrorIs(t, err, config.ErrMissingEndpoint)
}

func TestSessionID(t *testing.T) {
	e, _, _ := newEngine(t, testConfig(), withClock(func() time.Time { return time.UnixMilli(1700000000000) }))

	id := e.SessionID()
	assert.True(t, strings.HasPrefix(id, "1700000000000-"), id)
	assert.Len(t, id, len("1700000000000-")+9)

	e.TrackCustom("checkout", nil)
	assert.Equal(t, id, e.Pending()[0].SessionID)
}

func TestUserIDScenario(t *testing.T) {
	ctx := context.Background()
	e, _, s := newEngine(t, testConfig())

	e.SetUserID("u1")
	e.TrackLogin(LoginParams{})
	assert.Equal(t, "u1", s.GetUserID(ctx))

	e.ClearUserID()
	e.TrackLogout()

	pending := e.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, models.EventLogin, pending[0].EventType)
	assert.Equal(t, "u1", pending[0].UserID)
	assert.Equal(t, LinkLogin, pending[0].LinkID)
	assert.Equal(t, models.EventLogout, pending[1].EventType)
	assert.Equal(t, "", pending[1].UserID)
	assert.Equal(t, "", s.GetUserID(ctx))
}

func TestTrackLogoutClearsUser(t *testing.T) {
	ctx := context.Background()
	e, _, s := newEngine(t, testConfig())

	e.SetUserID("u2")
	e.TrackLogout()

	assert.Equal(t, "u2", e.Pending()[0].UserID, "logout is attributed to the departing user")
	assert.Equal(t, "", e.UserID())
	assert.Equal(t, "", s.GetUserID(ctx))
}

func TestTrackMirrorsQueueToStore(t *testing.T) {
	ctx := context.Background()
	e, _, s := newEngine(t, testConfig())

	e.TrackClickID("buy")
	e.TrackRegister(RegisterParams{Source: "ads", Extra: map[string]any{"campaign": "spring"}})

	assert.Equal(t, e.Pending(), s.GetPendingEvents(ctx))

	reg := e.Pending()[1]
	assert.Equal(t, LinkRegister, reg.LinkID)
	assert.Equal(t, "ads", reg.Attributes["source"])
	assert.Equal(t, "spring", reg.Attributes["campaign"])
}

func TestConvenienceDefaults(t *testing.T) {
	e, _, _ := newEngine(t, testConfig(), WithEnvironment(StaticEnvironment{PagePath: "/docs", PageTitle: "Docs"}))

	e.TrackSubscribe(SubscribeParams{Plan: "pro", Amount: 9.99})
	e.TrackVisit("", "")
	e.TrackPageView("/explicit", "Explicit")
	e.TrackClick(ClickParams{ElementID: "cta", LinkID: "hero"})
	e.TrackCustom("share", map[string]any{"linkId": "post-1", "count": 3})
	e.TrackCustom("noop", nil)

	p := e.Pending()
	require.Len(t, p, 6)

	assert.Equal(t, LinkSubscribe, p[0].LinkID)
	assert.Equal(t, 9.99, p[0].Attributes["amount"])
	assert.NotContains(t, p[0].Attributes, "duration")

	assert.Equal(t, LinkPageView, p[1].LinkID)
	assert.Equal(t, "/docs", p[1].Attributes["path"])
	assert.Equal(t, "Docs", p[1].Attributes["title"])
	assert.Equal(t, "/explicit", p[2].Attributes["path"])

	assert.Equal(t, "hero", p[3].LinkID)
	assert.Equal(t, models.EventClick, p[3].EventType)

	assert.Equal(t, "share", p[4].EventType)
	assert.Equal(t, "post-1", p[4].LinkID)
	assert.Equal(t, float64(3), p[4].Attributes["count"])
	assert.Equal(t, LinkCustom, p[5].LinkID)
}

func TestRecordContextFromEnvironment(t *testing.T) {
	env := StaticEnvironment{
		Host:       "shop.example.com",
		PageURL:    "https://shop.example.com/cart?step=2",
		PagePath:   "/cart",
		Query:      "step=2",
		Referer:    "https://google.com",
		Agent:      "Mozilla/5.0",
		Lang:       "pt-br",
		TZ:         "America/Sao_Paulo",
		OS:         "Linux x86_64",
		Screen:     "1920x1080",
		WindowSize: "1280x720",
	}
	e, _, _ := newEngine(t, testConfig(), WithEnvironment(env))

	e.TrackCustom("checkout", nil)
	r := e.Pending()[0]

	assert.Equal(t, "shop.example.com", r.SiteDomain, "site domain falls back to the host name")
	assert.Equal(t, "/cart?step=2", r.Context.URI)
	assert.Equal(t, "https://google.com", r.Context.Referrer)
	assert.Equal(t, "pt-BR", r.Context.Language)
	assert.Equal(t, "1280x720", r.Context.Viewport)
}

func TestInitRestoresPersistedState(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	backend := db.NewMemoryBackend()
	s := store.New(backend, cfg.StoragePrefix, infra.Discard())

	restored := []models.Record{{EventType: models.EventClick, Timestamp: 1, SessionID: "old"}}
	require.NoError(t, s.SetUserID(ctx, "u9"))
	require.NoError(t, s.SavePendingEvents(ctx, restored))

	e, err := New(cfg, WithTransport(&fakeTransport{}), WithStore(s), WithLogger(infra.Discard()))
	require.NoError(t, err)
	defer e.Destroy()

	require.NoError(t, e.Init(ctx))
	assert.Equal(t, "u9", e.UserID())
	assert.Equal(t, restored, e.Pending())

	require.NoError(t, e.Init(ctx))
	assert.Len(t, e.Pending(), 1, "second Init does not restore twice")
}

func TestInitAutoPageViewAndHooks(t *testing.T) {
	cfg := testConfig()
	cfg.AutoPageView = true
	cfg.AutoClick = true
	env := &hookEnv{StaticEnvironment: StaticEnvironment{PagePath: "/home"}}
	e, tr, _ := newEngine(t, cfg, WithEnvironment(env))

	require.NoError(t, e.Init(context.Background()))
	require.Len(t, e.Pending(), 1)
	assert.Equal(t, models.EventVisit, e.Pending()[0].EventType)

	env.navigate[0]()
	assert.Len(t, e.Pending(), 2)

	env.click[0](ClickTarget{Tag: "DIV", Text: "plain"})
	assert.Len(t, e.Pending(), 2, "untracked element")

	longText := strings.Repeat("é", 80)
	env.click[0](ClickTarget{Tag: "BUTTON", ID: "buy", Text: "  " + longText + "  ", Class: "btn primary"})
	env.click[0](ClickTarget{Tag: "span", Class: "x trackable", Attrs: map[string]string{"data-track-id": "promo"}})
	env.click[0](ClickTarget{Tag: "img", Attrs: map[string]string{"data-track": ""}, Href: "https://x.test"})

	p := e.Pending()
	require.Len(t, p, 5)
	assert.Equal(t, "buy", p[2].Attributes["elementId"])
	assert.Equal(t, strings.Repeat("é", 50), p[2].Attributes["elementText"])
	assert.Equal(t, "button", p[2].Attributes["elementTag"])
	assert.Equal(t, "promo", p[3].Attributes["elementId"])
	assert.Equal(t, "https://x.test", p[4].Attributes["href"])

	env.hide[0]()
	require.NoError(t, e.Wait(context.Background()))
	assert.Len(t, tr.records(), 5)
	assert.Empty(t, e.Pending())

	e.Destroy()
	assert.Equal(t, 3, env.removed)
}

func TestInitWithoutCapabilities(t *testing.T) {
	cfg := testConfig()
	cfg.AutoPageView = true
	cfg.AutoClick = true
	e, _, _ := newEngine(t, cfg)

	require.NoError(t, e.Init(context.Background()))
	assert.Len(t, e.Pending(), 1, "page view is still recorded without navigation hooks")
}

func TestSendImmediately(t *testing.T) {
	e, tr, s := newEngine(t, testConfig())

	require.NoError(t, e.SendImmediately(context.Background(), Event{Type: models.EventRegister, LinkID: "register"}))
	require.NoError(t, e.SendImmediately(context.Background(), Event{Type: "checkout"}))

	got := tr.records()
	require.Len(t, got, 2)
	assert.Equal(t, delivery.RouteRegister, got[0].route)
	assert.Equal(t, delivery.RouteBatch, got[1].route)
	assert.Empty(t, e.Pending(), "immediate sends bypass the queue")
	assert.Empty(t, s.GetPendingEvents(context.Background()))
}

func TestSendImmediately_PropagatesError(t *testing.T) {
	e, tr, s := newEngine(t, testConfig())
	tr.err = errors.New("connection refused")

	err := e.SendImmediately(context.Background(), Event{Type: models.EventLogin})
	assert.ErrorContains(t, err, "connection refused")
	assert.Empty(t, s.GetPendingEvents(context.Background()), "no local fallback for immediate sends")
}

func TestBatchFlushClearsStore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.BatchSize = 2
	e, tr, s := newEngine(t, cfg)

	e.TrackClickID("a")
	e.TrackClickID("b")
	require.NoError(t, e.Wait(ctx))

	require.Len(t, tr.records(), 2)
	assert.Equal(t, delivery.RouteEvent, tr.records()[0].route)
	assert.Empty(t, s.GetPendingEvents(ctx))
}

func TestStorageDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableStorage = false
	tr := &fakeTransport{err: errors.New("offline")}

	e, err := New(cfg, WithTransport(tr), WithLogger(infra.Discard()))
	require.NoError(t, err)
	defer e.Destroy()

	require.NoError(t, e.Init(context.Background()))
	e.SetUserID("u1")
	e.TrackClickID("a")
	e.Flush()
	require.NoError(t, e.Wait(context.Background()))

	assert.Len(t, e.Pending(), 1, "failed record is re-queued even without a store")
}

func TestCloseWaitsForDelivery(t *testing.T) {
	cfg := testConfig()
	tr := &fakeTransport{}
	e, err := New(cfg, WithTransport(tr), WithStore(store.New(db.NewMemoryBackend(), "", infra.Discard())), WithLogger(infra.Discard()))
	require.NoError(t, err)

	e.TrackClickID("a")
	require.NoError(t, e.Close(context.Background()))
	assert.Len(t, tr.records(), 1)

	e.Destroy()
}

type closingTransport struct {
	fakeTransport
	closed atomic.Int32
}

func (c *closingTransport) Close() error {
	c.closed.Add(1)
	return nil
}

type closingBackend struct {
	*db.MemoryBackend
	closed atomic.Int32
}

func (c *closingBackend) Close() error {
	c.closed.Add(1)
	return nil
}

func TestCloseLeavesInjectedDependenciesOpen(t *testing.T) {
	tr := &closingTransport{}
	backend := &closingBackend{MemoryBackend: db.NewMemoryBackend()}

	e, err := New(testConfig(), WithTransport(tr), WithStore(store.New(backend, "", infra.Discard())), WithLogger(infra.Discard()))
	require.NoError(t, err)

	require.NoError(t, e.Close(context.Background()))
	assert.Zero(t, tr.closed.Load())
	assert.Zero(t, backend.closed.Load())
}
