// Package tracker is the public entry point: it builds event records, feeds
// them to the queue and keeps the local snapshot in step with the queue.
package tracker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Guizzs26/go-track/internal/broker"
	"github.com/Guizzs26/go-track/internal/config"
	"github.com/Guizzs26/go-track/internal/db"
	"github.com/Guizzs26/go-track/internal/delivery"
	"github.com/Guizzs26/go-track/internal/models"
	"github.com/Guizzs26/go-track/internal/queue"
	"github.com/Guizzs26/go-track/internal/store"
	"github.com/Guizzs26/go-track/pkg/metrics"

	"github.com/google/uuid"
)

// Event is the generic input to Track. Attributes may hold any values;
// they are normalized to strings, bools and float64 when the record is built.
type Event struct {
	Type       string
	UserID     string
	LinkID     string
	Attributes map[string]any
}

type Engine struct {
	cfg        *config.Config
	env        Environment
	logger     *slog.Logger
	siteDomain string
	sessionID  string
	now        func() time.Time

	store     *store.Store
	transport delivery.Transport
	deliverer *delivery.Deliverer
	queue     *queue.Queue

	// set when New built the dependency; injected ones belong to the caller
	ownsStore     bool
	ownsTransport bool

	mu           sync.Mutex
	userID       string
	initialized  bool
	destroyed    bool
	unsubscribes []func()
}

type Option func(*Engine)

func WithEnvironment(env Environment) Option {
	return func(e *Engine) { e.env = env }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTransport overrides the transport selected by cfg.Transport.
func WithTransport(t delivery.Transport) Option {
	return func(e *Engine) { e.transport = t }
}

// WithStore overrides the store built from cfg.StorageBackend.
func WithStore(s *store.Store) Option {
	return func(e *Engine) { e.store = s }
}

func withClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New wires store, transport, deliverer and queue. The queue timer starts
// immediately; call Init to restore persisted state and attach hooks.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracker config: %w", err)
	}

	e := &Engine{
		cfg:    cfg,
		env:    NoopEnvironment{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "tracker")

	e.siteDomain = cfg.SiteDomain
	if e.siteDomain == "" {
		e.siteDomain = e.env.Hostname()
	}
	e.sessionID = newSessionID(e.now())

	if cfg.EnableStorage && e.store == nil {
		backend, err := db.Open(context.Background(), cfg.StorageBackend, cfg.StorageDSN, e.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage backend: %w", err)
		}
		e.store = store.New(backend, cfg.StoragePrefix, e.logger, store.WithCompression(cfg.StorageCompression))
		e.ownsStore = true
	}
	if !cfg.EnableStorage {
		e.store = nil
	}

	if e.transport == nil {
		t, err := NewTransport(cfg, e.logger)
		if err != nil {
			if e.ownsStore {
				e.store.Close()
			}
			return nil, err
		}
		e.transport = t
		e.ownsTransport = true
	}

	var pending delivery.PendingStore
	if e.store != nil {
		pending = e.store
	}
	e.deliverer = delivery.NewDeliverer(e.transport, pending, cfg, e.logger)
	e.queue = queue.New(cfg.BatchSize, cfg.BatchInterval, e.deliverer.SendBatch, e.logger)

	e.logger.Debug("Tracker created",
		"session_id", e.sessionID,
		"site_domain", e.siteDomain,
		"transport", cfg.Transport,
		"storage", cfg.EnableStorage,
	)
	return e, nil
}

// NewTransport builds the transport named by cfg.Transport.
func NewTransport(cfg *config.Config, logger *slog.Logger) (delivery.Transport, error) {
	if cfg.Transport == "amqp" {
		t, err := broker.NewAMQPTransport(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create amqp transport: %w", err)
		}
		return t, nil
	}
	return delivery.NewHTTPTransport(cfg.APIEndpoint, delivery.WithRateLimit(cfg.RequestsPerSecond)), nil
}

// newSessionID is "<unix ms>-<9 random chars>".
func newSessionID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%d-%s", now.UnixMilli(), random[:9])
}

// Init restores the persisted user id and pending events and attaches the
// environment hooks enabled in the config. Calling it again is a no-op.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.initialized {
		e.mu.Unlock()
		e.logger.Debug("Tracker already initialized")
		return nil
	}
	e.initialized = true
	e.mu.Unlock()

	if e.store != nil {
		if id := e.store.GetUserID(ctx); id != "" {
			e.mu.Lock()
			e.userID = id
			e.mu.Unlock()
		}
		pending := e.store.GetPendingEvents(ctx)
		if len(pending) > 0 {
			e.logger.Info("Restoring pending events", "count", len(pending))
		}
		for _, r := range pending {
			e.queue.Push(r)
		}
	}

	var unsubscribes []func()
	if e.cfg.AutoPageView {
		e.TrackVisit("", "")
		if nav, ok := e.env.(NavigationSource); ok {
			unsubscribes = append(unsubscribes, nav.OnNavigate(func() { e.TrackVisit("", "") }))
		}
	}
	if e.cfg.AutoClick {
		if clicks, ok := e.env.(ClickSource); ok {
			unsubscribes = append(unsubscribes, clicks.OnClick(e.handleClick))
		}
	}
	if lifecycle, ok := e.env.(LifecycleSource); ok {
		unsubscribes = append(unsubscribes, lifecycle.OnHide(e.Flush))
	}

	e.mu.Lock()
	e.unsubscribes = unsubscribes
	e.mu.Unlock()

	e.logger.Info("Tracker initialized", "session_id", e.sessionID, "hooks", len(unsubscribes))
	return nil
}

// Destroy flushes, stops the queue timer and detaches hooks. In-flight
// deliveries keep running; Close waits for them.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.initialized = false
	unsubscribes := e.unsubscribes
	e.unsubscribes = nil
	e.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		if unsubscribe != nil {
			unsubscribe()
		}
	}
	e.queue.Destroy()
	e.logger.Info("Tracker destroyed", "session_id", e.sessionID)
}

// Close destroys the engine, waits for in-flight deliveries (bounded by ctx)
// and releases the transport and storage backend New opened itself. Those
// passed in through WithTransport or WithStore are left open.
func (e *Engine) Close(ctx context.Context) error {
	e.Destroy()
	waitErr := e.queue.Wait(ctx)

	if c, ok := e.transport.(io.Closer); ok && e.ownsTransport {
		c.Close()
	}
	if e.ownsStore {
		if err := e.store.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}
	return waitErr
}

func (e *Engine) SetUserID(id string) {
	e.mu.Lock()
	e.userID = id
	e.mu.Unlock()

	if e.store != nil {
		ctx, cancel := e.storeContext()
		defer cancel()
		e.store.SetUserID(ctx, id)
	}
	e.logger.Debug("User id set", "user_id", id)
}

func (e *Engine) ClearUserID() {
	e.mu.Lock()
	e.userID = ""
	e.mu.Unlock()

	if e.store != nil {
		ctx, cancel := e.storeContext()
		defer cancel()
		e.store.ClearUserID(ctx)
	}
	e.logger.Debug("User id cleared")
}

func (e *Engine) UserID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userID
}

func (e *Engine) SessionID() string { return e.sessionID }

// Pending returns a copy of the records waiting in the queue.
func (e *Engine) Pending() []models.Record { return e.queue.GetAll() }

// Track queues ev and mirrors the whole queue to the local snapshot.
func (e *Engine) Track(ev Event) {
	r := e.build(ev)
	e.queue.Push(r)
	metrics.EventsTracked.WithLabelValues(eventLabel(r.EventType)).Inc()

	if e.store != nil {
		ctx, cancel := e.storeContext()
		defer cancel()
		e.store.SavePendingEvents(ctx, e.queue.GetAll())
	}
	e.logger.Debug("Event tracked", "event_type", r.EventType, "link_id", r.LinkID)
}

// SendImmediately skips the queue and the local snapshot. Failures are
// returned to the caller.
func (e *Engine) SendImmediately(ctx context.Context, ev Event) error {
	r := e.build(ev)
	if _, err := e.deliverer.SendOne(ctx, delivery.RouteFor(r.EventType), r); err != nil {
		return fmt.Errorf("immediate send of %s failed: %w", r.EventType, err)
	}
	return nil
}

// Flush hands pending records to delivery without waiting for the outcome.
func (e *Engine) Flush() { e.queue.Flush() }

// Wait blocks until in-flight deliveries return or ctx is done.
func (e *Engine) Wait(ctx context.Context) error { return e.queue.Wait(ctx) }

func (e *Engine) build(ev Event) models.Record {
	uid := ev.UserID
	if uid == "" {
		uid = e.UserID()
	}
	return models.Record{
		EventType:  ev.Type,
		Timestamp:  e.now().UnixMilli(),
		SessionID:  e.sessionID,
		UserID:     uid,
		LinkID:     ev.LinkID,
		SiteDomain: e.siteDomain,
		Context: models.Context{
			URI:              e.env.RequestURI(),
			Referrer:         e.env.Referrer(),
			UserAgent:        e.env.UserAgent(),
			URL:              e.env.URL(),
			Language:         NormalizeLanguage(e.env.Language()),
			Timezone:         e.env.Timezone(),
			Platform:         e.env.Platform(),
			ScreenResolution: e.env.ScreenResolution(),
			Viewport:         e.env.Viewport(),
		},
		Attributes: models.NewAttributes(ev.Attributes),
	}
}

func (e *Engine) storeContext() (context.Context, context.CancelFunc) {
	timeout := e.cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (e *Engine) handleClick(target ClickTarget) {
	if !target.Trackable() {
		return
	}
	e.TrackClick(ClickParams{
		ElementID:   target.elementID(),
		ElementText: truncateRunes(target.Text, maxClickTextLen),
		Extra: map[string]any{
			"elementTag":   strings.ToLower(target.Tag),
			"elementClass": target.Class,
			"href":         nonEmpty(target.Href),
		},
	})
}

// eventLabel keeps metric cardinality bounded for caller-defined types.
func eventLabel(eventType string) string {
	switch eventType {
	case models.EventRegister, models.EventSubscribe, models.EventLogin, models.EventLogout,
		models.EventVisit, models.EventClick:
		return eventType
	default:
		return models.EventCustom
	}
}

// nonEmpty turns "" into nil so NewAttributes drops it.
func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
