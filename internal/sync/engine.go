package sync

import (
	"context"
	"log/slog"
	stdsync "sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/mypocket/pocketsync/internal/model"
)

const (
	otelScope        = "pocketsync/sync"
	spanInitialSync  = "sync.initial"
	spanIncremental  = "sync.incremental"
	spanDrain        = "sync.drain"
	metricDownloaded = "pocketsync.sync.items.downloaded"
	metricUploaded   = "pocketsync.sync.items.uploaded"
	metricFailed     = "pocketsync.sync.items.failed"
)

const (
	// defaultReconnectDelay debounces the drain kicked off by an
	// offline→online transition, so flappy connectivity doesn't thrash.
	defaultReconnectDelay = 2 * time.Second

	// defaultDrainKickDelay is the pause between a local mutation and the
	// background drain it schedules.
	defaultDrainKickDelay = 500 * time.Millisecond

	// defaultListLimit caps UI reads when the caller passes no limit.
	defaultListLimit = 50
)

// Engine reconciles the local store with the remote document collection. It
// is the only component allowed to talk to the [RemoteStore], and it owns
// the per-session state: the bound user, the connectivity flag, and the
// in-flight guards that keep download passes and queue drains from
// overlapping themselves.
//
// One Engine is constructed at startup and injected into its collaborators;
// it is safe for concurrent use.
type Engine struct {
	store  LocalStore
	remote RemoteStore
	lookup model.CategoryResolver
	log    *slog.Logger

	now            func() time.Time
	reconnectDelay time.Duration
	drainKickDelay time.Duration

	mu                    stdsync.Mutex
	online                bool
	currentUserID         string
	syncInProgress        bool
	initialSyncInProgress bool

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer        trace.Tracer
	cntDownloaded metric.Int64Counter
	cntUploaded   metric.Int64Counter
	cntFailed     metric.Int64Counter
}

// Option tweaks Engine construction.
type Option func(*Engine)

// WithReconnectDelay overrides the debounce applied before the drain that an
// offline→online transition schedules.
func WithReconnectDelay(d time.Duration) Option {
	return func(e *Engine) { e.reconnectDelay = d }
}

// WithDrainKickDelay overrides the pause between a local mutation and the
// background drain it schedules.
func WithDrainKickDelay(d time.Duration) Option {
	return func(e *Engine) { e.drainKickDelay = d }
}

// WithClock overrides the engine's time source. Tests use this to pin
// "this month" summary boundaries.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine over the given stores. lookup resolves category
// display data; pass [model.LookupCategory] for the built-in tables.
func NewEngine(local LocalStore, remote RemoteStore, lookup model.CategoryResolver, logger *slog.Logger, opts ...Option) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	e := &Engine{
		store:  local,
		remote: remote,
		lookup: lookup,
		log:    logger,

		now:            func() time.Time { return time.Now().UTC() },
		reconnectDelay: defaultReconnectDelay,
		drainKickDelay: defaultDrainKickDelay,

		tracer:        tracer,
		cntDownloaded: mustCounter(metricDownloaded, "Number of remote documents hydrated into the local store"),
		cntUploaded:   mustCounter(metricUploaded, "Number of queue entries replayed against the remote store"),
		cntFailed:     mustCounter(metricFailed, "Number of queue entries that failed to replay"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Status is a point-in-time snapshot of the engine for observability. A
// pending count that stays flat while mutations keep happening means queue
// entries are stuck at the retry ceiling.
type Status struct {
	IsOnline       bool
	SyncInProgress bool

	PendingItemsCount int
	CurrentUserID     string

	// IsInitialized reports that the local store is open and answering
	// queries. It is false on every error return.
	IsInitialized bool
}

// GetSyncStatus reports the engine's current state and the replayable queue
// depth. The queue query doubles as the store health probe.
func (e *Engine) GetSyncStatus(ctx context.Context) (Status, error) {
	pending, err := e.store.PendingQueueCount(ctx)
	if err != nil {
		return Status{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		IsOnline:          e.online,
		SyncInProgress:    e.syncInProgress,
		PendingItemsCount: pending,
		CurrentUserID:     e.currentUserID,
		IsInitialized:     true,
	}, nil
}

// InitializeUser binds a user to the engine: a user without local data gets a
// synchronous initial sync (when online), a returning user gets a background
// incremental sync. Returns whether an initial sync was (still is, if
// offline) needed.
func (e *Engine) InitializeUser(ctx context.Context, userID string) (needsInitialSync bool, err error) {
	hasData, err := e.store.HasUserData(ctx, userID)
	if err != nil {
		return false, err
	}
	needsInitialSync = !hasData

	e.mu.Lock()
	if e.currentUserID != "" && e.currentUserID != userID {
		e.log.Info("bound user changed", "from", e.currentUserID, "to", userID)
	}
	e.currentUserID = userID
	online := e.online
	e.mu.Unlock()

	e.log.Info("user session initialised", "user", userID, "needs_initial_sync", needsInitialSync, "online", online)

	if !online {
		// Nothing to download; the next connectivity transition retries.
		return needsInitialSync, nil
	}

	if needsInitialSync {
		// Completion is the return itself: callers that need a waiting state
		// simply block on this call.
		if err := e.PerformInitialSync(ctx, userID); err != nil {
			return true, err
		}
		return true, nil
	}

	e.scheduleIncremental(ctx, userID, e.drainKickDelay)
	return false, nil
}

// HandleUserLogout unbinds the current user. Local data is intentionally left
// in place for the next login.
func (e *Engine) HandleUserLogout() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentUserID != "" {
		e.log.Info("user logged out", "user", e.currentUserID)
		e.currentUserID = ""
	}
}

// HandleConnectivityChange records the new connectivity state. An
// offline→online transition with a bound user schedules an incremental sync
// after the reconnect debounce; a user bound while offline has no watermark
// yet, so that pass degrades to the full initial download. Every other
// transition is a no-op.
func (e *Engine) HandleConnectivityChange(online bool) {
	e.mu.Lock()
	wasOffline := !e.online
	e.online = online
	userID := e.currentUserID
	draining := e.syncInProgress
	e.mu.Unlock()

	e.log.Info("network status changed", "online", online)

	if wasOffline && online && userID != "" && !draining {
		e.scheduleIncremental(context.Background(), userID, e.reconnectDelay)
	}
}

// ForceSync drains the queue immediately, skipping the debounce delays. The
// in-flight guard still applies.
func (e *Engine) ForceSync(ctx context.Context) error {
	return e.SyncPendingChanges(ctx)
}

// scheduleDrain runs a queue drain after delay, detached from the caller's
// cancellation: a mutation's request context ending must not abort the
// best-effort background push.
func (e *Engine) scheduleDrain(ctx context.Context, delay time.Duration) {
	bg := context.WithoutCancel(ctx)
	time.AfterFunc(delay, func() {
		if err := e.SyncPendingChanges(bg); err != nil {
			e.log.Error("background drain failed", "error", err)
		}
	})
}

// scheduleIncremental runs an incremental sync after delay, detached from the
// caller's cancellation.
func (e *Engine) scheduleIncremental(ctx context.Context, userID string, delay time.Duration) {
	bg := context.WithoutCancel(ctx)
	time.AfterFunc(delay, func() {
		if err := e.PerformIncrementalSync(bg, userID); err != nil {
			e.log.Error("background incremental sync failed", "user", userID, "error", err)
		}
	})
}

// tryBeginDrain flips the drain guard. Returns false while offline or when a
// drain is already in flight — callers treat that as a silent no-op, since
// draining is idempotent to retry later.
func (e *Engine) tryBeginDrain() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncInProgress || !e.online {
		return false
	}
	e.syncInProgress = true
	return true
}

func (e *Engine) endDrain() {
	e.mu.Lock()
	e.syncInProgress = false
	e.mu.Unlock()
}

// tryBeginInitialSync flips the initial-sync guard; a second concurrent
// initial sync is a no-op, not an error.
func (e *Engine) tryBeginInitialSync() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialSyncInProgress {
		return false
	}
	e.initialSyncInProgress = true
	return true
}

func (e *Engine) endInitialSync() {
	e.mu.Lock()
	e.initialSyncInProgress = false
	e.mu.Unlock()
}

func (e *Engine) isOnline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

func (e *Engine) syncBusy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncInProgress || e.initialSyncInProgress
}

// spanAttrs is a tiny helper for the common span attribute set.
func spanAttrs(span trace.Span, userID string, count int) {
	span.SetAttributes(
		attribute.String("sync.user_id", userID),
		attribute.Int("sync.items", count),
	)
}
