// Package session owns the checkout sessions held in memory, one per cart.
// Each session gets its own store, scheduler, connectivity monitor, toast
// feed, step components and orchestrator goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wufi/storefront-checkout/internal/apperr"
	"github.com/wufi/storefront-checkout/internal/backend"
	"github.com/wufi/storefront-checkout/internal/checkout"
	"github.com/wufi/storefront-checkout/internal/clock"
	"github.com/wufi/storefront-checkout/internal/connectivity"
	"github.com/wufi/storefront-checkout/internal/notify"
	"github.com/wufi/storefront-checkout/internal/orchestrator"
	"github.com/wufi/storefront-checkout/internal/scheduler"
	"github.com/wufi/storefront-checkout/internal/steps"
	"github.com/wufi/storefront-checkout/internal/storage"
	"github.com/wufi/storefront-checkout/internal/tracker"
	"github.com/wufi/storefront-checkout/internal/validation"
)

// ErrClosed is returned by Open after Shutdown.
var ErrClosed = errors.New("session manager closed")

// Session is one cart's checkout.
type Session struct {
	CartID       string
	Store        *checkout.Store
	Monitor      *connectivity.Monitor
	Feed         *notify.Feed
	Orchestrator *orchestrator.Orchestrator
	Address      *steps.AddressStep
	Shipping     *steps.ShippingStep
	Payment      *steps.PaymentStep

	sched  *scheduler.Scheduler
	cancel context.CancelFunc
	done   chan struct{}
}

// Step returns the component of id, if it has one.
func (s *Session) Step(id checkout.StepID) (steps.Step, bool) {
	return s.Orchestrator.Step(id)
}

// Config wires a Manager. Backend and Storage are required.
type Config struct {
	Backend   backend.Client
	Storage   storage.Store
	Validator *validation.Validator
	Clock     clock.Clock
	Tracker   *tracker.Tracker
	Observer  checkout.Observer
	Orders    orchestrator.OrderRecorder
	// Defaults returns the auto-advancement settings given to new sessions.
	Defaults func() checkout.AutoAdvancement
	// Open counts sessions held in memory.
	Open     tracker.Gauge
	FeedSize int
	Logger   *zap.Logger
}

// Manager is safe for concurrent use.
type Manager struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager returns a Manager. It panics if Backend or Storage is nil.
func NewManager(cfg Config) *Manager {
	if cfg.Backend == nil || cfg.Storage == nil {
		panic("session.NewManager: nil dependency")
	}
	if cfg.Validator == nil {
		cfg.Validator = validation.New()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = tracker.New(nil)
	}
	if cfg.Defaults == nil {
		cfg.Defaults = checkout.DefaultAutoAdvancement
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	return &Manager{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		g:        g,
		sessions: make(map[string]*Session),
	}
}

// Get returns the open session of cartID.
func (m *Manager) Get(cartID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[cartID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrSessionNotFound, cartID)
	}
	return s, nil
}

// Open returns the session of cartID, creating it from the stored snapshot
// (or from scratch) when it is not in memory. created reports whether a new
// session was built.
func (m *Manager) Open(ctx context.Context, cartID string) (s *Session, created bool, err error) {
	if cartID == "" {
		return nil, false, fmt.Errorf("%w: cart id is required", apperr.ErrBadRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, false, ErrClosed
	}
	if s, ok := m.sessions[cartID]; ok {
		return s, false, nil
	}

	snap, found, err := storage.LoadSnapshot(ctx, m.cfg.Storage, cartID)
	if err != nil {
		// A corrupt snapshot must not lock the cart out of checkout.
		m.cfg.Logger.Warn("ignoring unreadable snapshot", zap.String("cart_id", cartID), zap.Error(err))
		found = false
	}

	s = m.build(cartID)
	if found {
		s.Store.Hydrate(snap)
		m.cfg.Logger.Info("checkout session restored",
			zap.String("cart_id", cartID),
			zap.String("step", string(snap.CurrentStep)),
		)
	} else {
		m.cfg.Logger.Info("checkout session created", zap.String("cart_id", cartID))
	}

	m.start(s)
	m.sessions[cartID] = s
	if m.cfg.Open != nil {
		m.cfg.Open.Inc()
	}
	return s, true, nil
}

func (m *Manager) build(cartID string) *Session {
	logger := m.cfg.Logger.With(zap.String("cart_id", cartID))

	opts := []checkout.Option{
		checkout.WithClock(m.cfg.Clock),
		checkout.WithPersister(storage.NewSnapshotPersister(m.cfg.Storage, cartID, logger)),
		checkout.WithAutoAdvancement(m.cfg.Defaults()),
		checkout.WithLogger(logger),
	}
	if m.cfg.Observer != nil {
		opts = append(opts, checkout.WithObserver(m.cfg.Observer))
	}
	store := checkout.NewStore(opts...)

	monitor := connectivity.NewMonitor(true)
	feed := notify.NewFeed(m.cfg.FeedSize, m.cfg.Clock)
	sched := scheduler.New(m.cfg.Clock)

	deps := steps.Deps{
		CartID:    cartID,
		Store:     store,
		Backend:   m.cfg.Backend,
		Validator: m.cfg.Validator,
		Scheduler: sched,
		Notifier:  feed,
		Tracker:   m.cfg.Tracker,
		Online:    monitor.Online,
		Logger:    logger,
	}
	address := steps.NewAddressStep(deps)
	shipping := steps.NewShippingStep(deps)
	payment := steps.NewPaymentStep(deps)

	orch := orchestrator.New(orchestrator.Config{
		CartID:  cartID,
		Store:   store,
		Monitor: monitor,
		Backend: m.cfg.Backend,
		Feed:    feed,
		Steps:   []steps.Step{address, shipping, payment},
		Orders:  m.cfg.Orders,
		Logger:  logger,
	})

	return &Session{
		CartID:       cartID,
		Store:        store,
		Monitor:      monitor,
		Feed:         feed,
		Orchestrator: orch,
		Address:      address,
		Shipping:     shipping,
		Payment:      payment,
		sched:        sched,
		done:         make(chan struct{}),
	}
}

// start runs the session's orchestrator; expects m.mu held.
func (m *Manager) start(s *Session) {
	ctx, cancel := context.WithCancel(m.ctx)
	s.cancel = cancel
	m.g.Go(func() error {
		defer close(s.done)
		err := s.Orchestrator.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

// Close stops the session of cartID and drops it from memory. Its snapshot
// stays in storage.
func (m *Manager) Close(cartID string) error {
	m.mu.Lock()
	s, ok := m.sessions[cartID]
	if ok {
		delete(m.sessions, cartID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", apperr.ErrSessionNotFound, cartID)
	}
	m.stop(s)
	return nil
}

func (m *Manager) stop(s *Session) {
	s.cancel()
	<-s.done
	s.sched.Close()
	s.Store.Close()
	if m.cfg.Open != nil {
		m.cfg.Open.Dec()
	}
}

// Broadcast sets connectivity on every open session, e.g. when the store
// API becomes unreachable or reachable again.
func (m *Manager) Broadcast(online bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := 0
	for _, s := range m.sessions {
		if s.Monitor.Set(online) {
			changed++
		}
	}
	return changed
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CartIDs returns the carts with an open session, sorted.
func (m *Manager) CartIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown stops every session and waits for their goroutines, or until
// ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	open := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		open = append(open, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	m.cancel()

	waited := make(chan error, 1)
	go func() { waited <- m.g.Wait() }()

	select {
	case err := <-waited:
		for _, s := range open {
			s.sched.Close()
			s.Store.Close()
			if m.cfg.Open != nil {
				m.cfg.Open.Dec()
			}
		}
		m.cfg.Logger.Info("checkout sessions stopped", zap.Int("count", len(open)))
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
