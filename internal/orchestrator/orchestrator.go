// Package orchestrator drives one checkout session as a whole: it renders
// the session view (progress, error banner, connectivity, pending
// operations), handles keyboard shortcuts, retries queued operations when
// the device comes back online, and places the order.
package orchestrator

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/wufi/storefront-checkout/internal/apperr"
	"github.com/wufi/storefront-checkout/internal/backend"
	"github.com/wufi/storefront-checkout/internal/checkout"
	"github.com/wufi/storefront-checkout/internal/connectivity"
	"github.com/wufi/storefront-checkout/internal/notify"
	"github.com/wufi/storefront-checkout/internal/steps"
)

// ToastsInView is the number of recent toasts included in a View.
const ToastsInView = 5

// OrderRecorder counts order placement attempts.
type OrderRecorder interface {
	RecordOrder(success bool)
}

type nopOrders struct{}

func (nopOrders) RecordOrder(bool) {}

// Config wires an Orchestrator.
type Config struct {
	CartID  string
	Store   *checkout.Store
	Monitor *connectivity.Monitor
	Backend backend.Client
	Feed    *notify.Feed
	Steps   []steps.Step
	Orders  OrderRecorder
	Logger  *zap.Logger
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	cartID  string
	store   *checkout.Store
	monitor *connectivity.Monitor
	backend backend.Client
	feed    *notify.Feed
	steps   map[checkout.StepID]steps.Step
	byOp    map[checkout.OperationType]steps.Step
	orders  OrderRecorder
	logger  *zap.Logger
}

// New returns an Orchestrator. It panics if Store, Monitor or Backend is nil.
func New(cfg Config) *Orchestrator {
	if cfg.Store == nil || cfg.Monitor == nil || cfg.Backend == nil {
		panic("orchestrator: nil dependency")
	}
	if cfg.Feed == nil {
		cfg.Feed = notify.NewFeed(0, nil)
	}
	if cfg.Orders == nil {
		cfg.Orders = nopOrders{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	o := &Orchestrator{
		cartID:  cfg.CartID,
		store:   cfg.Store,
		monitor: cfg.Monitor,
		backend: cfg.Backend,
		feed:    cfg.Feed,
		steps:   make(map[checkout.StepID]steps.Step, len(cfg.Steps)),
		byOp:    make(map[checkout.OperationType]steps.Step, len(cfg.Steps)),
		orders:  cfg.Orders,
		logger:  cfg.Logger.With(zap.String("cart_id", cfg.CartID)),
	}
	for _, s := range cfg.Steps {
		o.steps[s.ID()] = s
		o.byOp[s.Operation()] = s
	}
	return o
}

// Store returns the session store.
func (o *Orchestrator) Store() *checkout.Store { return o.store }

// Step returns the interactive component of id, if it has one.
func (o *Orchestrator) Step(id checkout.StepID) (steps.Step, bool) {
	s, ok := o.steps[id]
	return s, ok
}

// Run mirrors connectivity transitions into the store and retries every
// pending operation each time the device comes back online. The monitor
// keeps only the latest value, so an offline spell that ends while a sweep
// is running arrives as a bare "online": any "online" with operations
// queued starts a sweep. It returns when ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	ch, unsubscribe := o.monitor.Subscribe()
	defer unsubscribe()

	o.store.SetOnline(o.monitor.Online())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case online, ok := <-ch:
			if !ok {
				return nil
			}
			changed := o.store.SetOnline(online)
			if changed {
				o.logger.Info("connectivity changed", zap.Bool("online", online))
			}
			if !online {
				if changed {
					o.feed.Notify(notify.LevelInfo, "You are offline", "Changes will be sent when the connection is back.")
				}
				continue
			}
			if !changed && len(o.store.PendingOperations()) == 0 {
				continue
			}
			if _, err := o.RetryAll(ctx); err != nil && ctx.Err() == nil {
				o.logger.Warn("retry after reconnect failed", zap.Error(err))
			}
		}
	}
}

// RetryResult summarizes a retry sweep.
type RetryResult struct {
	Resubmitted int `json:"resubmitted"`
	Failed      int `json:"failed"`
	Remaining   int `json:"remaining"`
}

// RetryAll waits out the backoff of every pending operation and hands the
// due ones to the step that owns them.
func (o *Orchestrator) RetryAll(ctx context.Context) (RetryResult, error) {
	due, err := o.store.RetryPendingOperations(ctx)

	var res RetryResult
	for _, op := range due {
		s, ok := o.byOp[op.Type]
		if !ok {
			o.logger.Warn("dropping pending operation without owner",
				zap.String("id", op.ID),
				zap.String("type", string(op.Type)),
			)
			continue
		}
		if rerr := s.Resubmit(ctx, op); rerr != nil {
			res.Failed++
			continue
		}
		res.Resubmitted++
	}
	res.Remaining = len(o.store.PendingOperations())
	return res, err
}

// SetOnline records device connectivity reported by the client.
func (o *Orchestrator) SetOnline(online bool) bool {
	return o.monitor.Set(online)
}

// GoTo moves to step. Earlier steps are always reachable, later ones need
// every step before them valid.
func (o *Orchestrator) GoTo(step checkout.StepID) error {
	if !step.Valid() {
		return fmt.Errorf("%w: %q", apperr.ErrInvalidStep, step)
	}
	if !o.reachable(step) {
		return fmt.Errorf("%w: %s", apperr.ErrStepNotReachable, step)
	}
	o.store.SetCurrentStep(step)
	return nil
}

func (o *Orchestrator) reachable(step checkout.StepID) bool {
	return step.Index() <= o.store.CurrentStep().Index() || o.store.CanProceedToStep(step)
}

// Next moves forward when the next step is reachable.
func (o *Orchestrator) Next() error {
	next, ok := o.store.NextStepID()
	if !ok {
		return nil
	}
	return o.GoTo(next)
}

// Prev moves back one step.
func (o *Orchestrator) Prev() {
	o.store.PrevStep()
}

// SetCustomerType records the customer type and revalidates the steps
// whose rules depend on it.
func (o *Orchestrator) SetCustomerType(ct checkout.CustomerType) {
	o.store.SetCustomerType(ct)
	for _, s := range o.steps {
		s.Validate()
	}
}

// Submit completes step. Steps with a component submit their form; the
// others are confirmed as they are.
func (o *Orchestrator) Submit(ctx context.Context, step checkout.StepID) error {
	if !step.Valid() {
		return fmt.Errorf("%w: %q", apperr.ErrInvalidStep, step)
	}
	if s, ok := o.steps[step]; ok {
		return s.Submit(ctx)
	}
	o.store.SetStepValid(step, true)
	o.store.ScheduleAdvance(step)
	return nil
}

// Reset starts the checkout over. Submissions still in flight are
// canceled and their results dropped.
func (o *Orchestrator) Reset() {
	for _, s := range o.steps {
		s.Abort()
	}
	o.store.Reset()
	for _, s := range o.steps {
		s.Reload()
	}
	o.feed.Clear()
}

// HandleKey runs a keyboard shortcut and returns a short description of
// what it did.
//
//	1-6  jump to a step
//	a    toggle auto-advancement
//	n/p  next / previous step
//	r    retry pending operations
//	x    dismiss the error banner
func (o *Orchestrator) HandleKey(ctx context.Context, key string) (string, error) {
	if n, err := strconv.Atoi(key); err == nil && n >= 1 && n <= len(checkout.Steps) {
		step := checkout.Steps[n-1]
		if err := o.GoTo(step); err != nil {
			return "", err
		}
		return "step " + string(step), nil
	}

	switch key {
	case "a":
		if o.store.ToggleAutoAdvancement() {
			return "auto-advance on", nil
		}
		return "auto-advance off", nil
	case "n":
		if err := o.Next(); err != nil {
			return "", err
		}
		return "step " + string(o.store.CurrentStep()), nil
	case "p":
		o.Prev()
		return "step " + string(o.store.CurrentStep()), nil
	case "r":
		res, err := o.RetryAll(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("retried %d, %d pending", res.Resubmitted, res.Remaining), nil
	case "x":
		o.store.ClearError()
		return "error dismissed", nil
	default:
		return "", fmt.Errorf("%w: %q", apperr.ErrUnknownKey, key)
	}
}

// PlaceOrder completes the cart once every step before review is valid.
// On success the session is reset.
func (o *Orchestrator) PlaceOrder(ctx context.Context) (backend.Order, error) {
	if !o.store.CanProceedToStep(checkout.StepReview) {
		return backend.Order{}, apperr.ErrOrderNotReady
	}

	o.store.ClearError()
	o.store.SetLoading(true)
	order, err := o.backend.CompleteCart(ctx, o.cartID)
	o.store.SetLoading(false)

	if ctx.Err() != nil {
		return backend.Order{}, ctx.Err()
	}
	if err != nil {
		kind := checkout.KindOf(err)
		if !o.monitor.Online() {
			kind = checkout.KindNetwork
		}
		ce := o.store.CreateError(checkout.FailureMessage(kind), kind, checkout.WithCause(err))
		o.orders.RecordOrder(false)
		o.feed.Notify(notify.LevelError, "Order not placed", ce.Message)
		o.logger.Warn("order placement failed", zap.String("kind", string(kind)), zap.Error(err))
		return backend.Order{}, ce
	}

	o.orders.RecordOrder(true)
	o.Reset()
	o.feed.Notify(notify.LevelSuccess, "Order placed", "Order "+order.ID)
	o.logger.Info("order placed", zap.String("order_id", order.ID))
	return order, nil
}
