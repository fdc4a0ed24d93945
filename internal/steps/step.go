// Package steps implements the interactive checkout steps: a local form
// that is validated on every change, synced into the checkout store after
// a pause in typing, and submitted to the store API.
package steps

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wufi/storefront-checkout/internal/apperr"
	"github.com/wufi/storefront-checkout/internal/backend"
	"github.com/wufi/storefront-checkout/internal/checkout"
	"github.com/wufi/storefront-checkout/internal/notify"
	"github.com/wufi/storefront-checkout/internal/pool"
	"github.com/wufi/storefront-checkout/internal/scheduler"
	"github.com/wufi/storefront-checkout/internal/tracker"
	"github.com/wufi/storefront-checkout/internal/validation"
)

// SyncDebounce is how long a step waits after the last field change
// before copying its form into the store.
const SyncDebounce = 500 * time.Millisecond

// Phase is the lifecycle position of a step.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseValidating    Phase = "validating"
	PhaseValid         Phase = "valid"
	PhaseInvalid       Phase = "invalid"
	PhaseSubmitting    Phase = "submitting"
	PhaseTransitioning Phase = "transitioning"
	PhaseError         Phase = "error"
)

// ErrSubmissionInProgress is returned by Submit while the same step is
// already submitting.
var ErrSubmissionInProgress = apperr.ErrSubmissionInProgress

// InvalidFormError is returned by Submit when the form fails validation.
type InvalidFormError struct {
	Fields validation.FieldErrors
}

func (e *InvalidFormError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "invalid fields: " + strings.Join(keys, ", ")
}

func (e *InvalidFormError) Kind() checkout.Kind { return checkout.KindValidation }

// Notifier receives toasts.
type Notifier interface {
	Notify(level notify.Level, title, message string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(notify.Level, string, string) {}

// Deps are the collaborators shared by the steps of one session. Scheduler
// runs the debounced syncs and should share the store's clock. Online
// reports device connectivity and defaults to the store's flag.
type Deps struct {
	CartID    string
	Store     *checkout.Store
	Backend   backend.Client
	Validator *validation.Validator
	Scheduler *scheduler.Scheduler
	Notifier  Notifier
	Tracker   *tracker.Tracker
	Online    func() bool
	Logger    *zap.Logger
}

func (d *Deps) setDefaults() {
	if d.Validator == nil {
		d.Validator = validation.New()
	}
	if d.Scheduler == nil {
		d.Scheduler = scheduler.New(nil)
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Tracker == nil {
		d.Tracker = tracker.New(nil)
	}
	if d.Online == nil {
		d.Online = d.Store.Online
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
}

// Step is the behaviour shared by every interactive step.
type Step interface {
	ID() checkout.StepID
	Operation() checkout.OperationType
	Phase() Phase
	Form() checkout.FormData
	FieldErrors() validation.FieldErrors
	SetFields(partial checkout.FormData) error
	Validate() validation.FieldErrors
	Reload()
	Abort()
	Submit(ctx context.Context) error
	Resubmit(ctx context.Context, op checkout.PendingOperation) error
}

// sendFunc performs the backend call for a form.
type sendFunc func(ctx context.Context, form checkout.FormData) error

// base implements Step around a sendFunc.
type base struct {
	deps   Deps
	id     checkout.StepID
	op     checkout.OperationType
	title  string
	fields map[string]bool
	guard  *pool.Pool
	send   sendFunc
	log    *zap.Logger

	mu      sync.Mutex
	form    checkout.FormData
	errs    validation.FieldErrors
	phase   Phase
	gen     context.Context
	stopGen context.CancelFunc
}

func newBase(d Deps, id checkout.StepID, op checkout.OperationType, title string, send sendFunc) *base {
	d.setDefaults()
	owned := make(map[string]bool)
	for _, k := range validation.Fields(id) {
		owned[k] = true
	}
	b := &base{
		deps:   d,
		id:     id,
		op:     op,
		title:  title,
		fields: owned,
		guard:  pool.New(1),
		send:   send,
		log:    d.Logger.With(zap.String("cart_id", d.CartID), zap.String("step", string(id))),
		phase:  PhaseIdle,
	}
	b.gen, b.stopGen = context.WithCancel(context.Background())
	b.Reload()
	return b
}

func (b *base) ID() checkout.StepID               { return b.id }
func (b *base) Operation() checkout.OperationType { return b.op }

func (b *base) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

func (b *base) setPhase(p Phase) {
	b.mu.Lock()
	b.phase = p
	b.mu.Unlock()
}

// Form returns a copy of the local form.
func (b *base) Form() checkout.FormData {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.form.Clone()
}

// FieldErrors returns the messages of the last validation.
func (b *base) FieldErrors() validation.FieldErrors {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(validation.FieldErrors, len(b.errs))
	for k, v := range b.errs {
		out[k] = v
	}
	return out
}

// Reload reseeds the local form from the store, e.g. after a reset.
func (b *base) Reload() {
	keys := make([]string, 0, len(b.fields))
	for k := range b.fields {
		keys = append(keys, k)
	}
	seed := b.deps.Store.FormData().Pick(keys...)

	b.deps.Scheduler.Cancel(b.syncKey())
	b.mu.Lock()
	b.form = seed
	b.errs = nil
	b.phase = PhaseIdle
	b.mu.Unlock()
}

// Abort cancels the pending sync and every submission in flight. Their
// results are dropped instead of being written into the store.
func (b *base) Abort() {
	b.deps.Scheduler.Cancel(b.syncKey())
	b.mu.Lock()
	b.stopGen()
	b.gen, b.stopGen = context.WithCancel(context.Background())
	b.mu.Unlock()
}

// bind derives a context for one backend call that is also canceled by
// Abort. The second result reports whether Abort ran since bind; the third
// releases the context.
func (b *base) bind(ctx context.Context) (context.Context, func() bool, func()) {
	b.mu.Lock()
	gen := b.gen
	b.mu.Unlock()

	bound, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(gen, cancel)
	return bound, func() bool { return gen.Err() != nil }, func() {
		stop()
		cancel()
	}
}

func (b *base) syncKey() string { return "sync:" + string(b.id) }

// SetFields updates the local form, revalidates it, and schedules the
// debounced sync into the store. Keys the step does not own are rejected.
func (b *base) SetFields(partial checkout.FormData) error {
	for k := range partial {
		if !b.fields[k] {
			return fmt.Errorf("%w: field %q does not belong to step %s", apperr.ErrBadRequest, k, b.id)
		}
	}

	b.mu.Lock()
	b.form = b.form.Merge(partial)
	b.phase = PhaseValidating
	b.mu.Unlock()

	b.revalidate()
	b.deps.Scheduler.Schedule(b.syncKey(), SyncDebounce, b.flush)
	return nil
}

// Validate reruns the schema against the local form, e.g. after the
// customer type changed.
func (b *base) Validate() validation.FieldErrors {
	return b.revalidate()
}

// revalidate runs the schema and reports validity to the store. A step is
// valid only while its form is valid and the store holds no error.
func (b *base) revalidate() validation.FieldErrors {
	st := b.deps.Store
	b.mu.Lock()
	form := b.form.Clone()
	b.mu.Unlock()

	errs := b.deps.Validator.Step(b.id, st.State().CustomerType, form)

	b.mu.Lock()
	b.errs = errs
	if b.phase != PhaseSubmitting && b.phase != PhaseTransitioning {
		if len(errs) == 0 {
			b.phase = PhaseValid
		} else {
			b.phase = PhaseInvalid
		}
	}
	b.mu.Unlock()

	st.SetStepValid(b.id, len(errs) == 0 && !st.HasError())
	return errs
}

// flush copies the local form into the store.
func (b *base) flush() {
	b.deps.Store.UpdateFormData(b.Form())
}

// Submit validates the form and sends it. Failures are recorded in the
// store; the returned error mirrors what was recorded.
func (b *base) Submit(ctx context.Context) error {
	if !b.guard.TryAcquire() {
		return ErrSubmissionInProgress
	}
	defer b.guard.Release()

	if errs := b.revalidate(); len(errs) > 0 {
		return &InvalidFormError{Fields: errs}
	}
	b.deps.Scheduler.Cancel(b.syncKey())
	b.flush()

	st := b.deps.Store
	form := b.Form()
	optimisticKey := string(b.op)

	callCtx, stale, release := b.bind(ctx)
	defer release()

	b.setPhase(PhaseSubmitting)
	st.ClearError()
	st.SetLoading(true)
	st.AddOptimisticUpdate(optimisticKey, form)

	done := b.deps.Tracker.Track()
	err := b.send(callCtx, form)
	done()

	if stale() {
		b.log.Info("submission dropped after reset")
		return context.Canceled
	}
	st.SetLoading(false)
	st.RemoveOptimisticUpdate(optimisticKey)

	if ctxErr := ctx.Err(); ctxErr != nil {
		b.setPhase(PhaseIdle)
		b.log.Debug("submission abandoned", zap.Error(ctxErr))
		return ctxErr
	}
	if err != nil {
		return b.fail(form, err)
	}

	st.UpdateFormData(form)
	st.SetStepValid(b.id, true)
	b.deps.Notifier.Notify(notify.LevelSuccess, b.title+" saved", "")
	b.log.Info("step submitted")

	if st.AutoAdvancement().Enabled && st.ScheduleAdvance(b.id) {
		b.setPhase(PhaseTransitioning)
	} else {
		b.setPhase(PhaseValid)
	}
	return nil
}

// fail records a failed submission. Offline failures are always network
// failures and are queued for retry.
func (b *base) fail(form checkout.FormData, err error) error {
	st := b.deps.Store
	online := b.deps.Online()

	kind := checkout.KindOf(err)
	if !online {
		kind = checkout.KindNetwork
	}
	ce := st.CreateError(checkout.FailureMessage(kind), kind, checkout.WithCause(err))
	st.SetStepValid(b.id, false)

	if !online || kind == checkout.KindNetwork {
		st.AddPendingOperation(checkout.PendingOperation{Type: b.op, Payload: form})
	}

	b.setPhase(PhaseError)
	b.deps.Notifier.Notify(notify.LevelError, b.title+" not saved", ce.Message)
	b.log.Warn("step submission failed",
		zap.String("kind", string(kind)),
		zap.Bool("online", online),
		zap.Error(err),
	)
	return ce
}

// Resubmit sends a due pending operation again. A repeated connectivity
// failure puts it back in the queue with its retry count intact.
func (b *base) Resubmit(ctx context.Context, op checkout.PendingOperation) error {
	st := b.deps.Store
	callCtx, stale, release := b.bind(ctx)
	defer release()

	done := b.deps.Tracker.Track()
	err := b.send(callCtx, op.Payload)
	done()

	if stale() {
		b.log.Info("pending operation dropped after reset", zap.String("id", op.ID))
		return context.Canceled
	}
	if ctx.Err() != nil {
		st.RequeueOperation(op)
		return ctx.Err()
	}
	if err == nil {
		if ce := st.Error(); ce != nil && ce.Retryable {
			st.ClearError()
		}
		b.revalidate()
		b.deps.Notifier.Notify(notify.LevelSuccess, b.title+" synced", "")
		b.log.Info("pending operation resubmitted", zap.String("id", op.ID), zap.Int("retry", op.RetryCount))
		return nil
	}

	kind := checkout.KindOf(err)
	if !b.deps.Online() {
		kind = checkout.KindNetwork
	}
	switch kind {
	case checkout.KindNetwork, checkout.KindTimeout:
		st.RequeueOperation(op)
	default:
		st.CreateError(checkout.FailureMessage(kind), kind, checkout.WithCause(err))
		st.SetStepValid(b.id, false)
	}
	b.log.Warn("pending operation failed again",
		zap.String("id", op.ID),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	return err
}
