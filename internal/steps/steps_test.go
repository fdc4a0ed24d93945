package steps

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wufi/storefront-checkout/internal/backend"
	"github.com/wufi/storefront-checkout/internal/checkout"
	"github.com/wufi/storefront-checkout/internal/clock"
	"github.com/wufi/storefront-checkout/internal/connectivity"
	"github.com/wufi/storefront-checkout/internal/notify"
	"github.com/wufi/storefront-checkout/internal/scheduler"
)

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// hookBackend lets a test intercept SetAddresses.
type hookBackend struct {
	*backend.Simulated

	mu           sync.Mutex
	setAddresses func(ctx context.Context) error
	calls        int
}

func (h *hookBackend) SetAddresses(ctx context.Context, cartID string, in backend.AddressesInput) error {
	h.mu.Lock()
	h.calls++
	hook := h.setAddresses
	h.mu.Unlock()
	if hook != nil {
		return hook(ctx)
	}
	return h.Simulated.SetAddresses(ctx, cartID, in)
}

func (h *hookBackend) hook(fn func(ctx context.Context) error) {
	h.mu.Lock()
	h.setAddresses = fn
	h.mu.Unlock()
}

func (h *hookBackend) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type harness struct {
	clock   *clock.Fake
	store   *checkout.Store
	monitor *connectivity.Monitor
	backend *hookBackend
	feed    *notify.Feed
	deps    Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fc := clock.NewFake(epoch)
	seq := 0
	store := checkout.NewStore(
		checkout.WithClock(fc),
		checkout.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("op-%d", seq)
		}),
		checkout.WithBackoff(func(int) time.Duration { return 0 }),
	)
	sched := scheduler.New(fc)
	t.Cleanup(func() {
		sched.Close()
		store.Close()
	})

	h := &harness{
		clock:   fc,
		store:   store,
		monitor: connectivity.NewMonitor(true),
		backend: &hookBackend{Simulated: backend.NewSimulated(backend.WithDefaultDelay(0))},
		feed:    notify.NewFeed(10, fc),
	}
	h.deps = Deps{
		CartID:    "cart_01",
		Store:     store,
		Backend:   h.backend,
		Scheduler: sched,
		Notifier:  h.feed,
		Online:    h.monitor.Online,
	}
	return h
}

func validAddress() checkout.FormData {
	return checkout.FormData{
		"email":                         "hund@example.dk",
		"shipping_address.first_name":   "Karen",
		"shipping_address.last_name":    "Blixen",
		"shipping_address.address_1":    "Strandvejen 111",
		"shipping_address.city":         "Rungsted",
		"shipping_address.postal_code":  "2960",
		"shipping_address.country_code": "dk",
	}
}

func TestSetFieldsDebouncesSync(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := NewAddressStep(h.deps)

	require.NoError(t, s.SetFields(checkout.FormData{"email": "a@b.dk"}))
	h.clock.Advance(300 * time.Millisecond)
	require.NoError(t, s.SetFields(checkout.FormData{"email": "hund@example.dk"}))

	h.clock.Advance(499 * time.Millisecond)
	assert.Empty(t, h.store.FormData().String("email"), "synced before the debounce elapsed")

	h.clock.Advance(time.Millisecond)
	assert.Equal(t, "hund@example.dk", h.store.FormData().String("email"))
}

func TestSetFieldsRejectsForeignKeys(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := NewAddressStep(h.deps)

	err := s.SetFields(checkout.FormData{"shipping_method_id": "so_home"})
	assert.Error(t, err)
	assert.Empty(t, s.Form())
}

func TestSetFieldsReportsValidity(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := NewAddressStep(h.deps)

	require.NoError(t, s.SetFields(checkout.FormData{"email": "nope"}))
	assert.Equal(t, PhaseInvalid, s.Phase())
	assert.Contains(t, s.FieldErrors(), "email")
	assert.False(t, h.store.StepValid(checkout.StepAddress))

	require.NoError(t, s.SetFields(validAddress()))
	assert.Equal(t, PhaseValid, s.Phase())
	assert.Empty(t, s.FieldErrors())
	assert.True(t, h.store.StepValid(checkout.StepAddress))

	h.store.CreateError("boom", checkout.KindServer)
	require.NoError(t, s.SetFields(checkout.FormData{"shipping_address.city": "Aarhus"}))
	assert.False(t, h.store.StepValid(checkout.StepAddress), "an active store error blocks validity")
}

func TestReloadSeedsFromStore(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.store.UpdateFormData(checkout.FormData{"email": "a@b.dk", "provider_id": "pp_system_default"})

	s := NewAddressStep(h.deps)
	assert.Equal(t, checkout.FormData{"email": "a@b.dk"}, s.Form())
	assert.Equal(t, PhaseIdle, s.Phase())
}

func TestSubmitSuccessSchedulesAdvance(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.store.SetCurrentStep(checkout.StepAddress)
	s := NewAddressStep(h.deps)
	require.NoError(t, s.SetFields(validAddress()))

	require.NoError(t, s.Submit(context.Background()))

	st := h.store.State()
	assert.False(t, st.Loading)
	assert.Empty(t, st.OptimisticUpdates)
	assert.Nil(t, st.Error)
	assert.Equal(t, "Rungsted", st.FormData.String("shipping_address.city"))
	assert.True(t, st.StepValidation[checkout.StepAddress])
	assert.Equal(t, PhaseTransitioning, s.Phase())
	assert.True(t, h.store.AdvancePending())

	toasts := h.feed.Recent(0)
	require.Len(t, toasts, 1)
	assert.Equal(t, notify.LevelSuccess, toasts[0].Level)

	h.clock.Advance(checkout.MinAutoAdvanceDelay)
	assert.Equal(t, checkout.StepDelivery, h.store.CurrentStep())
}

func TestSubmitWithoutAutoAdvance(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.store.SetAutoAdvancement(checkout.AutoAdvancement{Enabled: false})
	h.store.SetCurrentStep(checkout.StepAddress)
	s := NewAddressStep(h.deps)
	require.NoError(t, s.SetFields(validAddress()))

	require.NoError(t, s.Submit(context.Background()))
	assert.Equal(t, PhaseValid, s.Phase())
	assert.False(t, h.store.AdvancePending())
}

func TestSubmitInvalidForm(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := NewAddressStep(h.deps)
	require.NoError(t, s.SetFields(checkout.FormData{"email": "a@b.dk"}))

	err := s.Submit(context.Background())
	var inv *InvalidFormError
	require.True(t, errors.As(err, &inv))
	assert.Contains(t, inv.Fields, "shipping_address.city")
	assert.Equal(t, checkout.KindValidation, checkout.KindOf(err))
	assert.Zero(t, h.backend.Calls())
}

func TestSubmitOfflineMidSubmissionQueuesOperation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.store.SetCurrentStep(checkout.StepAddress)
	s := NewAddressStep(h.deps)
	require.NoError(t, s.SetFields(validAddress()))

	h.backend.hook(func(ctx context.Context) error {
		h.monitor.Set(false)
		return errors.New("fetch failed")
	})

	err := s.Submit(context.Background())
	require.Error(t, err)

	st := h.store.State()
	require.NotNil(t, st.Error)
	assert.Equal(t, checkout.KindNetwork, st.Error.Kind)
	assert.True(t, st.Error.Retryable)
	assert.True(t, st.Error.Recoverable)
	assert.Contains(t, st.Error.Message, "offline")
	assert.False(t, st.Loading)
	assert.Empty(t, st.OptimisticUpdates)
	assert.False(t, st.StepValidation[checkout.StepAddress])
	assert.False(t, h.store.AdvancePending())

	require.Len(t, st.PendingOperations, 1)
	op := st.PendingOperations[0]
	assert.Equal(t, checkout.OpSetAddresses, op.Type)
	assert.Equal(t, "hund@example.dk", op.Payload.String("email"))
	assert.Equal(t, 0, op.RetryCount)
	assert.Equal(t, checkout.DefaultMaxRetries, op.MaxRetries)

	assert.Equal(t, PhaseError, s.Phase())
	toasts := h.feed.Recent(0)
	require.Len(t, toasts, 1)
	assert.Equal(t, notify.LevelError, toasts[0].Level)
}

func TestSubmitServerErrorIsNotQueued(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := NewAddressStep(h.deps)
	require.NoError(t, s.SetFields(validAddress()))
	h.backend.Fail(backend.OpSetAddresses, checkout.KindServer)

	err := s.Submit(context.Background())
	assert.Equal(t, checkout.KindServer, checkout.KindOf(err))

	st := h.store.State()
	require.NotNil(t, st.Error)
	assert.Equal(t, checkout.KindServer, st.Error.Kind)
	assert.Empty(t, st.PendingOperations)
}

func TestSubmitNetworkErrorWhileOnlineIsQueued(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := NewAddressStep(h.deps)
	require.NoError(t, s.SetFields(validAddress()))
	h.backend.Fail(backend.OpSetAddresses, checkout.KindNetwork)

	require.Error(t, s.Submit(context.Background()))
	assert.Len(t, h.store.PendingOperations(), 1)
}

func TestSubmitRejectsConcurrentSubmission(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := NewAddressStep(h.deps)
	require.NoError(t, s.SetFields(validAddress()))

	entered := make(chan struct{})
	release := make(chan struct{})
	h.backend.hook(func(ctx context.Context) error {
		close(entered)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- s.Submit(context.Background()) }()
	<-entered

	assert.True(t, h.store.Loading())
	assert.ErrorIs(t, s.Submit(context.Background()), ErrSubmissionInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.backend.Calls())
}

func TestSubmitCanceledAppliesNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := NewAddressStep(h.deps)
	require.NoError(t, s.SetFields(validAddress()))

	ctx, cancel := context.WithCancel(context.Background())
	h.backend.hook(func(ctx context.Context) error {
		cancel()
		return errors.New("fetch failed")
	})

	err := s.Submit(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	st := h.store.State()
	assert.False(t, st.Loading)
	assert.Empty(t, st.OptimisticUpdates)
	assert.Nil(t, st.Error)
	assert.Empty(t, st.PendingOperations)
	assert.Empty(t, h.feed.Recent(0))
	assert.Equal(t, PhaseIdle, s.Phase())
}

func TestResubmitAfterReconnect(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := NewAddressStep(h.deps)
	require.NoError(t, s.SetFields(validAddress()))

	h.monitor.Set(false)
	h.backend.Fail(backend.OpSetAddresses, checkout.KindNetwork)
	require.Error(t, s.Submit(context.Background()))
	require.Len(t, h.store.PendingOperations(), 1)

	h.monitor.Set(true)
	h.backend.Recover(backend.OpSetAddresses)

	due, err := h.store.RetryPendingOperations(context.Background())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].RetryCount)

	require.NoError(t, s.Resubmit(context.Background(), due[0]))
	assert.Empty(t, h.store.PendingOperations())
	assert.False(t, h.store.HasError())
	assert.True(t, h.store.StepValid(checkout.StepAddress))
}

func TestResubmitConnectivityFailureRequeues(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := NewAddressStep(h.deps)
	require.NoError(t, s.SetFields(validAddress()))
	h.backend.Fail(backend.OpSetAddresses, checkout.KindNetwork)
	require.Error(t, s.Submit(context.Background()))

	due, err := h.store.RetryPendingOperations(context.Background())
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.Error(t, s.Resubmit(context.Background(), due[0]))
	ops := h.store.PendingOperations()
	require.Len(t, ops, 1)
	assert.Equal(t, due[0].ID, ops[0].ID)
	assert.Equal(t, 1, ops[0].RetryCount)
}

func TestShippingOptionsArePriced(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := NewShippingStep(h.deps)

	opts, err := s.Options(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, opts)
	for _, o := range opts {
		assert.Positive(t, o.Amount, o.ID)
	}

	o, err := s.Price(context.Background(), "so_pallet")
	require.NoError(t, err)
	assert.Equal(t, int64(14900), o.Amount)
}

func TestShippingOptionsFailureIsRecorded(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.backend.Fail(backend.OpListShipping, checkout.KindServer)
	s := NewShippingStep(h.deps)

	_, err := s.Options(context.Background())
	require.Error(t, err)
	require.NotNil(t, h.store.Error())
	assert.Equal(t, checkout.KindServer, h.store.Error().Kind)
}

func TestShippingSubmit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := NewShippingStep(h.deps)
	require.NoError(t, s.SetFields(checkout.FormData{"shipping_method_id": "so_home"}))
	require.NoError(t, s.Submit(context.Background()))
	assert.Equal(t, "so_home", h.store.FormData().String("shipping_method_id"))
}

func TestPaymentSecretStaysLocal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := NewPaymentStep(h.deps)
	require.NoError(t, s.SetFields(checkout.FormData{"provider_id": "pp_stripe_stripe"}))
	require.NoError(t, s.Submit(context.Background()))

	secret := s.ClientSecret()
	require.NotEmpty(t, secret)

	b, err := checkout.EncodeSnapshot(h.store.Snapshot())
	require.NoError(t, err)
	assert.NotContains(t, string(b), secret)
	assert.Equal(t, "pp_stripe_stripe", h.store.FormData().String("provider_id"))

	s.Reload()
	assert.Empty(t, s.ClientSecret())
}

func TestAbortDropsResubmitResult(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := NewAddressStep(h.deps)
	require.NoError(t, s.SetFields(validAddress()))
	h.backend.Fail(backend.OpSetAddresses, checkout.KindNetwork)
	require.Error(t, s.Submit(context.Background()))

	due, err := h.store.RetryPendingOperations(context.Background())
	require.NoError(t, err)
	require.Len(t, due, 1)

	h.backend.hook(func(ctx context.Context) error {
		s.Abort()
		h.store.Reset()
		<-ctx.Done()
		return &backend.Error{Class: checkout.KindNetwork, Op: backend.OpSetAddresses, Err: ctx.Err()}
	})

	err = s.Resubmit(context.Background(), due[0])
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.store.PendingOperations())
	assert.False(t, h.store.HasError())
}
