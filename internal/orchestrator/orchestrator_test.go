package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wufi/storefront-checkout/internal/apperr"
	"github.com/wufi/storefront-checkout/internal/backend"
	"github.com/wufi/storefront-checkout/internal/checkout"
	"github.com/wufi/storefront-checkout/internal/clock"
	"github.com/wufi/storefront-checkout/internal/connectivity"
	"github.com/wufi/storefront-checkout/internal/notify"
	"github.com/wufi/storefront-checkout/internal/scheduler"
	"github.com/wufi/storefront-checkout/internal/steps"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	clock    *clock.Fake
	store    *checkout.Store
	monitor  *connectivity.Monitor
	sim      *backend.Simulated
	address  *steps.AddressStep
	shipping *steps.ShippingStep
	payment  *steps.PaymentStep
	orch     *Orchestrator
}

func newHarness(t *testing.T, simOpts ...backend.SimOption) *harness {
	t.Helper()
	fc := clock.NewFake(epoch)
	store := checkout.NewStore(
		checkout.WithClock(fc),
		checkout.WithBackoff(func(int) time.Duration { return 0 }),
	)
	sched := scheduler.New(fc)
	t.Cleanup(func() {
		sched.Close()
		store.Close()
	})

	mon := connectivity.NewMonitor(true)
	sim := backend.NewSimulated(append([]backend.SimOption{
		backend.WithDefaultDelay(0),
		backend.WithSimClock(fc),
	}, simOpts...)...)
	feed := notify.NewFeed(10, fc)
	deps := steps.Deps{
		CartID:    "cart_01",
		Store:     store,
		Backend:   sim,
		Scheduler: sched,
		Notifier:  feed,
		Online:    mon.Online,
	}
	h := &harness{
		clock:    fc,
		store:    store,
		monitor:  mon,
		sim:      sim,
		address:  steps.NewAddressStep(deps),
		shipping: steps.NewShippingStep(deps),
		payment:  steps.NewPaymentStep(deps),
	}
	h.orch = New(Config{
		CartID:  "cart_01",
		Store:   store,
		Monitor: mon,
		Backend: sim,
		Feed:    feed,
		Steps:   []steps.Step{h.address, h.shipping, h.payment},
	})
	return h
}

func addressFields() checkout.FormData {
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

// completeSteps submits every step before review.
func (h *harness) completeSteps(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.orch.Submit(ctx, checkout.StepAutoship))
	require.NoError(t, h.orch.Submit(ctx, checkout.StepCustomerType))
	require.NoError(t, h.address.SetFields(addressFields()))
	require.NoError(t, h.orch.Submit(ctx, checkout.StepAddress))
	require.NoError(t, h.shipping.SetFields(checkout.FormData{"shipping_method_id": "so_home"}))
	require.NoError(t, h.orch.Submit(ctx, checkout.StepDelivery))
	require.NoError(t, h.payment.SetFields(checkout.FormData{"provider_id": "pp_system_default"}))
	require.NoError(t, h.orch.Submit(ctx, checkout.StepPayment))
}

func TestNewPanicsOnNilDependency(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { New(Config{}) })
}

func TestViewProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for i, id := range checkout.Steps {
		h.store.SetCurrentStep(id)
		v := h.orch.View()
		assert.Equal(t, id, v.CurrentStep)
		assert.Equal(t, i, v.StepIndex)
		assert.Equal(t, len(checkout.Steps), v.TotalSteps)
		assert.InDelta(t, float64(i+1)/float64(len(checkout.Steps)), v.Progress, 1e-9)
		assert.True(t, v.Steps[i].Current)
	}
}

func TestViewReflectsStore(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.store.CreateError("offline", checkout.KindNetwork)
	h.store.AddPendingOperation(checkout.PendingOperation{Type: checkout.OpSetAddresses})
	h.store.SetOnline(false)

	v := h.orch.View()
	require.NotNil(t, v.Error)
	assert.Equal(t, checkout.KindNetwork, v.Error.Kind)
	assert.Equal(t, 1, v.PendingCount)
	assert.False(t, v.Online)
	assert.True(t, v.AutoAdvance.Enabled)
	assert.True(t, v.Steps[0].Optional)
	assert.Equal(t, steps.PhaseIdle, v.Steps[checkout.StepAddress.Index()].Phase)
}

func TestHandleKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.HandleKey(ctx, "3")
	assert.ErrorIs(t, err, apperr.ErrStepNotReachable)

	h.store.SetStepValid(checkout.StepAutoship, true)
	h.store.SetStepValid(checkout.StepCustomerType, true)
	got, err := h.orch.HandleKey(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, "step address", got)
	assert.Equal(t, checkout.StepAddress, h.store.CurrentStep())

	got, err = h.orch.HandleKey(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "step customer-type", got)

	got, err = h.orch.HandleKey(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, "step address", got)

	_, err = h.orch.HandleKey(ctx, "n")
	assert.ErrorIs(t, err, apperr.ErrStepNotReachable)

	got, err = h.orch.HandleKey(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "auto-advance off", got)
	assert.False(t, h.store.AutoAdvancement().Enabled)

	h.store.CreateError("boom", checkout.KindServer)
	_, err = h.orch.HandleKey(ctx, "x")
	require.NoError(t, err)
	assert.False(t, h.store.HasError())

	got, err = h.orch.HandleKey(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, "retried 0, 0 pending", got)

	for _, key := range []string{"z", "0", "7", ""} {
		_, err = h.orch.HandleKey(ctx, key)
		assert.ErrorIs(t, err, apperr.ErrUnknownKey, "key %q", key)
	}
}

func TestSubmitStepWithoutComponent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.orch.Submit(context.Background(), checkout.StepAutoship))
	assert.True(t, h.store.StepValid(checkout.StepAutoship))
	assert.True(t, h.store.AdvancePending())

	h.clock.Advance(checkout.MinAutoAdvanceDelay)
	assert.Equal(t, checkout.StepCustomerType, h.store.CurrentStep())

	assert.ErrorIs(t, h.orch.Submit(context.Background(), "nope"), apperr.ErrInvalidStep)
}

func TestSetCustomerTypeRevalidates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.address.SetFields(addressFields()))
	assert.True(t, h.store.StepValid(checkout.StepAddress))

	h.orch.SetCustomerType(checkout.CustomerBusiness)
	assert.False(t, h.store.StepValid(checkout.StepAddress))
	assert.Contains(t, h.address.FieldErrors(), "shipping_address.company")
}

func TestRunRetriesOnReconnect(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()
	defer func() {
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	}()

	h.orch.SetOnline(false)
	require.Eventually(t, func() bool { return !h.store.Online() }, time.Second, time.Millisecond)

	h.sim.Fail(backend.OpSetAddresses, checkout.KindNetwork)
	require.NoError(t, h.address.SetFields(addressFields()))
	require.Error(t, h.address.Submit(context.Background()))
	require.Len(t, h.store.PendingOperations(), 1)

	h.sim.Recover(backend.OpSetAddresses)
	h.orch.SetOnline(true)

	require.Eventually(t, func() bool {
		return h.store.Online() && len(h.store.PendingOperations()) == 0 && !h.store.HasError()
	}, time.Second, time.Millisecond)
}

func TestRunRetriesOperationQueuedDuringSweep(t *testing.T) {
	t.Parallel()

	h := newHarness(t, backend.WithDelays(map[string]int64{backend.OpSetShippingMethod: 1000}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()
	defer func() {
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	}()

	h.orch.SetOnline(false)
	require.Eventually(t, func() bool { return !h.store.Online() }, time.Second, time.Millisecond)
	h.store.AddPendingOperation(checkout.PendingOperation{
		Type:    checkout.OpSetShippingMethod,
		Payload: checkout.FormData{"shipping_method_id": "so_home"},
	})

	// The shipping resubmit holds the sweep on the fake clock.
	timers := h.clock.Pending()
	h.orch.SetOnline(true)
	require.Eventually(t, func() bool { return h.clock.Pending() == timers+1 }, time.Second, time.Millisecond)

	h.orch.SetOnline(false)
	h.sim.Fail(backend.OpSetAddresses, checkout.KindNetwork)
	require.NoError(t, h.address.SetFields(addressFields()))
	require.Error(t, h.address.Submit(context.Background()))
	h.sim.Recover(backend.OpSetAddresses)
	h.orch.SetOnline(true)

	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return len(h.store.PendingOperations()) == 0 && h.store.StepValid(checkout.StepAddress)
	}, time.Second, time.Millisecond)
}

func TestRetryAllDropsOperationsWithoutOwner(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.store.AddPendingOperation(checkout.PendingOperation{Type: "setGiftCard"})

	res, err := h.orch.RetryAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RetryResult{}, res)
	assert.Empty(t, h.store.PendingOperations())
}

func TestPlaceOrderNotReady(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.orch.PlaceOrder(context.Background())
	assert.ErrorIs(t, err, apperr.ErrOrderNotReady)
}

func TestPlaceOrderRechecksEarlierSteps(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.completeSteps(t)
	require.NoError(t, h.orch.GoTo(checkout.StepReview))

	require.NoError(t, h.address.SetFields(checkout.FormData{"email": ""}))
	require.False(t, h.store.StepValid(checkout.StepAddress))

	_, err := h.orch.PlaceOrder(context.Background())
	assert.ErrorIs(t, err, apperr.ErrOrderNotReady)
	assert.Equal(t, checkout.StepReview, h.store.CurrentStep())

	// Going back to fix the address is still allowed.
	require.NoError(t, h.orch.GoTo(checkout.StepAddress))
	assert.ErrorIs(t, h.orch.GoTo(checkout.StepReview), apperr.ErrStepNotReachable)
}

func TestResetDropsSubmissionInFlight(t *testing.T) {
	t.Parallel()

	h := newHarness(t, backend.WithDelays(map[string]int64{backend.OpSetAddresses: 1000}))
	require.NoError(t, h.address.SetFields(addressFields()))

	errc := make(chan error, 1)
	go func() { errc <- h.address.Submit(context.Background()) }()
	require.Eventually(t, func() bool { return h.address.Phase() == steps.PhaseSubmitting }, time.Second, time.Millisecond)

	h.orch.Reset()
	h.clock.Advance(time.Second)
	require.ErrorIs(t, <-errc, context.Canceled)

	st := h.store.State()
	assert.Empty(t, st.FormData)
	assert.False(t, st.StepValidation[checkout.StepAddress])
	assert.False(t, st.Loading)
	assert.Empty(t, st.OptimisticUpdates)
	assert.Empty(t, h.address.Form())
	assert.Equal(t, steps.PhaseIdle, h.address.Phase())

	timers := h.clock.Pending()
	require.NoError(t, h.address.SetFields(addressFields()))
	go func() { errc <- h.address.Submit(context.Background()) }()
	require.Eventually(t, func() bool {
		return h.address.Phase() == steps.PhaseSubmitting && h.clock.Pending() == timers+1
	}, time.Second, time.Millisecond)
	h.clock.Advance(time.Second)
	require.NoError(t, <-errc)
	assert.True(t, h.store.StepValid(checkout.StepAddress))
}

func TestPlaceOrderResetsSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.completeSteps(t)
	require.True(t, h.store.CanProceedToStep(checkout.StepReview))

	order, err := h.orch.PlaceOrder(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)

	st := h.store.State()
	assert.Equal(t, checkout.StepAutoship, st.CurrentStep)
	assert.Empty(t, st.FormData)
	assert.Empty(t, h.address.Form())
	assert.Empty(t, h.payment.ClientSecret())

	toasts := h.orch.View().Toasts
	require.Len(t, toasts, 1)
	assert.Equal(t, "Order placed", toasts[0].Title)
}

func TestPlaceOrderFailureKeepsSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.completeSteps(t)
	h.sim.Fail(backend.OpCompleteCart, checkout.KindServer)

	_, err := h.orch.PlaceOrder(context.Background())
	require.Error(t, err)

	st := h.store.State()
	require.NotNil(t, st.Error)
	assert.Equal(t, checkout.KindServer, st.Error.Kind)
	assert.False(t, st.Loading)
	assert.Equal(t, "hund@example.dk", st.FormData.String("email"))
}
