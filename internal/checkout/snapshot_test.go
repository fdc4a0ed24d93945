package checkout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	src, _ := newTestStore(t)
	src.UpdateFormData(FormData{"email": "a@b.dk", "shipping_address.postal_code": "8000", "qty": float64(3)})
	src.SetCustomerType(CustomerBusiness)
	src.SetCurrentStep(StepDelivery)
	src.SetAutoAdvancement(AutoAdvancement{Enabled: true, DelayMS: 3000, SkipOptionalSteps: true})
	src.CreateError("offline", KindNetwork)
	src.AddPendingOperation(PendingOperation{Type: OpSetAddresses})
	src.SetLoading(true)

	b, err := EncodeSnapshot(src.Snapshot())
	require.NoError(t, err)

	snap, err := DecodeSnapshot(b)
	require.NoError(t, err)
	assert.Equal(t, src.Snapshot(), snap)

	dst, _ := newTestStore(t)
	dst.Hydrate(snap)

	got := dst.State()
	assert.Equal(t, src.FormData(), got.FormData)
	assert.Equal(t, CustomerBusiness, got.CustomerType)
	assert.Equal(t, StepDelivery, got.CurrentStep)
	assert.Equal(t, src.AutoAdvancement(), got.AutoAdvancement)

	assert.Nil(t, got.Error)
	assert.Empty(t, got.PendingOperations)
	assert.False(t, got.Loading)
}

func TestSnapshotJSONShape(t *testing.T) {
	t.Parallel()

	b, err := EncodeSnapshot(Snapshot{
		FormData:        FormData{"email": "a@b.dk"},
		CustomerType:    CustomerPrivate,
		CurrentStep:     StepAddress,
		AutoAdvancement: DefaultAutoAdvancement(),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"formData": {"email": "a@b.dk"},
		"customerType": "private",
		"currentStep": "address",
		"autoAdvancement": {
			"enabled": true,
			"delayMs": 2000,
			"skipOptionalSteps": false,
			"autoAdvanceOnValidation": true
		}
	}`, string(b))
}

func TestDecodeSnapshotSanitizes(t *testing.T) {
	t.Parallel()

	snap, err := DecodeSnapshot([]byte(`{"currentStep":"teleport"}`))
	require.NoError(t, err)
	assert.Equal(t, Steps[0], snap.CurrentStep)
	assert.NotNil(t, snap.FormData)

	_, err = DecodeSnapshot([]byte(`[`))
	assert.Error(t, err)
}

func TestDecodeSnapshotDefaultsAutoAdvancement(t *testing.T) {
	t.Parallel()

	snap, err := DecodeSnapshot([]byte(`{"currentStep":"address","formData":{"email":"a@b.dk"}}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultAutoAdvancement(), snap.AutoAdvancement)

	snap, err = DecodeSnapshot([]byte(`{"autoAdvancement":{"enabled":false}}`))
	require.NoError(t, err)
	assert.False(t, snap.AutoAdvancement.Enabled)
	assert.Equal(t, MinAutoAdvanceDelay.Milliseconds(), snap.AutoAdvancement.DelayMS)
	assert.True(t, snap.AutoAdvancement.OnValidation)

	s, _ := newTestStore(t)
	s.Hydrate(snap)
	assert.Equal(t, StepAutoship, s.CurrentStep())
	assert.False(t, s.AutoAdvancement().Enabled)
	assert.Equal(t, MinAutoAdvanceDelay, s.AutoAdvancement().Delay())
}

func TestSnapshotKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "wufi-checkout-store-phase3:cart_01", SnapshotKey("cart_01"))
}
