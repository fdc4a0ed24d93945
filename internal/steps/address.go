package steps

import (
	"context"

	"github.com/wufi/storefront-checkout/internal/checkout"
)

// AddressStep collects the contact email and shipping address.
type AddressStep struct {
	*base
}

var _ Step = (*AddressStep)(nil)

func NewAddressStep(d Deps) *AddressStep {
	s := &AddressStep{}
	s.base = newBase(d, checkout.StepAddress, checkout.OpSetAddresses, "Address", s.send)
	return s
}

func (s *AddressStep) send(ctx context.Context, form checkout.FormData) error {
	return s.deps.Backend.SetAddresses(ctx, s.deps.CartID, addressesInput(form))
}
