package steps

import (
	"context"
	"sync"

	"github.com/wufi/storefront-checkout/internal/backend"
	"github.com/wufi/storefront-checkout/internal/checkout"
)

// PaymentStep chooses the payment provider and opens a payment session.
// The session's client secret stays in the step and is never written to
// the store or its snapshot.
type PaymentStep struct {
	*base

	sessMu  sync.Mutex
	session backend.PaymentSession
}

var _ Step = (*PaymentStep)(nil)

func NewPaymentStep(d Deps) *PaymentStep {
	s := &PaymentStep{}
	s.base = newBase(d, checkout.StepPayment, checkout.OpSetPaymentMethod, "Payment", s.send)
	return s
}

func (s *PaymentStep) send(ctx context.Context, form checkout.FormData) error {
	ps, err := s.deps.Backend.InitiatePayment(ctx, s.deps.CartID, form.String("provider_id"))
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sessMu.Lock()
	s.session = ps
	s.sessMu.Unlock()
	return nil
}

// ClientSecret returns the secret of the open payment session, or "".
func (s *PaymentStep) ClientSecret() string {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	return s.session.ClientSecret
}

// Reload also forgets the payment session.
func (s *PaymentStep) Reload() {
	s.base.Reload()
	s.sessMu.Lock()
	s.session = backend.PaymentSession{}
	s.sessMu.Unlock()
}
