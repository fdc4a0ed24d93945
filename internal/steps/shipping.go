package steps

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wufi/storefront-checkout/internal/backend"
	"github.com/wufi/storefront-checkout/internal/checkout"
)

// ShippingStep selects the delivery method. It also lists the options for
// the cart and prices calculated ones.
type ShippingStep struct {
	*base

	optMu   sync.Mutex
	options []backend.ShippingOption
}

var _ Step = (*ShippingStep)(nil)

func NewShippingStep(d Deps) *ShippingStep {
	s := &ShippingStep{}
	s.base = newBase(d, checkout.StepDelivery, checkout.OpSetShippingMethod, "Delivery", s.send)
	return s
}

func (s *ShippingStep) send(ctx context.Context, form checkout.FormData) error {
	return s.deps.Backend.SetShippingMethod(ctx, s.deps.CartID, form.String("shipping_method_id"))
}

// Options lists the shipping options of the cart with calculated prices
// filled in. A failure is recorded in the store.
func (s *ShippingStep) Options(ctx context.Context) ([]backend.ShippingOption, error) {
	opts, err := s.deps.Backend.ListShippingOptions(ctx, s.deps.CartID)
	if err != nil {
		return nil, s.recordLookupError(ctx, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range opts {
		if opts[i].PriceType != backend.PriceCalculated {
			continue
		}
		i := i
		g.Go(func() error {
			priced, err := s.deps.Backend.CalculateShippingPrice(gctx, s.deps.CartID, opts[i].ID)
			if err != nil {
				return err
			}
			opts[i].Amount = priced.Amount
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, s.recordLookupError(ctx, err)
	}

	s.optMu.Lock()
	s.options = append([]backend.ShippingOption(nil), opts...)
	s.optMu.Unlock()
	return opts, nil
}

// Price returns the price of one option, calculating it when needed.
func (s *ShippingStep) Price(ctx context.Context, optionID string) (backend.ShippingOption, error) {
	s.optMu.Lock()
	for _, o := range s.options {
		if o.ID == optionID && (o.PriceType != backend.PriceCalculated || o.Amount > 0) {
			s.optMu.Unlock()
			return o, nil
		}
	}
	s.optMu.Unlock()

	o, err := s.deps.Backend.CalculateShippingPrice(ctx, s.deps.CartID, optionID)
	if err != nil {
		return backend.ShippingOption{}, s.recordLookupError(ctx, err)
	}
	return o, nil
}

func (s *ShippingStep) recordLookupError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	kind := checkout.KindOf(err)
	if !s.deps.Online() {
		kind = checkout.KindNetwork
	}
	s.deps.Store.CreateError("We could not load delivery options.", kind, checkout.WithCause(err))
	return fmt.Errorf("shipping options: %w", err)
}
