package backend

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wufi/storefront-checkout/internal/checkout"
	"github.com/wufi/storefront-checkout/internal/clock"
)

// ErrSimulated is wrapped by failures injected with Simulated.Fail or
// WithFailureRate.
var ErrSimulated = errors.New("simulated failure")

// Payment providers accepted by the simulated store.
var simProviders = map[string]bool{
	"pp_stripe_stripe":  true,
	"pp_system_default": true,
}

// DefaultShippingOptions are offered by a Simulated store unless replaced.
func DefaultShippingOptions() []ShippingOption {
	return []ShippingOption{
		{ID: "so_pakkeshop", Name: "GLS Pakkeshop", PriceType: PriceFlat, Amount: 3900},
		{ID: "so_home", Name: "GLS Home delivery", PriceType: PriceFlat, Amount: 5900},
		{ID: "so_pallet", Name: "Pallet delivery", PriceType: PriceCalculated},
	}
}

const calculatedShippingAmount = 14900

type simCart struct {
	addressed bool
	method    string
	provider  string
}

// Simulated is an in-process Client with per-operation latency and
// injectable failures. It is used in development mode and in tests.
type Simulated struct {
	clock        clock.Clock
	defaultDelay time.Duration
	jitter       time.Duration
	failureRate  float64
	seed         *uint64

	mu       sync.Mutex
	rng      *rand.Rand
	delayMS  map[string]int64
	failures map[string]checkout.Kind
	options  []ShippingOption
	carts    map[string]*simCart
	orders   int64
}

var _ Client = (*Simulated)(nil)

// SimOption customizes a Simulated client.
type SimOption func(*Simulated)

// WithDelays overrides the latency of individual operations, in
// milliseconds, keyed by operation name.
func WithDelays(ms map[string]int64) SimOption {
	return func(s *Simulated) {
		for k, v := range ms {
			s.delayMS[k] = v
		}
	}
}

// WithDefaultDelay sets the latency of operations without an override.
func WithDefaultDelay(d time.Duration) SimOption { return func(s *Simulated) { s.defaultDelay = d } }

// WithSimClock sets the clock latency is measured on.
func WithSimClock(c clock.Clock) SimOption { return func(s *Simulated) { s.clock = c } }

// WithJitter adds a random latency in [0, upTo] to every operation.
func WithJitter(upTo time.Duration) SimOption { return func(s *Simulated) { s.jitter = upTo } }

// WithFailureRate makes each operation fail with probability p, drawn
// from network, timeout and server failures.
func WithFailureRate(p float64) SimOption { return func(s *Simulated) { s.failureRate = p } }

// WithSeed makes jitter and random failures reproducible.
func WithSeed(seed uint64) SimOption { return func(s *Simulated) { s.seed = &seed } }

// WithShippingOptions replaces the offered shipping options.
func WithShippingOptions(opts []ShippingOption) SimOption {
	return func(s *Simulated) { s.options = append([]ShippingOption(nil), opts...) }
}

// NewSimulated returns a Simulated store with 150ms latency.
func NewSimulated(opts ...SimOption) *Simulated {
	s := &Simulated{
		clock:        clock.Real(),
		defaultDelay: 150 * time.Millisecond,
		delayMS:      map[string]int64{},
		failures:     map[string]checkout.Kind{},
		options:      DefaultShippingOptions(),
		carts:        map[string]*simCart{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.seed != nil {
		s.rng = rand.New(rand.NewPCG(*s.seed, *s.seed))
	} else {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s
}

// Fail makes every later call of op fail with kind k.
func (s *Simulated) Fail(op string, k checkout.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = k
}

// Recover removes an injected failure for op.
func (s *Simulated) Recover(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, op)
}

// delayFor returns the override for op when positive, otherwise the
// default, plus jitter.
func (s *Simulated) delayFor(op string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.defaultDelay
	if ms, ok := s.delayMS[op]; ok && ms > 0 {
		d = time.Duration(ms) * time.Millisecond
	}
	if s.jitter > 0 {
		d += time.Duration(s.rng.Int64N(int64(s.jitter) + 1))
	}
	return d
}

var randomFailureKinds = []checkout.Kind{checkout.KindNetwork, checkout.KindTimeout, checkout.KindServer}

// failureFor returns the injected failure of op, or a random one.
func (s *Simulated) failureFor(op string) (checkout.Kind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.failures[op]; ok {
		return k, true
	}
	if s.failureRate > 0 && s.rng.Float64() < s.failureRate {
		return randomFailureKinds[s.rng.IntN(len(randomFailureKinds))], true
	}
	return "", false
}

// step blocks for the operation latency, then reports an injected failure.
func (s *Simulated) step(ctx context.Context, op string) error {
	if err := clock.SleepOrDone(ctx, s.clock, s.delayFor(op)); err != nil {
		return err
	}
	if k, fail := s.failureFor(op); fail {
		return &Error{Class: k, Op: op, Err: ErrSimulated}
	}
	return nil
}

func (s *Simulated) cartLocked(id string) *simCart {
	c, ok := s.carts[id]
	if !ok {
		c = &simCart{}
		s.carts[id] = c
	}
	return c
}

func (s *Simulated) option(id string) (ShippingOption, bool) {
	for _, o := range s.options {
		if o.ID == id {
			return o, true
		}
	}
	return ShippingOption{}, false
}

func invalid(op, format string, args ...any) error {
	return &Error{Class: checkout.KindValidation, Op: op, Status: 400, Err: fmt.Errorf(format, args...)}
}

func (s *Simulated) SetAddresses(ctx context.Context, cartID string, in AddressesInput) error {
	if err := s.step(ctx, OpSetAddresses); err != nil {
		return err
	}
	if in.Email == "" {
		return invalid(OpSetAddresses, "email is required")
	}
	if in.ShippingAddress.CountryCode == "" {
		return invalid(OpSetAddresses, "shipping address country is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cartLocked(cartID).addressed = true
	return nil
}

func (s *Simulated) ListShippingOptions(ctx context.Context, cartID string) ([]ShippingOption, error) {
	if err := s.step(ctx, OpListShipping); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ShippingOption(nil), s.options...), nil
}

func (s *Simulated) CalculateShippingPrice(ctx context.Context, cartID, optionID string) (ShippingOption, error) {
	if err := s.step(ctx, OpCalculateShipping); err != nil {
		return ShippingOption{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.option(optionID)
	if !ok {
		return ShippingOption{}, invalid(OpCalculateShipping, "unknown shipping option %q", optionID)
	}
	if o.PriceType == PriceCalculated {
		o.Amount = calculatedShippingAmount
	}
	return o, nil
}

func (s *Simulated) SetShippingMethod(ctx context.Context, cartID, optionID string) error {
	if err := s.step(ctx, OpSetShippingMethod); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.option(optionID); !ok {
		return invalid(OpSetShippingMethod, "unknown shipping option %q", optionID)
	}
	s.cartLocked(cartID).method = optionID
	return nil
}

func (s *Simulated) InitiatePayment(ctx context.Context, cartID, providerID string) (PaymentSession, error) {
	if err := s.step(ctx, OpInitiatePayment); err != nil {
		return PaymentSession{}, err
	}
	if !simProviders[providerID] {
		return PaymentSession{}, invalid(OpInitiatePayment, "unknown payment provider %q", providerID)
	}
	s.mu.Lock()
	s.cartLocked(cartID).provider = providerID
	s.mu.Unlock()

	id := "payses_" + uuid.NewString()
	return PaymentSession{
		ID:           id,
		ProviderID:   providerID,
		ClientSecret: id + "_secret",
	}, nil
}

func (s *Simulated) CompleteCart(ctx context.Context, cartID string) (Order, error) {
	if err := s.step(ctx, OpCompleteCart); err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cartLocked(cartID)
	switch {
	case !c.addressed:
		return Order{}, invalid(OpCompleteCart, "cart has no shipping address")
	case c.method == "":
		return Order{}, invalid(OpCompleteCart, "cart has no shipping method")
	case c.provider == "":
		return Order{}, invalid(OpCompleteCart, "cart has no payment session")
	}
	delete(s.carts, cartID)
	s.orders++
	return Order{ID: "order_" + uuid.NewString(), DisplayID: s.orders}, nil
}
