// Package backend talks to the e-commerce store API: cart addresses,
// shipping options and methods, payment sessions and cart completion.
//
// Errors returned by a Client carry their classification (see Error) so
// callers never inspect message text.
package backend

import (
	"context"
	"fmt"

	"github.com/wufi/storefront-checkout/internal/checkout"
)

// Address is a postal address as the store API expects it.
type Address struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Company     string `json:"company,omitempty"`
	Address1    string `json:"address_1"`
	Address2    string `json:"address_2,omitempty"`
	City        string `json:"city"`
	PostalCode  string `json:"postal_code"`
	CountryCode string `json:"country_code"`
	Phone       string `json:"phone,omitempty"`
}

// AddressesInput updates the contact email and addresses of a cart.
type AddressesInput struct {
	Email           string  `json:"email"`
	ShippingAddress Address `json:"shipping_address"`
	BillingAddress  Address `json:"billing_address"`
}

// Shipping option price types.
const (
	PriceFlat       = "flat"
	PriceCalculated = "calculated"
)

// ShippingOption is a delivery method offered for a cart. Amount is in
// minor units and is zero for calculated options until priced.
type ShippingOption struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PriceType string `json:"price_type"`
	Amount    int64  `json:"amount"`
}

// PaymentSession is the result of initiating payment. ClientSecret is
// handed to the payment element and must not be persisted.
type PaymentSession struct {
	ID           string `json:"id"`
	ProviderID   string `json:"provider_id"`
	ClientSecret string `json:"-"`
}

// Order is a placed order.
type Order struct {
	ID        string `json:"id"`
	DisplayID int64  `json:"display_id"`
}

// Client is the store API used by checkout.
type Client interface {
	SetAddresses(ctx context.Context, cartID string, in AddressesInput) error
	ListShippingOptions(ctx context.Context, cartID string) ([]ShippingOption, error)
	CalculateShippingPrice(ctx context.Context, cartID, optionID string) (ShippingOption, error)
	SetShippingMethod(ctx context.Context, cartID, optionID string) error
	InitiatePayment(ctx context.Context, cartID, providerID string) (PaymentSession, error)
	CompleteCart(ctx context.Context, cartID string) (Order, error)
}

// Operation names, used in errors, spans and metrics.
const (
	OpSetAddresses      = "set_addresses"
	OpListShipping      = "list_shipping_options"
	OpCalculateShipping = "calculate_shipping_price"
	OpSetShippingMethod = "set_shipping_method"
	OpInitiatePayment   = "initiate_payment"
	OpCompleteCart      = "complete_cart"
)

// Error is a classified backend failure.
type Error struct {
	Class  checkout.Kind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Kind reports the checkout error kind of the failure.
func (e *Error) Kind() checkout.Kind { return e.Class }

// KindForStatus classifies an HTTP status returned by the store API.
func KindForStatus(status int) checkout.Kind {
	switch {
	case status == 408 || status == 504:
		return checkout.KindTimeout
	case status >= 500:
		return checkout.KindServer
	case status == 400 || status == 409 || status == 422:
		return checkout.KindValidation
	default:
		return checkout.KindUnknown
	}
}
