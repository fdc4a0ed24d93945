package steps

import (
	"github.com/wufi/storefront-checkout/internal/backend"
	"github.com/wufi/storefront-checkout/internal/checkout"
	"github.com/wufi/storefront-checkout/internal/validation"
)

// addressesInput builds the store API request from the address step form.
// The billing address mirrors the shipping address.
func addressesInput(form checkout.FormData) backend.AddressesInput {
	f := validation.AddressFormFrom(form, "")
	a := backend.Address{
		FirstName:   f.ShippingAddress.FirstName,
		LastName:    f.ShippingAddress.LastName,
		Company:     f.ShippingAddress.Company,
		Address1:    f.ShippingAddress.Address1,
		Address2:    f.ShippingAddress.Address2,
		City:        f.ShippingAddress.City,
		PostalCode:  f.ShippingAddress.PostalCode,
		CountryCode: f.ShippingAddress.CountryCode,
		Phone:       f.ShippingAddress.Phone,
	}
	return backend.AddressesInput{
		Email:           f.Email,
		ShippingAddress: a,
		BillingAddress:  a,
	}
}
