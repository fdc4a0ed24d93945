package validation

import (
	"github.com/go-playground/validator/v10"

	"github.com/wufi/storefront-checkout/internal/checkout"
)

// Address is a postal address. Form keys are prefixed by the owning
// section, e.g. "shipping_address.city".
type Address struct {
	FirstName   string `form:"first_name" validate:"required,max=100"`
	LastName    string `form:"last_name" validate:"required,max=100"`
	Company     string `form:"company" validate:"omitempty,max=100"`
	Address1    string `form:"address_1" validate:"required,max=200"`
	Address2    string `form:"address_2" validate:"omitempty,max=200"`
	City        string `form:"city" validate:"required,max=100"`
	PostalCode  string `form:"postal_code" validate:"required,numeric,min=3,max=10"`
	CountryCode string `form:"country_code" validate:"required,len=2,alpha"`
	Phone       string `form:"phone" validate:"omitempty,e164"`
}

// AddressForm is the address step: contact email plus the shipping address.
type AddressForm struct {
	Email           string  `form:"email" validate:"required,email"`
	ShippingAddress Address `form:"shipping_address"`

	CustomerType checkout.CustomerType `form:"-" validate:"-"`
}

// ShippingForm is the delivery step.
type ShippingForm struct {
	ShippingMethodID string `form:"shipping_method_id" validate:"required"`
}

// PaymentForm is the payment step.
type PaymentForm struct {
	ProviderID string `form:"provider_id" validate:"required,max=100"`
}

const shippingPrefix = "shipping_address."

var addressKeys = []string{
	"first_name", "last_name", "company", "address_1", "address_2",
	"city", "postal_code", "country_code", "phone",
}

// AddressFields lists the form keys owned by the address step.
var AddressFields = func() []string {
	out := []string{"email"}
	for _, k := range addressKeys {
		out = append(out, shippingPrefix+k)
	}
	return out
}()

// ShippingFields lists the form keys owned by the delivery step.
var ShippingFields = []string{"shipping_method_id"}

// PaymentFields lists the form keys owned by the payment step.
var PaymentFields = []string{"provider_id"}

// Fields returns the form keys owned by step.
func Fields(step checkout.StepID) []string {
	switch step {
	case checkout.StepAddress:
		return AddressFields
	case checkout.StepDelivery:
		return ShippingFields
	case checkout.StepPayment:
		return PaymentFields
	default:
		return nil
	}
}

// AddressFormFrom reads the address step fields from data.
func AddressFormFrom(data checkout.FormData, ct checkout.CustomerType) AddressForm {
	get := func(k string) string { return data.String(shippingPrefix + k) }
	return AddressForm{
		Email: data.String("email"),
		ShippingAddress: Address{
			FirstName:   get("first_name"),
			LastName:    get("last_name"),
			Company:     get("company"),
			Address1:    get("address_1"),
			Address2:    get("address_2"),
			City:        get("city"),
			PostalCode:  get("postal_code"),
			CountryCode: get("country_code"),
			Phone:       get("phone"),
		},
		CustomerType: ct,
	}
}

// ShippingFormFrom reads the delivery step fields from data.
func ShippingFormFrom(data checkout.FormData) ShippingForm {
	return ShippingForm{ShippingMethodID: data.String("shipping_method_id")}
}

// PaymentFormFrom reads the payment step fields from data.
func PaymentFormFrom(data checkout.FormData) PaymentForm {
	return PaymentForm{ProviderID: data.String("provider_id")}
}

// addressFormRules requires a company name from business customers.
func addressFormRules(sl validator.StructLevel) {
	f := sl.Current().Interface().(AddressForm)
	if f.CustomerType == checkout.CustomerBusiness && f.ShippingAddress.Company == "" {
		sl.ReportError(f.ShippingAddress.Company, "shipping_address.company", "Company", "required_for_business", "")
	}
}
