// Package validation holds the per-step form schemas and turns validator
// failures into a field → message map keyed by form field name.
package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wufi/storefront-checkout/internal/checkout"
)

// FieldErrors maps a form field key to a human-readable message.
type FieldErrors map[string]string

// Validator validates step forms.
type Validator struct {
	v *validator.Validate
}

// New returns a Validator. Field names in FieldErrors come from `form` tags.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(addressFormRules, AddressForm{})
	return &Validator{v: v}
}

// Struct validates s and returns nil when it is valid.
func (v *Validator) Struct(s any) FieldErrors {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	ves, ok := err.(validator.ValidationErrors)
	if !ok {
		return FieldErrors{"_": err.Error()}
	}
	out := make(FieldErrors, len(ves))
	for _, fe := range ves {
		out[fieldKey(fe)] = errorMessage(fe)
	}
	return out
}

// Step validates the fields owned by step. Steps without a form always pass.
func (v *Validator) Step(step checkout.StepID, ct checkout.CustomerType, data checkout.FormData) FieldErrors {
	switch step {
	case checkout.StepAddress:
		return v.Struct(AddressFormFrom(data, ct))
	case checkout.StepDelivery:
		return v.Struct(ShippingFormFrom(data))
	case checkout.StepPayment:
		return v.Struct(PaymentFormFrom(data))
	default:
		return nil
	}
}

// fieldKey strips the root struct name from the namespace, leaving the
// dotted form key ("shipping_address.city").
func fieldKey(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func errorMessage(fe validator.FieldError) string {
	field := fe.Field()
	if i := strings.LastIndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	field = strings.ReplaceAll(field, "_", " ")

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_for_business":
		return fmt.Sprintf("%s is required for business customers", field)
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", field, fe.Param())
	case "alpha":
		return fmt.Sprintf("%s must contain only letters", field)
	case "numeric":
		return fmt.Sprintf("%s must be a number", field)
	case "e164":
		return fmt.Sprintf("%s must be a phone number like +4512345678", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
