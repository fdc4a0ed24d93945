package httptransport

import (
	"errors"

	"github.com/wufi/storefront-checkout/internal/apperr"
	"github.com/wufi/storefront-checkout/internal/checkout"
	"github.com/wufi/storefront-checkout/internal/model"
	"github.com/wufi/storefront-checkout/internal/steps"
)

// errorPayload describes err for the client. Internal errors are not
// echoed back.
func errorPayload(err error) *model.ErrorPayload {
	kind := apperr.Kind(err)
	p := &model.ErrorPayload{Kind: kind, Message: err.Error()}
	if kind == "internal" {
		p.Message = "internal error"
	}

	var inv *steps.InvalidFormError
	if errors.As(err, &inv) {
		p.Fields = map[string]string(inv.Fields)
	}
	var ce *checkout.CheckoutError
	if errors.As(err, &ce) {
		p.Message = ce.Message
		p.Retryable = ce.Retryable
	}
	return p
}

// resultStatus is the StepResult status of a submission error.
func resultStatus(err error) string {
	switch apperr.Kind(err) {
	case "":
		return "ok"
	case "canceled":
		return "canceled"
	default:
		return "error"
	}
}
