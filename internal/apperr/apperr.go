// Package apperr holds the errors surfaced by the checkout API and their
// classification into a kind string and an HTTP status.
package apperr

import (
	"context"
	"errors"
	"net/http"

	"github.com/wufi/storefront-checkout/internal/checkout"
)

var (
	ErrSessionNotFound      = errors.New("checkout session not found")
	ErrInvalidStep          = errors.New("unknown checkout step")
	ErrStepNotReachable     = errors.New("checkout step not reachable yet")
	ErrSubmissionInProgress = errors.New("submission already in progress")
	ErrUnknownKey           = errors.New("unknown keyboard shortcut")
	ErrOrderNotReady        = errors.New("checkout is not ready for order placement")
	ErrBadRequest           = errors.New("bad request")
)

// checkoutKinder is satisfied by errors classified with a checkout kind.
type checkoutKinder interface {
	Kind() checkout.Kind
}

var sentinels = []struct {
	err  error
	kind string
}{
	{ErrSessionNotFound, "session_not_found"},
	{ErrInvalidStep, "invalid_step"},
	{ErrStepNotReachable, "step_not_reachable"},
	{ErrSubmissionInProgress, "submission_in_progress"},
	{ErrUnknownKey, "unknown_key"},
	{ErrOrderNotReady, "order_not_ready"},
	{ErrBadRequest, "bad_request"},
}

// Kind classifies err. Checkout failures keep their checkout kind.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}

	var ce *checkout.CheckoutError
	if errors.As(err, &ce) {
		return string(ce.Kind)
	}
	var k checkoutKinder
	if errors.As(err, &k) {
		return string(k.Kind())
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return string(checkout.KindTimeout)
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

var kindToStatus = map[string]int{
	"session_not_found":      http.StatusNotFound,
	"invalid_step":           http.StatusBadRequest,
	"unknown_key":            http.StatusBadRequest,
	"bad_request":            http.StatusBadRequest,
	"step_not_reachable":     http.StatusConflict,
	"submission_in_progress": http.StatusConflict,
	"order_not_ready":        http.StatusConflict,
	"canceled":               http.StatusRequestTimeout,
}

var checkoutKindToStatus = map[checkout.Kind]int{
	checkout.KindValidation: http.StatusUnprocessableEntity,
	checkout.KindNetwork:    http.StatusServiceUnavailable,
	checkout.KindServer:     http.StatusBadGateway,
	checkout.KindTimeout:    http.StatusGatewayTimeout,
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	k := Kind(err)
	if s, ok := kindToStatus[k]; ok {
		return s
	}
	if s, ok := checkoutKindToStatus[checkout.Kind(k)]; ok {
		return s
	}
	return http.StatusInternalServerError
}
