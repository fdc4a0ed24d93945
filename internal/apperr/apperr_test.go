package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/wufi/storefront-checkout/internal/checkout"
)

type kindedErr struct{ k checkout.Kind }

func (e kindedErr) Error() string       { return string(e.k) }
func (e kindedErr) Kind() checkout.Kind { return e.k }

func TestKind(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("wrapped: %w", ErrSessionNotFound)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "session_not_found", err: ErrSessionNotFound, want: "session_not_found"},
		{name: "session_not_found_wrapped", err: wrapped, want: "session_not_found"},
		{name: "invalid_step", err: ErrInvalidStep, want: "invalid_step"},
		{name: "in_progress", err: ErrSubmissionInProgress, want: "submission_in_progress"},
		{name: "checkout_error", err: checkout.NewError("x", checkout.KindNetwork), want: "network"},
		{name: "kinder", err: kindedErr{k: checkout.KindValidation}, want: "validation"},
		{name: "deadline", err: context.DeadlineExceeded, want: "timeout"},
		{name: "canceled", err: context.Canceled, want: "canceled"},
		{name: "unknown", err: errors.New("unknown"), want: "internal"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Kind(tt.err); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "session_not_found", err: ErrSessionNotFound, want: http.StatusNotFound},
		{name: "bad_request", err: fmt.Errorf("decode: %w", ErrBadRequest), want: http.StatusBadRequest},
		{name: "not_reachable", err: ErrStepNotReachable, want: http.StatusConflict},
		{name: "order_not_ready", err: ErrOrderNotReady, want: http.StatusConflict},
		{name: "validation", err: checkout.NewError("x", checkout.KindValidation), want: http.StatusUnprocessableEntity},
		{name: "network", err: checkout.NewError("x", checkout.KindNetwork), want: http.StatusServiceUnavailable},
		{name: "server", err: checkout.NewError("x", checkout.KindServer), want: http.StatusBadGateway},
		{name: "unknown_kind", err: checkout.NewError("x", checkout.KindUnknown), want: http.StatusInternalServerError},
		{name: "deadline", err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
		{name: "canceled", err: context.Canceled, want: http.StatusRequestTimeout},
		{name: "unknown", err: errors.New("unknown"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := HTTPStatus(tt.err); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
