package checkout

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a checkout failure.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindValidation Kind = "validation"
	KindTimeout    Kind = "timeout"
	KindServer     Kind = "server"
	KindUnknown    Kind = "unknown"
)

// Kinds lists every Kind.
var Kinds = []Kind{KindNetwork, KindValidation, KindTimeout, KindServer, KindUnknown}

type kindDefaults struct {
	recoverable bool
	retryable   bool
	action      string
}

var defaultsByKind = map[Kind]kindDefaults{
	KindNetwork: {
		recoverable: true,
		retryable:   true,
		action:      "Check your internet connection and try again.",
	},
	KindTimeout: {
		recoverable: true,
		retryable:   true,
		action:      "The request took too long. Please try again.",
	},
	KindServer: {
		recoverable: false,
		retryable:   true,
		action:      "Something went wrong on our side. Please try again in a moment.",
	},
	KindValidation: {
		recoverable: false,
		retryable:   false,
		action:      "Please review the highlighted fields.",
	},
	KindUnknown: {
		recoverable: false,
		retryable:   false,
		action:      "Please refresh the page or contact customer support.",
	},
}

// CheckoutError is the single store-level error shown in the step and the
// global banner.
type CheckoutError struct {
	Kind        Kind   `json:"type"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	Retryable   bool   `json:"retryable"`
	Action      string `json:"action,omitempty"`

	Err error `json:"-"`
}

func (e *CheckoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CheckoutError) Unwrap() error { return e.Err }

// ErrorOption overrides a kind default.
type ErrorOption func(*CheckoutError)

func WithRecoverable(v bool) ErrorOption { return func(e *CheckoutError) { e.Recoverable = v } }
func WithRetryable(v bool) ErrorOption   { return func(e *CheckoutError) { e.Retryable = v } }
func WithAction(a string) ErrorOption    { return func(e *CheckoutError) { e.Action = a } }
func WithCause(err error) ErrorOption    { return func(e *CheckoutError) { e.Err = err } }

// NewError builds a CheckoutError with the defaults of kind. Unknown kinds
// are treated as KindUnknown.
func NewError(message string, kind Kind, opts ...ErrorOption) *CheckoutError {
	d, ok := defaultsByKind[kind]
	if !ok {
		kind = KindUnknown
		d = defaultsByKind[KindUnknown]
	}
	e := &CheckoutError{
		Kind:        kind,
		Message:     message,
		Recoverable: d.recoverable,
		Retryable:   d.retryable,
		Action:      d.action,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *CheckoutError) clone() *CheckoutError {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// kinder is satisfied by errors that carry their classification.
type kinder interface {
	Kind() Kind
}

// KindOf classifies err structurally. It never inspects message text.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *CheckoutError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// Messages shown for each kind when a submission fails.
var failureMessages = map[Kind]string{
	KindNetwork:    "You appear to be offline. Your changes will be sent when the connection is back.",
	KindTimeout:    "The server took too long to respond.",
	KindServer:     "We could not save your details.",
	KindValidation: "Some fields are not valid.",
	KindUnknown:    "An unexpected error occurred.",
}

// FailureMessage returns the user-facing message for a failed submission of
// the given kind.
func FailureMessage(k Kind) string {
	if m, ok := failureMessages[k]; ok {
		return m
	}
	return failureMessages[KindUnknown]
}
