// Package model defines the request and response payloads used by the API.
// It keeps transport-level types in one place for reuse.
package model

// OpenRequest opens (or resumes) the checkout of a cart.
type OpenRequest struct {
	CartID string `json:"cart_id" binding:"required"`
}

// StepRequest names a checkout step.
type StepRequest struct {
	Step string `json:"step" binding:"required"`
}

type CustomerTypeRequest struct {
	CustomerType string `json:"customer_type" binding:"required"`
}

// ConnectivityRequest reports device connectivity.
type ConnectivityRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// KeyRequest carries one keyboard shortcut.
type KeyRequest struct {
	Key string `json:"key" binding:"required"`
}

// AutoAdvancementRequest updates auto-advancement settings. Nil fields are
// left unchanged; Toggle flips Enabled and ignores the rest.
type AutoAdvancementRequest struct {
	Enabled           *bool  `json:"enabled,omitempty"`
	DelayMS           *int64 `json:"delay_ms,omitempty" binding:"omitempty,min=0"`
	SkipOptionalSteps *bool  `json:"skip_optional_steps,omitempty"`
	OnValidation      *bool  `json:"on_validation,omitempty"`
	Toggle            bool   `json:"toggle,omitempty"`
}

// Response wraps every API response.
type Response struct {
	Status string        `json:"status"` // "ok" | "error"
	CartID string        `json:"cart_id,omitempty"`
	Data   any           `json:"data,omitempty"`
	Error  *ErrorPayload `json:"error,omitempty"`
}

// StepResult captures the outcome of a step submission.
type StepResult struct {
	Step       string `json:"step"`
	Status     string `json:"status"` // "ok" | "error" | "canceled"
	Phase      string `json:"phase,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Advancing  bool   `json:"advancing"`
}

// StepState is a step component's local state.
type StepState struct {
	Step        string            `json:"step"`
	Phase       string            `json:"phase"`
	Form        map[string]any    `json:"form"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

// KeyResult describes what a keyboard shortcut did.
type KeyResult struct {
	Key    string `json:"key"`
	Action string `json:"action"`
}

// ErrorPayload describes an error response.
type ErrorPayload struct {
	Kind      string            `json:"kind"`              // "session_not_found", "validation", "timeout"
	Message   string            `json:"message,omitempty"` // optional, human-readable error message
	Fields    map[string]string `json:"fields,omitempty"`  // field errors of an invalid form
	Retryable bool              `json:"retryable,omitempty"`
}
