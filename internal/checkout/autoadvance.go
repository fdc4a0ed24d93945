package checkout

import "time"

// MinAutoAdvanceDelay is the floor applied to AutoAdvancement.DelayMS.
const MinAutoAdvanceDelay = 2000 * time.Millisecond

// AutoAdvancement gates whether completing a step schedules a transition
// to the next one.
type AutoAdvancement struct {
	Enabled           bool  `json:"enabled" yaml:"enabled"`
	DelayMS           int64 `json:"delayMs" yaml:"delay_ms"`
	SkipOptionalSteps bool  `json:"skipOptionalSteps" yaml:"skip_optional_steps"`
	OnValidation      bool  `json:"autoAdvanceOnValidation" yaml:"on_validation"`
}

// DefaultAutoAdvancement returns the initial settings.
func DefaultAutoAdvancement() AutoAdvancement {
	return AutoAdvancement{
		Enabled:      true,
		DelayMS:      MinAutoAdvanceDelay.Milliseconds(),
		OnValidation: true,
	}
}

// Delay returns the effective delay, never below MinAutoAdvanceDelay.
func (a AutoAdvancement) Delay() time.Duration {
	d := time.Duration(a.DelayMS) * time.Millisecond
	if d < MinAutoAdvanceDelay {
		return MinAutoAdvanceDelay
	}
	return d
}

// Target returns the step auto-advancement moves to from s.
func (a AutoAdvancement) Target(s StepID) (StepID, bool) {
	if a.SkipOptionalSteps {
		return s.NextRequired()
	}
	return s.Next()
}
