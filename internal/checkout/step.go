// Package checkout holds the checkout session state: the fixed step order,
// accumulated form data, per-step validity, transient network state, the
// pending-operation retry queue and auto-advancement.
package checkout

import "fmt"

// StepID names one stage of the checkout wizard.
type StepID string

const (
	StepAutoship     StepID = "autoship"
	StepCustomerType StepID = "customer-type"
	StepAddress      StepID = "address"
	StepDelivery     StepID = "delivery"
	StepPayment      StepID = "payment"
	StepReview       StepID = "review"
)

// Steps is the fixed wizard order.
var Steps = []StepID{
	StepAutoship,
	StepCustomerType,
	StepAddress,
	StepDelivery,
	StepPayment,
	StepReview,
}

// ParseStep validates s against the known steps.
func ParseStep(s string) (StepID, error) {
	id := StepID(s)
	if id.Index() < 0 {
		return "", fmt.Errorf("unknown checkout step %q", s)
	}
	return id, nil
}

// Index returns the position of s in Steps, or -1.
func (s StepID) Index() int {
	for i, id := range Steps {
		if id == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known step.
func (s StepID) Valid() bool { return s.Index() >= 0 }

// Optional reports whether the step may be skipped by auto-advancement.
func (s StepID) Optional() bool {
	return s == StepAutoship || s == StepCustomerType
}

// Next returns the step after s. ok is false at the last step.
func (s StepID) Next() (StepID, bool) {
	i := s.Index()
	if i < 0 || i >= len(Steps)-1 {
		return s, false
	}
	return Steps[i+1], true
}

// Prev returns the step before s. ok is false at the first step.
func (s StepID) Prev() (StepID, bool) {
	i := s.Index()
	if i <= 0 {
		return s, false
	}
	return Steps[i-1], true
}

// NextRequired returns the first non-optional step after s.
func (s StepID) NextRequired() (StepID, bool) {
	cur := s
	for {
		next, ok := cur.Next()
		if !ok {
			return s, false
		}
		if !next.Optional() {
			return next, true
		}
		cur = next
	}
}

// Progress returns (index+1)/len(Steps) for s, in [0, 1].
func (s StepID) Progress() float64 {
	i := s.Index()
	if i < 0 {
		return 0
	}
	return float64(i+1) / float64(len(Steps))
}

func (s StepID) String() string { return string(s) }

// CustomerType is the buyer category chosen in the customer-type step.
type CustomerType string

const (
	CustomerPrivate  CustomerType = "private"
	CustomerBusiness CustomerType = "business"
)

// ParseCustomerType validates s.
func ParseCustomerType(s string) (CustomerType, error) {
	switch ct := CustomerType(s); ct {
	case CustomerPrivate, CustomerBusiness:
		return ct, nil
	default:
		return "", fmt.Errorf("unknown customer type %q", s)
	}
}
