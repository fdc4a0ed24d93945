package orchestrator

import (
	"github.com/wufi/storefront-checkout/internal/checkout"
	"github.com/wufi/storefront-checkout/internal/notify"
	"github.com/wufi/storefront-checkout/internal/steps"
	"github.com/wufi/storefront-checkout/internal/validation"
)

// StepStatus is one entry of the step indicator.
type StepStatus struct {
	ID          checkout.StepID        `json:"id"`
	Index       int                    `json:"index"`
	Valid       bool                   `json:"valid"`
	Reachable   bool                   `json:"reachable"`
	Current     bool                   `json:"current"`
	Optional    bool                   `json:"optional"`
	Phase       steps.Phase            `json:"phase,omitempty"`
	FieldErrors validation.FieldErrors `json:"fieldErrors,omitempty"`
}

// View is everything the checkout template renders.
type View struct {
	CartID         string                   `json:"cartId"`
	CurrentStep    checkout.StepID          `json:"currentStep"`
	StepIndex      int                      `json:"stepIndex"`
	TotalSteps     int                      `json:"totalSteps"`
	Progress       float64                  `json:"progress"`
	Steps          []StepStatus             `json:"steps"`
	FormData       checkout.FormData        `json:"formData"`
	CustomerType   checkout.CustomerType    `json:"customerType"`
	Error          *checkout.CheckoutError  `json:"error"`
	Online         bool                     `json:"isOnline"`
	Loading        bool                     `json:"isLoading"`
	PendingCount   int                      `json:"pendingCount"`
	AutoAdvance    checkout.AutoAdvancement `json:"autoAdvancement"`
	AdvancePending bool                     `json:"advancePending"`
	Toasts         []notify.Toast           `json:"toasts"`
}

// View renders the current session state.
func (o *Orchestrator) View() View {
	st := o.store.State()
	cur := st.CurrentStep

	statuses := make([]StepStatus, len(checkout.Steps))
	for i, id := range checkout.Steps {
		ss := StepStatus{
			ID:        id,
			Index:     i,
			Valid:     st.StepValidation[id],
			Reachable: i <= cur.Index() || o.store.CanProceedToStep(id),
			Current:   id == cur,
			Optional:  id.Optional(),
		}
		if s, ok := o.steps[id]; ok {
			ss.Phase = s.Phase()
			ss.FieldErrors = s.FieldErrors()
		}
		statuses[i] = ss
	}

	return View{
		CartID:         o.cartID,
		CurrentStep:    cur,
		StepIndex:      cur.Index(),
		TotalSteps:     len(checkout.Steps),
		Progress:       cur.Progress(),
		Steps:          statuses,
		FormData:       st.FormData,
		CustomerType:   st.CustomerType,
		Error:          st.Error,
		Online:         st.Online,
		Loading:        st.Loading,
		PendingCount:   len(st.PendingOperations),
		AutoAdvance:    st.AutoAdvancement,
		AdvancePending: o.store.AdvancePending(),
		Toasts:         o.feed.Recent(ToastsInView),
	}
}
