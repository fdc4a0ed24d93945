// Package httptransport implements the HTTP API of the checkout service.
package httptransport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wufi/storefront-checkout/internal/apperr"
	"github.com/wufi/storefront-checkout/internal/checkout"
	"github.com/wufi/storefront-checkout/internal/consent"
	"github.com/wufi/storefront-checkout/internal/model"
	"github.com/wufi/storefront-checkout/internal/pool"
	"github.com/wufi/storefront-checkout/internal/session"
)

// Config wires a Handler.
type Config struct {
	Sessions *session.Manager
	Consent  *consent.Service
	// Slots caps concurrent step submissions across all sessions.
	Slots          *pool.Pool
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Handler serves the checkout API.
type Handler struct {
	sessions       *session.Manager
	consent        *consent.Service
	slots          *pool.Pool
	requestTimeout time.Duration
	logger         *zap.Logger
}

// New returns a Handler.
//
// It panics if Sessions or Consent is nil. If RequestTimeout is
// non-positive, a default timeout is applied.
func New(cfg Config) *Handler {
	if cfg.Sessions == nil || cfg.Consent == nil {
		panic("httptransport.New: nil dependency")
	}
	if cfg.Slots == nil {
		cfg.Slots = pool.New(pool.MaxSize)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Handler{
		sessions:       cfg.Sessions,
		consent:        cfg.Consent,
		slots:          cfg.Slots,
		requestTimeout: cfg.RequestTimeout,
		logger:         cfg.Logger,
	}
}

// Register mounts the API routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)

	api := r.Group("/api/v1")

	co := api.Group("/checkout")
	co.POST("", h.OpenSession)
	co.GET("/:cartId", h.GetView)
	co.DELETE("/:cartId", h.ResetSession)
	co.PUT("/:cartId/step", h.SetStep)
	co.POST("/:cartId/next", h.NextStep)
	co.POST("/:cartId/prev", h.PrevStep)
	co.PATCH("/:cartId/form", h.PatchForm)
	co.PUT("/:cartId/customer-type", h.SetCustomerType)
	co.PATCH("/:cartId/steps/:step/fields", h.SetFields)
	co.POST("/:cartId/steps/:step/submit", h.SubmitStep)
	co.GET("/:cartId/shipping-options", h.ShippingOptions)
	co.PUT("/:cartId/auto-advancement", h.SetAutoAdvancement)
	co.PUT("/:cartId/connectivity", h.SetConnectivity)
	co.POST("/:cartId/retry", h.Retry)
	co.DELETE("/:cartId/error", h.ClearError)
	co.POST("/:cartId/keys", h.HandleKey)
	co.POST("/:cartId/complete", h.PlaceOrder)

	cs := api.Group("/consent")
	cs.GET("/:visitorId", h.GetConsent)
	cs.PUT("/:visitorId", h.SaveConsent)
	cs.GET("/:visitorId/scripts", h.ConsentScripts)
}

// context bounds the backend work of one request.
func (h *Handler) context(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.requestTimeout)
}

func (h *Handler) ok(c *gin.Context, status int, cartID string, data any) {
	c.JSON(status, model.Response{Status: "ok", CartID: cartID, Data: data})
}

func (h *Handler) fail(c *gin.Context, cartID string, err error) {
	h.failWith(c, cartID, nil, err)
}

func (h *Handler) failWith(c *gin.Context, cartID string, data any, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed",
			zap.String("cart_id", cartID),
			zap.String("kind", apperr.Kind(err)),
			zap.Error(err),
		)
	}
	c.JSON(status, model.Response{Status: "error", CartID: cartID, Data: data, Error: errorPayload(err)})
}

func (h *Handler) bind(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrBadRequest, err)
	}
	return nil
}

func (h *Handler) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(c.Param("cartId"))
	if err != nil {
		h.fail(c, c.Param("cartId"), err)
		return nil, false
	}
	return s, true
}

func stepParam(raw string) (checkout.StepID, error) {
	step, err := checkout.ParseStep(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", apperr.ErrInvalidStep, raw)
	}
	return step, nil
}

// Health reports liveness and the number of open sessions.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": h.sessions.Len()})
}

// OpenSession opens or resumes the checkout of a cart.
func (h *Handler) OpenSession(c *gin.Context) {
	var req model.OpenRequest
	if err := h.bind(c, &req); err != nil {
		h.fail(c, "", err)
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	s, created, err := h.sessions.Open(ctx, req.CartID)
	if err != nil {
		h.fail(c, req.CartID, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.ok(c, status, s.CartID, s.Orchestrator.View())
}

func (h *Handler) GetView(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	h.ok(c, http.StatusOK, s.CartID, s.Orchestrator.View())
}

// ResetSession starts the checkout over.
func (h *Handler) ResetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.Orchestrator.Reset()
	h.ok(c, http.StatusOK, s.CartID, s.Orchestrator.View())
}

func (h *Handler) SetStep(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req model.StepRequest
	if err := h.bind(c, &req); err != nil {
		h.fail(c, s.CartID, err)
		return
	}
	step, err := stepParam(req.Step)
	if err == nil {
		err = s.Orchestrator.GoTo(step)
	}
	if err != nil {
		h.fail(c, s.CartID, err)
		return
	}
	h.ok(c, http.StatusOK, s.CartID, s.Orchestrator.View())
}

func (h *Handler) NextStep(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Orchestrator.Next(); err != nil {
		h.fail(c, s.CartID, err)
		return
	}
	h.ok(c, http.StatusOK, s.CartID, s.Orchestrator.View())
}

func (h *Handler) PrevStep(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.Orchestrator.Prev()
	h.ok(c, http.StatusOK, s.CartID, s.Orchestrator.View())
}

// PatchForm applies a JSON merge patch to the session's form data and
// reseeds the step components from the result.
func (h *Handler) PatchForm(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	patch, err := c.GetRawData()
	if err != nil {
		h.fail(c, s.CartID, fmt.Errorf("%w: %v", apperr.ErrBadRequest, err))
		return
	}
	merged, err := s.Store.FormData().ApplyMergePatch(patch)
	if err != nil {
		h.fail(c, s.CartID, fmt.Errorf("%w: %v", apperr.ErrBadRequest, err))
		return
	}
	s.Store.ReplaceFormData(merged)
	for _, id := range checkout.Steps {
		if comp, ok := s.Step(id); ok {
			comp.Reload()
			comp.Validate()
		}
	}
	h.ok(c, http.StatusOK, s.CartID, s.Orchestrator.View())
}

func (h *Handler) SetCustomerType(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req model.CustomerTypeRequest
	if err := h.bind(c, &req); err != nil {
		h.fail(c, s.CartID, err)
		return
	}
	ct, err := checkout.ParseCustomerType(req.CustomerType)
	if err != nil {
		h.fail(c, s.CartID, fmt.Errorf("%w: %v", apperr.ErrBadRequest, err))
		return
	}
	s.Orchestrator.SetCustomerType(ct)
	h.ok(c, http.StatusOK, s.CartID, s.Orchestrator.View())
}

// SetFields updates a step component's local form. The store sees the
// change after the sync debounce.
func (h *Handler) SetFields(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	step, err := stepParam(c.Param("step"))
	if err != nil {
		h.fail(c, s.CartID, err)
		return
	}
	comp, ok := s.Step(step)
	if !ok {
		h.fail(c, s.CartID, fmt.Errorf("%w: step %s has no fields", apperr.ErrInvalidStep, step))
		return
	}

	var partial checkout.FormData
	if err := h.bind(c, &partial); err != nil {
		h.fail(c, s.CartID, err)
		return
	}
	if err := comp.SetFields(partial); err != nil {
		h.fail(c, s.CartID, err)
		return
	}
	h.ok(c, http.StatusOK, s.CartID, model.StepState{
		Step:        string(step),
		Phase:       string(comp.Phase()),
		Form:        comp.Form(),
		FieldErrors: comp.FieldErrors(),
	})
}

// SubmitStep submits one step. Submissions share a global slot pool; a
// request that cannot get a slot before its deadline times out.
func (h *Handler) SubmitStep(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	step, err := stepParam(c.Param("step"))
	if err != nil {
		h.fail(c, s.CartID, err)
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	if err := h.slots.Acquire(ctx); err != nil {
		h.fail(c, s.CartID, err)
		return
	}
	defer h.slots.Release()

	start := time.Now()
	err = s.Orchestrator.Submit(ctx, step)

	res := model.StepResult{
		Step:       string(step),
		Status:     resultStatus(err),
		DurationMS: time.Since(start).Milliseconds(),
		Advancing:  s.Store.AdvancePending(),
	}
	if comp, ok := s.Step(step); ok {
		res.Phase = string(comp.Phase())
	}
	if err != nil {
		h.failWith(c, s.CartID, res, err)
		return
	}
	h.ok(c, http.StatusOK, s.CartID, res)
}

func (h *Handler) ShippingOptions(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	ctx, cancel := h.context(c)
	defer cancel()

	opts, err := s.Shipping.Options(ctx)
	if err != nil {
		h.fail(c, s.CartID, err)
		return
	}
	h.ok(c, http.StatusOK, s.CartID, gin.H{"shipping_options": opts})
}

func (h *Handler) SetAutoAdvancement(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req model.AutoAdvancementRequest
	if err := h.bind(c, &req); err != nil {
		h.fail(c, s.CartID, err)
		return
	}

	if req.Toggle {
		s.Store.ToggleAutoAdvancement()
	} else {
		a := s.Store.AutoAdvancement()
		if req.Enabled != nil {
			a.Enabled = *req.Enabled
		}
		if req.DelayMS != nil {
			a.DelayMS = *req.DelayMS
		}
		if req.SkipOptionalSteps != nil {
			a.SkipOptionalSteps = *req.SkipOptionalSteps
		}
		if req.OnValidation != nil {
			a.OnValidation = *req.OnValidation
		}
		s.Store.SetAutoAdvancement(a)
	}
	h.ok(c, http.StatusOK, s.CartID, s.Store.AutoAdvancement())
}

// SetConnectivity records the device's connectivity. Coming back online
// retries the pending operations in the background.
func (h *Handler) SetConnectivity(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req model.ConnectivityRequest
	if err := h.bind(c, &req); err != nil {
		h.fail(c, s.CartID, err)
		return
	}
	changed := s.Orchestrator.SetOnline(*req.Online)
	h.ok(c, http.StatusOK, s.CartID, gin.H{"online": *req.Online, "changed": changed})
}

// Retry resubmits every pending operation that is due.
func (h *Handler) Retry(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	ctx, cancel := h.context(c)
	defer cancel()

	res, err := s.Orchestrator.RetryAll(ctx)
	if err != nil {
		h.failWith(c, s.CartID, res, err)
		return
	}
	h.ok(c, http.StatusOK, s.CartID, res)
}

func (h *Handler) ClearError(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.Store.ClearError()
	h.ok(c, http.StatusOK, s.CartID, s.Orchestrator.View())
}

func (h *Handler) HandleKey(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req model.KeyRequest
	if err := h.bind(c, &req); err != nil {
		h.fail(c, s.CartID, err)
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	action, err := s.Orchestrator.HandleKey(ctx, req.Key)
	if err != nil {
		h.fail(c, s.CartID, err)
		return
	}
	h.ok(c, http.StatusOK, s.CartID, model.KeyResult{Key: req.Key, Action: action})
}

// PlaceOrder completes the cart.
func (h *Handler) PlaceOrder(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	ctx, cancel := h.context(c)
	defer cancel()

	order, err := s.Orchestrator.PlaceOrder(ctx)
	if err != nil {
		h.fail(c, s.CartID, err)
		return
	}
	h.ok(c, http.StatusCreated, s.CartID, order)
}

func (h *Handler) GetConsent(c *gin.Context) {
	settings, decided, err := h.consent.Get(c.Request.Context(), c.Param("visitorId"))
	if err != nil {
		h.fail(c, "", err)
		return
	}
	h.ok(c, http.StatusOK, "", gin.H{"settings": settings, "decided": decided})
}

func (h *Handler) SaveConsent(c *gin.Context) {
	var in consent.Settings
	if err := h.bind(c, &in); err != nil {
		h.fail(c, "", err)
		return
	}
	saved, err := h.consent.Save(c.Request.Context(), c.Param("visitorId"), in)
	if err != nil {
		h.fail(c, "", err)
		return
	}
	h.ok(c, http.StatusOK, "", gin.H{"settings": saved, "decided": true})
}

func (h *Handler) ConsentScripts(c *gin.Context) {
	scripts, err := h.consent.Scripts(c.Request.Context(), c.Param("visitorId"))
	if err != nil {
		h.fail(c, "", err)
		return
	}
	h.ok(c, http.StatusOK, "", gin.H{"scripts": scripts})
}
