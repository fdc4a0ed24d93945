package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wufi/storefront-checkout/internal/metrics"
	"github.com/wufi/storefront-checkout/internal/middleware"
)

// NewRouter returns the gin engine serving h. A nil m disables /metrics.
func NewRouter(h *Handler, m *metrics.Metrics, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery(logger))
	if m != nil {
		r.Use(middleware.Metrics(m, m.HTTPRequestsInFlight))
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}
	r.Use(middleware.Logging(logger, "/health", "/metrics"))

	h.Register(r)
	return r
}
