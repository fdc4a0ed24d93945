package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wufi/storefront-checkout/internal/checkout"
)

const tracerName = "github.com/wufi/storefront-checkout/internal/backend"

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	BaseURL        string
	PublishableKey string
	Timeout        time.Duration

	// Breaker trips after FailureThreshold consecutive network, timeout or
	// server failures and stays open for OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// HTTPOption customizes an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption { return func(c *HTTPClient) { c.http = hc } }

// WithTracerProvider sets the provider spans are started from.
func WithTracerProvider(tp trace.TracerProvider) HTTPOption {
	return func(c *HTTPClient) { c.tracer = tp.Tracer(tracerName) }
}

// WithLogger sets the logger used for breaker state changes.
func WithLogger(l *zap.Logger) HTTPOption { return func(c *HTTPClient) { c.logger = l } }

// Recorder receives per-call outcomes and breaker transitions.
type Recorder interface {
	RecordBackendCall(op string, kind checkout.Kind, err error, d time.Duration)
	SetCircuitBreakerState(name string, state int)
}

type nopRecorder struct{}

func (nopRecorder) RecordBackendCall(string, checkout.Kind, error, time.Duration) {}
func (nopRecorder) SetCircuitBreakerState(string, int)                            {}

// WithRecorder sets where call metrics go.
func WithRecorder(r Recorder) HTTPOption { return func(c *HTTPClient) { c.rec = r } }

// HTTPClient is a Client for a Medusa-style store API. Calls go through a
// circuit breaker and each one is traced.
type HTTPClient struct {
	baseURL string
	key     string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	tracer  trace.Tracer
	logger  *zap.Logger
	rec     Recorder
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds an HTTPClient.
func NewHTTPClient(cfg HTTPConfig, opts ...HTTPOption) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	c := &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		key:     cfg.PublishableKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		tracer:  otel.Tracer(tracerName),
		logger:  zap.NewNop(),
		rec:     nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store-api",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: breakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			c.rec.SetCircuitBreakerState(name, int(to))
		},
	})
	return c
}

// breakerSuccess counts client errors and cancellations as successes; only
// failures of the store API itself trip the breaker.
func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch checkout.KindOf(err) {
	case checkout.KindNetwork, checkout.KindTimeout, checkout.KindServer:
		return false
	default:
		return true
	}
}

// BreakerState reports the circuit breaker state.
func (c *HTTPClient) BreakerState() gobreaker.State { return c.cb.State() }

func (c *HTTPClient) SetAddresses(ctx context.Context, cartID string, in AddressesInput) error {
	path := "/store/carts/" + url.PathEscape(cartID)
	return c.do(ctx, OpSetAddresses, http.MethodPost, path, in, nil)
}

func (c *HTTPClient) ListShippingOptions(ctx context.Context, cartID string) ([]ShippingOption, error) {
	var out struct {
		ShippingOptions []ShippingOption `json:"shipping_options"`
	}
	path := "/store/shipping-options?cart_id=" + url.QueryEscape(cartID)
	if err := c.do(ctx, OpListShipping, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.ShippingOptions, nil
}

func (c *HTTPClient) CalculateShippingPrice(ctx context.Context, cartID, optionID string) (ShippingOption, error) {
	var out struct {
		ShippingOption ShippingOption `json:"shipping_option"`
	}
	path := "/store/shipping-options/" + url.PathEscape(optionID) + "/calculate"
	in := map[string]string{"cart_id": cartID}
	if err := c.do(ctx, OpCalculateShipping, http.MethodPost, path, in, &out); err != nil {
		return ShippingOption{}, err
	}
	return out.ShippingOption, nil
}

func (c *HTTPClient) SetShippingMethod(ctx context.Context, cartID, optionID string) error {
	path := "/store/carts/" + url.PathEscape(cartID) + "/shipping-methods"
	in := map[string]string{"option_id": optionID}
	return c.do(ctx, OpSetShippingMethod, http.MethodPost, path, in, nil)
}

type paymentCollection struct {
	ID              string `json:"id"`
	PaymentSessions []struct {
		ID         string `json:"id"`
		ProviderID string `json:"provider_id"`
		Data       struct {
			ClientSecret string `json:"client_secret"`
		} `json:"data"`
	} `json:"payment_sessions"`
}

// InitiatePayment creates a payment collection for the cart and opens a
// session with providerID on it.
func (c *HTTPClient) InitiatePayment(ctx context.Context, cartID, providerID string) (PaymentSession, error) {
	var created struct {
		PaymentCollection paymentCollection `json:"payment_collection"`
	}
	in := map[string]string{"cart_id": cartID}
	if err := c.do(ctx, OpInitiatePayment, http.MethodPost, "/store/payment-collections", in, &created); err != nil {
		return PaymentSession{}, err
	}

	var out struct {
		PaymentCollection paymentCollection `json:"payment_collection"`
	}
	path := "/store/payment-collections/" + url.PathEscape(created.PaymentCollection.ID) + "/payment-sessions"
	if err := c.do(ctx, OpInitiatePayment, http.MethodPost, path, map[string]string{"provider_id": providerID}, &out); err != nil {
		return PaymentSession{}, err
	}
	for _, s := range out.PaymentCollection.PaymentSessions {
		if s.ProviderID == providerID {
			return PaymentSession{ID: s.ID, ProviderID: s.ProviderID, ClientSecret: s.Data.ClientSecret}, nil
		}
	}
	return PaymentSession{}, &Error{
		Class: checkout.KindServer,
		Op:    OpInitiatePayment,
		Err:   fmt.Errorf("no payment session for provider %q", providerID),
	}
}

// CompleteCart places the order. A cart that is not ready yields a
// validation error carrying the store's message.
func (c *HTTPClient) CompleteCart(ctx context.Context, cartID string) (Order, error) {
	var out struct {
		Type  string `json:"type"`
		Order Order  `json:"order"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	path := "/store/carts/" + url.PathEscape(cartID) + "/complete"
	if err := c.do(ctx, OpCompleteCart, http.MethodPost, path, nil, &out); err != nil {
		return Order{}, err
	}
	if out.Type != "order" {
		msg := out.Error.Message
		if msg == "" {
			msg = "cart could not be completed"
		}
		return Order{}, &Error{Class: checkout.KindValidation, Op: OpCompleteCart, Err: errors.New(msg)}
	}
	return out.Order, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, in, out any) error {
	ctx, span := c.tracer.Start(ctx, "backend."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		),
	)
	defer span.End()

	start := time.Now()
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, span, op, method, path, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &Error{Class: checkout.KindServer, Op: op, Err: err}
	}
	if err != nil {
		kind := checkout.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("checkout.error_kind", string(kind)))
		c.rec.RecordBackendCall(op, kind, err, time.Since(start))
		return err
	}
	c.rec.RecordBackendCall(op, "", nil, time.Since(start))
	return nil
}

func (c *HTTPClient) roundTrip(ctx context.Context, span trace.Span, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := sonic.Marshal(in)
		if err != nil {
			return &Error{Class: checkout.KindUnknown, Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Class: checkout.KindUnknown, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("x-publishable-api-key", c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Class: transportKind(err), Op: op, Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Class: transportKind(err), Op: op, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &Error{
			Class:  KindForStatus(resp.StatusCode),
			Op:     op,
			Status: resp.StatusCode,
			Err:    errors.New(apiMessage(raw, resp.Status)),
		}
	}

	if out != nil && len(raw) > 0 {
		if err := sonic.Unmarshal(raw, out); err != nil {
			return &Error{Class: checkout.KindServer, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

// transportKind classifies an error from http.Client.Do.
func transportKind(err error) checkout.Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return checkout.KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return checkout.KindTimeout
	}
	return checkout.KindNetwork
}

// apiMessage extracts {"message": "..."} from an error body.
func apiMessage(raw []byte, fallback string) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := sonic.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return fallback
}
