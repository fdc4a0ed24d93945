package connectivity

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Prober polls a health URL and feeds the result into a Monitor. Any
// response below 500 counts as online.
type Prober struct {
	URL      string
	Interval time.Duration
	Client   *http.Client
	Monitor  *Monitor
	Logger   *zap.Logger
}

// Run probes immediately and then every Interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		online := p.Probe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.Monitor.Set(online) {
			logger.Info("connectivity changed", zap.Bool("online", online), zap.String("url", p.URL))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Probe performs one health request.
func (p *Prober) Probe(ctx context.Context) bool {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
