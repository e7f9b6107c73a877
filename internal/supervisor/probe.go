package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/lensfield/photoshell/internal/infrastructure/logging"
	"github.com/lensfield/photoshell/internal/infrastructure/monitoring"
)

// readinessPaths are probed in order; the backend is considered live as
// soon as any of them answers in the success range.
var readinessPaths = []string{"/health", "/api/health", "/docs"}

// Backoff schedule for readiness polling.
const (
	probeBackoffStart  = 100 * time.Millisecond
	probeBackoffFactor = 1.5
	probeBackoffCap    = time.Second
)

// Prober issues bounded-timeout liveness probes against the backend's
// HTTP endpoints.
type Prober struct {
	client  *resty.Client
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewProber creates a prober whose individual probes abort after
// probeTimeout rather than hanging. metrics may be nil.
func NewProber(probeTimeout time.Duration, logger *logging.Logger, metrics *monitoring.Metrics) *Prober {
	if logger == nil {
		logger = logging.NewNop()
	}
	if probeTimeout <= 0 {
		probeTimeout = 3 * time.Second
	}

	// Reuse the hardened retryablehttp transport, but probes never retry
	// internally; the caller owns the backoff schedule.
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.Logger = nil

	client := resty.New().
		SetTimeout(probeTimeout).
		SetTransport(retryClient.HTTPClient.Transport).
		SetHeader("User-Agent", "Photoshell-Probe/1.0")

	return &Prober{client: client, logger: logger, metrics: metrics}
}

// Probe issues one liveness check against the backend on port, returning
// the observed latency. Any endpoint answering 200-399 counts as alive.
func (p *Prober) Probe(ctx context.Context, port int) (time.Duration, error) {
	start := time.Now()

	var lastErr error
	for _, path := range readinessPaths {
		url := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
		resp, err := p.client.R().SetContext(ctx).Get(url)
		if err != nil {
			lastErr = err
			continue
		}
		code := resp.StatusCode()
		if code >= 200 && code < 400 {
			latency := time.Since(start)
			if p.metrics != nil {
				p.metrics.RecordProbe(latency, true)
			}
			return latency, nil
		}
		lastErr = fmt.Errorf("%s returned %d", path, code)
	}

	if p.metrics != nil {
		p.metrics.RecordProbe(0, false)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no readiness endpoint reachable on port %d", port)
	}
	return 0, lastErr
}

// WaitUntilReady polls the liveness endpoints with increasing backoff
// until one answers or the deadline elapses. Timeout is reported as
// false, not an error, so callers choose between degraded mode and
// failing hard.
func (p *Prober) WaitUntilReady(ctx context.Context, port int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	delay := probeBackoffStart

	for attempt := 1; ; attempt++ {
		if _, err := p.Probe(ctx, port); err == nil {
			p.logger.Info("backend ready",
				zap.Int("port", port),
				zap.Int("attempts", attempt))
			return true
		}

		if time.Now().Add(delay).After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * probeBackoffFactor)
		if delay > probeBackoffCap {
			delay = probeBackoffCap
		}
	}
}
