package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusError     = "error"
)

// Features lists the resilience features a facade has switched on.
type Features struct {
	Caching   bool `json:"caching"`
	Analytics bool `json:"analytics"`
	Retries   bool `json:"retries"`
}

// Health is the result of a single connectivity probe.
type Health struct {
	Status    string        `json:"status"`
	Mode      string        `json:"mode"`
	Latency   time.Duration `json:"-"`
	LatencyMS int64         `json:"latency_ms"`
	Features  Features      `json:"features"`
	Error     string        `json:"error,omitempty"`
}

func (f *Facade) features() Features {
	return Features{
		Caching:   f.cfg.EnableCaching,
		Analytics: f.cfg.EnableAnalytics,
		Retries:   f.cfg.MaxRetries > 0,
	}
}

// HealthCheck probes the remote service once, without retries. A failed probe
// is reported in the result rather than returned: "unhealthy" when the
// service answered with an error and "error" when it could not be reached.
func (f *Facade) HealthCheck(ctx context.Context) (h Health) {
	h = Health{Mode: f.Mode(), Features: f.features()}

	c, ok := f.conn.(Configured)
	if !ok {
		h.Status = StatusHealthy
		return h
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			h.Status = StatusError
			h.Error = fmt.Sprint(r)
			f.log.Error().Interface("panic", r).Msg("health check panicked")
		}
		h.Latency = time.Since(start)
		h.LatencyMS = h.Latency.Milliseconds()
	}()

	err := c.Remote.Ping(ctx)
	switch {
	case err == nil:
		h.Status = StatusHealthy
	case unreachable(err):
		h.Status = StatusError
		h.Error = err.Error()
	default:
		h.Status = StatusUnhealthy
		h.Error = err.Error()
	}
	return h
}

func unreachable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
