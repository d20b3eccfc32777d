// Package health tracks liveness of the service's dependencies (store and
// reasoning service) and folds them into one service-level flag.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Pinger is implemented by dependencies that expose a health probe.
// HealthPing returns nil when the dependency is usable.
type Pinger interface {
	HealthPing(ctx context.Context) error
}

// Checker is a component-level health checker.
type Checker interface {
	Name() string
	IsHealthy() bool
	Start(ctx context.Context, interval time.Duration)
}

// PingChecker probes one dependency on a fixed interval.
type PingChecker struct {
	name    string
	target  Pinger
	timeout time.Duration
	healthy atomic.Int32
	log     zerolog.Logger
}

func NewPingChecker(name string, target Pinger, probeTimeout time.Duration, log zerolog.Logger) *PingChecker {
	c := &PingChecker{
		name:    name,
		target:  target,
		timeout: probeTimeout,
		log:     log.With().Str("checker", name).Logger(),
	}
	c.healthy.Store(0)
	return c
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) IsHealthy() bool { return c.healthy.Load() == 1 }

func (c *PingChecker) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.target.HealthPing(pctx); err != nil {
		if c.healthy.Swap(0) == 1 {
			c.log.Error().Err(err).Msg("dependency health: DOWN")
		}
		return
	}
	if c.healthy.Swap(1) == 0 {
		c.log.Info().Msg("dependency health: UP")
	}
}

func (c *PingChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probe(ctx)
		}
	}
}

// ServiceHealthChecker aggregates component checkers into one flag for the
// /api/health endpoint.
type ServiceHealthChecker struct {
	healthy atomic.Int32
	deps    []Checker
	log     zerolog.Logger
}

func NewServiceHealthChecker(log zerolog.Logger, deps ...Checker) *ServiceHealthChecker {
	h := &ServiceHealthChecker{deps: deps, log: log}
	h.healthy.Store(0)
	return h
}

// IsHealthy returns cached service health.
func (h *ServiceHealthChecker) IsHealthy() bool { return h.healthy.Load() == 1 }

// Components reports per-dependency health for diagnostics.
func (h *ServiceHealthChecker) Components() map[string]bool {
	out := make(map[string]bool, len(h.deps))
	for _, c := range h.deps {
		out[c.Name()] = c.IsHealthy()
	}
	return out
}

// Start re-evaluates the aggregate on every tick. Component checkers run
// their own probe loops; this only folds their cached flags.
func (h *ServiceHealthChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	eval := func() {
		all := int32(1)
		for _, c := range h.deps {
			if !c.IsHealthy() {
				all = 0
			}
		}
		if h.healthy.Swap(all) != all {
			if all == 1 {
				h.log.Info().Msg("service health: UP")
			} else {
				h.log.Error().Msg("service health: DOWN")
			}
		}
	}

	eval()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eval()
		}
	}
}
