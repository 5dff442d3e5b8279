// Package health periodically probes every registered worker's /health
// endpoint and keeps the registry's cached status current: short per-call
// timeouts, no locks held across network I/O, and a background loop that
// coalesces overlapping ticks.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/eduassist/supervisor/internal/obslog"
	"github.com/eduassist/supervisor/internal/registry"
)

// Prober runs the periodic and on-demand /health checks: a short timeout
// per call, healthy only on HTTP 200 with body {"status":"healthy"},
// everything else offline.
type Prober struct {
	reg      *registry.Registry
	client   *http.Client
	interval time.Duration
	logger   obslog.Logger

	runMu   sync.Mutex // coalesces overlapping ticks
	stopCh  chan struct{}
	stopped sync.Once
}

// New builds a Prober with the given poll interval and per-call timeout.
func New(reg *registry.Registry, interval, timeout time.Duration, logger obslog.Logger) *Prober {
	return &Prober{
		reg:      reg,
		client:   &http.Client{Timeout: timeout},
		interval: interval,
		logger:   logger.WithComponent("health"),
		stopCh:   make(chan struct{}),
	}
}

// Run starts the background polling loop; it blocks until ctx is canceled
// or Stop is called. Call it in its own goroutine.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// Stop ends the background loop started by Run.
func (p *Prober) Stop() {
	p.stopped.Do(func() { close(p.stopCh) })
}

// ProbeAll fans out a concurrent probe to every registered agent. A new
// call coalesces with any still in flight via runMu, so a slow round of
// probing never overlaps the next tick.
func (p *Prober) ProbeAll(ctx context.Context) {
	if !p.runMu.TryLock() {
		return
	}
	defer p.runMu.Unlock()

	agents := p.reg.List()
	var wg sync.WaitGroup
	for _, a := range agents {
		wg.Add(1)
		go func(id, url string) {
			defer wg.Done()
			p.probeOne(ctx, id, url)
		}(a.ID, a.URL)
	}
	wg.Wait()
}

// Probe performs a single on-demand re-probe, used by the dispatcher
// immediately before forwarding when the cached status isn't healthy.
func (p *Prober) Probe(ctx context.Context, id string) bool {
	snap, ok := p.reg.Get(id)
	if !ok {
		return false
	}
	return p.probeOne(ctx, snap.ID, snap.URL)
}

type healthBody struct {
	Status string `json:"status"`
}

func (p *Prober) probeOne(ctx context.Context, id, url string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, p.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url+"/health", nil)
	if err != nil {
		p.reg.SetStatus(id, registry.StatusOffline)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.reg.SetStatus(id, registry.StatusOffline)
		return false
	}
	defer resp.Body.Close()

	healthy := false
	if resp.StatusCode == http.StatusOK {
		var body healthBody
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Status == "healthy" {
			healthy = true
		}
	}

	if healthy {
		p.reg.SetStatus(id, registry.StatusHealthy)
		return true
	}
	p.reg.SetStatus(id, registry.StatusOffline)
	p.logger.Debug("agent probe unhealthy", map[string]interface{}{"agent_id": id, "status_code": resp.StatusCode})
	return false
}
