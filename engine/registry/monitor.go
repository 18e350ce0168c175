package registry

import (
	"context"
	"time"

	"github.com/pluginmind/pluginmind/pkg/logger"
)

// Monitor runs periodic health probes against every registered plugin and
// keeps availability flags current.
type Monitor struct {
	registry     *Registry
	interval     time.Duration
	probeTimeout time.Duration
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewMonitor creates a health monitor for the registry.
func NewMonitor(reg *Registry, interval, probeTimeout time.Duration) *Monitor {
	return &Monitor{
		registry:     reg,
		interval:     interval,
		probeTimeout: probeTimeout,
	}
}

// Start launches the probe loop. An initial probe runs immediately so that
// readiness reflects reality before the first tick.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.registry.HealthCheckAll(ctx, m.probeTimeout)
	go m.loop(ctx)
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.registry.HealthCheckAll(ctx, m.probeTimeout)
			logger.FromContext(ctx).Debug("Service health probe cycle completed",
				"services", m.registry.Len())
		}
	}
}

// Stop terminates the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}
