// Package supervisor drives the ProgramManager's monitor tick on a fixed
// wall-clock period. Start-grace and stop-grace are measured independent
// of this period, so ticking late under load or scheduler jitter never
// produces an incorrect transition — only a delayed one.
package supervisor

import (
	"context"
	"time"

	"github.com/tdameros/taskmaster-go/internal/manager"
)

// DefaultPeriod is the refresh period used when none is configured.
const DefaultPeriod = time.Second

// Loop ticks manager.MonitorTick at a fixed period until ctx is
// cancelled.
type Loop struct {
	manager *manager.ProgramManager
	period  time.Duration
}

// New constructs a Loop. A non-positive period falls back to
// DefaultPeriod.
func New(m *manager.ProgramManager, period time.Duration) *Loop {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Loop{manager: m, period: period}
}

// Run blocks, ticking until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.manager.Mu.Lock()
			l.manager.MonitorTick()
			l.manager.Mu.Unlock()
		}
	}
}
