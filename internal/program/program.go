// Package program implements the named replica set: a Program owns a
// fixed-at-construction vector of process.Process replicas and fans
// start/stop/restart commands across them, aggregating per-replica
// outcomes per the order-result rules.
package program

import (
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tdameros/taskmaster-go/internal/config"
	"github.com/tdameros/taskmaster-go/internal/logging"
	"github.com/tdameros/taskmaster-go/internal/process"
)

// Program is a named, fixed-size set of replicas sharing one config
// snapshot.
type Program struct {
	Name     string
	cfg      config.ProgramConfig
	replicas []*process.Process
}

// New constructs a Program with cfg.NumberOfProcess replicas, each in
// state NeverStartedYet.
func New(name string, cfg config.ProgramConfig) *Program {
	n := int(cfg.NumberOfProcess)
	replicas := make([]*process.Process, n)
	for i := range replicas {
		replicas[i] = process.New(cfg)
	}
	return &Program{Name: name, cfg: cfg.Clone(), replicas: replicas}
}

// Replicas exposes the replica vector in order; index 0 is the replica
// Attach pins to.
func (p *Program) Replicas() []*process.Process { return p.replicas }

// Monitor advances every replica's state machine one tick. A replica
// error is logged and does not block the others.
func (p *Program) Monitor(log *logging.Logger) {
	for _, r := range p.replicas {
		if err := r.UpdateState(); err != nil {
			log.Errorf("program %s: %v", p.Name, err)
		}
		r.ReactToState(log)
	}
}

// ShouldBeKept reports whether newCfg holds an equal ProgramConfig for
// this program's name, the relation a reload uses to decide survival.
func (p *Program) ShouldBeKept(newCfg config.Config) bool {
	other, ok := newCfg[p.Name]
	return ok && p.cfg.Equal(other)
}

// ShutdownAll best-effort stop-signals every replica, falling back to a
// forced kill if signalling fails. Failures are logged, never returned.
func (p *Program) ShutdownAll(log *logging.Logger) {
	for _, r := range p.replicas {
		if err := r.SendSignal(p.cfg.StopSignal); err != nil {
			log.Errorf("program %s: shutdown signal: %v", p.Name, err)
			if err := r.Kill(); err != nil {
				log.Errorf("program %s: shutdown kill: %v", p.Name, err)
			}
		}
	}
}

// CleanInactive drops replicas that are no longer Starting, Running, or
// Stopping.
func (p *Program) CleanInactive() {
	kept := p.replicas[:0]
	for _, r := range p.replicas {
		if r.State().HasChild() {
			kept = append(kept, r)
		}
	}
	p.replicas = kept
}

// IsClean reports whether the replica vector has been fully drained.
func (p *Program) IsClean() bool { return len(p.replicas) == 0 }

// Start spawns every inactive replica concurrently, returning a
// PartialSuccess/TotalFailure aggregate if any replica did not start
// cleanly.
func (p *Program) Start() error {
	results := make([]error, len(p.replicas))
	var g errgroup.Group
	for i, r := range p.replicas {
		i, r := i, r
		g.Go(func() error {
			if r.IsActive() {
				results[i] = newLogicError("process is already active")
				return nil
			}
			results[i] = r.Spawn()
			return nil
		})
	}
	_ = g.Wait()
	return determineOrderResult(results)
}

// Stop signals every active replica, falling back to Kill when the
// signal itself fails to send.
func (p *Program) Stop() error {
	results := make([]error, len(p.replicas))
	var g errgroup.Group
	for i, r := range p.replicas {
		i, r := i, r
		g.Go(func() error {
			if !r.IsActive() {
				results[i] = newLogicError("process is already inactive")
				return nil
			}
			if err := r.SendSignal(p.cfg.StopSignal); err != nil {
				results[i] = r.Kill()
				return nil
			}
			results[i] = nil
			return nil
		})
	}
	_ = g.Wait()
	return determineOrderResult(results)
}

// Restart stops every replica, waits a fixed settle period, lets one
// monitor pass advance their state, then starts every replica again.
// The one-second sleep mirrors the source's restart contract: commands
// are serialized during a restart by the caller's write lock.
func (p *Program) Restart(log *logging.Logger) error {
	stopErr := p.Stop()
	time.Sleep(time.Second)
	p.Monitor(log)
	startErr := p.Start()
	return squishOrderResult(stopErr, startErr)
}
