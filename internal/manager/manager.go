// Package manager implements ProgramManager: the map of live Programs
// plus a purgatory of draining ones, the monitor tick that advances
// every replica's state machine, and the config-reload diff.
package manager

import (
	"errors"
	"strconv"
	"sync"

	"github.com/tdameros/taskmaster-go/internal/config"
	"github.com/tdameros/taskmaster-go/internal/logging"
	"github.com/tdameros/taskmaster-go/internal/process"
	"github.com/tdameros/taskmaster-go/internal/program"
	"github.com/tdameros/taskmaster-go/internal/wire"
)

// FatalHook is invoked, in its own goroutine, whenever a replica
// transitions to process.Fatal during a monitor tick. It is an
// observability seam with no equivalent request/response surface; nil by
// default.
type FatalHook func(programName, replicaID string)

// ProgramManager owns every configured Program plus the purgatory of
// programs a reload has scheduled for removal. Every exported method
// here assumes its caller already holds the appropriate lease on Mu; the
// supervisor loop and the control surface are the two callers, and both
// serialize through the same RWMutex.
type ProgramManager struct {
	Mu sync.RWMutex

	programs  map[string]*program.Program
	purgatory map[string]*program.Program

	log     *logging.Logger
	OnFatal FatalHook
}

// New populates programs from cfg with an empty purgatory.
func New(cfg config.Config, log *logging.Logger) *ProgramManager {
	programs := make(map[string]*program.Program, len(cfg))
	for name, pc := range cfg {
		programs[name] = program.New(name, pc)
	}
	return &ProgramManager{
		programs:  programs,
		purgatory: make(map[string]*program.Program),
		log:       log,
	}
}

// MonitorTick advances every program in programs, then every program in
// purgatory, then sweeps purgatory of fully-drained entries. The
// ordering lets programs removed by a reload keep advancing their
// shutdown state until they vanish.
func (m *ProgramManager) MonitorTick() {
	for name, p := range m.programs {
		m.monitorOne(name, p)
	}
	for name, p := range m.purgatory {
		m.monitorOne(name, p)
	}
	m.cleanPurgatory()
}

func (m *ProgramManager) monitorOne(name string, p *program.Program) {
	before := make(map[int]process.State, len(p.Replicas()))
	for i, r := range p.Replicas() {
		before[i] = r.State()
	}

	p.Monitor(m.log)

	if m.OnFatal == nil {
		return
	}
	for i, r := range p.Replicas() {
		if before[i] != process.Fatal && r.State() == process.Fatal {
			go m.OnFatal(name, replicaID(name, i))
		}
	}
}

func replicaID(programName string, index int) string {
	return programName + "/" + strconv.Itoa(index)
}

// ErrNoReplicas is returned by Subscribe when the named program exists
// but currently has zero replicas to attach to.
var ErrNoReplicas = errors.New("manager: program has no replicas")

// ReloadConfig applies newCfg in three phases: drain programs no longer
// matching newCfg into purgatory, shut those down, then add programs
// newly present in newCfg. Surviving programs keep their replicas and
// child handles untouched.
func (m *ProgramManager) ReloadConfig(newCfg config.Config) {
	m.drainToPurgatory(newCfg)
	m.shutdownPurgatory()
	m.addNewPrograms(newCfg)
}

func (m *ProgramManager) drainToPurgatory(newCfg config.Config) {
	for name, p := range m.programs {
		if !p.ShouldBeKept(newCfg) {
			m.purgatory[name] = p
			delete(m.programs, name)
		}
	}
}

func (m *ProgramManager) shutdownPurgatory() {
	for _, p := range m.purgatory {
		p.ShutdownAll(m.log)
	}
}

func (m *ProgramManager) addNewPrograms(newCfg config.Config) {
	for name, pc := range newCfg {
		if _, exists := m.programs[name]; !exists {
			m.programs[name] = program.New(name, pc)
		}
	}
}

func (m *ProgramManager) cleanPurgatory() {
	for name, p := range m.purgatory {
		p.CleanInactive()
		if p.IsClean() {
			delete(m.purgatory, name)
		}
	}
}

// StartProgram, StopProgram, and RestartProgram look up name in programs
// only; purgatory is invisible to commands.
func (m *ProgramManager) StartProgram(name string) error {
	p, ok := m.programs[name]
	if !ok {
		return program.ErrNotFound
	}
	return p.Start()
}

func (m *ProgramManager) StopProgram(name string) error {
	p, ok := m.programs[name]
	if !ok {
		return program.ErrNotFound
	}
	return p.Stop()
}

func (m *ProgramManager) RestartProgram(name string) error {
	p, ok := m.programs[name]
	if !ok {
		return program.ErrNotFound
	}
	return p.Restart(m.log)
}

// GetStatus produces a status snapshot for every live program, in no
// particular map-iteration-stable order.
func (m *ProgramManager) GetStatus() []wire.ProgramStatus {
	out := make([]wire.ProgramStatus, 0, len(m.programs))
	for name, p := range m.programs {
		replicas := p.Replicas()
		statuses := make([]wire.ProcessStatus, len(replicas))
		for i, r := range replicas {
			statuses[i] = toWireStatus(r.Snapshot())
		}
		out = append(out, wire.ProgramStatus{Name: name, Status: statuses})
	}
	return out
}

func toWireStatus(s process.Status) wire.ProcessStatus {
	return wire.ProcessStatus{
		State:             toWireState(s.State),
		PID:               s.PID,
		StartedSince:      s.StartedSince,
		TimeSinceShutdown: s.TimeSinceShutdown,
		RestartCounter:    s.RestartCounter,
	}
}

func toWireState(s process.State) wire.ProcessState {
	switch s {
	case process.NeverStartedYet:
		return wire.StateNeverStartedYet
	case process.Starting:
		return wire.StateStarting
	case process.Running:
		return wire.StateRunning
	case process.Backoff:
		return wire.StateBackoff
	case process.Stopping:
		return wire.StateStopping
	case process.Stopped:
		return wire.StateStopped
	case process.ExitedExpectedly:
		return wire.StateExitedExpectedly
	case process.ExitedUnExpectedly:
		return wire.StateExitedUnExpectedly
	case process.Fatal:
		return wire.StateFatal
	default:
		return wire.StateUnknown
	}
}

// ShutdownAllPrograms best-effort stop-signals every replica of every
// live program; used on daemon exit.
func (m *ProgramManager) ShutdownAllPrograms() {
	for _, p := range m.programs {
		p.ShutdownAll(m.log)
	}
}

// Subscribe returns a fresh broadcast receiver attached to replica 0 of
// the named program, per the Attach contract's pinned-replica resolution
// of the source's ambiguous implicit-selection behavior. Returns
// program.ErrNotFound if no such program exists, or ErrNoReplicas if it
// has zero replicas.
func (m *ProgramManager) Subscribe(name string) (<-chan string, error) {
	p, ok := m.programs[name]
	if !ok {
		return nil, program.ErrNotFound
	}
	replicas := p.Replicas()
	if len(replicas) == 0 {
		return nil, ErrNoReplicas
	}
	return replicas[0].Subscribe(), nil
}
