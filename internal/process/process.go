// Package process implements the per-replica lifecycle state machine: spawn,
// signal, and kill contracts around an os/exec child, the non-blocking
// exit-code poll a Rust tokio::process::Child gets for free via try_wait,
// and the stdout fan-out (ring-buffered history plus live subscribers).
package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tdameros/taskmaster-go/internal/broadcast"
	"github.com/tdameros/taskmaster-go/internal/config"
	"github.com/tdameros/taskmaster-go/internal/logging"
	"github.com/tdameros/taskmaster-go/internal/ringbuffer"
)

const stdoutHistoryCapacity = 25

// Status is a point-in-time snapshot of a replica, used by the status
// command and by tests.
type Status struct {
	State             State
	PID               *int
	StartedSince      *time.Time
	TimeSinceShutdown *time.Time
	RestartCounter    uint32
}

type waitResult struct {
	code int
	err  error
}

// Process is one replica of a Program: a possibly-live child, its
// lifecycle timestamps, its state, and its stdout fan-out.
type Process struct {
	mu sync.Mutex

	cfg config.ProgramConfig

	cmd     *exec.Cmd
	waitCh  chan struct{}
	waitRes *waitResult

	state             State
	startedSince      *time.Time
	timeSinceShutdown *time.Time
	restartCounter    uint32

	stdoutHistory *ringbuffer.RingBuffer[string]
	broadcaster   *broadcast.Broadcaster[string]
}

// New constructs a replica in state NeverStartedYet with no child, holding
// its own clone of cfg.
func New(cfg config.ProgramConfig) *Process {
	return &Process{
		cfg:           cfg.Clone(),
		state:         NeverStartedYet,
		stdoutHistory: ringbuffer.New[string](stdoutHistoryCapacity),
		broadcaster:   broadcast.New[string](0),
	}
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsActive reports whether a child handle is currently present.
func (p *Process) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

// Snapshot returns the replica's current status for reporting.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	var pid *int
	if p.cmd != nil && p.cmd.Process != nil {
		id := p.cmd.Process.Pid
		pid = &id
	}
	return Status{
		State:             p.state,
		PID:               pid,
		StartedSince:      p.startedSince,
		TimeSinceShutdown: p.timeSinceShutdown,
		RestartCounter:    p.restartCounter,
	}
}

// Subscribe attaches a new stdout-line receiver.
func (p *Process) Subscribe() <-chan string {
	return p.broadcaster.Subscribe()
}

// StdoutHistory returns the buffered stdout lines, oldest first.
func (p *Process) StdoutHistory() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdoutHistory.Items()
}

// CleanChild detaches the child handle without signaling it. Calling this
// while the child is still alive drops the replica's only handle to it:
// the child can no longer be signalled or reported, though its reaper
// goroutine still waits on it. Callers must only do so once the child has
// exited.
func (p *Process) CleanChild() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cmd = nil
	p.waitCh = nil
	p.waitRes = nil
}

// Spawn tokenizes the configured command, launches the child in its own
// process group, wires stdout/stderr redirection, and transitions to
// Starting. On failure the replica moves to Fatal.
func (p *Process) Spawn() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fields := strings.Fields(p.cfg.Command)
	if len(fields) == 0 {
		p.state = Fatal
		return ErrNoCommand
	}

	cmd := exec.Command(fields[0], fields[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if len(p.cfg.Environment) > 0 {
		env := os.Environ()
		for k, v := range p.cfg.Environment {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	if p.cfg.WorkingDirectory != "" {
		cmd.Dir = p.cfg.WorkingDirectory
	}
	if p.cfg.DeEscalationUser != nil {
		cmd.SysProcAttr.Credential = &syscall.Credential{
			Uid: p.cfg.DeEscalationUser.UID,
			Gid: p.cfg.DeEscalationUser.GID,
		}
	}

	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		p.state = Fatal
		return fmt.Errorf("%w: %v", ErrCouldNotSpawnChild, err)
	}
	cmd.Stdout = stdoutW

	var mirror *os.File
	if p.cfg.StderrRedirect != "" {
		f, err := os.OpenFile(p.cfg.StderrRedirect, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			p.state = Fatal
			return fmt.Errorf("%w: %v", ErrFailedToCreateRedirection, err)
		}
		cmd.Stderr = f
	}
	if p.cfg.StdoutRedirect != "" {
		f, err := os.OpenFile(p.cfg.StdoutRedirect, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			p.state = Fatal
			return fmt.Errorf("%w: %v", ErrFailedToCreateRedirection, err)
		}
		mirror = f
	}

	if p.cfg.Umask != nil {
		prev := syscall.Umask(int(*p.cfg.Umask))
		defer syscall.Umask(prev)
	}

	err = cmd.Start()
	_ = stdoutW.Close()
	if err != nil {
		_ = stdout.Close()
		p.state = Fatal
		return fmt.Errorf("%w: %v", ErrCouldNotSpawnChild, err)
	}

	p.cmd = cmd
	p.waitCh = make(chan struct{})
	p.waitRes = nil
	p.state = Starting
	now := time.Now()
	p.startedSince = &now
	p.timeSinceShutdown = nil
	p.stdoutHistory.Clear()

	go p.reap(cmd, p.waitCh)
	go p.pumpStdout(stdout, mirror)

	return nil
}

func (p *Process) reap(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := err.(*exec.ExitError); err == nil || ok {
		p.waitRes = &waitResult{code: extractExitCode(cmd.ProcessState)}
	} else {
		p.waitRes = &waitResult{err: err}
	}
	close(done)
}

func extractExitCode(ps *os.ProcessState) int {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok {
		switch {
		case ws.Exited():
			return ws.ExitStatus()
		case ws.Signaled():
			return int(ws.Signal())
		}
	}
	return ps.ExitCode()
}

// exitCodeLocked is the non-blocking try_wait equivalent. Must be called
// with mu held. nil, nil means still running; non-nil code means exited;
// a non-nil error means the exit status could not be determined.
func (p *Process) exitCodeLocked() (*int, error) {
	if p.cmd == nil {
		return nil, ErrNoChild
	}
	select {
	case <-p.waitCh:
		if p.waitRes.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExitStatusNotFound, p.waitRes.err)
		}
		code := p.waitRes.code
		return &code, nil
	default:
		return nil, nil
	}
}

// SendSignal delivers sig to the child's process group and starts the
// graceful-shutdown timer.
func (p *Process) SendSignal(sig config.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.cmd.Process == nil {
		return ErrNoChild
	}
	sysSig, err := sig.Syscall()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignal, err)
	}
	if err := syscall.Kill(-p.cmd.Process.Pid, sysSig); err != nil {
		return fmt.Errorf("%w: %v", ErrSignal, err)
	}

	now := time.Now()
	p.timeSinceShutdown = &now
	p.startedSince = nil
	p.state = Stopping
	return nil
}

// Kill forces termination via SIGKILL.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.cmd.Process == nil {
		return ErrNoChild
	}
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil {
		p.state = Stopping
		return fmt.Errorf("%w: %v", ErrCantKillProcess, err)
	}
	p.state = Stopped
	return nil
}

// ItsTimeToKillTheChild reports whether the stop-grace period has elapsed
// since the stop-signal was sent.
func (p *Process) ItsTimeToKillTheChild() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timeSinceShutdown == nil {
		return false
	}
	return time.Since(*p.timeSinceShutdown) > time.Duration(p.cfg.StopGraceSeconds)*time.Second
}

func (p *Process) isNoLongerStarting(now time.Time) bool {
	if p.startedSince == nil {
		return false
	}
	return now.Sub(*p.startedSince) > time.Duration(p.cfg.StartGraceSeconds)*time.Second
}

func (p *Process) isExpectedCode(code int) bool {
	_, ok := p.cfg.ExpectedExitCodeSet()[int32(code)]
	return ok
}

// UpdateState polls the child's exit status and advances state per the
// transition table. Safe to call whether or not a child is present.
func (p *Process) UpdateState() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	code, err := p.exitCodeLocked()
	if errors.Is(err, ErrNoChild) {
		return nil
	}
	if err != nil {
		p.state = Unknown
		return err
	}

	now := time.Now()
	switch p.state {
	case Starting:
		p.updateStarting(code, now)
	case Running:
		p.updateRunning(code)
	case Stopping:
		p.updateStopping(code)
	case Unknown:
		p.updateUnknown(code)
	}
	return nil
}

func (p *Process) updateStarting(code *int, now time.Time) {
	noLongerStarting := p.isNoLongerStarting(now)
	switch {
	case code != nil && noLongerStarting:
		p.exitTo(*code)
	case code != nil:
		p.state = Backoff
	case noLongerStarting:
		p.state = Running
		p.restartCounter = 0
	}
}

func (p *Process) updateRunning(code *int) {
	if code != nil {
		p.exitTo(*code)
	}
}

func (p *Process) updateStopping(code *int) {
	if code != nil {
		p.state = Stopped
	}
}

func (p *Process) updateUnknown(code *int) {
	if code != nil {
		p.exitTo(*code)
		return
	}
	p.state = Running
}

func (p *Process) exitTo(code int) {
	if p.isExpectedCode(code) {
		p.state = ExitedExpectedly
	} else {
		p.state = ExitedUnExpectedly
	}
}

// ReactToState performs the state's side effects: spawning a fresh child
// on auto-start/backoff/restart, or forcing a kill once stop-grace has
// elapsed. logger receives ERROR-level notices for spawn/kill failures; a
// failure here never propagates to the caller, matching the monitor
// loop's "one bad replica does not skip others" contract.
func (p *Process) ReactToState(log *logging.Logger) {
	switch p.State() {
	case NeverStartedYet:
		if p.cfg.AutoStart {
			if err := p.Spawn(); err != nil {
				log.Errorf("spawn on auto-start: %v", err)
			}
		}
	case Backoff:
		p.reactBackoff(log)
	case Stopping:
		if p.ItsTimeToKillTheChild() {
			if err := p.Kill(); err != nil {
				log.Errorf("forced kill: %v", err)
			}
		}
	case ExitedExpectedly:
		if p.cfg.AutoRestart == config.AutoRestartAlways {
			p.restartAfterExit(log)
		} else {
			p.CleanChild()
		}
	case ExitedUnExpectedly:
		if p.cfg.AutoRestart == config.AutoRestartAlways || p.cfg.AutoRestart == config.AutoRestartUnexpected {
			p.restartAfterExit(log)
		} else {
			p.CleanChild()
		}
	}
}

func (p *Process) reactBackoff(log *logging.Logger) {
	p.mu.Lock()
	belowCap := p.restartCounter < p.cfg.MaxRestartAttempts
	p.mu.Unlock()

	p.CleanChild()
	if !belowCap {
		p.mu.Lock()
		p.state = Fatal
		p.mu.Unlock()
		return
	}
	if err := p.Spawn(); err != nil {
		log.Errorf("spawn on backoff retry: %v", err)
		return
	}
	p.mu.Lock()
	p.restartCounter++
	p.mu.Unlock()
}

func (p *Process) restartAfterExit(log *logging.Logger) {
	p.CleanChild()
	if err := p.Spawn(); err != nil {
		log.Errorf("spawn on auto-restart: %v", err)
	}
}
