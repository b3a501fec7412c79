package process

import "errors"

// Sentinel errors forming the process-lifecycle taxonomy. Wrap with
// fmt.Errorf("...: %w", Err...) where extra context helps; compare with
// errors.Is at call sites that branch on error class.
var (
	// ErrNoChild is returned by any operation that requires a live child
	// handle (signal, kill, exit-code query) when none is present.
	ErrNoChild = errors.New("process: no child")

	// ErrNoCommand is returned by Spawn when the configured command line
	// tokenizes to zero arguments.
	ErrNoCommand = errors.New("process: empty command")

	// ErrFailedToCreateRedirection is returned by Spawn when the
	// configured stdout/stderr redirection file could not be opened.
	ErrFailedToCreateRedirection = errors.New("process: failed to create redirection")

	// ErrCouldNotSpawnChild is returned by Spawn when the underlying
	// exec.Cmd.Start call fails.
	ErrCouldNotSpawnChild = errors.New("process: could not spawn child")

	// ErrSignal is returned by SendSignal when delivering the signal
	// fails (ESRCH, EPERM, ...).
	ErrSignal = errors.New("process: signal delivery failed")

	// ErrCantKillProcess is returned by Kill when the forced-kill signal
	// could not be delivered.
	ErrCantKillProcess = errors.New("process: could not kill child")

	// ErrExitStatusNotFound is returned by UpdateState when the child's
	// exit status could not be queried; the process moves to Unknown.
	ErrExitStatusNotFound = errors.New("process: exit status not found")
)
