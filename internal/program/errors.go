package program

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrNotFound is returned by manager-level lookups for an unconfigured
// program name.
var ErrNotFound = errors.New("program: not found")

// logicError marks a per-replica skip (already active / already
// inactive) as distinct from a genuine process-lifecycle error: it never
// by itself forces a TotalFailure verdict.
type logicError struct{ msg string }

func (e *logicError) Error() string { return e.msg }

func newLogicError(msg string) error { return &logicError{msg: msg} }

func isLogicError(err error) bool {
	var le *logicError
	return errors.As(err, &le)
}

// Kind classifies the outcome of a fanned-out replica operation.
type Kind int

const (
	// Success means every replica succeeded.
	Success Kind = iota
	// PartialSuccess means at least one replica succeeded, or the only
	// failures were logic skips.
	PartialSuccess
	// TotalFailure means every replica failed with a genuine process
	// error and none succeeded.
	TotalFailure
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case PartialSuccess:
		return "partial_success"
	default:
		return "total_failure"
	}
}

// AggregateError reports a non-Success outcome of start/stop/restart
// across a program's replicas.
type AggregateError struct {
	Kind Kind
	Errs []error
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, multierr.Combine(e.Errs...))
}

// Unwrap exposes the constituent errors to errors.Is/As via multierr's
// own combined error chain.
func (e *AggregateError) Unwrap() error { return multierr.Combine(e.Errs...) }

// determineOrderResult implements the §4.4 aggregation rule over one
// round of per-replica results.
func determineOrderResult(results []error) error {
	var successes int
	var logicErrs, processErrs []error

	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case isLogicError(err):
			logicErrs = append(logicErrs, err)
		default:
			processErrs = append(processErrs, err)
		}
	}

	if len(logicErrs) == 0 && len(processErrs) == 0 {
		return nil
	}
	if len(logicErrs) == 0 && successes == 0 {
		return &AggregateError{Kind: TotalFailure, Errs: processErrs}
	}
	return &AggregateError{Kind: PartialSuccess, Errs: append(logicErrs, processErrs...)}
}

// squishOrderResult implements the §4.4 squish rule combining a stop
// round with the subsequent start round of a restart.
func squishOrderResult(stopErr, startErr error) error {
	if stopErr == nil && startErr == nil {
		return nil
	}

	var all []error
	allTotalFailure := true

	for _, err := range []error{stopErr, startErr} {
		if err == nil {
			allTotalFailure = false
			continue
		}
		var agg *AggregateError
		if errors.As(err, &agg) {
			all = append(all, agg.Errs...)
			if agg.Kind != TotalFailure {
				allTotalFailure = false
			}
			continue
		}
		all = append(all, err)
	}

	if allTotalFailure {
		return &AggregateError{Kind: TotalFailure, Errs: all}
	}
	return &AggregateError{Kind: PartialSuccess, Errs: all}
}
