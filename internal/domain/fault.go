package domain

import (
	"errors"
	"fmt"
)

// FaultKind classifies failures at component boundaries.
type FaultKind int

const (
	// KindDegraded: logged, the affected feature silently degrades.
	KindDegraded FaultKind = iota
	// KindUserVisible: surfaced to the user with a manual retry.
	KindUserVisible
	// KindFatalToAttempt: the subsystem stops and reports upward.
	KindFatalToAttempt
)

func (k FaultKind) String() string {
	switch k {
	case KindDegraded:
		return "degraded"
	case KindUserVisible:
		return "user_visible"
	case KindFatalToAttempt:
		return "fatal_to_attempt"
	default:
		return "unknown"
	}
}

type Fault struct {
	Kind FaultKind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %v", f.Op, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

func NewFault(kind FaultKind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}

// KindOf reports the fault kind of err. Unclassified errors are degraded.
func KindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindDegraded
}
