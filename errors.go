package cubescript

import (
	"errors"
	"fmt"

	"github.com/cubescript/cubescript/internal/srcpos"
)

// CompileError is a compile-time error (spec.md §7.1): unterminated string,
// unmatched bracket, invalid identifier name used as an alias target, and
// so on. It is logged through the State's logf seam; the words of the
// current statement read before the error are still compiled, and the
// compiler goes on with the rest of the source rather than aborting it.
type CompileError struct {
	Pos     srcpos.Position
	Message string
}

func (e *CompileError) Error() string {
	if e.Pos.File == "" && e.Pos.Line == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Pos, e.Message)
}

// RuntimeError is an execution-time error. The VM returns one when the
// recursion limit is exceeded, and host commands may return one (stdlib's
// division by zero does). It travels as an ordinary error return like any
// other command error: it propagates out of every enclosing run and out of
// Thread.Run, so the rest of the script does not execute, and Thread.Run
// returns it with a null result.
type RuntimeError struct {
	Pos     srcpos.Position
	Message string
}

func (e *RuntimeError) Error() string {
	if e.Pos.File == "" && e.Pos.Line == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Pos, e.Message)
}

// Control-flow sentinel errors (spec.md §7.3): break/continue are ordinary
// Go errors propagated up the call stack via return values (not panics),
// caught only by the nearest loop construct (stdlib's loop/while commands,
// which run their body via Thread.Run and check errors.Is against these).
var (
	ErrBreak    = errors.New("cubescript: break")
	ErrContinue = errors.New("cubescript: continue")
)

// errRecursionLimit holds the recursion-limit message. The VM's depth check
// in run does not use it: it returns its own RuntimeError with the same
// text, which propagates out of every enclosing run and out of Thread.Run;
// execution does not resume at the matching EXIT.
var errRecursionLimit = errors.New("exceeded recursion limit")

// IsBreak/IsContinue let host loop commands distinguish control-flow
// signals from genuine errors without importing the sentinels directly.
func IsBreak(err error) bool    { return errors.Is(err, ErrBreak) }
func IsContinue(err error) bool { return errors.Is(err, ErrContinue) }
