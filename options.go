package cubescript

import (
	"io"

	"github.com/cubescript/cubescript/internal/flushio"
)

// Option configures a State at construction time. Grounded on the teacher's
// VMOption/options.go functional-options pattern: an unexported interface
// with unexported concrete option types, each an apply(*State) method, and
// exported With* constructors returning the interface type.
type Option interface{ apply(s *State) }

var defaultOptions = Options(
	withOutput(io.Discard),
)

// Options bundles a slice of Option into a single Option, so NewState can
// apply its defaults and the caller's options through one uniform code path
// (mirrors the teacher's VMOptions(opts...) helper).
type options []Option

func Options(opts ...Option) Option { return options(opts) }

func (os options) apply(s *State) {
	for _, o := range os {
		if o != nil {
			o.apply(s)
		}
	}
}

type outputOption struct{ io.Writer }
type logfnOption func(format string, args ...interface{})
type callHookOption func(t *Thread, id *Ident, args []Value)
type varPrinterOption func(t *Thread, id *Ident)

func (o outputOption) apply(s *State)   { s.out = flushio.NewWriteFlusher(o.Writer) }
func (o logfnOption) apply(s *State)    { s.logfn = o }
func (o callHookOption) apply(s *State) { s.onCall = o }
func (o varPrinterOption) apply(s *State) {
	s.onVar = o
}

// WithOutput sets the writer PRINT-family opcodes and stdlib output commands
// write to. Defaults to io.Discard, mirroring the teacher's default of
// ioutil.Discard until a caller supplies a real sink. Wrapped through
// flushio.NewWriteFlusher the way the teacher's own Core.out is (core.go),
// so an unbuffered sink isn't hit with a write call per character while
// still flushing reliably once a Run completes (see Thread.Run).
func WithOutput(w io.Writer) Option { return withOutput(w) }

func withOutput(w io.Writer) Option { return outputOption{w} }

// WithLogf installs a printf-style sink for compile/runtime diagnostics
// (spec.md §7's non-fatal error reporting), mirroring the teacher's
// WithLogf(logfn) seam (api.go/options.go).
func WithLogf(logfn func(format string, args ...interface{})) Option {
	return logfnOption(logfn)
}

// WithCallHook installs a hook invoked before every command/alias
// invocation (spec.md §6.1's set_call_hook).
func WithCallHook(fn func(t *Thread, id *Ident, args []Value)) Option {
	return callHookOption(fn)
}

// WithVarPrinter installs the callback a bare `varname` statement dispatches
// to (spec.md §6.1's set_var_printer).
func WithVarPrinter(fn func(t *Thread, id *Ident)) Option {
	return varPrinterOption(fn)
}
