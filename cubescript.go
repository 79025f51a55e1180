// Package cubescript implements a compiler and stack-based bytecode VM for
// CubeScript, an embeddable, dynamically-typed configuration and scripting
// language where every value is, at bottom, a string.
//
// A State holds the shared identifier table, string pool, and registered
// commands/variables for one language instance. A Thread executes bytecode
// against a State: each Thread owns its own VM call stack and recursion
// counter, but shares the State's identifiers (and therefore its aliases,
// variables, and compiled bytecode) with any sibling Threads spawned from
// the same State.
package cubescript

import (
	"fmt"

	"github.com/cubescript/cubescript/internal/flushio"
	"github.com/cubescript/cubescript/internal/panicerr"
)

// State is one CubeScript language instance: the identifier table, the
// interned string pool, and the registered commands/variables that every
// Thread spawned from it shares. Grounded on the teacher's VM type (api.go,
// options.go), split into a shared State and a per-execution Thread because
// spec.md §5 requires child threads to share identifiers/bytecode but own
// independent VM stacks — FIRST/THIRD has no such split since it only ever
// runs one machine at a time.
type State struct {
	idents *IdentTable
	strs   *StringPool

	out    flushio.WriteFlusher
	logfn  func(format string, args ...interface{})
	onVar  func(t *Thread, id *Ident)
	onCall func(t *Thread, id *Ident, args []Value)

	emptyBlocks map[Tag]*Block
}

// Thread is one execution context against a State: its own recursion depth
// counter and call-frame chain. Safe to run concurrently with sibling
// Threads of the same State only if the registered commands themselves are
// safe for concurrent use — the State's identifier table is read-mostly
// after setup but alias values and var storage are shared mutable state, so
// concurrent Threads that both assign the same alias race exactly as
// concurrent goroutines sharing a variable would (spec.md §5, "Non-goals:
// a concurrency story for shared mutable script state").
type Thread struct {
	state        *State
	frame        *CallFrame
	rundepth     int
	overrideMode bool
}

// SetOverrideMode toggles whether subsequent variable writes on t are
// treated as overrides (spec.md §4.8), e.g. while loading a layered config
// script whose settings should be reversible via ClearOverrides.
func (t *Thread) SetOverrideMode(on bool) { t.overrideMode = on }

// NewState constructs a State with the given options applied. Grounded on
// the teacher's New(opts ...VMOption) (options.go/api.go).
func NewState(opts ...Option) *State {
	strs := NewStringPool()
	s := &State{
		idents: newIdentTable(strs),
		strs:   strs,
	}
	defaultOptions.apply(s)
	Options(opts...).apply(s)
	return s
}

// NewThread spawns an execution context sharing s's identifiers, string
// pool, and registered commands/variables (spec.md §5).
func (s *State) NewThread() *Thread {
	return &Thread{state: s}
}

func (s *State) logf(format string, args ...interface{}) {
	if s.logfn != nil {
		s.logfn(format, args...)
	}
}

// RegisterCommand installs a host command under name, replacing any prior
// command/var/alias of the same name (spec.md §6.1's register_command).
func (s *State) RegisterCommand(name string, spec *CommandSpec) error {
	_, err := s.idents.registerCommand(name, spec)
	return err
}

// RegisterVar installs a host-backed variable under name (spec.md §6.1's
// register_var).
func (s *State) RegisterVar(name string, kind IdentKind, spec *VarSpec) error {
	_, err := s.idents.registerVar(name, kind, spec)
	return err
}

// NewAlias creates or overwrites a script-visible alias directly from the
// host (spec.md §6.1's new_alias), bypassing compilation.
func (s *State) NewAlias(name string, v Value) error {
	_, err := s.idents.newAlias(name, v)
	return err
}

// Lookup returns the identifier named name, or nil if none is declared yet.
func (s *State) Lookup(name string) *Ident { return s.idents.Lookup(name) }

// SetCallHook installs a callback invoked immediately before every command
// or alias call (spec.md §6.1's set_call_hook), useful for tracing/metrics
// or a debugger's step mode. A nil hook disables tracing.
func (s *State) SetCallHook(fn func(t *Thread, id *Ident, args []Value)) {
	s.onCall = fn
}

// SetVarPrinter installs the callback PRINT-opcode invocations (the bare
// `varname` statement form) dispatch to (spec.md §6.1's set_var_printer).
func (s *State) SetVarPrinter(fn func(t *Thread, id *Ident)) {
	s.onVar = fn
}

// SetLogf swaps the compile/runtime diagnostic sink installed at
// construction (WithLogf), letting a long-lived host such as the language
// server redirect a single Compile call's diagnostics without recreating
// the State.
func (s *State) SetLogf(fn func(format string, args ...interface{})) {
	s.logfn = fn
}

// Compile compiles src (one top-level CubeScript program, as from a file or
// a command argument) into a refcounted Block ready to Run. Errors collected
// during compilation are reported via the logf seam: the words of the
// offending statement read before the error are still compiled, and
// compilation goes on with the rest of the source rather than aborting it.
// Compile itself only fails on unrecoverable conditions (e.g. in future
// extension points).
func (s *State) Compile(src string) (*Block, error) {
	return compile(s, src, "")
}

// CompileFile compiles src, attributing positions to filename in any
// reported errors.
func (s *State) CompileFile(filename, src string) (*Block, error) {
	return compile(s, src, filename)
}

// Run executes code and returns its result forced to no particular type
// (spec.md §6.1's run). It is the Thread-level entry point every Run*
// convenience wrapper funnels through, mirroring the teacher's single
// vm.run(ctx) funnel beneath Run/RunString/etc (api.go).
//
// A host command panicking (a bug, not a deliberate break/continue — those
// travel as ordinary error returns, see CommandSpec.Fn) is recovered here via
// internal/panicerr, rather than taking down the embedding process, the way
// the teacher's own Recover-wrapped entry points contain a misbehaving word.
func (t *Thread) Run(code *Block) (Value, error) {
	if code == nil || code.Freed() {
		return Null(), nil
	}
	code.incref()
	defer code.decref()
	defer t.state.flushOutput()

	var v Value
	err := panicerr.Recover("cubescript.Run", func() error {
		var runErr error
		v, runErr = t.execIn(code.Code[1:], code)
		return runErr
	})
	return v, err
}

// flushOutput flushes the configured output writer, the way the teacher's
// Core.halt flushes its buffered vm.out before returning control to the
// caller — so a script's echo/print output reaches the sink even if the
// embedder reads it from a pipe rather than an in-memory buffer.
func (s *State) flushOutput() {
	if s.out != nil {
		_ = s.out.Flush()
	}
}

// RunString compiles and runs src in one step (spec.md §6.1's run_str family
// collapsed to Go's single entry point, since callers can always Compile
// first when they want to reuse the Block).
func (t *Thread) RunString(src string) (Value, error) {
	blk, err := t.state.Compile(src)
	if err != nil {
		return Null(), err
	}
	blk.incref()
	defer blk.decref()
	return t.Run(blk)
}

// RunWithCallerArgs runs code with the current call frame's positional
// arguments (arg1..argN) temporarily unwound to the parent frame's, so code
// sees its caller's arguments rather than its own. Grounded on
// original_source/cubescript.cc's cs_do_args helper backing the `doargs`
// command (spec.md §4.4's do_args); used as the dynamic-dispatch fallback
// when `doargs` is invoked through a computed name rather than compiled
// directly to DOARGS (see compileCall's "doargs" special case).
func (t *Thread) RunWithCallerArgs(code *Block) (Value, error) {
	if code == nil || code.Freed() {
		return Null(), nil
	}
	code.incref()
	defer code.decref()

	var v Value
	err := doArgsWindow(t, func() error {
		var runErr error
		v, runErr = t.execIn(code.Code[1:], code)
		return runErr
	})
	return v, err
}

// RunInt runs code and forces the result to an int.
func (t *Thread) RunInt(code *Block) (int, error) {
	v, err := t.Run(code)
	if err != nil {
		return 0, err
	}
	return v.ForceInt(), nil
}

// RunFloat runs code and forces the result to a float64.
func (t *Thread) RunFloat(code *Block) (float64, error) {
	v, err := t.Run(code)
	if err != nil {
		return 0, err
	}
	return v.ForceFloat(), nil
}

// RunBool runs code and forces the result through CubeScript's boolean
// coercion rules (spec.md §4.2).
func (t *Thread) RunBool(code *Block) (bool, error) {
	v, err := t.Run(code)
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

// RunStr runs code and forces the result to a string.
func (t *Thread) RunStr(code *Block) (string, error) {
	v, err := t.Run(code)
	if err != nil {
		return "", err
	}
	return v.ForceStr(), nil
}

// State returns the State t executes against, for host commands that need
// to declare aliases or look up identifiers outside the Get/SetVar surface
// (e.g. a loop construct binding its own loop variable).
func (t *Thread) State() *State { return t.state }

// GetAlias returns name's current alias value, or Null if name is unset or
// not an alias (spec.md §4.4); unlike GetVar, never an error, since looking
// up a not-yet-declared alias is the normal situation.
func (t *Thread) GetAlias(name string) Value {
	id := t.state.idents.Lookup(name)
	if id == nil || id.Kind != IdentAlias {
		return Null()
	}
	return id.aliasValue.clone()
}

// GetVar returns the current value of an identifier registered as a
// variable, or an error if name is not a var (spec.md §6.1's get_var).
func (t *Thread) GetVar(name string) (Value, error) {
	id := t.state.idents.Lookup(name)
	if id == nil || !id.isVar() {
		return Null(), fmt.Errorf("cubescript: %q is not a variable", name)
	}
	return id.currentVarValue(), nil
}

// SetVar assigns a variable's value, applying the override policy described
// in spec.md §4.8 (override.go).
func (t *Thread) SetVar(name string, v Value, force bool) error {
	id := t.state.idents.Lookup(name)
	if id == nil || !id.isVar() {
		return fmt.Errorf("cubescript: %q is not a variable", name)
	}
	return t.setVar(id, v, force)
}

// ResetVar clears any override recorded against name, immediately restoring
// the value it held before it was overridden (spec.md §4.8's
// clear_override).
func (t *Thread) ResetVar(name string) error {
	id := t.state.idents.Lookup(name)
	if id == nil || !id.isVar() {
		return fmt.Errorf("cubescript: %q is not a variable", name)
	}
	clearOverride(id)
	return nil
}

// Print writes s followed by a newline to the State's configured output
// (WithOutput), the same sink PRINT-opcode var printing uses by default.
// Host commands such as stdlib's echo use this rather than reaching for
// os.Stdout directly, so embedders can capture or redirect script output.
func (t *Thread) Print(s string) {
	fmt.Fprintln(t.state.out, s)
}

// TouchVar re-runs a variable's OnChange hook without altering its value,
// useful for applying a persisted config value loaded outside of script
// execution (spec.md §6.1's touch_var).
func (t *Thread) TouchVar(name string) error {
	id := t.state.idents.Lookup(name)
	if id == nil || !id.isVar() {
		return fmt.Errorf("cubescript: %q is not a variable", name)
	}
	if id.varSpec != nil && id.varSpec.OnChange != nil {
		id.varSpec.OnChange(t)
	}
	return nil
}

// ClearOverrides clears every variable's override flag (spec.md §4.8's
// clear_overrides), typically called once at the end of loading a batch of
// config scripts so that a later persisted write doesn't carry stale
// in-session overrides.
func (s *State) ClearOverrides() {
	for i := 0; i < len(s.idents.byIdx); i++ {
		id := s.idents.byIdx[i]
		if id != nil && id.isVar() {
			clearOverride(id)
		}
	}
}

// WalkPersistedVars calls fn with the name and current live value of every
// variable registered with FlagPersist, in identifier-declaration order. Used
// by config.Collect to build a savable snapshot without exposing the
// identifier table itself.
func (s *State) WalkPersistedVars(fn func(name string, v Value)) {
	for i := 0; i < len(s.idents.byIdx); i++ {
		id := s.idents.byIdx[i]
		if id != nil && id.isVar() && id.Flags&FlagPersist != 0 {
			fn(id.Name, id.currentVarValue())
		}
	}
}
