package cubescript

// MaxArguments is the number of reserved positional-argument identifiers
// arg1..argN, and the bound for per-call used-args bitsets. The original
// source fixes this at 25 (original_source/cubescript.cc:13); a second file
// in the same corpus uses 32. This implementation follows the constant the
// VM's own compiled form is built against — 25 — per DESIGN.md's resolution
// of spec.md §9's open question.
const MaxArguments = 25

// MaxResults is added to MaxArguments to size each run's value stack in
// vm.go; the value follows original_source/cubescript.cc:14.
const MaxResults = 7

// MaxRunDepth is the recursion limit enforced by the VM (spec.md §4.7).
const MaxRunDepth = 255

// IdentKind distinguishes the five kinds of identifier spec.md §3.2 names.
type IdentKind uint8

const (
	// IdentAlias is a user-definable named binding.
	IdentAlias IdentKind = iota
	// IdentIntVar is a host-owned integer variable.
	IdentIntVar
	// IdentFloatVar is a host-owned float variable.
	IdentFloatVar
	// IdentStringVar is a host-owned string variable.
	IdentStringVar
	// IdentCommand is a native callable registered by the host.
	IdentCommand
)

// Identifier flag bits, per spec.md §3.2 and §4.8.
type IdentFlag uint32

const (
	// FlagPersist marks a variable the host is expected to persist
	// (§6.4); writing to it in override mode is an error.
	FlagPersist IdentFlag = 1 << iota
	// FlagOverride makes every write to a variable an override (its prior
	// value is shadowed and restorable), as if override mode were on.
	FlagOverride
	// FlagOverridden is set on a variable currently shadowed; internal
	// bookkeeping, not meant to be set by a caller of register_var.
	FlagOverridden
	// FlagHex marks an integer variable assembled from a 1-3 argument
	// hex-triplet assignment (IVAR1/IVAR2/IVAR3).
	FlagHex
	// FlagUnknown marks a placeholder identifier; only the table's dummy
	// identifier carries it (names referenced before registration become
	// ordinary aliases). Looking it up at runtime logs "unknown alias
	// lookup" (spec.md §7.2).
	FlagUnknown
	// FlagReadOnly marks a variable the host declared but forbids
	// scripts from writing (distinct from Override: writes always fail,
	// not just outside override mode).
	FlagReadOnly
)

// CommandSpec is a registered command's call-time behavior (spec.md §6).
type CommandSpec struct {
	// ArgSpec is the argument-type specifier string, §6.2.
	ArgSpec string
	// Arity is the number of fixed (non-variadic) arguments computed
	// from ArgSpec, used by the VM to find a COM call's arguments on its
	// value stack.
	Arity int
	// Variadic is true if ArgSpec ends in C or V.
	Variadic bool
	// Fn is the native callback. args holds already-coerced Values per
	// ArgSpec; the command writes its result into *result (or leaves it
	// untouched to return null). A non-nil error aborts the current
	// statement and propagates to the nearest catching construct: loop
	// bodies check errors.Is against ErrBreak/ErrContinue (spec.md §7.3),
	// anything else unwinds all the way out of Thread.Run.
	Fn func(t *Thread, args []Value, result *Value) error
}

// VarSpec describes a host-owned int/float/string variable's storage.
type VarSpec struct {
	Flags IdentFlag

	IntMin, IntMax     int
	IntStorage         *int
	FloatMin, FloatMax float64
	FloatStorage       *float64
	StringStorage      *string

	// OnChange, if set, is invoked after every accepted write, including
	// one whose value was clamped into range; not after a rejected one.
	OnChange func(t *Thread)
}

// Ident is a single entry in the identifier table: a stable index, a name,
// flags, and a kind-specific body. Spec.md §3.2.
type Ident struct {
	Index int
	Name  string
	Flags IdentFlag
	Kind  IdentKind

	// Alias fields (Kind == IdentAlias).
	aliasValue   Value
	aliasCode    *Block // lazily compiled, released on reassignment
	argStackTop  *argStackNode
	argsPushed   int

	// Var fields.
	varSpec *VarSpec
	overInt    int
	overFloat  float64
	overString string

	// Command fields (Kind == IdentCommand).
	cmd *CommandSpec
}

// argStackNode is one saved frame in an alias's per-identifier argument
// stack (spec.md §4.4): push_arg saves the alias's current value/tag here
// and installs a new one; pop_arg restores it.
type argStackNode struct {
	saved Value
	next  *argStackNode
}

// isAlias/isVar/isCommand are small predicates used throughout the VM and
// compiler to dispatch on identifier kind.
func (id *Ident) isVar() bool {
	switch id.Kind {
	case IdentIntVar, IdentFloatVar, IdentStringVar:
		return true
	}
	return false
}
