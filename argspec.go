package cubescript

import "fmt"

// argType is the per-position coercion the compiler applies to a command
// call's arguments, derived from its registered ArgSpec (spec.md §6.2).
type argType byte

const (
	argAny argType = iota
	argInt
	argFloat
	argString
	argBorrowedString
	argCond
	argCode
	argIdent
	// argIntDefaultMin is spec.md §6.2's `b`: an integer argument that
	// defaults to intArgDefaultMin (C's INT_MIN) rather than 0 when the
	// call site omits it.
	argIntDefaultMin
	// argFloatDupPrev is spec.md §6.2's `F`: a float argument that
	// defaults to a copy of the previously pushed argument rather than
	// 0.0 when omitted.
	argFloatDupPrev
	// argSelf is spec.md §6.2's `$`: injected, not positional — always
	// pushes the identifier of the command being called, never
	// consuming a call-site word.
	argSelf
	// argCallCount is spec.md §6.2's `N`: injected, not positional —
	// always pushes the number of real (non-defaulted, non-injected)
	// call-site arguments consumed so far.
	argCallCount
)

// intArgDefaultMin is the default value an omitted `b`-typed argument takes,
// matching original_source/cubescript.cc's use of the platform's INT_MIN
// (a 32-bit int there) rather than Go's wider native int minimum.
const intArgDefaultMin = -2147483648

// ParseArgSpec decodes a command argument-type specifier (spec.md §6.2) into
// the per-position coercions the compiler needs and the fixed arity/
// variadic-ness the VM needs to size COM/COMV/COMC dispatch. Grounded on the
// original's add_command argmask walk (original_source/cubescript.cc:1006
// onward), adapted from a packed bitmask to a plain slice since Go has no
// need to fit the per-arg type info into a machine word.
func ParseArgSpec(spec string) (types []argType, arity int, variadic, concat bool, err error) {
	for i := 0; i < len(spec); i++ {
		c := spec[i]
		if c >= '1' && c <= '4' {
			return nil, 0, false, false, fmt.Errorf("cubescript: argspec %q: digit repeat must follow a type letter", spec)
		}
		var t argType
		switch c {
		case 'i':
			t = argInt
		case 'b':
			t = argIntDefaultMin
		case 'f':
			t = argFloat
		case 'F':
			t = argFloatDupPrev
		case 'S':
			t = argString
		case 's':
			t = argBorrowedString
		case 't', 'T':
			t = argAny
		case 'E':
			t = argCond
		case 'e':
			t = argCode
		case 'r':
			t = argIdent
		case '$':
			t = argSelf
		case 'N':
			t = argCallCount
		case 'C', 'V':
			variadic = true
			concat = c == 'C'
			continue
		default:
			return nil, 0, false, false, fmt.Errorf("cubescript: invalid argspec character %q in %q", c, spec)
		}
		repeat := 1
		if i+1 < len(spec) && spec[i+1] >= '1' && spec[i+1] <= '4' {
			repeat = int(spec[i+1] - '0')
			i++
		}
		for r := 0; r < repeat; r++ {
			types = append(types, t)
		}
	}
	return types, len(types), variadic, concat, nil
}

// NewCommandSpec builds a *CommandSpec from a textual argspec, computing
// Arity/Variadic once at registration time. The compiler still re-parses
// the spec at each call site (compileComCall) for the per-argument types.
func NewCommandSpec(argspec string, fn func(t *Thread, args []Value, result *Value) error) (*CommandSpec, error) {
	_, arity, variadic, _, err := ParseArgSpec(argspec)
	if err != nil {
		return nil, err
	}
	return &CommandSpec{ArgSpec: argspec, Arity: arity, Variadic: variadic, Fn: fn}, nil
}
