// Package stdlib registers a small set of illustrative commands (arithmetic,
// string, list, if/while/loop, break/continue) against a cubescript.State,
// demonstrating the host command-registration interface described in
// spec.md §6. It is not "the CubeScript standard library" — that is an
// explicit Non-goal (spec.md §1) — it exists to exercise and test the
// compiler/VM, the way the teacher's own first.go primitives exist to
// exercise FIRST rather than to be a real FORTH's word set.
package stdlib

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cubescript/cubescript"
)

// Register installs every command this package defines into s, replacing
// any identifier of the same name. Returns the first registration error
// encountered (an invalid name or argspec), stopping at that point.
func Register(s *cubescript.State) error {
	for _, c := range commands {
		spec, err := cubescript.NewCommandSpec(c.argspec, c.fn)
		if err != nil {
			return fmt.Errorf("stdlib: %s: %w", c.name, err)
		}
		if err := s.RegisterCommand(c.name, spec); err != nil {
			return fmt.Errorf("stdlib: %s: %w", c.name, err)
		}
	}
	return nil
}

type command struct {
	name    string
	argspec string
	fn      func(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error
}

var commands = []command{
	{"+", "tV", arith(0, func(a, b float64) float64 { return a + b })},
	{"*", "tV", arith(1, func(a, b float64) float64 { return a * b })},
	{"-", "tV", fold(func(a, b float64) float64 { return a - b })},
	{"/", "tV", foldSafeDiv},
	{"%", "tV", foldSafeMod},

	{"=", "tt", cmp(func(a, b float64) bool { return a == b })},
	{"!=", "tt", cmp(func(a, b float64) bool { return a != b })},
	{"<", "tt", cmp(func(a, b float64) bool { return a < b })},
	{">", "tt", cmp(func(a, b float64) bool { return a > b })},
	{"<=", "tt", cmp(func(a, b float64) bool { return a <= b })},
	{">=", "tt", cmp(func(a, b float64) bool { return a >= b })},
	{"!", "t", not},

	{"concat", "C", concatSpaced},
	{"concatword", "V", concatWord},
	{"strlen", "s", strlen},
	{"substr", "sii", substr},
	{"strstr", "ss", strstr},
	{"strreplace", "sss", strreplace},
	{"tolower", "s", tolower},
	{"toupper", "s", toupper},

	{"at", "si", at},
	{"listlen", "s", listlen},

	{"loop", "rie", loop},
	{"while", "ee", while},
	{"break", "", doBreak},
	{"continue", "", doContinue},
	{"echo", "C", echo},

	{"alias", "sT", aliasCmd},
	{"result", "T", resultCmd},
	{"if", "tee", ifCmd},
	{"&&", "E1V", andCmd},
	{"||", "E1V", orCmd},
	{"do", "e", doCmd},
	{"doargs", "e", doArgsCmd},
}

func numeric(v cubescript.Value) (float64, bool) {
	isInt := v.Tag() == cubescript.TagInt
	if v.Tag() == cubescript.TagString {
		s := v
		_, err := strconv.ParseInt(s.ForceStr(), 0, 64)
		isInt = err == nil
	}
	f := v.ForceFloat()
	return f, isInt
}

func numResult(f float64, allInt bool) cubescript.Value {
	if allInt {
		return cubescript.Int(int(f))
	}
	return cubescript.Float(f)
}

// arith builds a left fold over args starting from identity, tracking
// whether every operand was an int so the result stays an int (CubeScript's
// "everything is a string, but arithmetic is int until a float shows up"
// convention, spec.md §4.1).
func arith(identity float64, op func(a, b float64) float64) func(*cubescript.Thread, []cubescript.Value, *cubescript.Value) error {
	return func(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
		acc := identity
		allInt := true
		for _, a := range args {
			f, isInt := numeric(a)
			allInt = allInt && isInt
			acc = op(acc, f)
		}
		*result = numResult(acc, allInt)
		return nil
	}
}

func fold(op func(a, b float64) float64) func(*cubescript.Thread, []cubescript.Value, *cubescript.Value) error {
	return func(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
		if len(args) == 0 {
			*result = cubescript.Int(0)
			return nil
		}
		acc, allInt := numeric(args[0])
		for _, a := range args[1:] {
			f, isInt := numeric(a)
			allInt = allInt && isInt
			acc = op(acc, f)
		}
		*result = numResult(acc, allInt)
		return nil
	}
}

func foldSafeDiv(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	if len(args) == 0 {
		*result = cubescript.Int(0)
		return nil
	}
	acc, allInt := numeric(args[0])
	for _, a := range args[1:] {
		f, isInt := numeric(a)
		allInt = allInt && isInt
		if f == 0 {
			return &cubescript.RuntimeError{Message: "division by zero"}
		}
		acc /= f
	}
	*result = numResult(acc, allInt)
	return nil
}

func foldSafeMod(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	if len(args) == 0 {
		*result = cubescript.Int(0)
		return nil
	}
	acc := args[0].ForceInt()
	for _, a := range args[1:] {
		d := a.ForceInt()
		if d == 0 {
			return &cubescript.RuntimeError{Message: "division by zero"}
		}
		acc %= d
	}
	*result = cubescript.Int(acc)
	return nil
}

func cmp(op func(a, b float64) bool) func(*cubescript.Thread, []cubescript.Value, *cubescript.Value) error {
	return func(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
		a, _ := numeric(args[0])
		b, _ := numeric(args[1])
		*result = boolInt(op(a, b))
		return nil
	}
}

func boolInt(b bool) cubescript.Value {
	if b {
		return cubescript.Int(1)
	}
	return cubescript.Int(0)
}

func not(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	*result = boolInt(!args[0].Bool())
	return nil
}

func concatSpaced(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	// The compiler's "C" argspec coercion already joined the call-site
	// words with a single space before this command ever ran (opComC in
	// vm.go); concat just hands that value back.
	*result = args[0]
	return nil
}

func concatWord(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.ForceStr()
	}
	*result = cubescript.Str(strings.Join(parts, ""))
	return nil
}

func strlen(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	*result = cubescript.Int(len(args[0].ForceStr()))
	return nil
}

func substr(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	s := args[0].ForceStr()
	start := args[1].ForceInt()
	n := args[2].ForceInt()
	if start < 0 {
		start = 0
	}
	if start > len(s) {
		start = len(s)
	}
	end := start + n
	if n < 0 || end > len(s) {
		end = len(s)
	}
	*result = cubescript.Str(s[start:end])
	return nil
}

func strstr(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	*result = cubescript.Int(strings.Index(args[0].ForceStr(), args[1].ForceStr()))
	return nil
}

func strreplace(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	*result = cubescript.Str(strings.ReplaceAll(args[0].ForceStr(), args[1].ForceStr(), args[2].ForceStr()))
	return nil
}

func tolower(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	*result = cubescript.Str(strings.ToLower(args[0].ForceStr()))
	return nil
}

func toupper(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	*result = cubescript.Str(strings.ToUpper(args[0].ForceStr()))
	return nil
}

func at(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	*result = cubescript.Str(cubescript.ListAt(args[0].ForceStr(), args[1].ForceInt()))
	return nil
}

func listlen(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	*result = cubescript.Int(cubescript.ListLen(args[0].ForceStr()))
	return nil
}

// loop binds args[0] (the identifier named by the call site's first word)
// to each int in [0, count) in turn, running the body once per iteration.
// The loop variable is installed as a plain alias for the duration of the
// loop and restored afterward — simpler than a true per-call-frame scope,
// at the cost of not being reentrant under recursive loop nesting of the
// very same variable name (a known simplification; see DESIGN.md).
func loop(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	id := args[0].Ident()
	if id == nil {
		return &cubescript.RuntimeError{Message: "loop: expected an identifier"}
	}
	count := args[1].ForceInt()
	body := args[2].Block()
	prev := t.GetAlias(id.Name)
	defer func() { _ = t.State().NewAlias(id.Name, prev) }()

	for i := 0; i < count; i++ {
		if err := t.State().NewAlias(id.Name, cubescript.Int(i)); err != nil {
			return err
		}
		v, err := t.Run(body)
		if cubescript.IsBreak(err) {
			*result = v
			return nil
		}
		if cubescript.IsContinue(err) {
			continue
		}
		if err != nil {
			return err
		}
		*result = v
	}
	return nil
}

func while(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	cond := args[0].Block()
	body := args[1].Block()
	for {
		c, err := t.Run(cond)
		if err != nil {
			return err
		}
		if !c.Bool() {
			return nil
		}
		v, err := t.Run(body)
		if cubescript.IsBreak(err) {
			*result = v
			return nil
		}
		if cubescript.IsContinue(err) {
			continue
		}
		if err != nil {
			return err
		}
		*result = v
	}
}

func doBreak(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	return cubescript.ErrBreak
}

func doContinue(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	return cubescript.ErrContinue
}

func echo(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	t.Print(args[0].ForceStr())
	return nil
}

// aliasCmd defines or reassigns a script-visible alias from within a
// running script, grounded directly on original_source/cubescript.cc's
// `add_command("alias", "sT", ...)`.
func aliasCmd(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	return t.State().NewAlias(args[0].ForceStr(), args[1])
}

// resultCmd sets the calling block's result to its argument, letting a
// nested statement (inside a loop/if/while body) override the trailing-
// expression default a bare Run would otherwise return. Grounded on
// original_source/cubescript.cc's `add_command("result", "T", ...)`.
func resultCmd(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	*result = args[0]
	return nil
}

// doCmd is the dynamic-dispatch fallback for `do` (compileCall emits DO
// directly whenever the call fits the literal `do <code>` shape; see
// compiler.go). Grounded on original_source/cubescript.cc's
// `add_command("do", "e", ...)`.
func doCmd(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	v, err := t.Run(args[0].Block())
	if err != nil {
		return err
	}
	*result = v
	return nil
}

// doArgsCmd is the dynamic-dispatch fallback for `doargs` (compileCall emits
// DOARGS directly for the literal shape). Grounded on
// original_source/cubescript.cc's `add_command("doargs", "e", ...)` atop
// cs_do_args.
func doArgsCmd(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	v, err := t.RunWithCallerArgs(args[0].Block())
	if err != nil {
		return err
	}
	*result = v
	return nil
}

// runCond evaluates a condition-position argument: if the compiler left it
// as a Code value (a non-bracket-literal condition, e.g. a dynamically
// dispatched call), run it; otherwise the Value already carries its
// coerced-in-place scalar result (spec.md §4.5's COND opcode).
func runCond(t *cubescript.Thread, v cubescript.Value) (cubescript.Value, error) {
	if blk := v.Block(); blk != nil {
		return t.Run(blk)
	}
	return v, nil
}

// ifCmd is the non-fused fallback for `if`, reached only when the call
// doesn't fit the compiler's JUMP_FALSE peephole (compiler.go's
// tryCompileIf) — e.g. a dynamically dispatched `if`. Grounded on
// original_source/cubescript.cc's `add_command("if", "tee", ...)`.
func ifCmd(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	branch := args[2]
	if args[0].Bool() {
		branch = args[1]
	}
	v, err := t.Run(branch.Block())
	if err != nil {
		return err
	}
	*result = v
	return nil
}

// andCmd/orCmd are the non-fused fallbacks for `&&`/`||`, mirroring
// original_source/cubescript.cc's short-circuiting add_command("&&"/"||",
// "E1V", ...): each operand is evaluated left to right (running it if the
// compiler left it as Code) and becomes the result in turn, stopping at the
// first falsy (`&&`) or truthy (`||`) one.
func andCmd(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	if len(args) == 0 {
		*result = cubescript.Int(1)
		return nil
	}
	for _, a := range args {
		v, err := runCond(t, a)
		if err != nil {
			return err
		}
		*result = v
		if !v.Bool() {
			break
		}
	}
	return nil
}

func orCmd(t *cubescript.Thread, args []cubescript.Value, result *cubescript.Value) error {
	if len(args) == 0 {
		*result = cubescript.Int(0)
		return nil
	}
	for _, a := range args {
		v, err := runCond(t, a)
		if err != nil {
			return err
		}
		*result = v
		if v.Bool() {
			break
		}
	}
	return nil
}
