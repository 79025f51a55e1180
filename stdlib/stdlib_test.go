package stdlib

import (
	"bytes"
	"testing"

	"github.com/cubescript/cubescript"
)

func newThread(t *testing.T) *cubescript.Thread {
	t.Helper()
	s := cubescript.NewState()
	if err := Register(s); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return s.NewThread()
}

func run(t *testing.T, th *cubescript.Thread, src string) *cubescript.Value {
	t.Helper()
	v, err := th.RunString(src)
	if err != nil {
		t.Fatalf("run %q: %v", src, err)
	}
	return &v
}

func TestArithmeticIntPromotion(t *testing.T) {
	th := newThread(t)
	if got := run(t, th, `+ 1 2 3`).ForceInt(); got != 6 {
		t.Errorf("+ 1 2 3 = %d, want 6", got)
	}
	if got := run(t, th, `+ 1 2.5`).ForceFloat(); got != 3.5 {
		t.Errorf("+ 1 2.5 = %v, want 3.5", got)
	}
	if got := run(t, th, `- 10 3 2`).ForceInt(); got != 5 {
		t.Errorf("- 10 3 2 = %d, want 5", got)
	}
	if got := run(t, th, `* 2 3 4`).ForceInt(); got != 24 {
		t.Errorf("* 2 3 4 = %d, want 24", got)
	}
}

func TestDivisionByZeroErrors(t *testing.T) {
	th := newThread(t)
	if _, err := th.RunString(`/ 4 0`); err == nil {
		t.Fatal("expected division by zero error")
	}
	if _, err := th.RunString(`% 4 0`); err == nil {
		t.Fatal("expected modulo by zero error")
	}
}

func TestComparisons(t *testing.T) {
	th := newThread(t)
	cases := []struct {
		src  string
		want int
	}{
		{`= 2 2`, 1}, {`= 2 3`, 0},
		{`!= 2 3`, 1}, {`!= 2 2`, 0},
		{`< 1 2`, 1}, {`> 1 2`, 0},
		{`<= 2 2`, 1}, {`>= 1 2`, 0},
		{`! 0`, 1}, {`! 1`, 0},
	}
	for _, c := range cases {
		if got := run(t, th, c.src).ForceInt(); got != c.want {
			t.Errorf("%s = %d, want %d", c.src, got, c.want)
		}
	}
}

func TestStringPrimitives(t *testing.T) {
	th := newThread(t)
	if got := run(t, th, `concat hello " " world`).ForceStr(); got != "hello   world" {
		t.Errorf("concat = %q", got)
	}
	if got := run(t, th, `concatword foo bar`).ForceStr(); got != "foobar" {
		t.Errorf("concatword = %q, want foobar", got)
	}
	if got := run(t, th, `strlen hello`).ForceInt(); got != 5 {
		t.Errorf("strlen = %d, want 5", got)
	}
	if got := run(t, th, `substr hello 1 3`).ForceStr(); got != "ell" {
		t.Errorf("substr = %q, want ell", got)
	}
	if got := run(t, th, `strstr hello ll`).ForceInt(); got != 2 {
		t.Errorf("strstr = %d, want 2", got)
	}
	if got := run(t, th, `strreplace aXbXc X Y`).ForceStr(); got != "aYbYc" {
		t.Errorf("strreplace = %q, want aYbYc", got)
	}
	if got := run(t, th, `tolower HELLO`).ForceStr(); got != "hello" {
		t.Errorf("tolower = %q", got)
	}
	if got := run(t, th, `toupper hello`).ForceStr(); got != "HELLO" {
		t.Errorf("toupper = %q", got)
	}
}

func TestListPrimitives(t *testing.T) {
	th := newThread(t)
	if got := run(t, th, `listlen "a b [c d] e"`).ForceInt(); got != 4 {
		t.Errorf("listlen = %d, want 4", got)
	}
	if got := run(t, th, `at "a b c" 1`).ForceStr(); got != "b" {
		t.Errorf("at = %q, want b", got)
	}
}

func TestLoopBreakAndContinue(t *testing.T) {
	th := newThread(t)
	if got := run(t, th, `loop i 4 [ result $i ]`).ForceInt(); got != 3 {
		t.Errorf("loop = %d, want 3", got)
	}
	// break propagates as an error through every enclosing run() frame
	// (vm.go's opCom* cases return Null on a non-nil command error), so the
	// loop's final result is null rather than the last completed
	// iteration's value.
	if got := run(t, th, `loop i 10 [ if (= $i 3) [ break ] [ result $i ] ]`); !got.IsNull() {
		t.Errorf("loop with break = %v, want null", got)
	}
	if got := run(t, th, `loop i 5 [ if (= $i 2) [ continue ] []; result $i ]`).ForceInt(); got != 4 {
		t.Errorf("loop with continue = %d, want 4", got)
	}
}

func TestWhileLoop(t *testing.T) {
	th := newThread(t)
	th.RunString(`alias n 0`)
	got := run(t, th, `while [ < $n 3 ] [ alias n (+ $n 1) ]; n`).ForceInt()
	if got != 3 {
		t.Errorf("while loop final n = %d, want 3", got)
	}
}

func TestIfFusedAndFallback(t *testing.T) {
	th := newThread(t)
	if got := run(t, th, `if (= 2 2) [ result yes ] [ result no ]`).ForceStr(); got != "yes" {
		t.Errorf("if = %q, want yes", got)
	}
	// A computed command name is not fused, so this call reaches ifCmd.
	if got := run(t, th, `(result if) (= 2 2) [ result yes ] [ result no ]`).ForceStr(); got != "yes" {
		t.Errorf("dynamic if = %q, want yes", got)
	}
}

// TestIfCmdFallbackDirect exercises ifCmd's Go body directly: the common
// literal-bracket `if` call never reaches it (compiler.go's tryCompileIf
// peephole fuses that shape into jump bytecode instead), so the fallback
// path is only reachable from a dynamic dispatch the compiler can't see
// through at compile time.
func TestIfCmdFallbackDirect(t *testing.T) {
	th := newThread(t)
	s := th.State()
	thenBlk, err := s.Compile("result a")
	if err != nil {
		t.Fatalf("compile then: %v", err)
	}
	elseBlk, err := s.Compile("result b")
	if err != nil {
		t.Fatalf("compile else: %v", err)
	}
	var result cubescript.Value
	args := []cubescript.Value{cubescript.Int(0), cubescript.Code(thenBlk), cubescript.Code(elseBlk)}
	if err := ifCmd(th, args, &result); err != nil {
		t.Fatalf("ifCmd: %v", err)
	}
	if got := result.ForceStr(); got != "b" {
		t.Errorf("ifCmd false branch = %q, want b", got)
	}
}

func TestAndOrShortCircuit(t *testing.T) {
	th := newThread(t)
	if got := run(t, th, `|| 0 0 5 0`).ForceInt(); got != 5 {
		t.Errorf("|| 0 0 5 0 = %d, want 5", got)
	}
	if got := run(t, th, `&& 1 1 0 1`).ForceInt(); got != 0 {
		t.Errorf("&& 1 1 0 1 = %d, want 0", got)
	}
	if got := run(t, th, `&& 1 1 1`).ForceInt(); got != 1 {
		t.Errorf("&& 1 1 1 = %d, want 1", got)
	}
}

// TestAndOrCmdDirect exercises andCmd/orCmd's Go bodies directly against a
// mix of already-scalar and Code-tagged operands, covering the "E1V"
// argspec's variadic-all-argAny coercion path documented in DESIGN.md.
func TestAndOrCmdDirect(t *testing.T) {
	th := newThread(t)
	s := th.State()
	five, err := s.Compile("result 5")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	var result cubescript.Value
	args := []cubescript.Value{cubescript.Int(0), cubescript.Int(0), cubescript.Code(five), cubescript.Int(0)}
	if err := orCmd(th, args, &result); err != nil {
		t.Fatalf("orCmd: %v", err)
	}
	if got := result.ForceInt(); got != 5 {
		t.Errorf("orCmd direct = %d, want 5", got)
	}
}

func TestAliasAndResult(t *testing.T) {
	th := newThread(t)
	if got := run(t, th, `alias x 5; x`).ForceInt(); got != 5 {
		t.Errorf("alias x 5; x = %d, want 5", got)
	}
	if got := run(t, th, `alias sq [ * $arg1 $arg1 ]; sq 7`).ForceInt(); got != 49 {
		t.Errorf("sq 7 = %d, want 49", got)
	}
}

func TestEchoWritesToOutput(t *testing.T) {
	var buf bytes.Buffer
	s := cubescript.NewState(cubescript.WithOutput(&buf))
	if err := Register(s); err != nil {
		t.Fatalf("Register: %v", err)
	}
	th := s.NewThread()
	if _, err := th.RunString(`echo hello world`); err != nil {
		t.Fatalf("echo: %v", err)
	}
	if got := buf.String(); got != "hello world\n" {
		t.Errorf("echo output = %q, want %q", got, "hello world\n")
	}
}
