package cubescript

import (
	"errors"
	"testing"
)

func newTestThread(t *testing.T) *Thread {
	t.Helper()
	s := NewState()
	if err := registerTestCommands(s); err != nil {
		t.Fatalf("registerTestCommands: %v", err)
	}
	return s.NewThread()
}

// registerTestCommands installs the handful of commands spec.md §8.2's
// scenarios exercise (alias/result/if/&&/||/loop live in stdlib normally,
// but the core package can't import its own client, so the scenarios that
// need them are registered inline here).
func registerTestCommands(s *State) error {
	cmds := []struct {
		name, spec string
		fn         func(t *Thread, args []Value, result *Value) error
	}{
		{"alias", "sT", func(t *Thread, args []Value, result *Value) error {
			return t.State().NewAlias(args[0].ForceStr(), args[1])
		}},
		{"result", "T", func(t *Thread, args []Value, result *Value) error {
			*result = args[0]
			return nil
		}},
		{"if", "tee", func(t *Thread, args []Value, result *Value) error {
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
		}},
		{"+", "tV", func(t *Thread, args []Value, result *Value) error {
			sum := 0.0
			allInt := true
			for _, a := range args {
				sum += a.ForceFloat()
				if a.Tag() != TagInt {
					allInt = false
				}
			}
			if allInt {
				*result = Int(int(sum))
			} else {
				*result = Float(sum)
			}
			return nil
		}},
		{"loop", "rie", func(t *Thread, args []Value, result *Value) error {
			name := args[0].Ident().Name
			n := args[1].ForceInt()
			blk := args[2].Block()
			id, err := t.State().idents.newAlias(name, Null())
			if err != nil {
				return err
			}
			defer func() { t.State().idents.newAlias(name, Null()) }()
			for i := 0; i < n; i++ {
				id.aliasValue = Int(i)
				v, err := t.Run(blk)
				if err != nil {
					if errors.Is(err, ErrBreak) {
						break
					}
					if errors.Is(err, ErrContinue) {
						continue
					}
					return err
				}
				*result = v
			}
			return nil
		}},
	}
	for _, c := range cmds {
		spec, err := NewCommandSpec(c.spec, c.fn)
		if err != nil {
			return err
		}
		if err := s.RegisterCommand(c.name, spec); err != nil {
			return err
		}
	}
	return nil
}

func TestAliasAssignAndRead(t *testing.T) {
	th := newTestThread(t)
	v, err := th.RunString(`alias x 5; x`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := v.ForceInt(); got != 5 {
		t.Errorf("x = %d, want 5", got)
	}
}

func TestAliasMacroWithPositionalArgs(t *testing.T) {
	th := newTestThread(t)
	v, err := th.RunString(`alias sq [ + $arg1 $arg1 ]; sq 7`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := v.ForceInt(); got != 14 {
		t.Errorf("sq 7 = %d, want 14", got)
	}
}

func TestLoopAccumulatesResult(t *testing.T) {
	th := newTestThread(t)
	v, err := th.RunString(`loop i 4 [ result $i ]`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := v.ForceInt(); got != 3 {
		t.Errorf("loop result = %d, want 3", got)
	}
}

func TestIfBranches(t *testing.T) {
	th := newTestThread(t)
	v, err := th.RunString(`if (+ 2 0) [ result yes ] [ result no ]`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := v.ForceStr(); got != "yes" {
		t.Errorf("if result = %q, want yes", got)
	}
}

func TestConcatPreservesSpacing(t *testing.T) {
	th := newTestThread(t)
	s := th.State()
	spec, _ := NewCommandSpec("C", func(t *Thread, args []Value, result *Value) error {
		out := ""
		for i, a := range args {
			if i > 0 {
				out += " "
			}
			out += a.ForceStr()
		}
		*result = Str(out)
		return nil
	})
	if err := s.RegisterCommand("concat", spec); err != nil {
		t.Fatalf("register: %v", err)
	}
	v, err := th.RunString(`concat hello world`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := v.ForceStr(); got != "hello world" {
		t.Errorf("concat = %q, want %q", got, "hello world")
	}
}

func TestListLenCountsBracketedItemAsOne(t *testing.T) {
	n := ListLen("a b [c d] e")
	if n != 4 {
		t.Errorf("ListLen = %d, want 4", n)
	}
}

func TestValueRoundTripThroughForceString(t *testing.T) {
	cases := []Value{Int(42), Float(3.5), Str("hi"), Null()}
	for _, v := range cases {
		s := v.ForceStr()
		if v.IsNull() && s != "" {
			t.Errorf("Null ForceStr = %q, want empty", s)
		}
	}
	iv := Int(42)
	if back := Str(iv.ForceStr()); back.ForceInt() != 42 {
		t.Errorf("Int(42) did not round-trip through ForceStr")
	}
	fv := Float(3.5)
	if back := Str(fv.ForceStr()); back.ForceFloat() != 3.5 {
		t.Errorf("Float(3.5) did not round-trip through ForceStr")
	}
	if sv := Str("hi"); sv.ForceStr() != "hi" {
		t.Errorf("Str(hi) ForceStr changed the string")
	}
}

func TestVarOverrideRoundTrip(t *testing.T) {
	s := NewState()
	var storage int = 1
	spec := &VarSpec{IntMin: 0, IntMax: 10, IntStorage: &storage}
	if err := s.RegisterVar("depth", IdentIntVar, spec); err != nil {
		t.Fatalf("register: %v", err)
	}
	th := s.NewThread()

	th.SetOverrideMode(true)
	if err := th.SetVar("depth", Int(7), true); err != nil {
		t.Fatalf("set override: %v", err)
	}
	if storage != 7 {
		t.Fatalf("storage after override = %d, want 7", storage)
	}

	s.ClearOverrides()
	if storage != 1 {
		t.Errorf("storage after ClearOverrides = %d, want 1", storage)
	}
	if err := th.ResetVar("depth"); err != nil {
		t.Fatalf("reset: %v", err)
	}
}

func TestIntVarClampsOutOfRange(t *testing.T) {
	s := NewState()
	var storage int
	spec := &VarSpec{IntMin: 0, IntMax: 10, IntStorage: &storage}
	if err := s.RegisterVar("level", IdentIntVar, spec); err != nil {
		t.Fatalf("register: %v", err)
	}
	th := s.NewThread()
	if err := th.SetVar("level", Int(99), false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if storage != 10 {
		t.Errorf("storage = %d, want clamped to 10", storage)
	}
}

func TestRecursiveAliasHitsRunDepthLimit(t *testing.T) {
	th := newTestThread(t)
	s := th.State()
	if _, err := s.idents.newAlias("loopy", Code(mustCompileBlock(t, s, "loopy"))); err != nil {
		t.Fatalf("newAlias: %v", err)
	}
	v, err := th.RunString(`loopy`)
	if err == nil {
		t.Fatalf("expected recursion-limit error, got nil err and value %v", v)
	}
	if !v.IsNull() {
		t.Errorf("expected null result on recursion error, got %v", v)
	}
}

func mustCompileBlock(t *testing.T, s *State, src string) *Block {
	t.Helper()
	blk, err := s.Compile(src)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return blk
}

func TestIdentifierIndexStableAcrossLookups(t *testing.T) {
	s := NewState()
	id1, err := s.idents.newAlias("stable", Int(1))
	if err != nil {
		t.Fatalf("newAlias: %v", err)
	}
	id2 := s.Lookup("stable")
	if id2 == nil || id2.Index != id1.Index {
		t.Errorf("Lookup returned different identity/index for same name")
	}
}

func TestArgStackBalancedAcrossError(t *testing.T) {
	th := newTestThread(t)
	s := th.State()
	failSpec, _ := NewCommandSpec("", func(t *Thread, args []Value, result *Value) error {
		return errors.New("boom")
	})
	if err := s.RegisterCommand("fail", failSpec); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.idents.newAlias("m", Code(mustCompileBlock(t, s, "fail"))); err != nil {
		t.Fatalf("newAlias: %v", err)
	}
	if _, err := th.RunString(`m`); err == nil {
		t.Fatalf("expected command error to propagate")
	}
	// A second, unrelated run must still succeed: no leaked arg-stack frame
	// from the failed call above should affect it (spec.md §8.1's argument
	// stack balance invariant).
	v, err := th.RunString(`alias ok 9; ok`)
	if err != nil {
		t.Fatalf("run after failure: %v", err)
	}
	if got := v.ForceInt(); got != 9 {
		t.Errorf("ok = %d, want 9", got)
	}
}
