package cubescript

import (
	"fmt"
	"strings"
)

// This file implements the threaded-dispatch VM (spec.md §4.6/§4.7),
// grounded on the teacher's internals.go exec loop shape and on
// original_source/cubescript.cc's runcode(): each nested sub-expression is
// itself a recursive call over the same instruction stream, returning both
// its value and the stream position immediately past its own EXIT, so the
// caller resumes exactly where the callee left off. That structure is kept
// here via (*Thread).run's (rest []uint32, result Value, err error) return.
//
// Two bytecode-encoding choices depart from the original's bit-for-bit
// packing, in favor of a plain constant pool (see bytecode.go's Consts and
// SubBlocks fields and the bytecode-encoding paragraph of DESIGN.md's
// Compiler section):
// payload fields hold pool indices or identifier indices rather than raw
// inline bytes, and literal-push opcodes (NULL/TRUE/FALSE/VAL/VALI/DUP)
// always push their natural Go type, leaving type coercion to FORCE/RESULT/
// EXIT, which already have to consult retOf(w) for their own purposes.
// CODE_BOOL and CODE_DOWN are carried in the opcode enum for parity with the
// original but are never emitted by the compiler, matching their unused
// status there.

// callPayload packs an identifier index and a call-site argument count into
// one instruction payload, used by opComV/opComC/opCall/opCallArg (opCom
// itself needs only the identifier index, since its arity is the command's
// declared fixed arity, not a call-site count).
func callPayload(identIdx, callArgs int) uint32 {
	return uint32(identIdx)<<8 | uint32(callArgs&0xFF)
}

func decodeCallPayload(payload uint32) (identIdx, callArgs int) {
	return int(payload >> 8), int(payload & 0xFF)
}

// exec runs a compiled instruction stream (code must not include its own
// Block header word) to completion with no owning Block, so VAL and BLOCK
// opcodes in it resolve to null. Thread.Run, alias calls and DO use execIn,
// which passes the owning Block.
func (t *Thread) exec(code []uint32) (Value, error) {
	_, result, err := t.run(code, nil)
	return result, err
}

func (t *Thread) execIn(code []uint32, blk *Block) (Value, error) {
	_, result, err := t.run(code, blk)
	return result, err
}

// run interprets code until it reaches the EXIT matching its own entry,
// returning the remaining (unconsumed) stream and the produced result. blk
// is the owning Block, used to resolve Consts/SubBlocks indices and to
// attribute MACRO string values' refcount; it may be nil for ad hoc
// top-level runs where Consts/SubBlocks aren't needed (a bare literal
// compiled at host request).
func (t *Thread) run(code []uint32, blk *Block) ([]uint32, Value, error) {
	var result Value

	if t.rundepth >= MaxRunDepth {
		return nil, Null(), &RuntimeError{Message: "exceeded recursion limit"}
	}
	t.rundepth++
	defer func() { t.rundepth-- }()

	var args [MaxArguments + MaxResults]Value
	numargs := 0

	cleanupArgs := func() {
		for i := 0; i < numargs; i++ {
			args[i].Cleanup()
		}
	}
	defer cleanupArgs()

	for len(code) > 0 {
		w := code[0]
		code = code[1:]
		op := opOf(w)
		ret := retOf(w)
		payload := payloadOf(w)
		upayload := upayloadOf(w)

		switch op {
		case opStart, opOffset:
			continue

		case opNull:
			args[numargs] = Null()
			numargs++
		case opTrue:
			args[numargs] = Int(1)
			numargs++
		case opFalse:
			args[numargs] = Int(0)
			numargs++
		case opNot:
			numargs--
			v := args[numargs].Bool()
			args[numargs].Cleanup()
			args[numargs] = boolInt(!v)
			numargs++
		case opPop:
			numargs--
			args[numargs].Cleanup()

		case opEnter:
			var sub Value
			var err error
			code, sub, err = t.run(code, blk)
			if err != nil {
				return nil, Null(), err
			}
			args[numargs] = sub
			numargs++
		case opEnterResult:
			result.Cleanup()
			var err error
			code, result, err = t.run(code, blk)
			if err != nil {
				return nil, Null(), err
			}
		case opExit:
			result.Force(ret)
			return code, result, nil
		case opResultArg:
			result.Force(ret)
			args[numargs] = result
			numargs++
			result = Null()

		case opVal:
			args[numargs] = constValue(blk, int(upayload))
			numargs++
		case opVali:
			args[numargs] = immediateValue(ret, payload)
			numargs++
		case opDup:
			args[numargs] = args[numargs-1].clone()
			numargs++
		case opMacro:
			args[numargs] = MacroStr(constValue(blk, int(upayload)).String(), blk)
			numargs++
		case opBool, opDown:
			// reserved, unused opcodes (parity with the original's enum).
			continue

		case opBlock:
			sub := subBlock(blk, int(upayload))
			args[numargs] = Code(sub)
			numargs++
		case opEmpty:
			args[numargs] = Code(t.state.emptyBlock(ret))
			numargs++
		case opCompile:
			t.opCompile(&args[numargs-1])
		case opCond:
			t.opCond(&args[numargs-1])
		case opForce:
			args[numargs-1].Force(ret)
		case opResult:
			numargs--
			result.Cleanup()
			result = args[numargs]
			if ret != TagNull {
				result.Force(ret)
			}

		case opIdent:
			args[numargs] = IdentRef(t.state.idents.ByIndex(int(upayload)))
			numargs++
		case opIdentArg:
			id := t.state.idents.ByIndex(int(upayload))
			t.ensureArgPushed(id)
			args[numargs] = IdentRef(id)
			numargs++
		case opIdentU:
			id := t.resolveDynamicIdent(&args[numargs-1])
			if id.Index >= 0 && id.Index < MaxArguments {
				t.ensureArgPushed(id)
			}
			args[numargs-1] = IdentRef(id)

		case opCom, opComD:
			id := t.state.idents.ByIndex(int(upayload))
			offset := numargs - id.cmd.Arity
			if offset < 0 {
				offset = 0
			}
			result.Cleanup()
			cerr := t.callCommand(id, args[offset:numargs], &result)
			result.Force(ret)
			numargs = freeArgs(args[:], numargs, offset)
			if cerr != nil {
				return nil, Null(), cerr
			}
		case opComV:
			identIdx, callArgs := decodeCallPayload(upayload)
			id := t.state.idents.ByIndex(identIdx)
			offset := numargs - callArgs
			result.Cleanup()
			cerr := t.callCommand(id, args[offset:numargs], &result)
			result.Force(ret)
			numargs = freeArgs(args[:], numargs, offset)
			if cerr != nil {
				return nil, Null(), cerr
			}
		case opComC:
			identIdx, callArgs := decodeCallPayload(upayload)
			id := t.state.idents.ByIndex(identIdx)
			offset := numargs - callArgs
			joined := joinArgs(args[offset:numargs], " ")
			result.Cleanup()
			one := [1]Value{Str(joined)}
			cerr := t.callCommand(id, one[:], &result)
			result.Force(ret)
			numargs = freeArgs(args[:], numargs, offset)
			if cerr != nil {
				return nil, Null(), cerr
			}

		case opConc:
			numconc := int(upayload)
			off := numargs - numconc
			joined := joinArgs(args[off:numargs], " ")
			numargs = freeArgs(args[:], numargs, off)
			args[numargs] = Str(joined)
			args[numargs].Force(ret)
			numargs++
		case opConcW:
			numconc := int(upayload)
			off := numargs - numconc
			joined := joinArgs(args[off:numargs], "")
			numargs = freeArgs(args[:], numargs, off)
			args[numargs] = Str(joined)
			args[numargs].Force(ret)
			numargs++
		case opConcM:
			numconc := int(upayload)
			off := numargs - numconc
			joined := joinArgs(args[off:numargs], "")
			numargs = freeArgs(args[:], numargs, off)
			result.Cleanup()
			result = Str(joined)
			result.Force(ret)

		case opSVar:
			id := t.state.idents.ByIndex(int(upayload))
			args[numargs] = Str(*id.varSpec.StringStorage)
			numargs++
		case opSVarM:
			id := t.state.idents.ByIndex(int(upayload))
			args[numargs] = BorrowedStr(*id.varSpec.StringStorage)
			numargs++
		case opSVar1:
			numargs--
			id := t.state.idents.ByIndex(int(upayload))
			t.setStrChecked(id, args[numargs].ForceStr())
			args[numargs].Cleanup()

		case opIVar:
			id := t.state.idents.ByIndex(int(upayload))
			args[numargs] = Int(*id.varSpec.IntStorage)
			numargs++
		case opIVar1:
			numargs--
			id := t.state.idents.ByIndex(int(upayload))
			t.setIntChecked(id, args[numargs].ForceInt())
		case opIVar2:
			numargs -= 2
			id := t.state.idents.ByIndex(int(upayload))
			v := (args[numargs].ForceInt() << 16) | (args[numargs+1].ForceInt() << 8)
			t.setIntChecked(id, v)
		case opIVar3:
			numargs -= 3
			id := t.state.idents.ByIndex(int(upayload))
			v := (args[numargs].ForceInt() << 16) | (args[numargs+1].ForceInt() << 8) | args[numargs+2].ForceInt()
			t.setIntChecked(id, v)

		case opFVar:
			id := t.state.idents.ByIndex(int(upayload))
			args[numargs] = Float(*id.varSpec.FloatStorage)
			numargs++
		case opFVar1:
			numargs--
			id := t.state.idents.ByIndex(int(upayload))
			t.setFloatChecked(id, args[numargs].ForceFloat())

		case opLookup, opLookupM:
			id := t.state.idents.ByIndex(int(upayload))
			v, err := t.lookupValue(id, op == opLookupM)
			if err != nil {
				return nil, Null(), err
			}
			args[numargs] = v
			numargs++
		case opLookupArg, opLookupMArg:
			id := t.state.idents.ByIndex(int(upayload))
			if id.Index < MaxArguments && t.frame != nil && t.frame.UsedArgs&(1<<uint(id.Index)) == 0 {
				args[numargs] = Str("")
			} else {
				v, err := t.lookupValue(id, op == opLookupMArg)
				if err != nil {
					return nil, Null(), err
				}
				args[numargs] = v
			}
			numargs++
		case opLookupU, opLookupMU:
			arg := &args[numargs-1]
			if arg.Tag() != TagString {
				continue
			}
			id := t.state.idents.Lookup(arg.ForceStr())
			if id == nil || id.Flags&FlagUnknown != 0 {
				t.state.logf("unknown alias lookup: %s", arg.s)
				arg.Cleanup()
				*arg = Str("")
				continue
			}
			if id.Index < MaxArguments && t.frame != nil && t.frame.UsedArgs&(1<<uint(id.Index)) == 0 {
				arg.Cleanup()
				*arg = Str("")
				continue
			}
			arg.Cleanup()
			v, err := t.lookupValue(id, op == opLookupMU)
			if err != nil {
				return nil, Null(), err
			}
			*arg = v

		case opAlias:
			numargs--
			id := t.state.idents.ByIndex(int(upayload))
			t.setAlias(id, args[numargs])
		case opAliasArg:
			numargs--
			id := t.state.idents.ByIndex(int(upayload))
			setArg(t.frame, id, id.Index, args[numargs])
		case opAliasU:
			numargs -= 2
			name := args[numargs].ForceStr()
			if _, err := t.state.idents.newAlias(name, args[numargs+1]); err != nil {
				t.state.logf("%s", err)
			}
			args[numargs].Cleanup()

		case opCall, opCallArg:
			identIdx, callArgs := decodeCallPayload(upayload)
			id := t.state.idents.ByIndex(identIdx)
			offset := numargs - callArgs
			result.Cleanup()
			if id.Kind != IdentAlias || id.Flags&FlagUnknown != 0 ||
				(op == opCallArg && id.Index < MaxArguments && t.frame != nil && t.frame.UsedArgs&(1<<uint(id.Index)) == 0) {
				t.state.logf("unknown command: %s", id.Name)
				numargs = freeArgs(args[:], numargs, offset)
				result.Force(ret)
				continue
			}
			r, err := t.callAlias(id, args[offset:numargs])
			numargs = freeArgs(args[:], numargs, offset)
			if err != nil {
				return nil, Null(), err
			}
			result = r
			result.Force(ret)

		case opCallU:
			callArgs := int(upayload)
			offset := numargs - callArgs
			idarg := args[offset-1]
			if idarg.Tag() != TagString {
				result.Cleanup()
				result = idarg
				result.Force(ret)
				numargs = freeArgs(args[:], numargs, offset-1)
				continue
			}
			name := idarg.s
			id := t.state.idents.Lookup(name)
			result.Cleanup()
			if id == nil || id.Flags&FlagUnknown != 0 {
				if looksNumeric(name) {
					result = idarg
					result.Force(ret)
					numargs = freeArgs(args[:], numargs, offset-1)
					continue
				}
				t.state.logf("unknown command: %s", name)
				idarg.Cleanup()
				numargs = freeArgs(args[:], numargs, offset)
				result.Force(ret)
				continue
			}
			idarg.Cleanup()
			switch id.Kind {
			case IdentCommand:
				if cerr := t.callCommand(id, args[offset:numargs], &result); cerr != nil {
					numargs = freeArgs(args[:], numargs, offset-1)
					return nil, Null(), cerr
				}
			case IdentAlias:
				r, err := t.callAlias(id, args[offset:numargs])
				if err != nil {
					return nil, Null(), err
				}
				result = r
			default:
				v, err := t.lookupValue(id, false)
				if err != nil {
					numargs = freeArgs(args[:], numargs, offset-1)
					return nil, Null(), err
				}
				result = v
			}
			numargs = freeArgs(args[:], numargs, offset-1)
			result.Force(ret)

		case opPrint:
			id := t.state.idents.ByIndex(int(upayload))
			t.printVar(id)

		case opLocal:
			numlocals := int(upayload)
			offset := numargs - numlocals
			ids := make([]*Ident, numlocals)
			for i := 0; i < numlocals; i++ {
				ids[i] = args[offset+i].Ident()
				pushArg(ids[i], Null())
			}
			var sub Value
			var err error
			code, sub, err = t.run(code, blk)
			for i := 0; i < numlocals; i++ {
				popArg(ids[i])
			}
			numargs = freeArgs(args[:], numargs, offset)
			if err != nil {
				return nil, Null(), err
			}
			result.Cleanup()
			result = sub
			return code, result, nil

		case opDo, opDoArgs:
			numargs--
			sub := args[numargs]
			result.Cleanup()
			run := func() error {
				var err error
				result, err = t.execIn(sub.Block().Code[1:], sub.Block())
				return err
			}
			var err error
			if op == opDoArgs {
				err = doArgsWindow(t, run)
			} else {
				err = run()
			}
			sub.Cleanup()
			if err != nil {
				return nil, Null(), err
			}
			result.Force(ret)

		case opJump:
			code = code[int(upayload):]
		case opJumpTrue:
			numargs--
			v := args[numargs].Bool()
			args[numargs].Cleanup()
			if v {
				code = code[int(upayload):]
			}
		case opJumpFalse:
			numargs--
			v := args[numargs].Bool()
			args[numargs].Cleanup()
			if !v {
				code = code[int(upayload):]
			}
		case opJumpResultTrue, opJumpResultFalse:
			result.Cleanup()
			numargs--
			if args[numargs].Tag() == TagCode {
				var err error
				var sub Value
				sub, err = t.execIn(args[numargs].Block().Code[1:], args[numargs].Block())
				args[numargs].Cleanup()
				if err != nil {
					return nil, Null(), err
				}
				result = sub
			} else {
				result = args[numargs]
			}
			b := result.Bool()
			if (op == opJumpResultTrue) == b {
				code = code[int(upayload):]
			}

		default:
			return nil, Null(), &RuntimeError{Message: fmt.Sprintf("unhandled opcode %s", op)}
		}
	}

	return code, result, nil
}

func boolInt(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

func constValue(blk *Block, idx int) Value {
	if blk == nil || idx < 0 || idx >= len(blk.Consts) {
		return Null()
	}
	return blk.Consts[idx].clone()
}

func subBlock(blk *Block, idx int) *Block {
	if blk == nil || idx < 0 || idx >= len(blk.SubBlocks) {
		return nil
	}
	return blk.SubBlocks[idx]
}

// immediateValue decodes a VALI payload: up to three packed characters for
// a short string, or the payload itself reinterpreted as int/float.
func immediateValue(ret Tag, payload int32) Value {
	switch ret {
	case TagString:
		buf := [3]byte{byte(payload), byte(payload >> 8), byte(payload >> 16)}
		n := 0
		for n < 3 && buf[n] != 0 {
			n++
		}
		return Str(string(buf[:n]))
	case TagInt:
		return Int(int(payload))
	case TagFloat:
		return Float(float64(payload))
	default:
		return Null()
	}
}

func joinArgs(vs []Value, sep string) string {
	parts := make([]string, len(vs))
	for i := range vs {
		parts[i] = vs[i].ForceStr()
	}
	return strings.Join(parts, sep)
}

func freeArgs(args []Value, numargs, offset int) int {
	for i := offset; i < numargs; i++ {
		args[i].Cleanup()
	}
	return offset
}

func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	i := 0
	if s[i] == '+' || s[i] == '-' {
		i++
	}
	return i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9'))
}

// ensureArgPushed installs a null default for a positional-argument
// identifier the first time the current frame references it, mirroring
// IDENTARG/CALLARG's "declare on first use" behavior (spec.md §4.4).
func (t *Thread) ensureArgPushed(id *Ident) {
	if id.Index < 0 || id.Index >= MaxArguments || t.frame == nil {
		return
	}
	bit := uint32(1) << uint(id.Index)
	if t.frame.UsedArgs&bit == 0 {
		pushArg(id, Null())
		t.frame.UsedArgs |= bit
	}
}

// resolveDynamicIdent implements IDENTU: the popped argument names an
// identifier to create-or-look-up; any other type resolves to the dummy.
func (t *Thread) resolveDynamicIdent(arg *Value) *Ident {
	if arg.Tag() == TagString {
		id, err := t.state.idents.NewIdent(arg.s, 0)
		arg.Cleanup()
		if err != nil {
			return t.state.idents.Dummy()
		}
		return id
	}
	arg.Cleanup()
	return t.state.idents.Dummy()
}

// lookupValue returns id's current value in its natural type (spec.md
// §4.5's LOOKUP family); asMacro requests a non-owned string view where the
// result is a string, matching the original's LOOKUPM/LOOKUPMU avoiding a
// copy.
func (t *Thread) lookupValue(id *Ident, asMacro bool) (Value, error) {
	if id.Flags&FlagUnknown != 0 {
		t.state.logf("unknown alias lookup: %s", id.Name)
	}
	switch id.Kind {
	case IdentAlias:
		return id.aliasValue.clone(), nil
	case IdentIntVar:
		return Int(*id.varSpec.IntStorage), nil
	case IdentFloatVar:
		return Float(*id.varSpec.FloatStorage), nil
	case IdentStringVar:
		if asMacro {
			return BorrowedStr(*id.varSpec.StringStorage), nil
		}
		return Str(*id.varSpec.StringStorage), nil
	case IdentCommand:
		var result Value
		err := t.callCommand(id, nil, &result)
		return result, err
	default:
		return Null(), nil
	}
}

// setAlias implements the ALIAS opcode: a plain (non-argument) assignment
// to an existing identifier, invalidating any cached compiled body.
func (t *Thread) setAlias(id *Ident, v Value) {
	old := id.aliasValue
	id.aliasValue = v
	old.Cleanup()
	if id.aliasCode != nil {
		id.aliasCode.decref()
		id.aliasCode = nil
	}
}

// printVar implements the PRINT opcode (spec.md §6.1's set_var_printer
// seam): a bare `varname` statement reports the variable's current value to
// the host.
func (t *Thread) printVar(id *Ident) {
	if t.state.onVar != nil {
		t.state.onVar(t, id)
		return
	}
	v, err := t.lookupValue(id, false)
	if err != nil {
		t.state.logf("%s", err)
		return
	}
	fmt.Fprintf(t.state.out, "%s = %s\n", id.Name, v.ForceStr())
}

// callCommand dispatches a native command, matching spec.md §6.2's
// "uncalled command returns null" default.
func (t *Thread) callCommand(id *Ident, args []Value, result *Value) error {
	if id == nil || id.cmd == nil {
		*result = Null()
		return nil
	}
	if t.state.onCall != nil {
		t.state.onCall(t, id, args)
	}
	*result = Null()
	return id.cmd.Fn(t, args, result)
}

// callAlias implements the CALLALIAS sequence (spec.md §4.4/§4.7): bind
// callArgs to arg1..argN under a fresh call frame, lazily compile the
// alias's body on first call, run it, then unwind every argument slot the
// call (including any nested ALIASARG) touched.
func (t *Thread) callAlias(id *Ident, callArgs []Value) (Value, error) {
	if t.state.onCall != nil {
		t.state.onCall(t, id, callArgs)
	}

	if id.aliasCode == nil {
		if blk := id.aliasValue.Block(); blk != nil {
			// A bracket-literal alias body (e.g. `alias sq [ * $arg1
			// $arg1 ]`) is already a compiled Code value — run it
			// directly rather than routing it through ForceStr, which
			// has no string representation for TagCode and would
			// silently compile an empty body (spec.md §8.2 #2/#9).
			blk.incref()
			id.aliasCode = blk
		} else {
			blk, err := compile(t.state, id.aliasValue.ForceStr(), "")
			if err != nil {
				return Null(), err
			}
			id.aliasCode = blk
		}
	}
	id.aliasCode.incref()
	defer id.aliasCode.decref()

	frame := &CallFrame{Alias: id, Parent: t.frame}
	for i, v := range callArgs {
		argID := t.state.idents.ByIndex(i)
		pushArg(argID, v.clone())
		frame.UsedArgs |= 1 << uint(i)
	}

	t.frame = frame
	result, err := t.execIn(id.aliasCode.Code[1:], id.aliasCode)
	t.frame = frame.Parent

	unwindFrame(t, frame)

	return result, err
}

// opCompile implements the COMPILE opcode: coerce arg in place into a
// Code value by compiling its string form (or synthesizing a trivial
// constant-returning block for int/float/null), per spec.md §4.5.
func (t *Thread) opCompile(arg *Value) {
	var blk *Block
	switch arg.Tag() {
	case TagCode:
		return
	case TagInt, TagFloat:
		blk = constBlock(*arg)
	case TagString:
		b, err := compile(t.state, arg.s, "")
		if err != nil {
			blk = constBlock(Null())
		} else {
			blk = b
		}
	default:
		blk = constBlock(Null())
	}
	arg.Cleanup()
	*arg = Code(blk)
}

// opCond implements the COND opcode: like COMPILE, but an empty string
// compiles to a null constant rather than being parsed, since an empty
// condition branch means "do nothing" (spec.md §4.5).
func (t *Thread) opCond(arg *Value) {
	if arg.Tag() != TagString {
		return
	}
	if arg.s == "" {
		arg.Cleanup()
		*arg = Null()
		return
	}
	b, err := compile(t.state, arg.s, "")
	if err != nil {
		b = constBlock(Null())
	}
	arg.Cleanup()
	*arg = Code(b)
}

// constBlock builds a tiny one-instruction block that returns v verbatim,
// used to wrap a non-string COMPILE/COND argument as runnable code.
func constBlock(v Value) *Block {
	blk := &Block{Code: []uint32{pack(opStart, TagNull, 0), pack(opVal, TagNull, 0), pack(opResult, TagNull, 0), pack(opExit, TagNull, 0)}}
	blk.Consts = []Value{v}
	return blk
}

// emptyBlock returns a cached zero-instruction block of the requested
// return type, used by the EMPTY opcode for an omitted else-branch
// (spec.md §4.5).
func (s *State) emptyBlock(ret Tag) *Block {
	if s.emptyBlocks == nil {
		s.emptyBlocks = make(map[Tag]*Block, 4)
	}
	if b := s.emptyBlocks[ret]; b != nil {
		return b
	}
	b := &Block{Code: []uint32{pack(opStart, TagNull, 0), pack(opExit, ret, 0)}}
	s.emptyBlocks[ret] = b
	return b
}
