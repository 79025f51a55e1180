package cubescript

// This file implements spec.md §4.4: per-alias scoped argument stacks and
// the call-frame machinery that gives CubeScript's positional parameters
// (arg1..argN) dynamic scoping. There is no FIRST/THIRD counterpart for
// this (THIRD's return stack holds anonymous return addresses, not named
// dynamically-scoped variables), so the shape here follows
// original_source/cubescript.cc's IdentStack/identstack chain directly, per
// DESIGN.md.

// CallFrame is one entry in a Thread's call stack (spec.md §3.4): the alias
// currently executing, its parent frame, and a bitset recording which
// positional argument slots this call populated (so DOARGS/return-time
// unwinding knows exactly how many pops to issue).
type CallFrame struct {
	Alias    *Ident
	Parent   *CallFrame
	UsedArgs uint32 // bit i set => arg_{i+1} was pushed for this call
}

// pushArg saves id's current alias value onto id's argument stack and
// installs v as the new current value; a matched popArg restores exactly
// this save.
func pushArg(id *Ident, v Value) {
	node := &argStackNode{saved: id.aliasValue}
	node.next = id.argStackTop
	id.argStackTop = node
	id.aliasValue = v
	id.argsPushed++
}

// popArg restores id's alias value from the top of its argument stack.
// Popping with no pushes outstanding is a programming error in the VM (it
// would indicate a push/pop imbalance) and panics, since spec.md §8.1
// requires argument-stack balance as an invariant, not a recoverable
// runtime condition.
func popArg(id *Ident) {
	node := id.argStackTop
	if node == nil {
		panic("cubescript: argument stack underflow for " + id.Name)
	}
	old := id.aliasValue
	id.aliasValue = node.saved
	id.argStackTop = node.next
	id.argsPushed--
	old.Cleanup()
}

// setArg implements spec.md §4.4's set_arg: if slot i of the current frame
// was already pushed (bit set in frame.UsedArgs), the positional alias is
// mutated in place; otherwise a fresh push_arg is performed and the bit is
// set. id must be one of the reserved arg1..argN identifiers and i must be
// id.Index.
func setArg(frame *CallFrame, id *Ident, i int, v Value) {
	bit := uint32(1) << uint(i)
	if frame != nil && frame.UsedArgs&bit != 0 {
		old := id.aliasValue
		id.aliasValue = v
		old.Cleanup()
		return
	}
	pushArg(id, v)
	if frame != nil {
		frame.UsedArgs |= bit
	}
}

// unwindFrame pops every argument slot a frame pushed, in reverse
// declaration order, used both on normal call return and on error/break/
// continue unwinding (spec.md §4.7 step 7, §5 "guaranteed release on every
// exit path").
func unwindFrame(t *Thread, frame *CallFrame) {
	for i := MaxArguments - 1; i >= 0; i-- {
		if frame.UsedArgs&(uint32(1)<<uint(i)) != 0 {
			popArg(t.state.idents.ByIndex(i))
		}
	}
}

// doArgsWindow implements spec.md §4.4's do_args: temporarily unwinds all
// argument slots in the current frame (so the parent's arguments become
// visible again), executes body with the parent frame installed as current,
// then reinstalls this frame's arguments. Used by the DOARGS opcode.
func doArgsWindow(t *Thread, body func() error) error {
	frame := t.frame
	if frame == nil {
		return body()
	}

	type saved struct {
		idx int
		v   Value
	}
	var stash []saved
	for i := 0; i < MaxArguments; i++ {
		if frame.UsedArgs&(uint32(1)<<uint(i)) != 0 {
			id := t.state.idents.ByIndex(i)
			// Clone before popArg: popArg's own Cleanup() decrefs whatever
			// id.aliasValue currently points at, so stashing the live value
			// directly would hand back an already-decref'd Code/macro block
			// for the re-push below, double-releasing it at the next unwind.
			stash = append(stash, saved{i, id.aliasValue.clone()})
			popArg(id)
		}
	}

	t.frame = frame.Parent
	err := body()
	t.frame = frame

	// Redo in original order: each stashed slot gets re-pushed with its
	// original value.
	for _, s := range stash {
		id := t.state.idents.ByIndex(s.idx)
		pushArg(id, s.v)
	}

	return err
}
