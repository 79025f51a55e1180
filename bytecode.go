package cubescript

import "fmt"

// refcountStep is the increment applied to a Block header word per
// incref/decref, per spec.md §3.3 ("reference count in its upper bits...
// increment step 0x100"). The low byte is reserved for the START opcode, so
// a refcount occupies the header word's bits 8 and up.
const refcountStep = 0x100

// Block is a refcounted, self-describing opcode buffer: a compiled unit of
// CubeScript bytecode (spec.md §3.3). Code[0] holds the header word (START
// opcode | refcount<<8); Code[1:] holds the opcode stream. Strings longer
// than a VALI immediate live in Consts and nested blocks in SubBlocks, not
// inline in the stream.
//
// Grounded on original_source/cubescript.cc's block layout (CODE_START,
// CODE_OFFSET, the `code[-1]==CODE_START` free check) and on the teacher's
// internals.go compile/compileHeader append-only buffer growth idiom,
// adapted from an in-VM-memory dictionary to a freestanding Go slice: a
// CubeScript Block is a single compiled unit with no sparse address space,
// so (unlike the teacher's paged internal/mem) a plain growable []uint32 is
// the right fit (see DESIGN.md).
type Block struct {
	Code []uint32 `cbor:"1,keyasint"`

	// Consts holds the literal int/float/string values VAL opcodes index
	// into (VALI carries small ints and strings of up to three bytes in its
	// own payload instead). Unlike the original, which packs string bytes
	// directly into the code stream between a length-prefixed VAL opcode
	// and the next instruction, this implementation gives every Block its
	// own constant pool: simpler to build from a single-pass compiler and to
	// disassemble, at the cost of one extra slice per Block (see the
	// bytecode-encoding paragraph of DESIGN.md's Compiler section).
	Consts []Value `cbor:"2,keyasint,omitempty"`

	// SubBlocks holds nested compiled blocks a BLOCK/EMPTY/COMPILE/COND
	// opcode may reference by index, replacing the original's inline
	// sub-block-with-OFFSET-backpointer scheme with a plain slice of
	// independently refcounted *Block values.
	SubBlocks []*Block `cbor:"3,keyasint,omitempty"`

	// freed guards against use-after-free being silently tolerated: once
	// the refcount drops below 1, Code is cleared and any further op is a
	// programming error. Unexported: never part of the wire format, since
	// an unmarshaled Block always starts fresh (see wire.UnmarshalBlock).
	freed bool
}

// NewBlock wraps a compiled opcode stream (code[0] must already hold a
// START header with refcount 1, as emitted by the compiler's finish step).
func NewBlock(code []uint32) *Block {
	return &Block{Code: code}
}

// header returns the current header word, or 0 if the block was freed.
func (b *Block) header() uint32 {
	if b.freed || len(b.Code) == 0 {
		return 0
	}
	return b.Code[0]
}

// Refcount reports the block's current reference count.
func (b *Block) Refcount() int {
	return int(b.header() >> 8)
}

// Freed reports whether the block's refcount has dropped to zero and its
// storage has been released.
func (b *Block) Freed() bool { return b.freed }

func (b *Block) incref() {
	if b == nil || b.freed {
		return
	}
	b.Code[0] += refcountStep
}

func (b *Block) decref() {
	if b == nil || b.freed {
		return
	}
	b.Code[0] -= refcountStep
	if b.Code[0]>>8 == 0 {
		b.freed = true
		b.Code = nil
	}
}

// String implements fmt.Stringer for debugging.
func (b *Block) String() string {
	if b == nil {
		return "<nil block>"
	}
	if b.freed {
		return "<freed block>"
	}
	return fmt.Sprintf("<block %d words, refcount %d>", len(b.Code), b.Refcount())
}

// subOffset returns the owning block's header index given the address of a
// sub-block's OFFSET word, for macro-value construction: a macro slice
// inside a block may begin with an OFFSET word encoding the distance back
// to the owning header, so a value holding a pointer into the middle of a
// block can still find (and refcount) the block that owns it.
func subOffset(code []uint32, at int) int {
	if at <= 0 || at >= len(code) {
		return 0
	}
	if opOf(code[at-1]) != opOffset {
		return 0
	}
	return at - 1 - int(payloadOf(code[at-1]))
}
