// Package wire (de)serializes compiled cubescript.Block values to CBOR, for
// Bytecode handles that outlive one process — a precompiled config script
// shipped to disk or over a connection rather than recompiled every run.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/cubescript/cubescript"
)

// cborEncMode is a canonical (deterministic, map-keys-sorted) encoder, so
// two processes that marshal the same Block produce byte-identical output —
// useful for content-addressing a compiled script the way a content-hash
// cache would.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalBlock serializes a compiled Block to CBOR bytes.
func MarshalBlock(b *cubescript.Block) ([]byte, error) {
	if b == nil || b.Freed() {
		return nil, fmt.Errorf("wire: cannot marshal a nil or freed block")
	}
	return cborEncMode.Marshal(b)
}

// UnmarshalBlock deserializes a Block from CBOR bytes produced by
// MarshalBlock. The returned Block has a fresh refcount of 1, as if just
// compiled.
func UnmarshalBlock(data []byte) (*cubescript.Block, error) {
	var b cubescript.Block
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("wire: unmarshal block: %w", err)
	}
	if len(b.Code) > 0 {
		// Keep the START byte, reset the refcount bits to 1.
		b.Code[0] = b.Code[0]&0xFF | 0x100
	}
	return &b, nil
}
