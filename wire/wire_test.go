package wire

import (
	"testing"

	"github.com/cubescript/cubescript"
)

func TestBlockRoundTrip(t *testing.T) {
	s := cubescript.NewState()
	blk, err := s.Compile(`x = (+ 1 2); concat hello world; [nested block]`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	data, err := MarshalBlock(blk)
	if err != nil {
		t.Fatalf("MarshalBlock: %v", err)
	}

	got, err := UnmarshalBlock(data)
	if err != nil {
		t.Fatalf("UnmarshalBlock: %v", err)
	}

	if len(got.Code) != len(blk.Code) {
		t.Fatalf("Code length = %d, want %d", len(got.Code), len(blk.Code))
	}
	for i := range blk.Code {
		if got.Code[i] != blk.Code[i] {
			t.Errorf("Code[%d] = %#x, want %#x", i, got.Code[i], blk.Code[i])
		}
	}
	if len(got.SubBlocks) != len(blk.SubBlocks) {
		t.Errorf("SubBlocks count = %d, want %d", len(got.SubBlocks), len(blk.SubBlocks))
	}
}

func TestMarshalNilBlockFails(t *testing.T) {
	if _, err := MarshalBlock(nil); err == nil {
		t.Error("MarshalBlock(nil): expected error")
	}
}
