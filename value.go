package cubescript

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Tag identifies which variant of Value is populated.
type Tag uint8

const (
	// TagNull is the empty value.
	TagNull Tag = iota
	// TagInt is a platform signed integer.
	TagInt
	// TagFloat is a platform float.
	TagFloat
	// TagString is an owned or borrowed string, or a macro slice; Str
	// distinguishes which. All three read the same way.
	TagString
	// TagCode is a reference to a compiled Block.
	TagCode
	// TagIdent is a reference into the owning State's identifier table.
	TagIdent
)

// strKind distinguishes the three string-carrying sub-variants described in
// spec.md §3.1: owned strings are released on cleanup, borrowed strings and
// macro slices are not.
type strKind uint8

const (
	strOwned strKind = iota
	strBorrowed
	strMacro
)

// Value is a tagged union: null, int, float, string (owned/borrowed/macro),
// code (bytecode block handle), or ident (identifier handle).
//
// Value is a plain Go struct rather than an interface or NaN-boxed word:
// CubeScript values are forced and re-tagged in place very frequently (every
// VM opcode potentially forces its operands), and a struct with an explicit
// tag avoids both the allocation an interface value would need for int/float
// payloads and the un-debuggability of a boxed 64-bit encoding.
type Value struct {
	tag Tag

	i int
	f float64

	s    string
	kind strKind
	// block is non-nil only when kind == strMacro (keeps the owning Block
	// alive) or tag == TagCode (the code reference itself).
	block *Block

	ident *Ident
}

// Null returns the null value.
func Null() Value { return Value{tag: TagNull} }

// Int returns an integer value.
func Int(i int) Value { return Value{tag: TagInt, i: i} }

// Float returns a float value.
func Float(f float64) Value { return Value{tag: TagFloat, f: f} }

// Str returns an owned string value; the caller transfers ownership of s's
// content conceptually (Go strings are immutable so there is nothing to
// actually copy), but cleanup accounting (refcounts on any Block this value
// is later forced from) treats it as owned.
func Str(s string) Value { return Value{tag: TagString, s: s, kind: strOwned} }

// BorrowedStr returns a borrowed string view; cleanup is a no-op.
func BorrowedStr(s string) Value { return Value{tag: TagString, s: s, kind: strBorrowed} }

// MacroStr returns a macro-slice value pointing into blk's inline payload.
// blk's refcount is incremented; cleanup decrements it.
func MacroStr(s string, blk *Block) Value {
	if blk != nil {
		blk.incref()
	}
	return Value{tag: TagString, s: s, kind: strMacro, block: blk}
}

// Code returns a value referencing a compiled Block. The block's refcount
// is incremented; cleanup decrements it.
func Code(blk *Block) Value {
	if blk != nil {
		blk.incref()
	}
	return Value{tag: TagCode, block: blk}
}

// IdentRef returns a value referencing an identifier handle.
func IdentRef(id *Ident) Value { return Value{tag: TagIdent, ident: id} }

// Tag reports the value's current variant.
func (v Value) Tag() Tag { return v.tag }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.tag == TagNull }

// Block returns the referenced bytecode block, or nil.
func (v Value) Block() *Block {
	if v.tag == TagCode {
		return v.block
	}
	return nil
}

// Ident returns the referenced identifier, or nil.
func (v Value) Ident() *Ident {
	if v.tag == TagIdent {
		return v.ident
	}
	return nil
}

// Cleanup releases any resources the value holds: owned strings need no
// explicit release in Go (the garbage collector reclaims them), but code and
// macro values hold a Block refcount that must be dropped exactly once.
// Borrowed strings are a no-op, matching spec.md §4.1.
func (v *Value) Cleanup() {
	switch v.tag {
	case TagCode:
		if v.block != nil {
			v.block.decref()
			v.block = nil
		}
	case TagString:
		if v.kind == strMacro && v.block != nil {
			v.block.decref()
			v.block = nil
		}
	}
	v.tag = TagNull
	v.s = ""
	v.i, v.f = 0, 0
	v.ident = nil
}

// clone returns an independent copy of v, incrementing any refcount the
// value holds so both copies can be cleaned up independently.
func (v Value) clone() Value {
	switch v.tag {
	case TagCode:
		if v.block != nil {
			v.block.incref()
		}
	case TagString:
		if v.kind == strMacro && v.block != nil {
			v.block.incref()
		}
	}
	return v
}

// ForceInt forces v to TagInt in place per spec.md §4.1 and returns the
// resulting integer.
func (v *Value) ForceInt() int {
	switch v.tag {
	case TagInt:
		return v.i
	case TagFloat:
		r := int(v.f)
		v.reset(TagInt)
		v.i = r
		return r
	case TagString:
		r := parseCubeInt(v.s)
		v.reset(TagInt)
		v.i = r
		return r
	case TagNull:
		v.i = 0
		v.tag = TagInt
		return 0
	default:
		v.reset(TagInt)
		return 0
	}
}

// ForceFloat forces v to TagFloat in place and returns the resulting float.
func (v *Value) ForceFloat() float64 {
	switch v.tag {
	case TagFloat:
		return v.f
	case TagInt:
		r := float64(v.i)
		v.reset(TagFloat)
		v.f = r
		return r
	case TagString:
		r := parseCubeFloat(v.s)
		v.reset(TagFloat)
		v.f = r
		return r
	case TagNull:
		v.f = 0
		v.tag = TagFloat
		return 0
	default:
		v.reset(TagFloat)
		return 0
	}
}

// ForceStr forces v to an owned TagString in place and returns the string.
func (v *Value) ForceStr() string {
	switch v.tag {
	case TagString:
		return v.s
	case TagInt:
		r := strconv.Itoa(v.i)
		v.reset(TagString)
		v.s, v.kind = r, strOwned
		return r
	case TagFloat:
		r := formatCubeFloat(v.f)
		v.reset(TagString)
		v.s, v.kind = r, strOwned
		return r
	case TagNull:
		v.tag = TagString
		v.s, v.kind = "", strOwned
		return ""
	default:
		v.reset(TagString)
		v.s, v.kind = "", strOwned
		return ""
	}
}

// Force forces v to the given tag, applying the same rules as
// ForceInt/ForceFloat/ForceStr for TagInt/TagFloat/TagString respectively.
// TagNull and TagCode/TagIdent targets are left as-is (EXIT never demands
// those as a return type; see opcodes.go).
func (v *Value) Force(t Tag) {
	switch t {
	case TagInt:
		v.ForceInt()
	case TagFloat:
		v.ForceFloat()
	case TagString:
		v.ForceStr()
	}
}

// reset releases any refcount v holds and reinitializes it to t with a zero
// payload, ready for the caller to fill in i/f/s.
func (v *Value) reset(t Tag) {
	v.Cleanup()
	v.tag = t
}

// Bool applies the boolean coercion rule from spec.md §4.1: a string is
// true unless empty or it parses as the integer 0 with no further
// non-trailing digits (i.e. "0", "0.0", "-0" are false; "0x1" and "abc" are
// true).
func (v Value) Bool() bool {
	switch v.tag {
	case TagNull:
		return false
	case TagInt:
		return v.i != 0
	case TagFloat:
		return v.f != 0
	case TagString:
		return stringIsTruthy(v.s)
	default:
		return true
	}
}

func stringIsTruthy(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	if c != '+' && c != '-' && c != '.' && (c < '0' || c > '9') {
		return true
	}
	return parseCubeInt(s) != 0 || strings.ContainsAny(s, ".eEpP") && parseCubeFloat(s) != 0
}

// parseCubeInt implements the permissive integer grammar from spec.md §4.1:
// [+-]?(0[xX][0-9a-fA-F]+|0[0-7]*|[1-9][0-9]*), with trailing junk yielding
// the accumulated prefix and no match yielding 0.
func parseCubeInt(s string) int {
	i, neg := 0, false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	start := i
	base := 10
	if i+1 < len(s) && s[i] == '0' && (s[i+1] == 'x' || s[i+1] == 'X') {
		base = 16
		i += 2
		start = i
		for i < len(s) && isHexDigit(s[i]) {
			i++
		}
	} else if i < len(s) && s[i] == '0' {
		base = 8
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '7' {
			i++
		}
	} else {
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
	}
	digits := s[start:i]
	if digits == "" {
		return 0
	}
	n, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		// overflow: ParseUint with a too-large literal still gives us the
		// low bits via a truncating fallback, matching C's strtoul wrap.
		n = truncatingParseUint(digits, base)
	}
	r := int(n)
	if neg {
		r = -r
	}
	return r
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func truncatingParseUint(digits string, base int) uint64 {
	var n uint64
	for _, c := range []byte(digits) {
		var d uint64
		switch {
		case c >= '0' && c <= '9':
			d = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint64(c-'A') + 10
		}
		n = n*uint64(base) + d
	}
	return n
}

// parseCubeFloat implements the strtod-with-integer-fallback rule from
// spec.md §4.1.
func parseCubeFloat(s string) float64 {
	t := strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(t, 64); err == nil {
		return f
	}
	// strtod failed outright (e.g. a hex integer literal, which ParseFloat
	// without the 0x... exponent-required form rejects): fall back to the
	// integer grammar.
	return float64(parseCubeInt(s))
}

// formatCubeFloat applies spec.md §4.1's float-to-string rule: "%.1f" for an
// integral value, else "%.7g".
func formatCubeFloat(f float64) string {
	if f == float64(int64(f)) && !isSpecialFloat(f) {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return fmt.Sprintf("%.7g", f)
}

func isSpecialFloat(f float64) bool {
	return f != f || f > 1e308 || f < -1e308
}

// wireValue is Value's on-the-wire shape for wire.MarshalBlock: a Block's
// Consts pool only ever holds Null/Int/Float/String entries (filled by
// compiler.go's emit*Const helpers and by constBlock), so there is no payload for TagCode/TagIdent to carry across a
// process boundary in the first place.
type wireValue struct {
	Tag Tag     `cbor:"1,keyasint"`
	I   int     `cbor:"2,keyasint,omitempty"`
	F   float64 `cbor:"3,keyasint,omitempty"`
	S   string  `cbor:"4,keyasint,omitempty"`
}

// MarshalCBOR implements cbor.Marshaler so a Block's Consts pool can be
// serialized by wire.MarshalBlock via plain struct reflection.
func (v Value) MarshalCBOR() ([]byte, error) {
	switch v.tag {
	case TagNull, TagInt, TagFloat, TagString:
		return cbor.Marshal(wireValue{Tag: v.tag, I: v.i, F: v.f, S: v.s})
	default:
		return nil, fmt.Errorf("cubescript: cannot serialize a %v constant", v.tag)
	}
}

// UnmarshalCBOR implements cbor.Unmarshaler, the inverse of MarshalCBOR.
func (v *Value) UnmarshalCBOR(data []byte) error {
	var w wireValue
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	*v = Value{tag: w.Tag, i: w.I, f: w.F, s: w.S, kind: strOwned}
	return nil
}

// String renders v for debugging/logging without forcing it.
func (v Value) String() string {
	switch v.tag {
	case TagNull:
		return "null"
	case TagInt:
		return strconv.Itoa(v.i)
	case TagFloat:
		return formatCubeFloat(v.f)
	case TagString:
		return v.s
	case TagCode:
		return "<code>"
	case TagIdent:
		if v.ident != nil {
			return "<ident " + v.ident.Name + ">"
		}
		return "<ident>"
	default:
		return "<?>"
	}
}
