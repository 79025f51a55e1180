package cubescript

// This file implements spec.md §4.5/§4.6's @ macro interpolation inside
// bracket blocks, grounded on original_source/cubescript.cc's
// compileblockstr/compileblocksub/compileblockmain trio. Those three
// functions cooperate with the original's position-dependent bracket
// compiler to splice @-lookups into the *enclosing* block's bytecode
// directly; our bracket blocks compile independently (DESIGN.md), so there
// is no ancestor codegen to splice into. Instead, an @-bearing bracket body
// is scanned once up front into literal/lookup segments and compiled as a
// self-contained CONCW expression, matching the original's semantics for
// the single-level case (one @ per substitution, no @@ escaping to an
// outer bracket) while leaving a bracket with no @ at all exactly as cheap
// as before (an independent Block, never scanned).

type macroSegKind byte

const (
	macroSegLit macroSegKind = iota
	macroSegParen
	macroSegBracket
	macroSegName
)

type macroSeg struct {
	kind macroSegKind
	text string
}

// scanMacroSegments splits a bracket's interior text into literal and
// @-lookup segments, or returns nil if the text contains no @ at bracket
// depth 1 (the common case, left entirely to the caller's existing
// independent-Block compilation). depth tracks nested [...] within text:
// an @ found inside a nested bracket (depth > 1) is left alone, deferred to
// that nested bracket's own later, independent scan when it is compiled.
func scanMacroSegments(text string) []macroSeg {
	var segs []macroSeg
	depth := 1
	i, segStart := 0, 0
	found := false
	for i < len(text) {
		switch c := text[i]; c {
		case '"':
			i++
			for i < len(text) && text[i] != '"' {
				if text[i] == '^' && i+1 < len(text) {
					i++
				}
				i++
			}
			if i < len(text) {
				i++
			}
		case '/':
			if i+1 < len(text) && text[i+1] == '/' {
				for i < len(text) && text[i] != '\n' {
					i++
				}
			} else {
				i++
			}
		case '[':
			depth++
			i++
		case ']':
			depth--
			i++
		case '@':
			run := 0
			for j := i; j < len(text) && text[j] == '@'; j++ {
				run++
			}
			if depth > 1 {
				i += run
				continue
			}
			if run != 1 {
				// Our per-bracket-independent architecture has no outer
				// codegen to escape an extra @ into. Returning nil makes
				// the caller compile the bracket as an ordinary block
				// with the @ characters left as literal text; no compile
				// error is reported for it.
				return nil
			}
			found = true
			segs = append(segs, macroSeg{kind: macroSegLit, text: text[segStart:i]})
			seg, next, ok := scanMacroLookup(text, i+1)
			if !ok {
				return nil
			}
			segs = append(segs, seg)
			i = next
			segStart = i
		default:
			i++
		}
	}
	if !found {
		return nil
	}
	segs = append(segs, macroSeg{kind: macroSegLit, text: text[segStart:]})
	return segs
}

// scanMacroLookup parses exactly one @-lookup expression starting at pos
// (just past the @), returning the segment and the position just past it.
func scanMacroLookup(text string, pos int) (macroSeg, int, bool) {
	if pos >= len(text) {
		return macroSeg{}, pos, false
	}
	switch text[pos] {
	case '(':
		inner, next, ok := balancedSpan(text, pos, '(', ')')
		if !ok {
			return macroSeg{}, pos, false
		}
		return macroSeg{kind: macroSegParen, text: inner}, next, true
	case '[':
		inner, next, ok := balancedSpan(text, pos, '[', ']')
		if !ok {
			return macroSeg{}, pos, false
		}
		return macroSeg{kind: macroSegBracket, text: inner}, next, true
	case '"':
		s, next, ok := quotedSpan(text, pos)
		if !ok {
			return macroSeg{}, pos, false
		}
		return macroSeg{kind: macroSegName, text: s}, next, true
	default:
		start := pos
		for pos < len(text) && isMacroNameChar(text[pos]) {
			pos++
		}
		if pos == start {
			return macroSeg{}, pos, false
		}
		return macroSeg{kind: macroSegName, text: text[start:pos]}, pos, true
	}
}

func isMacroNameChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_':
		return true
	}
	return false
}

// balancedSpan scans a nesting-aware, quote-aware span delimited by
// open/close starting at pos (pointing at open), mirroring the codegen's
// own readBracketed but operating on an already-extracted text slice.
func balancedSpan(text string, pos int, open, close byte) (string, int, bool) {
	pos++
	depth := 1
	innerStart := pos
	for pos < len(text) {
		switch c := text[pos]; c {
		case '"':
			pos++
			for pos < len(text) && text[pos] != '"' {
				if text[pos] == '^' && pos+1 < len(text) {
					pos++
				}
				pos++
			}
			if pos < len(text) {
				pos++
			}
		case open:
			depth++
			pos++
		case close:
			depth--
			if depth == 0 {
				return text[innerStart:pos], pos + 1, true
			}
			pos++
		default:
			pos++
		}
	}
	return "", pos, false
}

// quotedSpan scans a "..."-delimited span starting at pos (pointing at the
// opening quote), skipping over ^ escapes so an escaped quote does not end
// it, and returns its raw interior with the escapes still in place.
func quotedSpan(text string, pos int) (string, int, bool) {
	pos++
	start := pos
	for pos < len(text) && text[pos] != '"' {
		if text[pos] == '^' && pos+1 < len(text) {
			pos++
		}
		pos++
	}
	if pos >= len(text) {
		return "", pos, false
	}
	return text[start:pos], pos + 1, true
}

// pushMacroSeg emits code to push one segment's value, to be joined by the
// caller's trailing CONCW.
func (g *codegen) pushMacroSeg(seg macroSeg) {
	switch seg.kind {
	case macroSegLit:
		g.emitStrConst(seg.text)
	case macroSegParen:
		g.emit(pack(opEnter, TagNull, 0))
		g.compileNestedOn(seg.text)
		g.emit(pack(opExit, TagNull, 0))
	case macroSegBracket:
		g.emit(pack(opEnter, TagNull, 0))
		g.compileNestedOn(seg.text)
		g.emit(pack(opExit, TagString, 0))
		g.emit(pack(opLookupMU, TagNull, 0))
	case macroSegName:
		g.pushMacroName(seg.text)
	}
}

// pushMacroName emits the value-reading opcode for an @name lookup,
// dispatching on the identifier's kind the way the original's
// compileblocksub does for ID_IVAR/ID_FVAR/ID_SVAR/ID_ALIAS, so a variable
// reads its live storage directly rather than going through the generic
// alias-lookup path.
func (g *codegen) pushMacroName(name string) {
	id, err := g.state.idents.NewIdent(name, 0)
	if err != nil {
		g.errorf("%s", err)
		g.emitStrConst("")
		return
	}
	switch id.Kind {
	case IdentIntVar:
		g.emit(packU(opIVar, TagNull, uint32(id.Index)))
	case IdentFloatVar:
		g.emit(packU(opFVar, TagNull, uint32(id.Index)))
	case IdentStringVar:
		g.emit(packU(opSVarM, TagNull, uint32(id.Index)))
	default:
		if id.Index < MaxArguments {
			g.emit(packU(opLookupMArg, TagNull, uint32(id.Index)))
		} else {
			g.emit(packU(opLookupM, TagNull, uint32(id.Index)))
		}
	}
}
