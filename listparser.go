package cubescript

import "strings"

// ListItem is one token produced by ParseList: Raw is the token exactly as
// it appeared in the source list (quotes/brackets included), Value is its
// unescaped/unwrapped form (spec.md §4.9, "the raw and quoted forms of each
// item are exposed separately").
type ListItem struct {
	Raw   string
	Value string
}

// ParseList tokenizes s as a whitespace-separated sequence of list items,
// the representation list-family commands (at, listlen, listsplice, loop,
// ...) operate on. Grounded on compiler.go's readWord/readBracketed/
// readQuoted (same escaping and nesting rules), factored out into its own
// entry point since list parsing runs over plain command-argument strings
// handed to a command at run time, not over a CubeScript program's own
// source text.
func ParseList(s string) []ListItem {
	lp := &listParser{src: s}
	var items []ListItem
	for {
		it, ok := lp.next()
		if !ok {
			break
		}
		items = append(items, it)
	}
	return items
}

// ListLen reports len(ParseList(s)) without materializing the slice of
// unescaped values, for the common case of just counting elements.
func ListLen(s string) int {
	lp := &listParser{src: s}
	n := 0
	for {
		if _, ok := lp.next(); !ok {
			break
		}
		n++
	}
	return n
}

// ListAt returns the i'th element's unescaped value, or "" if out of range.
func ListAt(s string, i int) string {
	lp := &listParser{src: s}
	for n := 0; ; n++ {
		it, ok := lp.next()
		if !ok {
			return ""
		}
		if n == i {
			return it.Value
		}
	}
}

type listParser struct {
	src string
	pos int
}

func (lp *listParser) skipSpace() {
	for lp.pos < len(lp.src) {
		c := lp.src[lp.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == ';':
			lp.pos++
		case c == '/' && lp.pos+1 < len(lp.src) && lp.src[lp.pos+1] == '/':
			for lp.pos < len(lp.src) && lp.src[lp.pos] != '\n' {
				lp.pos++
			}
		default:
			return
		}
	}
}

func (lp *listParser) next() (ListItem, bool) {
	lp.skipSpace()
	if lp.pos >= len(lp.src) {
		return ListItem{}, false
	}
	start := lp.pos
	c := lp.src[lp.pos]
	switch c {
	case '"':
		lp.pos++
		var b strings.Builder
		for lp.pos < len(lp.src) && lp.src[lp.pos] != '"' {
			if lp.src[lp.pos] == '^' && lp.pos+1 < len(lp.src) {
				lp.pos++
				switch lp.src[lp.pos] {
				case 'n':
					b.WriteByte('\n')
				case 't':
					b.WriteByte('\t')
				case 'f':
					b.WriteByte('\f')
				case '"':
					b.WriteByte('"')
				case '^':
					b.WriteByte('^')
				default:
					b.WriteByte(lp.src[lp.pos])
				}
				lp.pos++
				continue
			}
			b.WriteByte(lp.src[lp.pos])
			lp.pos++
		}
		if lp.pos < len(lp.src) {
			lp.pos++ // closing quote
		}
		return ListItem{Raw: lp.src[start:lp.pos], Value: b.String()}, true
	case '[', '(':
		open, close := c, byte(']')
		if c == '(' {
			close = ')'
		}
		lp.pos++
		depth := 1
		innerStart := lp.pos
		for lp.pos < len(lp.src) && depth > 0 {
			switch lp.src[lp.pos] {
			case open:
				depth++
			case close:
				depth--
				if depth == 0 {
					inner := lp.src[innerStart:lp.pos]
					lp.pos++
					return ListItem{Raw: lp.src[start:lp.pos], Value: inner}, true
				}
			}
			lp.pos++
		}
		return ListItem{Raw: lp.src[start:lp.pos], Value: lp.src[innerStart:lp.pos]}, true
	default:
		for lp.pos < len(lp.src) {
			c := lp.src[lp.pos]
			if c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == ';' {
				break
			}
			lp.pos++
		}
		tok := lp.src[start:lp.pos]
		return ListItem{Raw: tok, Value: tok}, true
	}
}
