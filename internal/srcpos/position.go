// Package srcpos tracks file/line positions within a single in-memory
// CubeScript source buffer, for error reporting.
//
// This is a CubeScript-specific descendant of the teacher's fileinput
// package: gothird's Input streamed runes out of a queue of files for a
// REPL, tracking the current and previous line as it went. CubeScript
// compiles one source buffer per call, so instead of a live rune-at-a-time
// tracker it builds a line-start table once, up front, and answers Line/Col
// queries from it in O(log n) — see spec.md §9's open question about the
// original's linear per-error scan.
package srcpos

import (
	"fmt"
	"sort"
)

// Position names a location within a named source.
type Position struct {
	File string
	Line int
	Col  int
}

func (p Position) String() string {
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Col)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Col)
}

// Table maps byte offsets within a source buffer to (line, col), via a table
// of line-start offsets built once per source.
type Table struct {
	file        string
	lineStarts  []int // offset of the first byte of each line; lineStarts[0] == 0
}

// NewTable scans src once, recording the offset of each line start.
func NewTable(file string, src []byte) *Table {
	t := &Table{file: file, lineStarts: []int{0}}
	for i, b := range src {
		if b == '\n' {
			t.lineStarts = append(t.lineStarts, i+1)
		}
	}
	return t
}

// Position returns the Position of the given byte offset into the source
// that the Table was built from.
func (t *Table) Position(offset int) Position {
	// last lineStarts[i] <= offset
	i := sort.Search(len(t.lineStarts), func(i int) bool { return t.lineStarts[i] > offset }) - 1
	if i < 0 {
		i = 0
	}
	return Position{
		File: t.file,
		Line: i + 1,
		Col:  offset - t.lineStarts[i] + 1,
	}
}
