package cubescript

import (
	"fmt"
)

// IdentTable maps names to Idents and holds the dense index-addressed
// vector, per spec.md §4.3. It is shared by a State and all its child
// Threads (spec.md §5): append-only with respect to identifier objects, so
// indices assigned once are stable for the table's lifetime.
//
// Grounded on the teacher's internals.go lookup/compileHeader, which walk a
// singly-linked in-VM-memory dictionary by name; here identifiers are
// ordinary Go objects in a slice, since CubeScript's identifier table lives
// in the host, not in the scripted memory space FIRST/THIRD words occupy.
type IdentTable struct {
	byName map[string]*Ident
	byIdx  []*Ident
	dummy  *Ident

	// pool interns identifier names. Unlike a string constant appearing in a
	// script body, an identifier name lives for the State's whole lifetime
	// once declared and is never released back to the pool: this mirrors
	// the teacher's symbols.go table exactly (a permanent, write-once
	// dictionary), just reusing StringPool's Intern instead of a bespoke map.
	pool *StringPool
}

func newIdentTable(pool *StringPool) *IdentTable {
	t := &IdentTable{byName: make(map[string]*Ident), pool: pool}
	t.dummy = &Ident{Index: -1, Name: "//dummy", Kind: IdentAlias, Flags: FlagUnknown}
	for i := 0; i < MaxArguments; i++ {
		t.declare(&Ident{Name: fmt.Sprintf("arg%d", i+1), Kind: IdentAlias})
	}
	return t
}

// declare appends id to the table, assigning it the next dense index.
func (t *IdentTable) declare(id *Ident) *Ident {
	id.Index = len(t.byIdx)
	if t.pool != nil {
		id.Name = t.pool.Intern(id.Name)
	}
	t.byIdx = append(t.byIdx, id)
	t.byName[id.Name] = id
	return id
}

// Lookup returns the identifier named name, or nil if none exists yet.
func (t *IdentTable) Lookup(name string) *Ident {
	return t.byName[name]
}

// ByIndex returns the identifier at the given dense index, or nil if out of
// range.
func (t *IdentTable) ByIndex(i int) *Ident {
	if i < 0 || i >= len(t.byIdx) {
		return nil
	}
	return t.byIdx[i]
}

// Dummy returns the shared placeholder identifier used for error recovery
// (spec.md §3.2).
func (t *IdentTable) Dummy() *Ident { return t.dummy }

// ValidIdentName reports whether name can be used as an alias target, per
// spec.md §3.2/§6.3: it must be non-empty, and must not look like the start
// of a numeric literal (a bare digit, or +/-/. followed by a digit).
func ValidIdentName(name string) bool {
	if name == "" {
		return false
	}
	c := name[0]
	if c >= '0' && c <= '9' {
		return false
	}
	if (c == '+' || c == '-' || c == '.') && len(name) > 1 {
		c2 := name[1]
		if c2 >= '0' && c2 <= '9' {
			return false
		}
	}
	return true
}

// NewIdent returns the existing identifier named name, or creates a fresh
// alias for it if the name is valid. An invalid name returns the table's
// dummy identifier along with a non-nil error describing why, per spec.md
// §4.3's "new_ident(name, flags) ... otherwise returns dummy with an error
// report".
func (t *IdentTable) NewIdent(name string, flags IdentFlag) (*Ident, error) {
	if id := t.byName[name]; id != nil {
		return id, nil
	}
	if !ValidIdentName(name) {
		return t.dummy, fmt.Errorf("invalid identifier name: %q", name)
	}
	id := &Ident{Name: name, Kind: IdentAlias, Flags: flags}
	id.aliasValue = Null()
	t.declare(id)
	return id, nil
}

// registerVar creates (or replaces the body of) a var identifier.
func (t *IdentTable) registerVar(name string, kind IdentKind, spec *VarSpec) (*Ident, error) {
	if !ValidIdentName(name) {
		return nil, fmt.Errorf("invalid identifier name: %q", name)
	}
	id := t.byName[name]
	if id == nil {
		id = &Ident{Name: name}
		t.declare(id)
	}
	id.Kind = kind
	id.varSpec = spec
	id.Flags = spec.Flags
	return id, nil
}

// registerCommand creates (or replaces the body of) a command identifier.
func (t *IdentTable) registerCommand(name string, spec *CommandSpec) (*Ident, error) {
	if !ValidIdentName(name) {
		return nil, fmt.Errorf("invalid identifier name: %q", name)
	}
	id := t.byName[name]
	if id == nil {
		id = &Ident{Name: name}
		t.declare(id)
	}
	id.Kind = IdentCommand
	id.cmd = spec
	return id, nil
}

// newAlias creates (or overwrites the value of) an alias identifier set
// directly by the host, e.g. via the state_new-time "new_alias" op
// (spec.md §6.1).
func (t *IdentTable) newAlias(name string, v Value) (*Ident, error) {
	id, err := t.NewIdent(name, 0)
	if err != nil {
		return id, err
	}
	if id.Kind != IdentAlias {
		return id, fmt.Errorf("%q is not an alias", name)
	}
	old := id.aliasValue
	id.aliasValue = v
	old.Cleanup()
	if id.aliasCode != nil {
		id.aliasCode.decref()
		id.aliasCode = nil
	}
	return id, nil
}
