package cubescript

import "fmt"

// This file implements spec.md §4.8's variable override policy, grounded on
// original_source/cubescript.cc's cs_override_var/clear_override/
// clear_overrides and the set_var_*_checked family.
//
// A var assignment is treated as an "override" (value restorable later via
// ResetVar/ClearOverrides, instead of a permanent change) when either the
// Thread is currently running in override mode (e.g. loading a layered
// config script meant to be temporary) or the variable itself carries
// FlagOverride (host-declared as always-overridable, e.g. a map-specific
// setting). FlagPersist vars reject override-mode writes outright: they are
// meant to survive exactly the way the host set them.

// currentVarValue returns id's live value as a Value of its natural type,
// without forcing a conversion — used by Thread.GetVar.
func (id *Ident) currentVarValue() Value {
	switch id.Kind {
	case IdentIntVar:
		return Int(*id.varSpec.IntStorage)
	case IdentFloatVar:
		return Float(*id.varSpec.FloatStorage)
	case IdentStringVar:
		return Str(*id.varSpec.StringStorage)
	default:
		return Null()
	}
}

// setVar applies spec.md §4.8's policy, then (unless the write was rejected)
// clamps to the declared range and invokes OnChange. If force is true the
// declared range clamp is skipped (mirrors the original's set_var_int's
// doclamp=false path); only host calls through Thread.SetVar can pass it,
// the IVAR opcodes always clamp (setIntChecked).
func (t *Thread) setVar(id *Ident, v Value, force bool) error {
	if id.Flags&FlagReadOnly != 0 {
		return fmt.Errorf("cubescript: variable %q is read only", id.Name)
	}
	vs := id.varSpec
	overriding := t.overrideMode || id.Flags&FlagOverride != 0
	if overriding && id.Flags&FlagPersist != 0 {
		return fmt.Errorf("cubescript: cannot override persistent variable %q", id.Name)
	}

	switch id.Kind {
	case IdentIntVar:
		nv := v.ForceInt()
		if overriding {
			if id.Flags&FlagOverridden == 0 {
				id.overInt = *vs.IntStorage
				id.Flags |= FlagOverridden
			}
		} else if id.Flags&FlagOverridden != 0 {
			id.Flags &^= FlagOverridden
		}
		if !force && (nv < vs.IntMin || nv > vs.IntMax) {
			t.state.logf("valid range for %q is %d..%d", id.Name, vs.IntMin, vs.IntMax)
			nv = clampInt(nv, vs.IntMin, vs.IntMax)
		}
		*vs.IntStorage = nv
	case IdentFloatVar:
		nv := v.ForceFloat()
		if overriding {
			if id.Flags&FlagOverridden == 0 {
				id.overFloat = *vs.FloatStorage
				id.Flags |= FlagOverridden
			}
		} else if id.Flags&FlagOverridden != 0 {
			id.Flags &^= FlagOverridden
		}
		if !force && (nv < vs.FloatMin || nv > vs.FloatMax) {
			t.state.logf("valid range for %q is %s..%s", id.Name, formatCubeFloat(vs.FloatMin), formatCubeFloat(vs.FloatMax))
			nv = clampFloat(nv, vs.FloatMin, vs.FloatMax)
		}
		*vs.FloatStorage = nv
	case IdentStringVar:
		nv := v.ForceStr()
		if overriding {
			if id.Flags&FlagOverridden == 0 {
				id.overString = *vs.StringStorage
				id.Flags |= FlagOverridden
			}
		} else if id.Flags&FlagOverridden != 0 {
			id.Flags &^= FlagOverridden
		}
		*vs.StringStorage = nv
	default:
		return fmt.Errorf("cubescript: %q is not a variable", id.Name)
	}

	if vs.OnChange != nil {
		vs.OnChange(t)
	}
	return nil
}

// setIntChecked mirrors set_var_int_checked: the IVAR/IVAR1/IVAR2/IVAR3
// opcode path, which always applies the override policy and range clamp
// (never the force-skip used by host API calls).
func (t *Thread) setIntChecked(id *Ident, v int) {
	if id.Flags&FlagReadOnly != 0 {
		t.state.logf("variable %q is read only", id.Name)
		return
	}
	_ = t.setVar(id, Int(v), false)
}

func (t *Thread) setFloatChecked(id *Ident, v float64) {
	if id.Flags&FlagReadOnly != 0 {
		t.state.logf("variable %q is read only", id.Name)
		return
	}
	_ = t.setVar(id, Float(v), false)
}

func (t *Thread) setStrChecked(id *Ident, v string) {
	if id.Flags&FlagReadOnly != 0 {
		t.state.logf("variable %q is read only", id.Name)
		return
	}
	_ = t.setVar(id, Str(v), false)
}

// clearOverride restores id's pre-override value, per clear_override.
func clearOverride(id *Ident) {
	if id.Flags&FlagOverridden == 0 {
		return
	}
	switch id.Kind {
	case IdentIntVar:
		*id.varSpec.IntStorage = id.overInt
	case IdentFloatVar:
		*id.varSpec.FloatStorage = id.overFloat
	case IdentStringVar:
		*id.varSpec.StringStorage = id.overString
	case IdentAlias:
		old := id.aliasValue
		id.aliasValue = Str("")
		old.Cleanup()
	}
	id.Flags &^= FlagOverridden
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
