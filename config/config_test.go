package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cubescript/cubescript"
)

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(c.Vars) != 0 {
		t.Errorf("expected empty Vars for missing file, got %v", c.Vars)
	}
}

func TestLoadAndApply(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[vars.volume]
int = 7

[vars.gravity]
float = 9.8

[vars.name]
str = "trap"
`
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte(tomlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(c.Vars) != 3 {
		t.Fatalf("expected 3 vars, got %d", len(c.Vars))
	}

	var volume, gravity int
	var name string
	var fgravity float64
	_ = gravity

	s := cubescript.NewState()
	if err := s.RegisterVar("volume", cubescript.IdentIntVar, &cubescript.VarSpec{
		IntMin: 0, IntMax: 100, IntStorage: &volume, Flags: cubescript.FlagPersist,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterVar("gravity", cubescript.IdentFloatVar, &cubescript.VarSpec{
		FloatMin: 0, FloatMax: 100, FloatStorage: &fgravity, Flags: cubescript.FlagPersist,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterVar("name", cubescript.IdentStringVar, &cubescript.VarSpec{
		StringStorage: &name, Flags: cubescript.FlagPersist,
	}); err != nil {
		t.Fatal(err)
	}

	th := s.NewThread()
	if err := c.Apply(th); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if volume != 7 {
		t.Errorf("volume = %d, want 7", volume)
	}
	if fgravity != 9.8 {
		t.Errorf("gravity = %v, want 9.8", fgravity)
	}
	if name != "trap" {
		t.Errorf("name = %q, want trap", name)
	}
}

func TestCollectAndSave(t *testing.T) {
	dir := t.TempDir()

	var volume int = 42
	s := cubescript.NewState()
	if err := s.RegisterVar("volume", cubescript.IdentIntVar, &cubescript.VarSpec{
		IntMin: 0, IntMax: 100, IntStorage: &volume, Flags: cubescript.FlagPersist,
	}); err != nil {
		t.Fatal(err)
	}
	// Non-persisted var should not appear in the snapshot.
	var scratch int
	if err := s.RegisterVar("scratch", cubescript.IdentIntVar, &cubescript.VarSpec{
		IntMax: 100, IntStorage: &scratch,
	}); err != nil {
		t.Fatal(err)
	}

	c, err := Collect(s, dir)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(c.Vars) != 1 {
		t.Fatalf("expected 1 persisted var, got %d (%v)", len(c.Vars), c.Vars)
	}
	v, ok := c.Vars["volume"]
	if !ok || v.Int == nil || *v.Int != 42 {
		t.Errorf("volume entry = %+v, want int 42", v)
	}

	if err := c.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Vars["volume"].Int == nil || *reloaded.Vars["volume"].Int != 42 {
		t.Errorf("reloaded volume = %+v, want 42", reloaded.Vars["volume"])
	}
}
